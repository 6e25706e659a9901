package delta

// Cache is the persisted per-team, per-period snapshot.
//
// Tracked is what the destination is known to hold. Skipped holds records the
// destination rejected; they stay out of classification until cleared.
// Failures counts consecutive failed applies per SourceID.
type Cache[T Item[T]] struct {
	Tracked  []T            `json:"tracked"`
	Skipped  []T            `json:"skipped,omitempty"`
	Failures map[string]int `json:"failures,omitempty"`
}

// Merge folds one cycle's outcome into the cache and returns the new cache.
//
// Created and Updated replace or add tracked entries, Deleted removes them,
// Failed leaves Tracked untouched so the record resurfaces next cycle. New
// Skipped entries are appended. When maxFailures > 0 an item whose failure
// count reaches it is moved to Skipped and returned as dead-lettered.
func (c Cache[T]) Merge(outcome Model[T], maxFailures int) (Cache[T], []T) {
	order := make([]string, 0, len(c.Tracked)+len(outcome.Created))
	byID := make(map[string]T, len(c.Tracked)+len(outcome.Created))
	put := func(it T) {
		id := it.SourceID()
		if _, ok := byID[id]; !ok {
			order = append(order, id)
		}
		byID[id] = it
	}
	for _, t := range c.Tracked {
		put(t)
	}
	for _, it := range outcome.Created {
		put(it)
	}
	for _, it := range outcome.Updated {
		put(it)
	}
	for _, it := range outcome.Deleted {
		delete(byID, it.SourceID())
	}

	failures := make(map[string]int, len(c.Failures)+len(outcome.Failed))
	for id, n := range c.Failures {
		failures[id] = n
	}
	for _, it := range outcome.All() {
		delete(failures, it.SourceID())
	}

	skipped := append([]T(nil), c.Skipped...)
	skippedIDs := idSet(skipped)
	addSkipped := func(it T) {
		if _, ok := skippedIDs[it.SourceID()]; ok {
			return
		}
		skippedIDs[it.SourceID()] = struct{}{}
		skipped = append(skipped, it)
	}
	for _, it := range outcome.Skipped {
		delete(failures, it.SourceID())
		addSkipped(it)
	}

	var dead []T
	for _, it := range outcome.Failed {
		id := it.SourceID()
		failures[id]++
		if maxFailures > 0 && failures[id] >= maxFailures {
			delete(failures, id)
			addSkipped(it)
			dead = append(dead, it)
		}
	}

	next := Cache[T]{Tracked: make([]T, 0, len(order)), Skipped: skipped}
	for _, id := range order {
		if it, ok := byID[id]; ok {
			next.Tracked = append(next.Tracked, it)
		}
	}
	if len(failures) > 0 {
		next.Failures = failures
	}
	return next, dead
}

// PruneFailures drops failure counters for records that are neither in
// source nor tracked any more.
func (c Cache[T]) PruneFailures(source []T) Cache[T] {
	if len(c.Failures) == 0 {
		return c
	}
	live := idSet(source)
	for _, t := range c.Tracked {
		live[t.SourceID()] = struct{}{}
	}
	kept := make(map[string]int, len(c.Failures))
	for id, n := range c.Failures {
		if _, ok := live[id]; ok {
			kept[id] = n
		}
	}
	if len(kept) == 0 {
		kept = nil
	}
	c.Failures = kept
	return c
}
