// Package delta classifies the difference between what was last applied to
// the destination (the tracked snapshot) and what the source reports now.
//
// Everything here is pure: no I/O, no clocks, deterministic output order.
package delta

// Item is a record taking part in reconciliation.
//
// SourceID is the identity. DestinationID is bound once the destination
// created the record. Equal compares business fields only and never looks at
// DestinationID or other destination-resolved fields.
type Item[T any] interface {
	SourceID() string
	DestinationID() string
	WithDestinationID(id string) T
	Equal(other T) bool
}

// Model is the outcome of classifying one cycle. An item appears in at most
// one bucket.
type Model[T Item[T]] struct {
	Created []T
	Updated []T
	Deleted []T
	Skipped []T
	Failed  []T
}

// All returns Created, Updated and Deleted, in that order.
func (m Model[T]) All() []T {
	out := make([]T, 0, len(m.Created)+len(m.Updated)+len(m.Deleted))
	out = append(out, m.Created...)
	out = append(out, m.Updated...)
	out = append(out, m.Deleted...)
	return out
}

func (m Model[T]) HasChanges() bool {
	return len(m.Created)+len(m.Updated)+len(m.Deleted) > 0
}

// Compute classifies source against tracked.
//
// Created and Updated follow source order, Deleted follows tracked order.
// When source repeats an id the last occurrence wins. Updated items carry the
// tracked DestinationID forward.
func Compute[T Item[T]](tracked, source []T) Model[T] {
	var m Model[T]

	trackedByID := make(map[string]T, len(tracked))
	for _, t := range tracked {
		trackedByID[t.SourceID()] = t
	}

	last := make(map[string]int, len(source))
	for i, s := range source {
		last[s.SourceID()] = i
	}

	for i, s := range source {
		id := s.SourceID()
		if last[id] != i {
			continue
		}
		prev, ok := trackedByID[id]
		switch {
		case !ok:
			m.Created = append(m.Created, s)
		case !s.Equal(prev):
			m.Updated = append(m.Updated, s.WithDestinationID(prev.DestinationID()))
		}
	}

	seen := make(map[string]struct{}, len(tracked))
	for _, t := range tracked {
		id := t.SourceID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := last[id]; !ok {
			m.Deleted = append(m.Deleted, t)
		}
	}
	return m
}

// WithoutSkipped drops every change whose SourceID is in skipped.
func (m Model[T]) WithoutSkipped(skipped []T) Model[T] {
	if len(skipped) == 0 {
		return m
	}
	ids := idSet(skipped)
	keep := func(in []T) []T {
		var out []T
		for _, it := range in {
			if _, ok := ids[it.SourceID()]; !ok {
				out = append(out, it)
			}
		}
		return out
	}
	m.Created = keep(m.Created)
	m.Updated = keep(m.Updated)
	m.Deleted = keep(m.Deleted)
	return m
}

// Limit caps the number of changes to max, taking Created, then Updated, then
// Deleted. It returns how many changes were deferred to a later cycle.
// max <= 0 means no cap.
func (m Model[T]) Limit(max int) (Model[T], int) {
	total := len(m.Created) + len(m.Updated) + len(m.Deleted)
	if max <= 0 || total <= max {
		return m, 0
	}
	room := max
	take := func(in []T) []T {
		n := min(room, len(in))
		room -= n
		if n == 0 {
			return nil
		}
		return in[:n:n]
	}
	m.Created = take(m.Created)
	m.Updated = take(m.Updated)
	m.Deleted = take(m.Deleted)
	return m, total - max
}

func idSet[T Item[T]](items []T) map[string]struct{} {
	ids := make(map[string]struct{}, len(items))
	for _, it := range items {
		ids[it.SourceID()] = struct{}{}
	}
	return ids
}
