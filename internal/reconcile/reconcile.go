// Package reconcile runs one synchronization cycle for a (team, entity kind,
// period): fetch, classify, filter and cap, apply with per-record isolation,
// persist.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"shiftsync/internal/delta"
	"shiftsync/internal/platform"
	"shiftsync/internal/schedule"
	logx "shiftsync/pkg/logx"
)

var (
	// ErrPreconditionNotMet aborts a cycle whose upstream caches are not populated yet.
	ErrPreconditionNotMet = errors.New("reconcile: precondition not met")
	// ErrEmptySource aborts a cycle whose source returned nothing while results were required.
	ErrEmptySource = errors.New("reconcile: source returned no records")
)

// Kind is the capability set of one entity kind, bound to one team's run.
type Kind[T delta.Item[T]] interface {
	Name() string
	// Ready reports whether the caches this kind depends on are populated.
	Ready(ctx context.Context, team string) (bool, error)
	FetchSource(ctx context.Context, team string, period schedule.Period) ([]T, error)
	FetchSaved(ctx context.Context, team string, period schedule.Period) (delta.Cache[T], error)
	// Resolve fills destination foreign keys. Unresolvable references are
	// left empty; the destination then fails the record.
	Resolve(ctx context.Context, team string, item T) (T, error)
	Create(ctx context.Context, team string, item T) (T, error)
	Update(ctx context.Context, team string, item T) (T, error)
	Delete(ctx context.Context, team string, item T) error
	// SaveState merges the outcome into the persisted state and returns the
	// records moved to Skipped by the dead-letter ceiling.
	SaveState(ctx context.Context, team string, period schedule.Period, out Outcome[T]) ([]T, error)
}

// Outcome is what a cycle hands to SaveState.
type Outcome[T delta.Item[T]] struct {
	Applied delta.Model[T]
	Source  []T
	// Tracked is the saved set the delta was computed against.
	Tracked         []T
	MaxItemFailures int
}

// saveTimeout bounds persisting a cycle once its changes reached the destination.
const saveTimeout = time.Minute

// Recorder receives one Result per cycle.
type Recorder interface {
	ObserveCycle(r Result)
}

type Options struct {
	AbortOnZero     bool
	MaxDelta        int
	MaxItemFailures int
	// Limiter paces destination calls; nil means unpaced.
	Limiter  *rate.Limiter
	Recorder Recorder
	Log      logx.Logger
}

// Result summarizes a cycle.
type Result struct {
	Kind     string
	Team     string
	Period   string
	Created  int
	Updated  int
	Deleted  int
	Skipped  int
	Failed   int
	Deferred int
	// DeadLettered counts failing records moved to Skipped this cycle.
	DeadLettered int
	// Aborted is ErrPreconditionNotMet or ErrEmptySource when the cycle did nothing.
	Aborted  error
	Err      error
	Duration time.Duration
}

func (r Result) HasChanges() bool { return r.Created+r.Updated+r.Deleted > 0 }

// AbortReason is a short label for Aborted ("" when the cycle ran).
func (r Result) AbortReason() string {
	switch {
	case errors.Is(r.Aborted, ErrPreconditionNotMet):
		return "precondition"
	case errors.Is(r.Aborted, ErrEmptySource):
		return "empty_source"
	default:
		return ""
	}
}

// Run executes one cycle. Aborts are reported through Result.Aborted, never
// as errors; errors mean the cycle failed and should be retried next tick.
func Run[T delta.Item[T]](ctx context.Context, kind Kind[T], team string, period schedule.Period, opts Options) (res Result, err error) {
	started := time.Now()
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("kind", kind.Name()), logx.String("team", team), logx.String("period", period.Key()))

	res = Result{Kind: kind.Name(), Team: team, Period: period.Key()}
	defer func() {
		res.Duration = time.Since(started)
		res.Err = err
		if opts.Recorder != nil {
			opts.Recorder.ObserveCycle(res)
		}
	}()

	ready, err := kind.Ready(ctx, team)
	if err != nil {
		return res, fmt.Errorf("%s precondition: %w", kind.Name(), err)
	}
	if !ready {
		log.Debug("cycle skipped: roster not populated")
		res.Aborted = ErrPreconditionNotMet
		return res, nil
	}

	source, err := kind.FetchSource(ctx, team, period)
	if err != nil {
		return res, fmt.Errorf("%s fetch source: %w", kind.Name(), err)
	}
	if len(source) == 0 && opts.AbortOnZero {
		log.Warn("cycle aborted: source returned no records")
		res.Aborted = ErrEmptySource
		return res, nil
	}

	saved, err := kind.FetchSaved(ctx, team, period)
	if err != nil {
		return res, fmt.Errorf("%s fetch saved: %w", kind.Name(), err)
	}

	m := delta.Compute(saved.Tracked, source)
	if !m.HasChanges() {
		log.Debug("cycle: no changes", logx.Int("tracked", len(saved.Tracked)))
		return res, nil
	}

	m = m.WithoutSkipped(saved.Skipped)
	m, res.Deferred = m.Limit(opts.MaxDelta)
	if res.Deferred > 0 {
		log.Info("delta capped", logx.Int("max_delta", opts.MaxDelta), logx.Int("deferred", res.Deferred))
	}

	applied := apply(ctx, kind, team, m, opts.Limiter, log)

	// applied changes must be recorded even if the cycle was canceled meanwhile
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	dead, err := kind.SaveState(saveCtx, team, period, Outcome[T]{
		Applied:         applied,
		Source:          source,
		Tracked:         saved.Tracked,
		MaxItemFailures: opts.MaxItemFailures,
	})
	if err != nil {
		return res, fmt.Errorf("%s save state: %w", kind.Name(), err)
	}
	for _, it := range dead {
		log.Warn("record dead-lettered after repeated failures",
			logx.String("source_id", it.SourceID()),
			logx.Int("max_item_failures", opts.MaxItemFailures),
			logx.Alert(),
		)
	}

	res.Created = len(applied.Created)
	res.Updated = len(applied.Updated)
	res.Deleted = len(applied.Deleted)
	res.Skipped = len(applied.Skipped)
	res.Failed = len(applied.Failed)
	res.DeadLettered = len(dead)

	log.Info("cycle applied",
		logx.Int("created", res.Created),
		logx.Int("updated", res.Updated),
		logx.Int("deleted", res.Deleted),
		logx.Int("skipped", res.Skipped),
		logx.Int("failed", res.Failed),
		logx.Int("deferred", res.Deferred),
	)
	return res, nil
}

type op int

const (
	opCreate op = iota
	opUpdate
	opDelete
)

type task[T delta.Item[T]] struct {
	op   op
	item T
}

type taskResult[T delta.Item[T]] struct {
	item T
	err  error
}

// apply runs every change concurrently and classifies each result. Output
// order within a bucket follows the input order.
func apply[T delta.Item[T]](ctx context.Context, kind Kind[T], team string, m delta.Model[T], lim *rate.Limiter, log logx.Logger) delta.Model[T] {
	tasks := make([]task[T], 0, len(m.Created)+len(m.Updated)+len(m.Deleted))
	for _, it := range m.Created {
		tasks = append(tasks, task[T]{op: opCreate, item: it})
	}
	for _, it := range m.Updated {
		tasks = append(tasks, task[T]{op: opUpdate, item: it})
	}
	for _, it := range m.Deleted {
		tasks = append(tasks, task[T]{op: opDelete, item: it})
	}

	results := make([]taskResult[T], len(tasks))
	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = applyOne(ctx, kind, team, t, lim)
		}()
	}
	wg.Wait()

	out := delta.Model[T]{Skipped: m.Skipped, Failed: m.Failed}
	for i, r := range results {
		t := tasks[i]
		switch {
		case r.err == nil:
			switch t.op {
			case opCreate:
				out.Created = append(out.Created, r.item)
			case opUpdate:
				out.Updated = append(out.Updated, r.item)
			case opDelete:
				out.Deleted = append(out.Deleted, r.item)
			}
		case platform.IsRejected(r.err):
			log.Warn("record rejected by destination; skipping",
				logx.String("source_id", t.item.SourceID()),
				logx.Err(r.err),
			)
			out.Skipped = append(out.Skipped, t.item)
		default:
			log.Warn("record apply failed; will retry",
				logx.String("source_id", t.item.SourceID()),
				logx.Err(r.err),
			)
			out.Failed = append(out.Failed, t.item)
		}
	}
	return out
}

func applyOne[T delta.Item[T]](ctx context.Context, kind Kind[T], team string, t task[T], lim *rate.Limiter) (res taskResult[T]) {
	res.item = t.item
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("panic applying %s: %v", t.item.SourceID(), r)
		}
	}()

	item := t.item
	if t.op != opDelete {
		resolved, err := kind.Resolve(ctx, team, item)
		if err != nil {
			res.err = fmt.Errorf("resolve: %w", err)
			return res
		}
		item = resolved
	}
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			res.err = err
			return res
		}
	}

	switch t.op {
	case opCreate:
		created, err := kind.Create(ctx, team, item)
		if err == nil && created.DestinationID() == "" {
			err = errors.New("destination returned no id")
		}
		res.item, res.err = created, err
	case opUpdate:
		res.item, res.err = kind.Update(ctx, team, item)
	case opDelete:
		res.err = kind.Delete(ctx, team, item)
	}
	if res.err != nil {
		res.item = t.item
	}
	return res
}
