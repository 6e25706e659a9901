package reconcile

import (
	"context"
	"fmt"

	"shiftsync/internal/delta"
	"shiftsync/internal/schedule"
	"shiftsync/internal/state"
)

// LeasedState keeps the whole snapshot in a leased Schedules table. SaveState
// merges the outcome onto whatever is current at save time, so a concurrent
// writer's changes survive.
type LeasedState[T delta.Item[T]] struct {
	Store *state.Schedules[T]
}

func (s LeasedState[T]) FetchSaved(ctx context.Context, team string, period schedule.Period) (delta.Cache[T], error) {
	return s.Store.Load(ctx, team, period.Key())
}

func (s LeasedState[T]) SaveState(ctx context.Context, team string, period schedule.Period, out Outcome[T]) ([]T, error) {
	var dead []T
	err := s.Store.WithLease(ctx, team, period.Key(), func(cur delta.Cache[T]) (delta.Cache[T], error) {
		next, d := cur.PruneFailures(out.Source).Merge(out.Applied, out.MaxItemFailures)
		dead = d
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	return dead, nil
}

// DerivedState reads the tracked set straight from the destination. Only the
// skipped list and failure counters are persisted, in Aux.
type DerivedState[T delta.Item[T]] struct {
	List func(ctx context.Context, team string, period schedule.Period) ([]T, error)
	Aux  state.Table[delta.Cache[T]]
}

func auxKey(team string, period schedule.Period) string { return team + "/" + period.Key() }

func (s DerivedState[T]) FetchSaved(ctx context.Context, team string, period schedule.Period) (delta.Cache[T], error) {
	tracked, err := s.List(ctx, team, period)
	if err != nil {
		return delta.Cache[T]{}, fmt.Errorf("list destination: %w", err)
	}
	aux, _, err := s.Aux.Get(ctx, auxKey(team, period))
	if err != nil {
		return delta.Cache[T]{}, err
	}
	return delta.Cache[T]{Tracked: tracked, Skipped: aux.Skipped, Failures: aux.Failures}, nil
}

func (s DerivedState[T]) SaveState(ctx context.Context, team string, period schedule.Period, out Outcome[T]) ([]T, error) {
	aux, _, err := s.Aux.Get(ctx, auxKey(team, period))
	if err != nil {
		return nil, err
	}
	// destination-only records keep their counters until they are gone
	aux.Tracked = out.Tracked
	next, dead := aux.PruneFailures(out.Source).Merge(out.Applied, out.MaxItemFailures)
	next.Tracked = nil
	if len(next.Skipped) == 0 && len(next.Failures) == 0 {
		return dead, s.Aux.Delete(ctx, auxKey(team, period))
	}
	return dead, s.Aux.Set(ctx, auxKey(team, period), next)
}

// Reset drops the persisted skipped list and failure counters.
func (s DerivedState[T]) Reset(ctx context.Context, team string, period schedule.Period) error {
	return s.Aux.Delete(ctx, auxKey(team, period))
}
