package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftsync/internal/delta"
	"shiftsync/internal/platform"
	"shiftsync/internal/schedule"
	"shiftsync/internal/state"
	"shiftsync/internal/storage"
	logx "shiftsync/pkg/logx"
)

type rec struct {
	ID   string `json:"id"`
	Dest string `json:"dest"`
	V    int    `json:"v"`
}

func (r rec) SourceID() string                { return r.ID }
func (r rec) DestinationID() string           { return r.Dest }
func (r rec) WithDestinationID(id string) rec { r.Dest = id; return r }
func (r rec) Equal(o rec) bool                { return r.ID == o.ID && r.V == o.V }

// fakeKind keeps its destination in a map and fails or rejects by source id.
type fakeKind struct {
	LeasedState[rec]

	mu      sync.Mutex
	ready   bool
	source  []rec
	dest    map[string]rec
	seq     int
	fail    map[string]bool
	reject  map[string]bool
	applied int
}

func newFake(t *testing.T) *fakeKind {
	t.Helper()
	st := storage.NewMemory(logx.Nop())
	require.NoError(t, st.Provision(context.Background()))
	return &fakeKind{
		LeasedState: LeasedState[rec]{Store: state.NewSchedules[rec](st, "recs", state.Options{})},
		ready:       true,
		dest:        map[string]rec{},
		fail:        map[string]bool{},
		reject:      map[string]bool{},
	}
}

func (k *fakeKind) Name() string { return "recs" }

func (k *fakeKind) Ready(context.Context, string) (bool, error) { return k.ready, nil }

func (k *fakeKind) FetchSource(context.Context, string, schedule.Period) ([]rec, error) {
	return append([]rec(nil), k.source...), nil
}

func (k *fakeKind) Resolve(_ context.Context, _ string, r rec) (rec, error) { return r, nil }

func (k *fakeKind) check(r rec) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.applied++
	if k.reject[r.ID] {
		return platform.Rejected(errors.New("bad record"))
	}
	if k.fail[r.ID] {
		return errors.New("503")
	}
	return nil
}

func (k *fakeKind) Create(_ context.Context, _ string, r rec) (rec, error) {
	if err := k.check(r); err != nil {
		return rec{}, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.seq++
	r = r.WithDestinationID(fmt.Sprintf("d-%d", k.seq))
	k.dest[r.Dest] = r
	return r, nil
}

func (k *fakeKind) Update(_ context.Context, _ string, r rec) (rec, error) {
	if err := k.check(r); err != nil {
		return rec{}, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.dest[r.Dest] = r
	return r, nil
}

func (k *fakeKind) Delete(_ context.Context, _ string, r rec) error {
	if err := k.check(r); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.dest, r.Dest)
	return nil
}

type recorder struct{ results []Result }

func (r *recorder) ObserveCycle(res Result) { r.results = append(r.results, res) }

var week = schedule.WeekOf(time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), time.UTC, time.Monday)

func TestRunAbortsWhenNotReady(t *testing.T) {
	k := newFake(t)
	k.ready = false
	k.source = []rec{{ID: "a"}}
	rr := &recorder{}

	res, err := Run[rec](context.Background(), k, "team", week, Options{Recorder: rr})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Aborted, ErrPreconditionNotMet)
	assert.Equal(t, "precondition", res.AbortReason())
	assert.Zero(t, k.applied)
	require.Len(t, rr.results, 1)
}

func TestRunEmptySourceGuard(t *testing.T) {
	ctx := context.Background()
	k := newFake(t)
	k.source = []rec{{ID: "a"}, {ID: "b"}}
	_, err := Run[rec](ctx, k, "team", week, Options{AbortOnZero: true})
	require.NoError(t, err)
	require.Len(t, k.dest, 2)

	k.source = nil
	res, err := Run[rec](ctx, k, "team", week, Options{AbortOnZero: true})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Aborted, ErrEmptySource)
	assert.Len(t, k.dest, 2, "guard keeps destination intact")

	res, err = Run[rec](ctx, k, "team", week, Options{AbortOnZero: false})
	require.NoError(t, err)
	assert.Nil(t, res.Aborted)
	assert.Equal(t, 2, res.Deleted)
	assert.Empty(t, k.dest)
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	k := newFake(t)
	k.source = []rec{{ID: "a", V: 1}, {ID: "b", V: 1}}

	res, err := Run[rec](ctx, k, "team", week, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)

	before := k.applied
	res, err = Run[rec](ctx, k, "team", week, Options{})
	require.NoError(t, err)
	assert.False(t, res.HasChanges())
	assert.Equal(t, before, k.applied, "second cycle touches nothing")

	k.source[0].V = 2
	res, err = Run[rec](ctx, k, "team", week, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	saved, err := k.Store.Load(ctx, "team", week.Key())
	require.NoError(t, err)
	require.Len(t, saved.Tracked, 2)
	assert.Equal(t, 2, saved.Tracked[0].V)
	assert.NotEmpty(t, saved.Tracked[0].Dest)
}

func TestRunIsolatesRejectedAndFailedRecords(t *testing.T) {
	ctx := context.Background()
	k := newFake(t)
	k.source = []rec{{ID: "ok"}, {ID: "bad"}, {ID: "flaky"}}
	k.reject["bad"] = true
	k.fail["flaky"] = true

	res, err := Run[rec](ctx, k, "team", week, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Failed)

	saved, err := k.Store.Load(ctx, "team", week.Key())
	require.NoError(t, err)
	assert.Equal(t, []rec{{ID: "bad"}}, saved.Skipped)
	assert.Equal(t, map[string]int{"flaky": 1}, saved.Failures)

	// skipped record stays out, failed record is retried and now succeeds
	delete(k.fail, "flaky")
	res, err = Run[rec](ctx, k, "team", week, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Zero(t, res.Skipped)

	saved, err = k.Store.Load(ctx, "team", week.Key())
	require.NoError(t, err)
	assert.Len(t, saved.Tracked, 2)
	assert.Empty(t, saved.Failures)
}

func TestRunDeadLettersAfterCeiling(t *testing.T) {
	ctx := context.Background()
	k := newFake(t)
	k.source = []rec{{ID: "flaky"}}
	k.fail["flaky"] = true
	opts := Options{MaxItemFailures: 2}

	res, err := Run[rec](ctx, k, "team", week, opts)
	require.NoError(t, err)
	assert.Zero(t, res.DeadLettered)

	res, err = Run[rec](ctx, k, "team", week, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeadLettered)

	before := k.applied
	_, err = Run[rec](ctx, k, "team", week, opts)
	require.NoError(t, err)
	assert.Equal(t, before, k.applied, "dead-lettered record is no longer attempted")
}

func TestRunCapsDelta(t *testing.T) {
	ctx := context.Background()
	k := newFake(t)
	for i := range 25 {
		k.source = append(k.source, rec{ID: fmt.Sprintf("r%02d", i)})
	}

	res, err := Run[rec](ctx, k, "team", week, Options{MaxDelta: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Created)
	assert.Equal(t, 15, res.Deferred)

	res, err = Run[rec](ctx, k, "team", week, Options{MaxDelta: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Created)
	assert.Equal(t, 5, res.Deferred)

	res, err = Run[rec](ctx, k, "team", week, Options{MaxDelta: 10})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Created)
	assert.Zero(t, res.Deferred)
	assert.Len(t, k.dest, 25)
}

func TestRunCapsLargeBacklog(t *testing.T) {
	k := newFake(t)
	for i := range 100 {
		k.source = append(k.source, rec{ID: fmt.Sprintf("r%03d", i)})
	}

	res, err := Run[rec](context.Background(), k, "team", week, Options{MaxDelta: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Created)
	assert.Equal(t, 90, res.Deferred)
	assert.Len(t, k.dest, 10)
}

// cancelingKind cancels the cycle right after the destination accepted a create.
type cancelingKind struct {
	*fakeKind
	cancel context.CancelFunc
}

func (k *cancelingKind) Create(ctx context.Context, team string, r rec) (rec, error) {
	out, err := k.fakeKind.Create(ctx, team, r)
	k.cancel()
	return out, err
}

func TestRunRecordsChangesAppliedBeforeCancel(t *testing.T) {
	k := newFake(t)
	k.source = []rec{{ID: "a"}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := Run[rec](ctx, &cancelingKind{fakeKind: k, cancel: cancel}, "team", week, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	res, err = Run[rec](context.Background(), k, "team", week, Options{})
	require.NoError(t, err)
	assert.False(t, res.HasChanges())
	assert.Len(t, k.dest, 1, "no duplicate destination record")

	saved, err := k.Store.Load(context.Background(), "team", week.Key())
	require.NoError(t, err)
	require.Len(t, saved.Tracked, 1)
	assert.Equal(t, "d-1", saved.Tracked[0].Dest)
}

func TestDerivedStateTracksDestination(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory(logx.Nop())
	require.NoError(t, st.Provision(ctx))

	k := newFake(t)
	derived := DerivedState[rec]{
		List: func(context.Context, string, schedule.Period) ([]rec, error) {
			k.mu.Lock()
			defer k.mu.Unlock()
			out := make([]rec, 0, len(k.dest))
			for _, r := range k.dest {
				out = append(out, r)
			}
			return out, nil
		},
		Aux: state.NewTable[delta.Cache[rec]](st, "aux"),
	}
	dk := &derivedKind{fakeKind: k, DerivedState: derived}
	k.source = []rec{{ID: "a"}, {ID: "bad"}}
	k.reject["bad"] = true

	res, err := Run[rec](ctx, dk, "team", week, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Skipped)

	aux, ok, err := derived.Aux.Get(ctx, "team/"+week.Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, aux.Tracked)
	assert.Equal(t, []rec{{ID: "bad"}}, aux.Skipped)

	before := k.applied
	res, err = Run[rec](ctx, dk, "team", week, Options{})
	require.NoError(t, err)
	assert.False(t, res.HasChanges())
	assert.Equal(t, before, k.applied)
}

func TestDerivedStateDeadLettersFailingDelete(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory(logx.Nop())
	require.NoError(t, st.Provision(ctx))

	k := newFake(t)
	dk := &derivedKind{fakeKind: k, DerivedState: DerivedState[rec]{
		List: func(context.Context, string, schedule.Period) ([]rec, error) {
			k.mu.Lock()
			defer k.mu.Unlock()
			out := make([]rec, 0, len(k.dest))
			for _, r := range k.dest {
				out = append(out, r)
			}
			return out, nil
		},
		Aux: state.NewTable[delta.Cache[rec]](st, "aux"),
	}}
	k.dest["d-gone"] = rec{ID: "gone", Dest: "d-gone"}
	k.fail["gone"] = true
	opts := Options{MaxItemFailures: 2}

	res, err := Run[rec](ctx, dk, "team", week, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	aux, _, err := dk.Aux.Get(ctx, "team/"+week.Key())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"gone": 1}, aux.Failures)

	res, err = Run[rec](ctx, dk, "team", week, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeadLettered)

	before := k.applied
	_, err = Run[rec](ctx, dk, "team", week, opts)
	require.NoError(t, err)
	assert.Equal(t, before, k.applied, "dead-lettered delete is no longer attempted")
}

type derivedKind struct {
	*fakeKind
	DerivedState[rec]
}

func (d *derivedKind) FetchSaved(ctx context.Context, team string, p schedule.Period) (delta.Cache[rec], error) {
	return d.DerivedState.FetchSaved(ctx, team, p)
}

func (d *derivedKind) SaveState(ctx context.Context, team string, p schedule.Period, out Outcome[rec]) ([]rec, error) {
	return d.DerivedState.SaveState(ctx, team, p, out)
}
