package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftsync/internal/delta"
	"shiftsync/internal/storage"
	logx "shiftsync/pkg/logx"
)

type item struct {
	ID   string `json:"id"`
	Dest string `json:"dest"`
	V    int    `json:"v"`
}

func (i item) SourceID() string                 { return i.ID }
func (i item) DestinationID() string            { return i.Dest }
func (i item) WithDestinationID(id string) item { i.Dest = id; return i }
func (i item) Equal(o item) bool                { return i.ID == o.ID && i.V == o.V }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	st := storage.NewMemory(logx.Nop())
	require.NoError(t, st.Provision(context.Background()))
	return st
}

func TestTableRoundTrip(t *testing.T) {
	ctx := context.Background()
	tbl := NewTable[item](newStore(t), "items")

	_, ok, err := tbl.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = tbl.MustGet(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tbl.Set(ctx, "b", item{ID: "b", V: 2}))
	require.NoError(t, tbl.Set(ctx, "a", item{ID: "a", V: 1}))

	rows, err := tbl.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].Key)
	assert.Equal(t, 1, rows[0].Value.V)

	require.NoError(t, tbl.Delete(ctx, "a"))
	_, ok, err = tbl.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLeaseConflictAndExpiry(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	s := NewSchedules[item](newStore(t), "schedules", Options{Now: clk.Now})

	first, err := s.LoadWithLease(ctx, "team", "2026-03-02", 30*time.Second)
	require.NoError(t, err)

	_, err = s.LoadWithLease(ctx, "team", "2026-03-02", 30*time.Second)
	require.ErrorIs(t, err, ErrLeaseConflict)

	require.NoError(t, s.SaveWithLease(ctx, first, delta.Cache[item]{Tracked: []item{{ID: "a", V: 1}}}))

	second, err := s.LoadWithLease(ctx, "team", "2026-03-02", 30*time.Second)
	require.NoError(t, err)
	require.Len(t, second.Value.Tracked, 1)

	// stale token
	require.ErrorIs(t, s.SaveWithLease(ctx, first, delta.Cache[item]{}), ErrLeaseLost)

	// lease duration is clamped to 60s; after that another writer may take it
	clk.Advance(61 * time.Second)
	third, err := s.LoadWithLease(ctx, "team", "2026-03-02", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(MaxLeaseDuration), third.Until)
	require.ErrorIs(t, s.SaveWithLease(ctx, second, delta.Cache[item]{}), ErrLeaseLost)
	require.NoError(t, s.Release(ctx, third))
}

func TestClampLease(t *testing.T) {
	t.Parallel()
	assert.Equal(t, MinLeaseDuration, ClampLease(time.Second))
	assert.Equal(t, 20*time.Second, ClampLease(20*time.Second))
	assert.Equal(t, MaxLeaseDuration, ClampLease(time.Hour))
}

func TestWithLeaseRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	st := newStore(t)
	s := NewSchedules[item](st, "schedules", Options{Now: clk.Now, RetryCount: 5, RetryInterval: 10 * time.Millisecond})

	held, err := s.LoadWithLease(ctx, "team", "p", 30*time.Second)
	require.NoError(t, err)

	go func() {
		time.Sleep(25 * time.Millisecond)
		_ = s.SaveWithLease(ctx, held, delta.Cache[item]{Tracked: []item{{ID: "other", V: 1}}})
	}()

	err = s.WithLease(ctx, "team", "p", func(cur delta.Cache[item]) (delta.Cache[item], error) {
		cur.Tracked = append(cur.Tracked, item{ID: "mine", V: 1})
		return cur, nil
	})
	require.NoError(t, err)

	got, err := s.Load(ctx, "team", "p")
	require.NoError(t, err)
	// the concurrent writer's change survived the merge
	require.Len(t, got.Tracked, 2)
	assert.Equal(t, "other", got.Tracked[0].ID)
	assert.Equal(t, "mine", got.Tracked[1].ID)
}

func TestWithLeaseExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	s := NewSchedules[item](newStore(t), "schedules", Options{Now: clk.Now, RetryCount: 2, RetryInterval: time.Millisecond})

	_, err := s.LoadWithLease(ctx, "team", "p", 30*time.Second)
	require.NoError(t, err)

	calls := 0
	err = s.WithLease(ctx, "team", "p", func(cur delta.Cache[item]) (delta.Cache[item], error) {
		calls++
		return cur, nil
	})
	require.ErrorIs(t, err, ErrLeaseConflict)
	assert.Zero(t, calls)
}

func TestDeleteScheduleTakesLease(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	s := NewSchedules[item](newStore(t), "schedules", Options{Now: clk.Now})

	require.NoError(t, s.WithLease(ctx, "team", "p", func(cur delta.Cache[item]) (delta.Cache[item], error) {
		cur.Skipped = []item{{ID: "bad"}}
		return cur, nil
	}))

	held, err := s.LoadWithLease(ctx, "team", "p", 30*time.Second)
	require.NoError(t, err)
	require.ErrorIs(t, s.DeleteSchedule(ctx, "team", "p"), ErrLeaseConflict)
	require.NoError(t, s.Release(ctx, held))

	require.NoError(t, s.DeleteSchedule(ctx, "team", "p"))
	got, err := s.Load(ctx, "team", "p")
	require.NoError(t, err)
	assert.Empty(t, got.Skipped)
	assert.Empty(t, got.Tracked)
}
