package connection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftsync/internal/schedule"
	"shiftsync/internal/state"
	"shiftsync/internal/storage"
	logx "shiftsync/pkg/logx"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	st := storage.NewMemory(logx.Nop())
	require.NoError(t, st.Provision(context.Background()))
	return NewStore(st)
}

func TestPutKeepsExecutionHistory(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Put(ctx, schedule.Connection{TeamID: "t1", BusinessUnitID: "bu", Enabled: true})
	require.NoError(t, err)
	stamp := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.Stamp(ctx, "t1", schedule.WorkflowShifts, stamp))

	_, err = s.Put(ctx, schedule.Connection{TeamID: "t1", BusinessUnitID: "bu2", Enabled: true, TimeZone: "Europe/Berlin"})
	require.NoError(t, err)

	c, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "bu2", c.BusinessUnitID)
	assert.True(t, c.LastRun(schedule.WorkflowShifts).Equal(stamp))
}

func TestPutValidates(t *testing.T) {
	s := newStore(t)
	_, err := s.Put(context.Background(), schedule.Connection{TeamID: "t1"})
	require.ErrorIs(t, err, ErrInvalid)
	_, err = s.Put(context.Background(), schedule.Connection{TeamID: "t1", BusinessUnitID: "b", TimeZone: "Mars/Olympus"})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestListEnabledAndDisable(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for _, team := range []string{"b", "a", "c"} {
		_, err := s.Put(ctx, schedule.Connection{TeamID: team, BusinessUnitID: "bu", Enabled: true})
		require.NoError(t, err)
	}
	require.NoError(t, s.SetEnabled(ctx, "b", false))

	enabled, err := s.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 2)
	assert.Equal(t, "a", enabled[0].TeamID)
	assert.Equal(t, "c", enabled[1].TeamID)

	err = s.SetEnabled(ctx, "zz", true)
	require.ErrorIs(t, err, state.ErrNotFound)
}
