package memory

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftsync/internal/platform"
	"shiftsync/internal/schedule"
)

func sandboxFixture(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "fixtures", "sandbox.yaml")
}

func TestLoadSandboxFixture(t *testing.T) {
	p, err := Load(sandboxFixture(t))
	require.NoError(t, err)
	ctx := context.Background()

	emps, err := p.Source().ListEmployees(ctx, "bu-north")
	require.NoError(t, err)
	assert.Len(t, emps, 3)

	week := schedule.WeekOf(time.Date(2026, 10, 21, 0, 0, 0, 0, time.UTC), time.UTC, time.Monday)
	shifts, err := p.Source().ListShifts(ctx, "bu-north", week)
	require.NoError(t, err)
	assert.Len(t, shifts, 2)

	members, err := p.Destination().ListMembers(ctx, "team-north")
	require.NoError(t, err)
	assert.Len(t, members, 3)

	_, err = p.Source().ListShifts(ctx, "bu-missing", week)
	require.Error(t, err)
}

func TestDestinationLifecycle(t *testing.T) {
	ctx := context.Background()
	p := New()
	dst := p.Destination()
	start := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	week := schedule.WeekOf(start, time.UTC, time.Monday)

	created, err := dst.CreateShift(ctx, "team", schedule.Shift{ID: "s1", UserID: "u1", Start: start, End: start.Add(time.Hour)})
	require.NoError(t, err)
	require.NotEmpty(t, created.DestID)

	created.Notes = "swap"
	_, err = dst.UpdateShift(ctx, "team", created)
	require.NoError(t, err)

	list, err := dst.ListShifts(ctx, "team", week)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "swap", list[0].Notes)

	require.NoError(t, dst.DeleteShift(ctx, "team", created))
	require.NoError(t, dst.DeleteShift(ctx, "team", created), "delete is idempotent")

	_, err = dst.UpdateShift(ctx, "team", created)
	require.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 1, p.Calls(OpCreate))
	assert.Equal(t, 2, p.Calls(OpUpdate))
	assert.Equal(t, 2, p.Calls(OpDelete))
}

func TestDestinationValidation(t *testing.T) {
	ctx := context.Background()
	dst := New().Destination()
	start := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

	_, err := dst.CreateShift(ctx, "team", schedule.Shift{ID: "s1", UserID: "u1", Start: start, End: start})
	assert.True(t, platform.IsRejected(err))

	_, err = dst.CreateShift(ctx, "team", schedule.Shift{ID: "s2", Start: start, End: start.Add(time.Hour)})
	require.ErrorIs(t, err, platform.ErrUnresolved)
	assert.False(t, platform.IsRejected(err))

	_, err = dst.CreateOpenShift(ctx, "team", schedule.OpenShift{ID: "o1", GroupID: "g", Start: start, End: start.Add(time.Hour)})
	assert.True(t, platform.IsRejected(err))

	_, err = dst.CreateAvailability(ctx, "team", schedule.Availability{
		EmployeeID: "e1", UserID: "u1",
		Windows: []schedule.AvailabilityWindow{{Weekday: time.Monday, StartMinute: 600, EndMinute: 500}},
	})
	assert.True(t, platform.IsRejected(err))
}

func TestFaultInjection(t *testing.T) {
	ctx := context.Background()
	p := New()
	boom := errors.New("503 service unavailable")
	p.SetFault(func(op Op, kind schedule.EntityKind, team, id string) error {
		if op == OpCreate && id == "s1" {
			return boom
		}
		return nil
	})
	start := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	_, err := p.Destination().CreateShift(ctx, "team", schedule.Shift{ID: "s1", UserID: "u", Start: start, End: start.Add(time.Hour)})
	require.ErrorIs(t, err, boom)

	_, err = p.Destination().CreateShift(ctx, "team", schedule.Shift{ID: "s2", UserID: "u", Start: start, End: start.Add(time.Hour)})
	require.NoError(t, err)
}
