package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeekOf(t *testing.T) {
	t.Parallel()
	// Wednesday 2026-03-04
	now := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)

	assert.Equal(t, "2026-03-02", WeekOf(now, time.UTC, time.Monday).Key())
	assert.Equal(t, "2026-03-01", WeekOf(now, time.UTC, time.Sunday).Key())
	assert.Equal(t, "2026-02-26", WeekOf(now, time.UTC, time.Thursday).Key())
	assert.Equal(t, "2026-03-04", WeekOf(now, time.UTC, time.Wednesday).Key())
}

func TestWeekOfUsesTeamZone(t *testing.T) {
	t.Parallel()
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	// Sunday 20:00 UTC is Monday morning in Tokyo
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-02-23", WeekOf(now, time.UTC, time.Monday).Key())
	assert.Equal(t, "2026-03-02", WeekOf(now, tokyo, time.Monday).Key())
}

func TestWindowAndParse(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	w := Window(now, time.UTC, time.Monday, 1, 2)
	require.Len(t, w, 4)
	assert.Equal(t, "2026-02-23", w[0].Key())
	assert.Equal(t, "2026-03-16", w[3].Key())

	p, err := ParsePeriod("2026-03-02", time.UTC)
	require.NoError(t, err)
	assert.True(t, p.Contains(now))
	assert.False(t, p.Contains(p.End()))

	_, err = ParsePeriod("03/02/2026", time.UTC)
	require.Error(t, err)
}

func TestConnectionDue(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	c := Connection{TeamID: "t1"}
	assert.True(t, c.Due(WorkflowShifts, now, 15*time.Minute), "never run")

	c.LastExecution = map[WorkflowType]time.Time{WorkflowShifts: now.Add(-16 * time.Minute)}
	assert.True(t, c.Due(WorkflowShifts, now, 15*time.Minute))

	c.LastExecution[WorkflowShifts] = now.Add(-5 * time.Minute)
	assert.False(t, c.Due(WorkflowShifts, now, 15*time.Minute))
}

func TestRecordEqualityIgnoresDestinationFields(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	a := Shift{ID: "s1", EmployeeID: "e1", Start: start, End: start.Add(8 * time.Hour)}
	b := a.WithDestinationID("d1")
	b.UserID = "u1"
	assert.True(t, a.Equal(b))

	b.Notes = "late"
	assert.False(t, a.Equal(b))

	av := Availability{EmployeeID: "e1", Windows: []AvailabilityWindow{{Weekday: time.Monday, StartMinute: 480, EndMinute: 960}}}
	assert.Equal(t, "e1", av.SourceID())
	assert.True(t, av.Equal(av.WithDestinationID("x")))
}

func TestParseKinds(t *testing.T) {
	t.Parallel()
	k, err := ParseEntityKind(" TimeOff ")
	require.NoError(t, err)
	assert.Equal(t, KindTimeOff, k)
	assert.Equal(t, WorkflowTimeOff, k.Workflow())
	assert.False(t, KindAvailability.Periodic())

	_, err = ParseEntityKind("payroll")
	require.Error(t, err)

	assert.Equal(t, "shifts:team-1", InstanceID(WorkflowShifts, "team-1"))
}

func TestStandingPeriodKey(t *testing.T) {
	assert.Equal(t, "standing", Standing.Key())
	p, err := ParsePeriod("standing", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, Standing, p)
}
