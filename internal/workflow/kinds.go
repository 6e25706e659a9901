package workflow

import (
	"context"

	"shiftsync/internal/platform"
	"shiftsync/internal/reconcile"
	"shiftsync/internal/roster"
	"shiftsync/internal/schedule"
)

// scope is what every kind shares within one workflow run.
type scope struct {
	conn   schedule.Connection
	roster *roster.Cache
	src    platform.Source
	dst    platform.Destination
}

func (s scope) Ready(ctx context.Context, _ string) (bool, error) { return s.roster.Ready(ctx) }

// resolve looks up a reference and leaves it empty when unknown.
func resolve(ctx context.Context, key string, lookup func(context.Context, string) (string, bool, error)) (string, error) {
	if key == "" {
		return "", nil
	}
	id, _, err := lookup(ctx, key)
	return id, err
}

type shiftKind struct {
	scope
	reconcile.LeasedState[schedule.Shift]
}

func (shiftKind) Name() string { return string(schedule.KindShifts) }

func (k shiftKind) FetchSource(ctx context.Context, _ string, p schedule.Period) ([]schedule.Shift, error) {
	return k.src.ListShifts(ctx, k.conn.BusinessUnitID, p)
}

func (k shiftKind) Resolve(ctx context.Context, _ string, s schedule.Shift) (schedule.Shift, error) {
	var err error
	if s.UserID, err = resolve(ctx, s.EmployeeID, k.roster.UserID); err != nil {
		return s, err
	}
	s.GroupID, err = resolve(ctx, s.Department, k.roster.GroupID)
	return s, err
}

func (k shiftKind) Create(ctx context.Context, team string, s schedule.Shift) (schedule.Shift, error) {
	return k.dst.CreateShift(ctx, team, s)
}

func (k shiftKind) Update(ctx context.Context, team string, s schedule.Shift) (schedule.Shift, error) {
	return k.dst.UpdateShift(ctx, team, s)
}

func (k shiftKind) Delete(ctx context.Context, team string, s schedule.Shift) error {
	return k.dst.DeleteShift(ctx, team, s)
}

type openShiftKind struct {
	scope
	reconcile.LeasedState[schedule.OpenShift]
}

func (openShiftKind) Name() string { return string(schedule.KindOpenShifts) }

func (k openShiftKind) FetchSource(ctx context.Context, _ string, p schedule.Period) ([]schedule.OpenShift, error) {
	return k.src.ListOpenShifts(ctx, k.conn.BusinessUnitID, p)
}

func (k openShiftKind) Resolve(ctx context.Context, _ string, s schedule.OpenShift) (schedule.OpenShift, error) {
	var err error
	s.GroupID, err = resolve(ctx, s.Department, k.roster.GroupID)
	return s, err
}

func (k openShiftKind) Create(ctx context.Context, team string, s schedule.OpenShift) (schedule.OpenShift, error) {
	return k.dst.CreateOpenShift(ctx, team, s)
}

func (k openShiftKind) Update(ctx context.Context, team string, s schedule.OpenShift) (schedule.OpenShift, error) {
	return k.dst.UpdateOpenShift(ctx, team, s)
}

func (k openShiftKind) Delete(ctx context.Context, team string, s schedule.OpenShift) error {
	return k.dst.DeleteOpenShift(ctx, team, s)
}

type timeOffKind struct {
	scope
	reconcile.LeasedState[schedule.TimeOff]
}

func (timeOffKind) Name() string { return string(schedule.KindTimeOff) }

func (k timeOffKind) FetchSource(ctx context.Context, _ string, p schedule.Period) ([]schedule.TimeOff, error) {
	return k.src.ListTimeOff(ctx, k.conn.BusinessUnitID, p)
}

func (k timeOffKind) Resolve(ctx context.Context, _ string, t schedule.TimeOff) (schedule.TimeOff, error) {
	var err error
	t.UserID, err = resolve(ctx, t.EmployeeID, k.roster.UserID)
	return t, err
}

func (k timeOffKind) Create(ctx context.Context, team string, t schedule.TimeOff) (schedule.TimeOff, error) {
	return k.dst.CreateTimeOff(ctx, team, t)
}

func (k timeOffKind) Update(ctx context.Context, team string, t schedule.TimeOff) (schedule.TimeOff, error) {
	return k.dst.UpdateTimeOff(ctx, team, t)
}

func (k timeOffKind) Delete(ctx context.Context, team string, t schedule.TimeOff) error {
	return k.dst.DeleteTimeOff(ctx, team, t)
}

// availabilityKind has no local snapshot: what the destination holds is the
// tracked set.
type availabilityKind struct {
	scope
	reconcile.DerivedState[schedule.Availability]
}

func (availabilityKind) Name() string { return string(schedule.KindAvailability) }

func (k availabilityKind) FetchSource(ctx context.Context, _ string, _ schedule.Period) ([]schedule.Availability, error) {
	return k.src.ListAvailability(ctx, k.conn.BusinessUnitID)
}

func (k availabilityKind) Resolve(ctx context.Context, _ string, a schedule.Availability) (schedule.Availability, error) {
	var err error
	a.UserID, err = resolve(ctx, a.EmployeeID, k.roster.UserID)
	return a, err
}

func (k availabilityKind) Create(ctx context.Context, team string, a schedule.Availability) (schedule.Availability, error) {
	return k.dst.CreateAvailability(ctx, team, a)
}

func (k availabilityKind) Update(ctx context.Context, team string, a schedule.Availability) (schedule.Availability, error) {
	return k.dst.UpdateAvailability(ctx, team, a)
}

func (k availabilityKind) Delete(ctx context.Context, team string, a schedule.Availability) error {
	return k.dst.DeleteAvailability(ctx, team, a)
}
