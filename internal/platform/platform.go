// Package platform declares the clients for the workforce-management source
// and the collaboration-platform destination.
package platform

import (
	"context"
	"errors"

	"shiftsync/internal/schedule"
)

// ErrUnresolved marks a record whose destination foreign keys (user, group)
// could not be resolved from the roster caches.
var ErrUnresolved = errors.New("platform: unresolved destination reference")

// Source is the workforce-management system of record.
type Source interface {
	ListEmployees(ctx context.Context, businessUnit string) ([]schedule.Employee, error)
	ListShifts(ctx context.Context, businessUnit string, period schedule.Period) ([]schedule.Shift, error)
	ListOpenShifts(ctx context.Context, businessUnit string, period schedule.Period) ([]schedule.OpenShift, error)
	ListTimeOff(ctx context.Context, businessUnit string, period schedule.Period) ([]schedule.TimeOff, error)
	ListAvailability(ctx context.Context, businessUnit string) ([]schedule.Availability, error)
}

// Destination is the collaboration platform's scheduling surface.
//
// Create calls return the record with its destination id bound.
type Destination interface {
	ListMembers(ctx context.Context, team string) ([]schedule.Member, error)
	ListGroups(ctx context.Context, team string) ([]schedule.Group, error)

	ListShifts(ctx context.Context, team string, period schedule.Period) ([]schedule.Shift, error)
	CreateShift(ctx context.Context, team string, s schedule.Shift) (schedule.Shift, error)
	UpdateShift(ctx context.Context, team string, s schedule.Shift) (schedule.Shift, error)
	DeleteShift(ctx context.Context, team string, s schedule.Shift) error

	ListOpenShifts(ctx context.Context, team string, period schedule.Period) ([]schedule.OpenShift, error)
	CreateOpenShift(ctx context.Context, team string, s schedule.OpenShift) (schedule.OpenShift, error)
	UpdateOpenShift(ctx context.Context, team string, s schedule.OpenShift) (schedule.OpenShift, error)
	DeleteOpenShift(ctx context.Context, team string, s schedule.OpenShift) error

	ListTimeOff(ctx context.Context, team string, period schedule.Period) ([]schedule.TimeOff, error)
	CreateTimeOff(ctx context.Context, team string, t schedule.TimeOff) (schedule.TimeOff, error)
	UpdateTimeOff(ctx context.Context, team string, t schedule.TimeOff) (schedule.TimeOff, error)
	DeleteTimeOff(ctx context.Context, team string, t schedule.TimeOff) error

	ListAvailability(ctx context.Context, team string) ([]schedule.Availability, error)
	CreateAvailability(ctx context.Context, team string, a schedule.Availability) (schedule.Availability, error)
	UpdateAvailability(ctx context.Context, team string, a schedule.Availability) (schedule.Availability, error)
	DeleteAvailability(ctx context.Context, team string, a schedule.Availability) error
}

// RejectedError marks a destination refusal of invalid business data. Such
// records are skipped permanently instead of retried.
type RejectedError struct {
	Err error
}

func (e *RejectedError) Error() string {
	if e.Err == nil {
		return "rejected by destination"
	}
	return "rejected by destination: " + e.Err.Error()
}

func (e *RejectedError) Unwrap() error { return e.Err }

// Rejected wraps err as a validation rejection.
func Rejected(err error) error {
	return &RejectedError{Err: err}
}

// IsRejected reports whether err (or anything it wraps) is a validation rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
