package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"shiftsync/internal/delta"
	"shiftsync/internal/platform"
	"shiftsync/internal/schedule"
)

// ErrNotFound is returned when updating a destination record that does not exist.
var ErrNotFound = errors.New("memory: destination record not found")

type table[T any] struct {
	kind     schedule.EntityKind
	start    func(T) time.Time
	validate func(T) error
}

var (
	shiftTable = table[schedule.Shift]{
		kind:  schedule.KindShifts,
		start: func(s schedule.Shift) time.Time { return s.Start },
		validate: func(s schedule.Shift) error {
			if err := requireRef("user", s.UserID); err != nil {
				return err
			}
			return validSpan(s.Start, s.End)
		},
	}
	openShiftTable = table[schedule.OpenShift]{
		kind:  schedule.KindOpenShifts,
		start: func(s schedule.OpenShift) time.Time { return s.Start },
		validate: func(s schedule.OpenShift) error {
			if err := requireRef("group", s.GroupID); err != nil {
				return err
			}
			if s.Slots <= 0 {
				return platform.Rejected(errors.New("open shift needs at least one slot"))
			}
			return validSpan(s.Start, s.End)
		},
	}
	timeOffTable = table[schedule.TimeOff]{
		kind:  schedule.KindTimeOff,
		start: func(t schedule.TimeOff) time.Time { return t.Start },
		validate: func(t schedule.TimeOff) error {
			if err := requireRef("user", t.UserID); err != nil {
				return err
			}
			return validSpan(t.Start, t.End)
		},
	}
	availabilityTable = table[schedule.Availability]{
		kind:  schedule.KindAvailability,
		start: func(schedule.Availability) time.Time { return time.Time{} },
		validate: func(a schedule.Availability) error {
			if err := requireRef("user", a.UserID); err != nil {
				return err
			}
			for _, w := range a.Windows {
				if w.EndMinute <= w.StartMinute || w.StartMinute < 0 || w.EndMinute > 24*60 {
					return platform.Rejected(fmt.Errorf("invalid window %s %d-%d", w.Weekday, w.StartMinute, w.EndMinute))
				}
			}
			return nil
		},
	}
)

func validSpan(start, end time.Time) error {
	if !end.After(start) {
		return platform.Rejected(errors.New("end must be after start"))
	}
	return nil
}

func requireRef(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("missing %s: %w", kind, platform.ErrUnresolved)
	}
	return nil
}

func listDest[T delta.Item[T]](ctx context.Context, p *Platform, sp table[T], tbl map[string]map[string]record[T], team string, period *schedule.Period) ([]T, error) {
	if err := p.check(ctx, OpList, sp.kind, team, ""); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var recs []record[T]
	for _, r := range tbl[team] {
		if period == nil || period.Contains(r.start) {
			recs = append(recs, r)
		}
	}
	slices.SortFunc(recs, func(a, b record[T]) int {
		if c := a.start.Compare(b.start); c != 0 {
			return c
		}
		return cmp.Compare(a.item.SourceID(), b.item.SourceID())
	})
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.item)
	}
	return out, nil
}

func createDest[T delta.Item[T]](ctx context.Context, p *Platform, sp table[T], tbl map[string]map[string]record[T], team string, item T) (T, error) {
	var zero T
	if err := p.check(ctx, OpCreate, sp.kind, team, item.SourceID()); err != nil {
		return zero, err
	}
	if err := sp.validate(item); err != nil {
		return zero, fmt.Errorf("create %s %s: %w", sp.kind, item.SourceID(), err)
	}
	item = item.WithDestinationID(uuid.NewString())

	p.mu.Lock()
	defer p.mu.Unlock()
	if tbl[team] == nil {
		tbl[team] = map[string]record[T]{}
	}
	tbl[team][item.DestinationID()] = record[T]{item: item, start: sp.start(item)}
	return item, nil
}

func updateDest[T delta.Item[T]](ctx context.Context, p *Platform, sp table[T], tbl map[string]map[string]record[T], team string, item T) (T, error) {
	var zero T
	if err := p.check(ctx, OpUpdate, sp.kind, team, item.SourceID()); err != nil {
		return zero, err
	}
	if err := sp.validate(item); err != nil {
		return zero, fmt.Errorf("update %s %s: %w", sp.kind, item.SourceID(), err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := tbl[team][item.DestinationID()]; !ok {
		return zero, fmt.Errorf("update %s %s (%s): %w", sp.kind, item.SourceID(), item.DestinationID(), ErrNotFound)
	}
	tbl[team][item.DestinationID()] = record[T]{item: item, start: sp.start(item)}
	return item, nil
}

// deleteDest is idempotent: deleting a missing record succeeds.
func deleteDest[T delta.Item[T]](ctx context.Context, p *Platform, sp table[T], tbl map[string]map[string]record[T], team string, item T) error {
	if err := p.check(ctx, OpDelete, sp.kind, team, item.SourceID()); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(tbl[team], item.DestinationID())
	return nil
}

func (v destinationView) ListShifts(ctx context.Context, team string, period schedule.Period) ([]schedule.Shift, error) {
	return listDest(ctx, v.p, shiftTable, v.p.shifts, team, &period)
}

func (v destinationView) CreateShift(ctx context.Context, team string, s schedule.Shift) (schedule.Shift, error) {
	return createDest(ctx, v.p, shiftTable, v.p.shifts, team, s)
}

func (v destinationView) UpdateShift(ctx context.Context, team string, s schedule.Shift) (schedule.Shift, error) {
	return updateDest(ctx, v.p, shiftTable, v.p.shifts, team, s)
}

func (v destinationView) DeleteShift(ctx context.Context, team string, s schedule.Shift) error {
	return deleteDest(ctx, v.p, shiftTable, v.p.shifts, team, s)
}

func (v destinationView) ListOpenShifts(ctx context.Context, team string, period schedule.Period) ([]schedule.OpenShift, error) {
	return listDest(ctx, v.p, openShiftTable, v.p.openShifts, team, &period)
}

func (v destinationView) CreateOpenShift(ctx context.Context, team string, s schedule.OpenShift) (schedule.OpenShift, error) {
	return createDest(ctx, v.p, openShiftTable, v.p.openShifts, team, s)
}

func (v destinationView) UpdateOpenShift(ctx context.Context, team string, s schedule.OpenShift) (schedule.OpenShift, error) {
	return updateDest(ctx, v.p, openShiftTable, v.p.openShifts, team, s)
}

func (v destinationView) DeleteOpenShift(ctx context.Context, team string, s schedule.OpenShift) error {
	return deleteDest(ctx, v.p, openShiftTable, v.p.openShifts, team, s)
}

func (v destinationView) ListTimeOff(ctx context.Context, team string, period schedule.Period) ([]schedule.TimeOff, error) {
	return listDest(ctx, v.p, timeOffTable, v.p.timeOff, team, &period)
}

func (v destinationView) CreateTimeOff(ctx context.Context, team string, t schedule.TimeOff) (schedule.TimeOff, error) {
	return createDest(ctx, v.p, timeOffTable, v.p.timeOff, team, t)
}

func (v destinationView) UpdateTimeOff(ctx context.Context, team string, t schedule.TimeOff) (schedule.TimeOff, error) {
	return updateDest(ctx, v.p, timeOffTable, v.p.timeOff, team, t)
}

func (v destinationView) DeleteTimeOff(ctx context.Context, team string, t schedule.TimeOff) error {
	return deleteDest(ctx, v.p, timeOffTable, v.p.timeOff, team, t)
}

func (v destinationView) ListAvailability(ctx context.Context, team string) ([]schedule.Availability, error) {
	return listDest(ctx, v.p, availabilityTable, v.p.availability, team, nil)
}

func (v destinationView) CreateAvailability(ctx context.Context, team string, a schedule.Availability) (schedule.Availability, error) {
	return createDest(ctx, v.p, availabilityTable, v.p.availability, team, a)
}

func (v destinationView) UpdateAvailability(ctx context.Context, team string, a schedule.Availability) (schedule.Availability, error) {
	return updateDest(ctx, v.p, availabilityTable, v.p.availability, team, a)
}

func (v destinationView) DeleteAvailability(ctx context.Context, team string, a schedule.Availability) error {
	return deleteDest(ctx, v.p, availabilityTable, v.p.availability, team, a)
}
