// Package workflow holds the per-team workflow bodies run by the
// orchestration host: the roster refresh and one sync workflow per entity
// kind.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"shiftsync/internal/connection"
	"shiftsync/internal/delta"
	"shiftsync/internal/orchestration"
	"shiftsync/internal/platform"
	"shiftsync/internal/reconcile"
	"shiftsync/internal/roster"
	"shiftsync/internal/schedule"
	"shiftsync/internal/state"
	"shiftsync/internal/storage"
	logx "shiftsync/pkg/logx"
)

// Snapshot tables, one per entity kind.
const (
	ShiftsTable       = "shift_schedules"
	OpenShiftsTable   = "openshift_schedules"
	TimeOffTable      = "timeoff_schedules"
	AvailabilityTable = "availability_state"
)

// Options are the sync settings a workflow run reads.
type Options struct {
	AbortOnZero           map[schedule.EntityKind]bool
	MaxDelta              int
	MaxItemFailures       int
	LeaseDuration         time.Duration
	ConflictRetryCount    int
	ConflictRetryInterval time.Duration
	// ApplyRatePerSec paces destination writes per cycle; 0 is unpaced.
	ApplyRatePerSec int
	WeeksBehind     int
	WeeksAhead      int
	WeekStart       time.Weekday
}

type Deps struct {
	Store       storage.Store
	Connections *connection.Store
	Roster      *roster.Service
	Source      platform.Source
	Destination platform.Destination
	Recorder    reconcile.Recorder
	Log         logx.Logger
}

type Service struct {
	deps Deps
	log  logx.Logger
	now  func() time.Time

	mu         sync.Mutex
	opts       Options
	limiter    *rate.Limiter
	shifts     *state.Schedules[schedule.Shift]
	openShifts *state.Schedules[schedule.OpenShift]
	timeOff    *state.Schedules[schedule.TimeOff]
	avail      state.Table[delta.Cache[schedule.Availability]]
}

func New(deps Deps, opts Options) *Service {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	s := &Service{
		deps:  deps,
		log:   deps.Log.With(logx.String("comp", "workflow")),
		now:   time.Now,
		avail: state.NewTable[delta.Cache[schedule.Availability]](deps.Store, AvailabilityTable),
	}
	s.Apply(opts)
	return s
}

// Apply swaps the sync options; runs already in progress keep the old ones.
func (s *Service) Apply(opts Options) {
	so := state.Options{
		LeaseDuration: opts.LeaseDuration,
		RetryCount:    opts.ConflictRetryCount,
		RetryInterval: opts.ConflictRetryInterval,
		Log:           s.log,
	}
	var lim *rate.Limiter
	if opts.ApplyRatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.ApplyRatePerSec), opts.ApplyRatePerSec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = opts
	s.limiter = lim
	s.shifts = state.NewSchedules[schedule.Shift](s.deps.Store, ShiftsTable, so)
	s.openShifts = state.NewSchedules[schedule.OpenShift](s.deps.Store, OpenShiftsTable, so)
	s.timeOff = state.NewSchedules[schedule.TimeOff](s.deps.Store, TimeOffTable, so)
}

// Register binds every workflow type to h.
func (s *Service) Register(h *orchestration.Host) {
	h.Register(schedule.WorkflowEmployees, s.Employees)
	for _, k := range schedule.EntityKinds {
		h.Register(k.Workflow(), func(ctx context.Context, in orchestration.Input) error {
			return s.Sync(ctx, k, in)
		})
	}
}

// Employees refreshes the team's roster.
func (s *Service) Employees(ctx context.Context, in orchestration.Input) error {
	conn, err := s.deps.Connections.Get(ctx, in.TeamID)
	if err != nil {
		return err
	}
	_, err = s.deps.Roster.Refresh(ctx, conn)
	return err
}

// Sync runs one reconciliation cycle per period of the sync window. Every
// period is attempted; their errors are returned together.
func (s *Service) Sync(ctx context.Context, kind schedule.EntityKind, in orchestration.Input) error {
	conn, err := s.deps.Connections.Get(ctx, in.TeamID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	opts := s.opts
	ro := reconcile.Options{
		AbortOnZero:     opts.AbortOnZero[kind],
		MaxDelta:        opts.MaxDelta,
		MaxItemFailures: opts.MaxItemFailures,
		Limiter:         s.limiter,
		Recorder:        s.deps.Recorder,
		Log:             s.log,
	}
	shifts, openShifts, timeOff := s.shifts, s.openShifts, s.timeOff
	s.mu.Unlock()

	sc := scope{
		conn:   conn,
		roster: s.deps.Roster.Open(conn),
		src:    s.deps.Source,
		dst:    s.deps.Destination,
	}

	periods := []schedule.Period{schedule.Standing}
	if kind.Periodic() {
		periods = schedule.Window(s.now(), conn.Location(), opts.WeekStart, opts.WeeksBehind, opts.WeeksAhead)
	}

	var errs []error
	for _, p := range periods {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		var err error
		switch kind {
		case schedule.KindShifts:
			_, err = reconcile.Run[schedule.Shift](ctx, shiftKind{sc, reconcile.LeasedState[schedule.Shift]{Store: shifts}}, conn.TeamID, p, ro)
		case schedule.KindOpenShifts:
			_, err = reconcile.Run[schedule.OpenShift](ctx, openShiftKind{sc, reconcile.LeasedState[schedule.OpenShift]{Store: openShifts}}, conn.TeamID, p, ro)
		case schedule.KindTimeOff:
			_, err = reconcile.Run[schedule.TimeOff](ctx, timeOffKind{sc, reconcile.LeasedState[schedule.TimeOff]{Store: timeOff}}, conn.TeamID, p, ro)
		case schedule.KindAvailability:
			_, err = reconcile.Run[schedule.Availability](ctx, availabilityKind{sc, s.availabilityState()}, conn.TeamID, p, ro)
		default:
			return fmt.Errorf("unknown entity kind %q", kind)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("period %s: %w", p.Key(), err))
		}
		if err := orchestration.Heartbeat(ctx); err != nil {
			s.log.Warn("heartbeat failed", logx.String("team", conn.TeamID), logx.Err(err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) availabilityState() reconcile.DerivedState[schedule.Availability] {
	return reconcile.DerivedState[schedule.Availability]{
		List: func(ctx context.Context, team string, _ schedule.Period) ([]schedule.Availability, error) {
			return s.deps.Destination.ListAvailability(ctx, team)
		},
		Aux: s.avail,
	}
}

// Reset clears the persisted state of one (team, kind, period) so the next
// cycle reclassifies from scratch. Skipped records become eligible again.
func (s *Service) Reset(ctx context.Context, team string, kind schedule.EntityKind, period schedule.Period) error {
	s.mu.Lock()
	shifts, openShifts, timeOff := s.shifts, s.openShifts, s.timeOff
	s.mu.Unlock()

	var err error
	switch kind {
	case schedule.KindShifts:
		err = shifts.DeleteSchedule(ctx, team, period.Key())
	case schedule.KindOpenShifts:
		err = openShifts.DeleteSchedule(ctx, team, period.Key())
	case schedule.KindTimeOff:
		err = timeOff.DeleteSchedule(ctx, team, period.Key())
	case schedule.KindAvailability:
		err = s.availabilityState().Reset(ctx, team, schedule.Standing)
	default:
		return fmt.Errorf("unknown entity kind %q", kind)
	}
	if err != nil {
		return err
	}
	s.log.Info("schedule reset", logx.String("team", team), logx.String("kind", string(kind)), logx.String("period", period.Key()))
	return nil
}
