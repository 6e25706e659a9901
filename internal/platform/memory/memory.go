// Package memory is an in-process platform used by sandbox runs and tests.
// It plays both the source and the destination and is seeded from a fixture
// file.
package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"shiftsync/internal/config"
	"shiftsync/internal/platform"
	"shiftsync/internal/schedule"
)

// Fixture is the seed file layout (JSON or YAML).
type Fixture struct {
	Source struct {
		BusinessUnits map[string]SourceUnit `json:"business_units"`
	} `json:"source"`
	Destination struct {
		Teams map[string]DestinationTeam `json:"teams"`
	} `json:"destination"`
}

type SourceUnit struct {
	Employees    []schedule.Employee     `json:"employees,omitempty"`
	Shifts       []schedule.Shift        `json:"shifts,omitempty"`
	OpenShifts   []schedule.OpenShift    `json:"open_shifts,omitempty"`
	TimeOff      []schedule.TimeOff      `json:"time_off,omitempty"`
	Availability []schedule.Availability `json:"availability,omitempty"`
}

type DestinationTeam struct {
	Members []schedule.Member `json:"members,omitempty"`
	Groups  []schedule.Group  `json:"groups,omitempty"`
}

// Op names a destination call for failure injection.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpList   Op = "list"
)

// FaultFunc may return an error to fail a call. sourceID is empty for list calls.
type FaultFunc func(op Op, kind schedule.EntityKind, team, sourceID string) error

type record[T any] struct {
	item  T
	start time.Time
}

// Platform holds both sides; Source and Destination return the two views.
type Platform struct {
	mu sync.Mutex

	units map[string]*SourceUnit
	teams map[string]*DestinationTeam

	shifts       map[string]map[string]record[schedule.Shift]
	openShifts   map[string]map[string]record[schedule.OpenShift]
	timeOff      map[string]map[string]record[schedule.TimeOff]
	availability map[string]map[string]record[schedule.Availability]

	fault FaultFunc
	calls map[Op]int
}

var (
	_ platform.Source      = sourceView{}
	_ platform.Destination = destinationView{}
)

func New() *Platform {
	return &Platform{
		units:        map[string]*SourceUnit{},
		teams:        map[string]*DestinationTeam{},
		shifts:       map[string]map[string]record[schedule.Shift]{},
		openShifts:   map[string]map[string]record[schedule.OpenShift]{},
		timeOff:      map[string]map[string]record[schedule.TimeOff]{},
		availability: map[string]map[string]record[schedule.Availability]{},
		calls:        map[Op]int{},
	}
}

// Load builds a platform from a fixture file.
func Load(path string) (*Platform, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var fx Fixture
	if err := config.DecodeStrict(path, b, &fx); err != nil {
		return nil, fmt.Errorf("fixture %w", err)
	}
	p := New()
	p.Seed(fx)
	return p, nil
}

// Seed replaces source units and destination rosters with the fixture content.
func (p *Platform) Seed(fx Fixture) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, u := range fx.Source.BusinessUnits {
		u := u
		p.units[id] = &u
	}
	for id, t := range fx.Destination.Teams {
		t := t
		p.teams[id] = &t
	}
}

// SetFault installs a failure hook for destination calls; nil removes it.
func (p *Platform) SetFault(fn FaultFunc) {
	p.mu.Lock()
	p.fault = fn
	p.mu.Unlock()
}

// Calls reports how many destination calls of op were made.
func (p *Platform) Calls(op Op) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// UpdateSource mutates a business unit in place.
func (p *Platform) UpdateSource(businessUnit string, fn func(u *SourceUnit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := p.units[businessUnit]
	if u == nil {
		u = &SourceUnit{}
		p.units[businessUnit] = u
	}
	fn(u)
}

// UpdateTeam mutates a destination roster in place.
func (p *Platform) UpdateTeam(team string, fn func(t *DestinationTeam)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.teams[team]
	if t == nil {
		t = &DestinationTeam{}
		p.teams[team] = t
	}
	fn(t)
}

// ---- source ----

type sourceView struct{ p *Platform }

// Source returns the workforce-management view.
func (p *Platform) Source() platform.Source { return sourceView{p} }

func (p *Platform) unit(businessUnit string) (SourceUnit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.units[businessUnit]
	if !ok {
		return SourceUnit{}, fmt.Errorf("unknown business unit %q", businessUnit)
	}
	return *u, nil
}

func (v sourceView) ListEmployees(ctx context.Context, businessUnit string) ([]schedule.Employee, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := v.p.unit(businessUnit)
	if err != nil {
		return nil, err
	}
	return slices.Clone(u.Employees), nil
}

func (v sourceView) ListShifts(ctx context.Context, businessUnit string, period schedule.Period) ([]schedule.Shift, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := v.p.unit(businessUnit)
	if err != nil {
		return nil, err
	}
	return inPeriod(u.Shifts, period, func(s schedule.Shift) time.Time { return s.Start }), nil
}

func (v sourceView) ListOpenShifts(ctx context.Context, businessUnit string, period schedule.Period) ([]schedule.OpenShift, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := v.p.unit(businessUnit)
	if err != nil {
		return nil, err
	}
	return inPeriod(u.OpenShifts, period, func(s schedule.OpenShift) time.Time { return s.Start }), nil
}

func (v sourceView) ListTimeOff(ctx context.Context, businessUnit string, period schedule.Period) ([]schedule.TimeOff, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := v.p.unit(businessUnit)
	if err != nil {
		return nil, err
	}
	// time off spanning the period boundary belongs to the period it starts in
	return inPeriod(u.TimeOff, period, func(t schedule.TimeOff) time.Time { return t.Start }), nil
}

func (v sourceView) ListAvailability(ctx context.Context, businessUnit string) ([]schedule.Availability, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := v.p.unit(businessUnit)
	if err != nil {
		return nil, err
	}
	return slices.Clone(u.Availability), nil
}

func inPeriod[T any](in []T, period schedule.Period, start func(T) time.Time) []T {
	var out []T
	for _, it := range in {
		if period.Contains(start(it)) {
			out = append(out, it)
		}
	}
	return out
}

// ---- destination ----

type destinationView struct{ p *Platform }

// Destination returns the collaboration-platform view.
func (p *Platform) Destination() platform.Destination { return destinationView{p} }

func (v destinationView) ListMembers(ctx context.Context, team string) ([]schedule.Member, error) {
	p := v.p
	if err := p.check(ctx, OpList, "", team, ""); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if t := p.teams[team]; t != nil {
		return slices.Clone(t.Members), nil
	}
	return nil, nil
}

func (v destinationView) ListGroups(ctx context.Context, team string) ([]schedule.Group, error) {
	p := v.p
	if err := p.check(ctx, OpList, "", team, ""); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if t := p.teams[team]; t != nil {
		return slices.Clone(t.Groups), nil
	}
	return nil, nil
}

// check counts the call and consults the fault hook.
func (p *Platform) check(ctx context.Context, op Op, kind schedule.EntityKind, team, sourceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.calls[op]++
	fault := p.fault
	p.mu.Unlock()
	if fault != nil {
		return fault(op, kind, team, sourceID)
	}
	return nil
}
