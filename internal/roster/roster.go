// Package roster maps source employees and departments to destination users
// and scheduling groups.
//
// The employees workflow persists a Roster per team with Refresh. Sync
// workflows open a run-scoped Cache over it: lookups read through to the
// persisted roster and, on a miss, refresh it at most once per run.
package roster

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"shiftsync/internal/platform"
	"shiftsync/internal/schedule"
	"shiftsync/internal/state"
	logx "shiftsync/pkg/logx"
)

const Table = "rosters"

// Roster is the persisted mapping for one team.
type Roster struct {
	TeamID      string            `json:"team_id"`
	Users       map[string]string `json:"users"`  // source employee id -> destination user id
	Groups      map[string]string `json:"groups"` // lower-case group name -> destination group id
	Unmatched   []string          `json:"unmatched,omitempty"`
	RefreshedAt time.Time         `json:"refreshed_at"`
}

type Service struct {
	table  state.Table[Roster]
	source platform.Source
	dest   platform.Destination
	now    func() time.Time
	log    logx.Logger
}

func NewService(table state.Table[Roster], source platform.Source, dest platform.Destination, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{table: table, source: source, dest: dest, now: time.Now, log: log}
}

// Refresh rebuilds and persists the roster of conn's team. Employees are
// matched to members by login, case-insensitively.
func (s *Service) Refresh(ctx context.Context, conn schedule.Connection) (Roster, error) {
	emps, err := s.source.ListEmployees(ctx, conn.BusinessUnitID)
	if err != nil {
		return Roster{}, fmt.Errorf("list employees: %w", err)
	}
	members, err := s.dest.ListMembers(ctx, conn.TeamID)
	if err != nil {
		return Roster{}, fmt.Errorf("list members: %w", err)
	}
	groups, err := s.dest.ListGroups(ctx, conn.TeamID)
	if err != nil {
		return Roster{}, fmt.Errorf("list groups: %w", err)
	}

	byLogin := make(map[string]string, len(members))
	for _, m := range members {
		byLogin[normalize(m.Login)] = m.UserID
	}

	r := Roster{
		TeamID:      conn.TeamID,
		Users:       make(map[string]string, len(emps)),
		Groups:      make(map[string]string, len(groups)),
		RefreshedAt: s.now(),
	}
	for _, e := range emps {
		if uid, ok := byLogin[normalize(e.Login)]; ok {
			r.Users[e.ID] = uid
		} else {
			r.Unmatched = append(r.Unmatched, e.ID)
		}
	}
	for _, g := range groups {
		r.Groups[normalize(g.Name)] = g.ID
	}

	if err := s.table.Set(ctx, conn.TeamID, r); err != nil {
		return Roster{}, fmt.Errorf("save roster: %w", err)
	}
	s.log.Debug("roster refreshed",
		logx.String("team", conn.TeamID),
		logx.Int("users", len(r.Users)),
		logx.Int("groups", len(r.Groups)),
		logx.Int("unmatched", len(r.Unmatched)),
	)
	return r, nil
}

// Open returns a cache scoped to one workflow run for conn's team.
func (s *Service) Open(conn schedule.Connection) *Cache {
	return &Cache{svc: s, conn: conn}
}

// Cache is a run-scoped read-through view of one team's roster.
type Cache struct {
	svc  *Service
	conn schedule.Connection

	mu        sync.Mutex
	roster    *Roster
	refreshed bool
}

// Ready reports whether the team's roster was populated at least once.
func (c *Cache) Ready(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.loadLocked(ctx)
	if err != nil {
		return false, err
	}
	return r != nil, nil
}

// UserID resolves a source employee to a destination user.
func (c *Cache) UserID(ctx context.Context, employeeID string) (string, bool, error) {
	return c.lookup(ctx, func(r *Roster) (string, bool) {
		id, ok := r.Users[employeeID]
		return id, ok
	})
}

// GroupID resolves a department name to a destination scheduling group.
func (c *Cache) GroupID(ctx context.Context, department string) (string, bool, error) {
	key := normalize(department)
	return c.lookup(ctx, func(r *Roster) (string, bool) {
		id, ok := r.Groups[key]
		return id, ok
	})
}

func (c *Cache) lookup(ctx context.Context, get func(*Roster) (string, bool)) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.loadLocked(ctx)
	if err != nil {
		return "", false, err
	}
	if r != nil {
		if id, ok := get(r); ok {
			return id, true, nil
		}
	}
	if c.refreshed {
		return "", false, nil
	}
	c.refreshed = true
	fresh, err := c.svc.Refresh(ctx, c.conn)
	if err != nil {
		return "", false, err
	}
	c.roster = &fresh
	id, ok := get(&fresh)
	return id, ok, nil
}

func (c *Cache) loadLocked(ctx context.Context) (*Roster, error) {
	if c.roster != nil {
		return c.roster, nil
	}
	r, ok, err := c.svc.table.Get(ctx, c.conn.TeamID)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	if !ok {
		return nil, nil
	}
	c.roster = &r
	return c.roster, nil
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
