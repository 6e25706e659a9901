// Package connection manages the per-team connection records that drive
// scheduling.
package connection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"shiftsync/internal/schedule"
	"shiftsync/internal/state"
	"shiftsync/internal/storage"
)

const Table = "connections"

var ErrInvalid = errors.New("connection: invalid")

type Store struct {
	table state.Table[schedule.Connection]
	now   func() time.Time

	// mu serializes read-modify-write within the process.
	mu sync.Mutex
}

func NewStore(st storage.Store) *Store {
	return &Store{table: state.NewTable[schedule.Connection](st, Table), now: time.Now}
}

// Put creates or updates a connection. LastExecution and CreatedAt of an
// existing record are kept.
func (s *Store) Put(ctx context.Context, c schedule.Connection) (schedule.Connection, error) {
	c.TeamID = strings.TrimSpace(c.TeamID)
	c.BusinessUnitID = strings.TrimSpace(c.BusinessUnitID)
	if c.TeamID == "" || c.BusinessUnitID == "" {
		return c, fmt.Errorf("team and business unit are required: %w", ErrInvalid)
	}
	if c.TimeZone != "" {
		if _, err := time.LoadLocation(c.TimeZone); err != nil {
			return c, fmt.Errorf("time zone %q: %w", c.TimeZone, ErrInvalid)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok, err := s.table.Get(ctx, c.TeamID)
	if err != nil {
		return c, err
	}
	now := s.now()
	c.CreatedAt = now
	if ok {
		c.CreatedAt = cur.CreatedAt
		c.LastExecution = cur.LastExecution
	}
	c.UpdatedAt = now
	return c, s.table.Set(ctx, c.TeamID, c)
}

func (s *Store) Get(ctx context.Context, team string) (schedule.Connection, error) {
	return s.table.MustGet(ctx, team)
}

// List returns every connection ordered by team id.
func (s *Store) List(ctx context.Context) ([]schedule.Connection, error) {
	rows, err := s.table.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]schedule.Connection, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Value)
	}
	return out, nil
}

func (s *Store) ListEnabled(ctx context.Context) ([]schedule.Connection, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out, nil
}

// SetEnabled toggles scheduling for a team.
func (s *Store) SetEnabled(ctx context.Context, team string, enabled bool) error {
	return s.modify(ctx, team, func(c *schedule.Connection) {
		c.Enabled = enabled
	})
}

// Stamp records that workflow w was (re)started for team at t.
func (s *Store) Stamp(ctx context.Context, team string, w schedule.WorkflowType, t time.Time) error {
	return s.modify(ctx, team, func(c *schedule.Connection) {
		if c.LastExecution == nil {
			c.LastExecution = map[schedule.WorkflowType]time.Time{}
		}
		c.LastExecution[w] = t
	})
}

func (s *Store) modify(ctx context.Context, team string, fn func(*schedule.Connection)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.table.MustGet(ctx, team)
	if err != nil {
		return err
	}
	fn(&c)
	c.UpdatedAt = s.now()
	return s.table.Set(ctx, team, c)
}
