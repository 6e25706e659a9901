package schedule

import "time"

// Connection links a destination team to a source business unit.
type Connection struct {
	TeamID         string                     `json:"team_id"`
	BusinessUnitID string                     `json:"business_unit_id"`
	TimeZone       string                     `json:"time_zone,omitempty"`
	Enabled        bool                       `json:"enabled"`
	LastExecution  map[WorkflowType]time.Time `json:"last_execution,omitempty"`
	CreatedAt      time.Time                  `json:"created_at"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

// Location returns the team time zone, UTC when unset or unknown.
func (c Connection) Location() *time.Location {
	if c.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LastRun returns when the workflow type was last (re)started; zero if never.
func (c Connection) LastRun(w WorkflowType) time.Time {
	return c.LastExecution[w]
}

// Due reports whether the workflow type is due at now for the given frequency.
func (c Connection) Due(w WorkflowType, now time.Time, frequency time.Duration) bool {
	return !c.LastRun(w).After(now.Add(-frequency))
}
