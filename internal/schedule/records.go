package schedule

import (
	"slices"
	"time"
)

// Shift is an assigned shift. EmployeeID and Department come from the source;
// UserID and GroupID are resolved against the destination roster.
type Shift struct {
	ID         string    `json:"id"`
	DestID     string    `json:"dest_id,omitempty"`
	EmployeeID string    `json:"employee_id"`
	Department string    `json:"department,omitempty"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Theme      string    `json:"theme,omitempty"`
	Notes      string    `json:"notes,omitempty"`

	UserID  string `json:"user_id,omitempty"`
	GroupID string `json:"group_id,omitempty"`
}

func (s Shift) SourceID() string      { return s.ID }
func (s Shift) DestinationID() string { return s.DestID }

func (s Shift) WithDestinationID(id string) Shift {
	s.DestID = id
	return s
}

func (s Shift) Equal(o Shift) bool {
	return s.ID == o.ID &&
		s.EmployeeID == o.EmployeeID &&
		s.Department == o.Department &&
		s.Start.Equal(o.Start) &&
		s.End.Equal(o.End) &&
		s.Theme == o.Theme &&
		s.Notes == o.Notes
}

// OpenShift is an unassigned shift offered to a scheduling group.
type OpenShift struct {
	ID         string    `json:"id"`
	DestID     string    `json:"dest_id,omitempty"`
	Department string    `json:"department"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Slots      int       `json:"slots"`
	Theme      string    `json:"theme,omitempty"`
	Notes      string    `json:"notes,omitempty"`

	GroupID string `json:"group_id,omitempty"`
}

func (s OpenShift) SourceID() string      { return s.ID }
func (s OpenShift) DestinationID() string { return s.DestID }

func (s OpenShift) WithDestinationID(id string) OpenShift {
	s.DestID = id
	return s
}

func (s OpenShift) Equal(o OpenShift) bool {
	return s.ID == o.ID &&
		s.Department == o.Department &&
		s.Start.Equal(o.Start) &&
		s.End.Equal(o.End) &&
		s.Slots == o.Slots &&
		s.Theme == o.Theme &&
		s.Notes == o.Notes
}

// TimeOff is an approved absence.
type TimeOff struct {
	ID         string    `json:"id"`
	DestID     string    `json:"dest_id,omitempty"`
	EmployeeID string    `json:"employee_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Reason     string    `json:"reason,omitempty"`

	UserID string `json:"user_id,omitempty"`
}

func (t TimeOff) SourceID() string      { return t.ID }
func (t TimeOff) DestinationID() string { return t.DestID }

func (t TimeOff) WithDestinationID(id string) TimeOff {
	t.DestID = id
	return t
}

func (t TimeOff) Equal(o TimeOff) bool {
	return t.ID == o.ID &&
		t.EmployeeID == o.EmployeeID &&
		t.Start.Equal(o.Start) &&
		t.End.Equal(o.End) &&
		t.Reason == o.Reason
}

// AvailabilityWindow is a recurring weekly window, in minutes from local midnight.
type AvailabilityWindow struct {
	Weekday     time.Weekday `json:"weekday"`
	StartMinute int          `json:"start_minute"`
	EndMinute   int          `json:"end_minute"`
}

// Availability is one employee's recurring availability. Its source identity
// is the employee id.
type Availability struct {
	EmployeeID string               `json:"employee_id"`
	DestID     string               `json:"dest_id,omitempty"`
	Windows    []AvailabilityWindow `json:"windows"`

	UserID string `json:"user_id,omitempty"`
}

func (a Availability) SourceID() string      { return a.EmployeeID }
func (a Availability) DestinationID() string { return a.DestID }

func (a Availability) WithDestinationID(id string) Availability {
	a.DestID = id
	return a
}

func (a Availability) Equal(o Availability) bool {
	return a.EmployeeID == o.EmployeeID && slices.Equal(a.Windows, o.Windows)
}

// Employee is a source-system employee.
type Employee struct {
	ID         string `json:"id"`
	Login      string `json:"login"`
	Name       string `json:"name,omitempty"`
	Department string `json:"department,omitempty"`
}

// Member is a destination team member.
type Member struct {
	UserID      string `json:"user_id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name,omitempty"`
}

// Group is a destination scheduling group.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
