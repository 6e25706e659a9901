// Package orchestration runs workflow instances identified by (workflow
// type, team) and reports their live status to the health scheduler.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shiftsync/internal/schedule"
)

var (
	ErrUnknownWorkflow = errors.New("orchestration: unknown workflow type")
	ErrNotTerminable   = errors.New("orchestration: instance cannot be terminated in its current state")
	ErrInstanceActive  = errors.New("orchestration: instance already pending or running")
	ErrQueueFull       = errors.New("orchestration: queue full")
	ErrStopped         = errors.New("orchestration: host stopped")
)

// RuntimeStatus is the live state of a workflow instance.
type RuntimeStatus int

const (
	Unknown RuntimeStatus = iota
	Pending
	Running
	Completed
	Failed
	Canceled
	Terminated
)

var statusNames = [...]string{"unknown", "pending", "running", "completed", "failed", "canceled", "terminated"}

func (s RuntimeStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Terminal reports whether an instance in this state may be started again.
func (s RuntimeStatus) Terminal() bool {
	switch s {
	case Completed, Failed, Canceled, Terminated:
		return true
	}
	return false
}

func (s RuntimeStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *RuntimeStatus) UnmarshalText(b []byte) error {
	for i, n := range statusNames {
		if n == string(b) {
			*s = RuntimeStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown runtime status %q", b)
}

// Input is handed to a workflow function.
type Input struct {
	TeamID string `json:"team_id"`
}

// Status is the persisted record of the latest execution of an instance.
type Status struct {
	InstanceID  string                `json:"instance_id"`
	Workflow    schedule.WorkflowType `json:"workflow"`
	ExecutionID string                `json:"execution_id"`
	Runtime     RuntimeStatus         `json:"runtime"`
	Input       Input                 `json:"input"`
	CreatedAt   time.Time             `json:"created_at"`
	LastUpdated time.Time             `json:"last_updated"`
	Reason      string                `json:"reason,omitempty"`
}

// Runtime is what the health scheduler needs from an orchestration backend.
type Runtime interface {
	StartNew(ctx context.Context, w schedule.WorkflowType, instanceID string, in Input) error
	// GetStatus returns false when the instance has never been started.
	GetStatus(ctx context.Context, instanceID string) (Status, bool, error)
	Terminate(ctx context.Context, instanceID, reason string) error
}
