// Package schedule holds the records kept in sync and the per-team
// connection they belong to.
package schedule

import (
	"fmt"
	"strings"
)

// WorkflowType names one kind of per-team workflow.
type WorkflowType string

const (
	WorkflowEmployees    WorkflowType = "employees"
	WorkflowShifts       WorkflowType = "shifts"
	WorkflowOpenShifts   WorkflowType = "openshifts"
	WorkflowTimeOff      WorkflowType = "timeoff"
	WorkflowAvailability WorkflowType = "availability"
)

// WorkflowTypes lists every workflow type, roster refresh first.
var WorkflowTypes = []WorkflowType{
	WorkflowEmployees, WorkflowShifts, WorkflowOpenShifts, WorkflowTimeOff, WorkflowAvailability,
}

// EntityKind is a record kind synchronized by a reconciliation cycle.
type EntityKind string

const (
	KindShifts       EntityKind = "shifts"
	KindOpenShifts   EntityKind = "openshifts"
	KindTimeOff      EntityKind = "timeoff"
	KindAvailability EntityKind = "availability"
)

var EntityKinds = []EntityKind{KindShifts, KindOpenShifts, KindTimeOff, KindAvailability}

func ParseEntityKind(s string) (EntityKind, error) {
	k := EntityKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range EntityKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// Workflow is the workflow type that syncs this kind.
func (k EntityKind) Workflow() WorkflowType { return WorkflowType(k) }

// Periodic reports whether the kind is stored per week period.
func (k EntityKind) Periodic() bool { return k != KindAvailability }

func ParseWorkflowType(s string) (WorkflowType, error) {
	w := WorkflowType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range WorkflowTypes {
		if w == known {
			return w, nil
		}
	}
	return "", fmt.Errorf("unknown workflow type %q", s)
}

// InstanceID is the deterministic orchestration instance id for (workflow, team).
func InstanceID(w WorkflowType, teamID string) string {
	return string(w) + ":" + teamID
}
