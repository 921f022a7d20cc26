package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	WorkflowStatusActive    = "active"
	WorkflowStatusCompleted = "completed"
	WorkflowStatusFailed    = "failed"
)

// Step statuses share the workflow vocabulary plus a pending state.
const (
	StepStatusPending   = "pending"
	StepStatusActive    = "active"
	StepStatusCompleted = "completed"
	StepStatusFailed    = "failed"
)

// WorkflowStatuses lists the workflow states in reporting order.
var WorkflowStatuses = []string{WorkflowStatusActive, WorkflowStatusCompleted, WorkflowStatusFailed}

// StepRecord is one step of a workflow run.
type StepRecord struct {
	Position int    `json:"position"`
	Name     string `json:"name"`
	Status   string `json:"status"`
}

// WorkflowRecord is one workflow execution. EndTime and Duration are set once,
// on the terminal transition.
type WorkflowRecord struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Status    string       `json:"status"`
	StartTime time.Time    `json:"start_time"`
	EndTime   *time.Time   `json:"end_time,omitempty"`
	Duration  *float64     `json:"duration_seconds,omitempty"`
	Steps     []StepRecord `json:"steps"`
}

// Terminated reports whether the workflow reached completed or failed.
func (w WorkflowRecord) Terminated() bool {
	return w.Status == WorkflowStatusCompleted || w.Status == WorkflowStatusFailed
}

// ValidWorkflowStatus reports whether status is a known workflow state.
func ValidWorkflowStatus(status string) bool {
	switch status {
	case WorkflowStatusActive, WorkflowStatusCompleted, WorkflowStatusFailed:
		return true
	}
	return false
}

// ValidateWorkflow checks the invariants writers must hold before persisting.
func ValidateWorkflow(w WorkflowRecord) error {
	if strings.TrimSpace(w.ID) == "" {
		return errors.New("workflow id required")
	}
	if strings.TrimSpace(w.Name) == "" {
		return errors.New("workflow name required")
	}
	if !ValidWorkflowStatus(w.Status) {
		return fmt.Errorf("unsupported workflow status %q", w.Status)
	}
	if w.StartTime.IsZero() {
		return errors.New("workflow start time required")
	}
	if w.EndTime != nil && w.EndTime.Before(w.StartTime) {
		return errors.New("workflow end time precedes start time")
	}
	if w.Duration != nil && *w.Duration < 0 {
		return errors.New("workflow duration must be >= 0")
	}
	for i, step := range w.Steps {
		switch step.Status {
		case StepStatusPending, StepStatusActive, StepStatusCompleted, StepStatusFailed:
		default:
			return fmt.Errorf("steps[%d]: unsupported status %q", i, step.Status)
		}
	}
	return nil
}
