package schema

import "time"

// Run event types, in the order a run emits them.
const (
	EventWorkflowStarted   = "workflow_started"
	EventWorkflowReplayed  = "workflow_replayed"
	EventStepCompleted     = "step_completed"
	EventStepFailed        = "step_failed"
	EventWorkflowCompleted = "workflow_completed"
	EventWorkflowFailed    = "workflow_failed"
)

// RunStatus is the outcome of a run.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Event reports progress of one run. Step events concern top-level steps
// only; Order is the step's position in the run's execution order.
type Event struct {
	Type      string    `json:"type"`
	Workflow  string    `json:"workflow"`
	SessionID string    `json:"session_id"`
	Timestamp string    `json:"timestamp"`
	Step      string    `json:"step,omitempty"`
	Order     int       `json:"order,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}
