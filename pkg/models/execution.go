package models

import "time"

// ExecutionStatus is the state of a WorkflowExecution.
type ExecutionStatus string

const (
	ExecutionPending            ExecutionStatus = "pending"
	ExecutionRunning            ExecutionStatus = "running"
	ExecutionCompleted          ExecutionStatus = "completed"
	ExecutionPartiallyCompleted ExecutionStatus = "partially_completed"
	ExecutionFailed             ExecutionStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionPartiallyCompleted || s == ExecutionFailed
}

// StepStatus is the state of a WorkflowStepExecution.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Terminal reports whether the step attempt record is final.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// WorkflowExecution is one run of a workflow against one entity instance.
// Invariants: CompletedSteps+FailedSteps <= TotalSteps and CurrentStep never decreases.
type WorkflowExecution struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	TenantID   string          `json:"tenant_id"`
	EntityID   string          `json:"entity_id"`
	EntityType string          `json:"entity_type"`
	Status     ExecutionStatus `json:"status"`

	TriggerType    TriggerType `json:"trigger_type"`
	TriggerEventID string      `json:"trigger_event_id,omitempty"`
	TriggerData    FieldMap    `json:"trigger_data"`

	// CurrentStep is the step order of the step being, or about to be, processed.
	CurrentStep    int    `json:"current_step"`
	TotalSteps     int    `json:"total_steps"`
	CompletedSteps int    `json:"completed_steps"`
	FailedSteps    int    `json:"failed_steps"`
	ErrorMessage   string `json:"error_message,omitempty"`

	// Version is the optimistic-concurrency token; only one worker may advance
	// an execution from a given version.
	Version int64 `json:"version"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// WorkflowStepExecution is the single attempt record of one step within an
// execution. Retries mutate RetryCount on the same record.
type WorkflowStepExecution struct {
	ID          string     `json:"id"`
	ExecutionID string     `json:"execution_id"`
	StepID      string     `json:"step_id"`
	StepOrder   int        `json:"step_order"`
	Status      StepStatus `json:"status"`

	InputSnapshot  FieldMap       `json:"input_snapshot,omitempty"`
	OutputSnapshot map[string]any `json:"output_snapshot,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	RetryCount     int            `json:"retry_count"`

	// ResumeAt is set when the step's delay has been handed to the delay scheduler.
	ResumeAt *time.Time `json:"resume_at,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
