package models

// ActionType names the external capability a step invokes.
type ActionType string

const (
	ActionSendNotification ActionType = "send_notification"
	ActionUpdateField      ActionType = "update_field"
	ActionCreateTask       ActionType = "create_task"
	ActionAssignOwner      ActionType = "assign_owner"
	ActionWebhook          ActionType = "webhook"
	ActionLog              ActionType = "log"
)

// WorkflowStep is one ordered unit of work of a WorkflowDefinition.
// Step orders are unique within a workflow but need not be contiguous.
type WorkflowStep struct {
	ID         string `json:"id" validate:"required"`
	WorkflowID string `json:"workflow_id"`
	Name       string `json:"name"`
	StepOrder  int    `json:"step_order"`

	ActionType   ActionType     `json:"action_type" validate:"required"`
	ActionConfig map[string]any `json:"action_config,omitempty"`

	// Conditions that evaluate false skip the step rather than failing it.
	Conditions []Condition `json:"conditions,omitempty" validate:"dive"`

	DelayMinutes    int  `json:"delay_minutes" validate:"gte=0"`
	Enabled         bool `json:"enabled"`
	ContinueOnError bool `json:"continue_on_error"`
}
