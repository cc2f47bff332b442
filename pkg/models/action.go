package models

// ActionInvocation is what the engine hands to an action executor for one attempt.
// ExecutionID and StepID together identify the step for de-duplication, since
// invocation is at-least-once.
type ActionInvocation struct {
	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id"`
	TenantID    string         `json:"tenant_id"`
	Attempt     int            `json:"attempt"`
	ActionType  ActionType     `json:"action_type"`
	Config      map[string]any `json:"config"`
	Context     FieldMap       `json:"context"`
}

// IdempotencyKey identifies the logical step invocation across retries and re-entries.
func (i ActionInvocation) IdempotencyKey() string {
	return i.ExecutionID + ":" + i.StepID
}

// ActionResult is the outcome reported by an action executor.
type ActionResult struct {
	Success      bool           `json:"success"`
	OutputData   map[string]any `json:"output_data,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}
