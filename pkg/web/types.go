package web

import "github.com/dukex/crmflow/pkg/models"

// RunWorkflowRequest is the body of a manual workflow run.
type RunWorkflowRequest struct {
	EntityID      string          `json:"entity_id" validate:"required"`
	EntityType    string          `json:"entity_type,omitempty"`
	FieldSnapshot models.FieldMap `json:"field_snapshot"`
}

// ListExecutionsQuery filters executions by tenant and status.
type ListExecutionsQuery struct {
	TenantID string                 `query:"tenant_id" validate:"required"`
	Status   models.ExecutionStatus `query:"status" validate:"required,oneof=pending running completed partially_completed failed"`
}

// AcceptedResponse acknowledges an event handed to the bus for dispatch.
type AcceptedResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

// ExecutionDetail is an execution together with its step executions in step order.
type ExecutionDetail struct {
	*models.WorkflowExecution

	Steps []*models.WorkflowStepExecution `json:"steps"`
}

// ExecutionList wraps a list of executions.
type ExecutionList struct {
	Executions []*models.WorkflowExecution `json:"executions"`
	TotalCount int                         `json:"total_count"`
}

func newExecutionList(executions []*models.WorkflowExecution) ExecutionList {
	if executions == nil {
		executions = []*models.WorkflowExecution{}
	}

	return ExecutionList{Executions: executions, TotalCount: len(executions)}
}
