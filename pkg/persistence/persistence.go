// Package persistence provides the storage contracts for workflow definitions and the
// execution audit trail.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/crmflow/pkg/models"
)

// Persistence groups the repositories a store implementation provides.
type Persistence interface {
	DefinitionRepository() DefinitionRepository
	ExecutionRepository() ExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// DefinitionRepository reads tenant-authored workflow definitions. The engine only
// writes the run counters.
type DefinitionRepository interface {
	// ActiveDefinitions returns active, non-deleted definitions for the trigger key, with steps.
	ActiveDefinitions(ctx context.Context, tenantID, entityType string, triggerType models.TriggerType) ([]*models.WorkflowDefinition, error)
	DefinitionByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	// ScheduledDefinitions returns every active definition with a scheduled trigger.
	ScheduledDefinitions(ctx context.Context) ([]*models.WorkflowDefinition, error)
	// RecordExecution increments the run counters if the stored version still equals
	// definition.Version, and bumps definition.Version on success.
	RecordExecution(ctx context.Context, definition *models.WorkflowDefinition, at time.Time) error
}

// ExecutionRepository persists executions and step executions. Every write
// that advances an execution is guarded by the execution's Version.
type ExecutionRepository interface {
	// CreateExecution stores a new execution together with its pending step executions.
	CreateExecution(ctx context.Context, execution *models.WorkflowExecution, steps []*models.WorkflowStepExecution) error
	ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	// StepExecutions returns the execution's step executions ordered by step order.
	StepExecutions(ctx context.Context, executionID string) ([]*models.WorkflowStepExecution, error)
	StepExecution(ctx context.Context, executionID string, stepOrder int) (*models.WorkflowStepExecution, error)

	// SaveProgress atomically writes execution and, when non-nil, step. It fails with
	// ErrVersionConflict unless the stored execution version equals execution.Version,
	// and increments execution.Version on success.
	SaveProgress(ctx context.Context, execution *models.WorkflowExecution, step *models.WorkflowStepExecution) error

	ExecutionsByTenantStatus(ctx context.Context, tenantID string, status models.ExecutionStatus) ([]*models.WorkflowExecution, error)
	ExecutionsByEntity(ctx context.Context, entityID, entityType string) ([]*models.WorkflowExecution, error)
	ExecutionsByWorkflowStatus(ctx context.Context, workflowID string, status models.ExecutionStatus) ([]*models.WorkflowExecution, error)
	StepExecutionsByStatus(ctx context.Context, status models.StepStatus) ([]*models.WorkflowStepExecution, error)
	// StalledExecutions returns executions in status last updated before cutoff.
	StalledExecutions(ctx context.Context, status models.ExecutionStatus, cutoff time.Time) ([]*models.WorkflowExecution, error)
	// SoftDeleteExecution hides an execution from queries without removing its audit trail.
	SoftDeleteExecution(ctx context.Context, id string, at time.Time) error
}
