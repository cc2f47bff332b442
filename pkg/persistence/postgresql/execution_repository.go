package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const executionColumns = `
	id
  , workflow_id
  , tenant_id
  , entity_id
  , entity_type
  , status
  , trigger_type
  , trigger_event_id
  , trigger_data
  , current_step
  , total_steps
  , completed_steps
  , failed_steps
  , error_message
  , version
  , started_at
  , completed_at
  , created_at
  , updated_at
  , deleted_at
`

const stepExecutionColumns = `
	id
  , execution_id
  , step_id
  , step_order
  , status
  , input_snapshot
  , output_snapshot
  , error_message
  , retry_count
  , resume_at
  , started_at
  , completed_at
  , updated_at
`

// ExecutionRepository handles execution and step execution database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) CreateExecution(ctx context.Context, execution *models.WorkflowExecution, steps []*models.WorkflowStepExecution) (err error) {
	triggerJSON, err := json.Marshal(execution.TriggerData)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `
		INSERT INTO workflow_executions (id, workflow_id, tenant_id, entity_id, entity_type, status,
			trigger_type, trigger_event_id, trigger_data, current_step, total_steps, completed_steps,
			failed_steps, error_message, version, started_at, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err = tx.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.TenantID,
		execution.EntityID,
		execution.EntityType,
		execution.Status,
		execution.TriggerType,
		execution.TriggerEventID,
		triggerJSON,
		execution.CurrentStep,
		execution.TotalSteps,
		execution.CompletedSteps,
		execution.FailedSteps,
		execution.ErrorMessage,
		execution.Version,
		execution.StartedAt,
		execution.CompletedAt,
		execution.CreatedAt,
		execution.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewExecutionError("CreateExecution", execution.ID, persistence.ErrExecutionAlreadyExists)
		}

		return persistence.NewExecutionError("CreateExecution", execution.ID, err)
	}

	for _, step := range steps {
		err = insertStepExecution(ctx, tx, step)
		if err != nil {
			return err
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func insertStepExecution(ctx context.Context, tx *sql.Tx, step *models.WorkflowStepExecution) error {
	inputJSON, outputJSON, err := marshalSnapshots(step)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_step_executions (id, execution_id, step_id, step_order, status,
			input_snapshot, output_snapshot, error_message, retry_count, resume_at, started_at,
			completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = tx.ExecContext(ctx, query,
		step.ID,
		step.ExecutionID,
		step.StepID,
		step.StepOrder,
		step.Status,
		nullable(inputJSON),
		nullable(outputJSON),
		step.ErrorMessage,
		step.RetryCount,
		step.ResumeAt,
		step.StartedAt,
		step.CompletedAt,
		orNow(step.UpdatedAt),
	)
	if err != nil {
		return persistence.NewStepExecutionError("CreateExecution", step.ExecutionID, step.StepOrder, err)
	}

	return nil
}

func (r *ExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE id = $1 AND deleted_at IS NULL
	`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) StepExecutions(ctx context.Context, executionID string) ([]*models.WorkflowStepExecution, error) {
	query := `SELECT ` + stepExecutionColumns + `
		FROM workflow_step_executions
		WHERE execution_id = $1
		ORDER BY step_order
	`

	return r.querySteps(ctx, query, executionID)
}

func (r *ExecutionRepository) StepExecution(ctx context.Context, executionID string, stepOrder int) (*models.WorkflowStepExecution, error) {
	query := `SELECT ` + stepExecutionColumns + `
		FROM workflow_step_executions
		WHERE execution_id = $1 AND step_order = $2
	`

	step, err := scanStepExecution(r.db.QueryRowContext(ctx, query, executionID, stepOrder))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStepExecutionError("StepExecution", executionID, stepOrder, persistence.ErrStepExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan step execution: %w", err)
	}

	return step, nil
}

func (r *ExecutionRepository) SaveProgress(ctx context.Context, execution *models.WorkflowExecution, step *models.WorkflowStepExecution) (err error) {
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `
		UPDATE workflow_executions SET
			status = $3,
			current_step = $4,
			total_steps = $5,
			completed_steps = $6,
			failed_steps = $7,
			error_message = $8,
			started_at = $9,
			completed_at = $10,
			updated_at = $11,
			version = version + 1
		WHERE id = $1 AND version = $2 AND deleted_at IS NULL
	`

	result, err := tx.ExecContext(ctx, query,
		execution.ID,
		execution.Version,
		execution.Status,
		execution.CurrentStep,
		execution.TotalSteps,
		execution.CompletedSteps,
		execution.FailedSteps,
		execution.ErrorMessage,
		execution.StartedAt,
		execution.CompletedAt,
		now,
	)
	if err != nil {
		return persistence.NewExecutionError("SaveProgress", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		err = persistence.NewExecutionError("SaveProgress", execution.ID, persistence.ErrVersionConflict)

		return err
	}

	if step != nil {
		err = updateStepExecution(ctx, tx, execution.ID, step, now)
		if err != nil {
			return err
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	execution.Version++
	execution.UpdatedAt = now

	if step != nil {
		step.UpdatedAt = now
	}

	return nil
}

func updateStepExecution(ctx context.Context, tx *sql.Tx, executionID string, step *models.WorkflowStepExecution, now time.Time) error {
	inputJSON, outputJSON, err := marshalSnapshots(step)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_step_executions SET
			status = $3,
			input_snapshot = $4,
			output_snapshot = $5,
			error_message = $6,
			retry_count = $7,
			resume_at = $8,
			started_at = $9,
			completed_at = $10,
			updated_at = $11
		WHERE execution_id = $1 AND step_order = $2
	`

	result, err := tx.ExecContext(ctx, query,
		executionID,
		step.StepOrder,
		step.Status,
		nullable(inputJSON),
		nullable(outputJSON),
		step.ErrorMessage,
		step.RetryCount,
		step.ResumeAt,
		step.StartedAt,
		step.CompletedAt,
		now,
	)
	if err != nil {
		return persistence.NewStepExecutionError("SaveProgress", executionID, step.StepOrder, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewStepExecutionError("SaveProgress", executionID, step.StepOrder, persistence.ErrStepExecutionNotFound)
	}

	return nil
}

func (r *ExecutionRepository) ExecutionsByTenantStatus(ctx context.Context, tenantID string, status models.ExecutionStatus) ([]*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE tenant_id = $1 AND status = $2 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`

	return r.queryExecutions(ctx, query, tenantID, status)
}

func (r *ExecutionRepository) ExecutionsByEntity(ctx context.Context, entityID, entityType string) ([]*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE entity_id = $1 AND entity_type = $2 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`

	return r.queryExecutions(ctx, query, entityID, entityType)
}

func (r *ExecutionRepository) ExecutionsByWorkflowStatus(ctx context.Context, workflowID string, status models.ExecutionStatus) ([]*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE workflow_id = $1 AND status = $2 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`

	return r.queryExecutions(ctx, query, workflowID, status)
}

func (r *ExecutionRepository) StalledExecutions(ctx context.Context, status models.ExecutionStatus, cutoff time.Time) ([]*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE status = $1 AND updated_at < $2 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`

	return r.queryExecutions(ctx, query, status, cutoff.UTC())
}

func (r *ExecutionRepository) StepExecutionsByStatus(ctx context.Context, status models.StepStatus) ([]*models.WorkflowStepExecution, error) {
	query := `SELECT ` + prefixed("s", stepExecutionColumns) + `
		FROM workflow_step_executions s
		JOIN workflow_executions e ON e.id = s.execution_id
		WHERE s.status = $1 AND e.deleted_at IS NULL
		ORDER BY s.execution_id, s.step_order
	`

	return r.querySteps(ctx, query, status)
}

func (r *ExecutionRepository) SoftDeleteExecution(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE workflow_executions SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, id, at.UTC())
	if err != nil {
		return persistence.NewExecutionError("SoftDeleteExecution", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("SoftDeleteExecution", id, persistence.ErrExecutionNotFound)
	}

	return nil
}

func (r *ExecutionRepository) queryExecutions(ctx context.Context, query string, args ...any) ([]*models.WorkflowExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func (r *ExecutionRepository) querySteps(ctx context.Context, query string, args ...any) ([]*models.WorkflowStepExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query step executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	steps := make([]*models.WorkflowStepExecution, 0)

	for rows.Next() {
		step, err := scanStepExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}

		steps = append(steps, step)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating step executions: %w", err)
	}

	return steps, nil
}

func scanExecution(row scanner) (*models.WorkflowExecution, error) {
	var (
		execution   models.WorkflowExecution
		triggerJSON []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.TenantID,
		&execution.EntityID,
		&execution.EntityType,
		&execution.Status,
		&execution.TriggerType,
		&execution.TriggerEventID,
		&triggerJSON,
		&execution.CurrentStep,
		&execution.TotalSteps,
		&execution.CompletedSteps,
		&execution.FailedSteps,
		&execution.ErrorMessage,
		&execution.Version,
		&execution.StartedAt,
		&execution.CompletedAt,
		&execution.CreatedAt,
		&execution.UpdatedAt,
		&execution.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(triggerJSON, &execution.TriggerData)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger data: %w", err)
	}

	return &execution, nil
}

func scanStepExecution(row scanner) (*models.WorkflowStepExecution, error) {
	var (
		step                  models.WorkflowStepExecution
		inputJSON, outputJSON []byte
	)

	err := row.Scan(
		&step.ID,
		&step.ExecutionID,
		&step.StepID,
		&step.StepOrder,
		&step.Status,
		&inputJSON,
		&outputJSON,
		&step.ErrorMessage,
		&step.RetryCount,
		&step.ResumeAt,
		&step.StartedAt,
		&step.CompletedAt,
		&step.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if inputJSON != nil {
		err = json.Unmarshal(inputJSON, &step.InputSnapshot)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal input snapshot: %w", err)
		}
	}

	if outputJSON != nil {
		err = json.Unmarshal(outputJSON, &step.OutputSnapshot)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal output snapshot: %w", err)
		}
	}

	return &step, nil
}

// marshalSnapshots encodes the snapshots, leaving absent ones as SQL NULL.
func marshalSnapshots(step *models.WorkflowStepExecution) ([]byte, []byte, error) {
	var inputJSON, outputJSON []byte

	if step.InputSnapshot != nil {
		data, err := json.Marshal(step.InputSnapshot)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal input snapshot: %w", err)
		}

		inputJSON = data
	}

	if step.OutputSnapshot != nil {
		data, err := json.Marshal(step.OutputSnapshot)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal output snapshot: %w", err)
		}

		outputJSON = data
	}

	return inputJSON, outputJSON, nil
}

func nullable(data []byte) any {
	if data == nil {
		return nil
	}

	return data
}

func prefixed(alias, columns string) string {
	return alias + "." + strings.Join(strings.Split(strings.Join(strings.Fields(columns), ""), ","), ", "+alias+".")
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}

	return t
}
