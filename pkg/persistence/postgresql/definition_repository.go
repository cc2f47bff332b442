package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/lib/pq"
)

const definitionColumns = `
	id
  , tenant_id
  , name
  , description
  , trigger_type
  , entity_type
  , trigger_conditions
  , watched_fields
  , schedule
  , active
  , execution_order
  , last_executed_at
  , execution_count
  , version
  , created_at
  , updated_at
  , deleted_at
`

// DefinitionRepository handles workflow definition database operations.
type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDefinitionRepository creates a new definition repository.
func NewDefinitionRepository(db *sql.DB, logger *slog.Logger) *DefinitionRepository {
	return &DefinitionRepository{db: db, logger: logger}
}

// SaveDefinition upserts a definition and replaces its steps.
func (r *DefinitionRepository) SaveDefinition(ctx context.Context, definition *models.WorkflowDefinition) (err error) {
	now := time.Now().UTC()
	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	conditionsJSON, err := json.Marshal(nonNilConditions(definition.TriggerConditions))
	if err != nil {
		return fmt.Errorf("failed to marshal trigger conditions: %w", err)
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
		INSERT INTO workflow_definitions (id, tenant_id, name, description, trigger_type, entity_type,
			trigger_conditions, watched_fields, schedule, active, execution_order, last_executed_at,
			execution_count, version, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			trigger_type = EXCLUDED.trigger_type,
			entity_type = EXCLUDED.entity_type,
			trigger_conditions = EXCLUDED.trigger_conditions,
			watched_fields = EXCLUDED.watched_fields,
			schedule = EXCLUDED.schedule,
			active = EXCLUDED.active,
			execution_order = EXCLUDED.execution_order,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = tx.ExecContext(ctx, query,
		definition.ID,
		definition.TenantID,
		definition.Name,
		definition.Description,
		definition.TriggerType,
		definition.EntityType,
		conditionsJSON,
		pq.Array(nonNilStrings(definition.WatchedFields)),
		definition.Schedule,
		definition.Active,
		definition.ExecutionOrder,
		definition.LastExecutedAt,
		definition.ExecutionCount,
		definition.Version,
		definition.CreatedAt,
		definition.UpdatedAt,
		definition.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save definition: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_steps WHERE workflow_id = $1", definition.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing steps: %w", err)
	}

	for i := range definition.Steps {
		step := &definition.Steps[i]
		step.WorkflowID = definition.ID

		err = r.saveStep(ctx, tx, step)
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

func (r *DefinitionRepository) saveStep(ctx context.Context, tx *sql.Tx, step *models.WorkflowStep) error {
	configJSON, err := json.Marshal(nonNilConfig(step.ActionConfig))
	if err != nil {
		return fmt.Errorf("failed to marshal action config of step %s: %w", step.ID, err)
	}

	conditionsJSON, err := json.Marshal(nonNilConditions(step.Conditions))
	if err != nil {
		return fmt.Errorf("failed to marshal conditions of step %s: %w", step.ID, err)
	}

	query := `
		INSERT INTO workflow_steps (workflow_id, id, name, step_order, action_type, action_config,
			conditions, delay_minutes, enabled, continue_on_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = tx.ExecContext(ctx, query,
		step.WorkflowID,
		step.ID,
		step.Name,
		step.StepOrder,
		step.ActionType,
		configJSON,
		conditionsJSON,
		step.DelayMinutes,
		step.Enabled,
		step.ContinueOnError,
	)
	if err != nil {
		return fmt.Errorf("failed to save step %s: %w", step.ID, err)
	}

	return nil
}

func (r *DefinitionRepository) ActiveDefinitions(ctx context.Context, tenantID, entityType string, triggerType models.TriggerType) ([]*models.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE tenant_id = $1 AND entity_type = $2 AND trigger_type = $3
			AND active = true AND deleted_at IS NULL
		ORDER BY execution_order, id
	`

	return r.query(ctx, query, tenantID, entityType, triggerType)
}

func (r *DefinitionRepository) ScheduledDefinitions(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE trigger_type = $1 AND active = true AND deleted_at IS NULL
		ORDER BY execution_order, id
	`

	return r.query(ctx, query, models.TriggerScheduled)
}

func (r *DefinitionRepository) DefinitionByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE id = $1 AND deleted_at IS NULL
	`

	definition, err := scanDefinition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewDefinitionError("DefinitionByID", id, persistence.ErrDefinitionNotFound)
		}

		return nil, fmt.Errorf("failed to scan definition: %w", err)
	}

	err = r.loadSteps(ctx, definition)
	if err != nil {
		return nil, err
	}

	return definition, nil
}

func (r *DefinitionRepository) RecordExecution(ctx context.Context, definition *models.WorkflowDefinition, at time.Time) error {
	query := `
		UPDATE workflow_definitions
		SET execution_count = execution_count + 1, last_executed_at = $3, version = version + 1
		WHERE id = $1 AND version = $2 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, definition.ID, definition.Version, at.UTC())
	if err != nil {
		return persistence.NewDefinitionError("RecordExecution", definition.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewDefinitionError("RecordExecution", definition.ID, persistence.ErrVersionConflict)
	}

	executedAt := at.UTC()
	definition.ExecutionCount++
	definition.LastExecutedAt = &executedAt
	definition.Version++

	return nil
}

func (r *DefinitionRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowDefinition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	definitions := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		definition, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}

		definitions = append(definitions, definition)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating definitions: %w", err)
	}

	for _, definition := range definitions {
		err := r.loadSteps(ctx, definition)
		if err != nil {
			return nil, err
		}
	}

	return definitions, nil
}

func (r *DefinitionRepository) loadSteps(ctx context.Context, definition *models.WorkflowDefinition) error {
	query := `
		SELECT id, name, step_order, action_type, action_config, conditions, delay_minutes, enabled, continue_on_error
		FROM workflow_steps
		WHERE workflow_id = $1
		ORDER BY step_order, id
	`

	rows, err := r.db.QueryContext(ctx, query, definition.ID)
	if err != nil {
		return fmt.Errorf("failed to query steps of definition %s: %w", definition.ID, err)
	}

	defer closeRows(ctx, r.logger, rows)

	steps := make([]models.WorkflowStep, 0)

	for rows.Next() {
		var (
			step                       models.WorkflowStep
			configJSON, conditionsJSON []byte
		)

		err := rows.Scan(
			&step.ID,
			&step.Name,
			&step.StepOrder,
			&step.ActionType,
			&configJSON,
			&conditionsJSON,
			&step.DelayMinutes,
			&step.Enabled,
			&step.ContinueOnError,
		)
		if err != nil {
			return fmt.Errorf("failed to scan step: %w", err)
		}

		err = json.Unmarshal(configJSON, &step.ActionConfig)
		if err != nil {
			return fmt.Errorf("failed to unmarshal action config of step %s: %w", step.ID, err)
		}

		err = json.Unmarshal(conditionsJSON, &step.Conditions)
		if err != nil {
			return fmt.Errorf("failed to unmarshal conditions of step %s: %w", step.ID, err)
		}

		step.WorkflowID = definition.ID
		steps = append(steps, step)
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("error iterating steps: %w", err)
	}

	definition.Steps = steps

	return nil
}

func scanDefinition(row scanner) (*models.WorkflowDefinition, error) {
	var (
		definition     models.WorkflowDefinition
		conditionsJSON []byte
		watched        pq.StringArray
	)

	err := row.Scan(
		&definition.ID,
		&definition.TenantID,
		&definition.Name,
		&definition.Description,
		&definition.TriggerType,
		&definition.EntityType,
		&conditionsJSON,
		&watched,
		&definition.Schedule,
		&definition.Active,
		&definition.ExecutionOrder,
		&definition.LastExecutedAt,
		&definition.ExecutionCount,
		&definition.Version,
		&definition.CreatedAt,
		&definition.UpdatedAt,
		&definition.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(conditionsJSON, &definition.TriggerConditions)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger conditions: %w", err)
	}

	if len(watched) > 0 {
		definition.WatchedFields = []string(watched)
	}

	return &definition, nil
}

func nonNilConditions(conditions []models.Condition) []models.Condition {
	if conditions == nil {
		return []models.Condition{}
	}

	return conditions
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}

	return values
}

func nonNilConfig(config map[string]any) map[string]any {
	if config == nil {
		return map[string]any{}
	}

	return config
}
