package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/persistence/postgresql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Children first, parents last.
	for _, table := range []string{"workflow_step_executions", "workflow_executions", "workflow_steps", "workflow_definitions", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("crmflow_test"),
			postgres.WithUsername("crmflow"),
			postgres.WithPassword("crmflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func seedDefinition(ctx context.Context, t *testing.T, p *postgresql.Persistence, id string, trigger models.TriggerType, order int) *models.WorkflowDefinition {
	t.Helper()

	definition := &models.WorkflowDefinition{
		ID:          id,
		TenantID:    "tenant-1",
		Name:        "Lead follow-up " + id,
		TriggerType: trigger,
		EntityType:  "Lead",
		TriggerConditions: []models.Condition{
			{Field: "status", Operator: models.OperatorEquals, Value: "New"},
		},
		WatchedFields:  []string{"status"},
		Active:         true,
		ExecutionOrder: order,
		Steps: []models.WorkflowStep{
			{ID: id + "-s2", Name: "Notify", StepOrder: 20, ActionType: models.ActionSendNotification, Enabled: true, DelayMinutes: 5},
			{ID: id + "-s1", Name: "Log", StepOrder: 10, ActionType: models.ActionLog, Enabled: true, ActionConfig: map[string]any{"message": "hello"}},
		},
	}

	err := p.Definitions().SaveDefinition(ctx, definition)
	require.NoError(t, err)

	return definition
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"workflow_definitions", "workflow_steps", "workflow_executions", "workflow_step_executions"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	assert.NoError(t, p.HealthCheck(ctx))
}

func TestDefinitionRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	seedDefinition(ctx, t, p, "wf-b", models.TriggerOnCreate, 2)
	seedDefinition(ctx, t, p, "wf-a", models.TriggerOnCreate, 1)
	seedDefinition(ctx, t, p, "wf-u", models.TriggerOnUpdate, 1)

	active, err := p.DefinitionRepository().ActiveDefinitions(ctx, "tenant-1", "Lead", models.TriggerOnCreate)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "wf-a", active[0].ID)
	assert.Equal(t, "wf-b", active[1].ID)

	steps := active[0].Steps
	require.Len(t, steps, 2)
	assert.Equal(t, 10, steps[0].StepOrder)
	assert.Equal(t, "hello", steps[0].ActionConfig["message"])
	assert.Equal(t, 5, steps[1].DelayMinutes)
	assert.Equal(t, []string{"status"}, active[0].WatchedFields)
	require.Len(t, active[0].TriggerConditions, 1)
	assert.Equal(t, models.OperatorEquals, active[0].TriggerConditions[0].Operator)

	definition, err := p.DefinitionRepository().DefinitionByID(ctx, "wf-a")
	require.NoError(t, err)

	stale := *definition

	require.NoError(t, p.DefinitionRepository().RecordExecution(ctx, definition, time.Now()))
	assert.Equal(t, int64(1), definition.ExecutionCount)

	err = p.DefinitionRepository().RecordExecution(ctx, &stale, time.Now())
	assert.True(t, persistence.IsVersionConflict(err))

	_, err = p.DefinitionRepository().DefinitionByID(ctx, "missing")
	assert.True(t, persistence.IsDefinitionNotFound(err))
}

func TestExecutionRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ExecutionRepository()

	now := time.Now().UTC().Truncate(time.Millisecond)
	execution := &models.WorkflowExecution{
		ID:          "exec-1",
		WorkflowID:  "wf-a",
		TenantID:    "tenant-1",
		EntityID:    "lead-1",
		EntityType:  "Lead",
		Status:      models.ExecutionPending,
		TriggerType: models.TriggerOnCreate,
		TriggerData: models.FieldMap{"status": "New", "score": 10},
		CurrentStep: 10,
		TotalSteps:  2,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	steps := []*models.WorkflowStepExecution{
		{ID: "exec-1-10", ExecutionID: "exec-1", StepID: "s1", StepOrder: 10, Status: models.StepPending},
		{ID: "exec-1-20", ExecutionID: "exec-1", StepID: "s2", StepOrder: 20, Status: models.StepPending},
	}

	require.NoError(t, repo.CreateExecution(ctx, execution, steps))

	err := repo.CreateExecution(ctx, execution, steps)
	assert.ErrorIs(t, err, persistence.ErrExecutionAlreadyExists)

	loaded, err := repo.ExecutionByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.InDelta(t, 10, loaded.TriggerData["score"], 0)

	step, err := repo.StepExecution(ctx, "exec-1", 10)
	require.NoError(t, err)
	assert.Nil(t, step.InputSnapshot)

	loaded.Status = models.ExecutionRunning
	loaded.StartedAt = &now
	step.Status = models.StepCompleted
	step.InputSnapshot = models.FieldMap{"status": "New"}
	step.OutputSnapshot = map[string]any{"sent": true}
	loaded.CompletedSteps = 1

	require.NoError(t, repo.SaveProgress(ctx, loaded, step))
	assert.Equal(t, int64(1), loaded.Version)

	stale := *loaded
	stale.Version = 0
	err = repo.SaveProgress(ctx, &stale, nil)
	assert.True(t, persistence.IsVersionConflict(err))

	stored, err := repo.StepExecutions(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, models.StepCompleted, stored[0].Status)
	assert.Equal(t, true, stored[0].OutputSnapshot["sent"])
	assert.Equal(t, models.StepPending, stored[1].Status)

	completed, err := repo.StepExecutionsByStatus(ctx, models.StepCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "exec-1", completed[0].ExecutionID)

	byTenant, err := repo.ExecutionsByTenantStatus(ctx, "tenant-1", models.ExecutionRunning)
	require.NoError(t, err)
	assert.Len(t, byTenant, 1)

	byEntity, err := repo.ExecutionsByEntity(ctx, "lead-1", "Lead")
	require.NoError(t, err)
	assert.Len(t, byEntity, 1)

	byWorkflow, err := repo.ExecutionsByWorkflowStatus(ctx, "wf-a", models.ExecutionRunning)
	require.NoError(t, err)
	assert.Len(t, byWorkflow, 1)

	stalled, err := repo.StalledExecutions(ctx, models.ExecutionRunning, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, stalled, 1)

	require.NoError(t, repo.SoftDeleteExecution(ctx, "exec-1", time.Now()))

	_, err = repo.ExecutionByID(ctx, "exec-1")
	assert.True(t, persistence.IsExecutionNotFound(err))

	err = repo.SaveProgress(ctx, loaded, nil)
	assert.True(t, persistence.IsVersionConflict(err))
}
