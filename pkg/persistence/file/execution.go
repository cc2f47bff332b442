package file

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// executionRecord is the on-disk shape: an execution and all of its step executions.
type executionRecord struct {
	Execution *models.WorkflowExecution       `json:"execution"`
	Steps     []*models.WorkflowStepExecution `json:"steps"`
}

// ExecutionRepository handles execution file operations.
type ExecutionRepository struct {
	root string
	mu   *sync.Mutex
}

func (er *ExecutionRepository) dir() string {
	return filepath.Join(er.root, "executions")
}

func (er *ExecutionRepository) path(id string) string {
	return filepath.Join(er.dir(), id+".json")
}

func (er *ExecutionRepository) read(id string) (*executionRecord, error) {
	data, err := os.ReadFile(er.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to read execution %s: %w", id, err)
	}

	var record executionRecord

	err = json.Unmarshal(data, &record)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", id, err)
	}

	return &record, nil
}

func (er *ExecutionRepository) write(record *executionRecord) error {
	err := os.MkdirAll(er.dir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create executions directory: %w", err)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", record.Execution.ID, err)
	}

	// Write to a temp file and rename so a crash never leaves a torn record.
	tmp := er.path(record.Execution.ID) + ".tmp"

	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write execution %s: %w", record.Execution.ID, err)
	}

	err = os.Rename(tmp, er.path(record.Execution.ID))
	if err != nil {
		return fmt.Errorf("failed to commit execution %s: %w", record.Execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) CreateExecution(_ context.Context, execution *models.WorkflowExecution, steps []*models.WorkflowStepExecution) error {
	err := validateID(execution.ID)
	if err != nil {
		return err
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	_, err = os.Stat(er.path(execution.ID))
	if err == nil {
		return persistence.NewExecutionError("CreateExecution", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	record := &executionRecord{
		Execution: execution,
		Steps:     slices.Clone(steps),
	}

	sortSteps(record.Steps)

	return er.write(record)
}

func (er *ExecutionRepository) ExecutionByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	err := validateID(id)
	if err != nil {
		return nil, err
	}

	record, err := er.read(id)
	if err != nil {
		return nil, err
	}

	if record.Execution.DeletedAt != nil {
		return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
	}

	return record.Execution, nil
}

func (er *ExecutionRepository) StepExecutions(_ context.Context, executionID string) ([]*models.WorkflowStepExecution, error) {
	err := validateID(executionID)
	if err != nil {
		return nil, err
	}

	record, err := er.read(executionID)
	if err != nil {
		return nil, err
	}

	sortSteps(record.Steps)

	return record.Steps, nil
}

func (er *ExecutionRepository) StepExecution(ctx context.Context, executionID string, stepOrder int) (*models.WorkflowStepExecution, error) {
	steps, err := er.StepExecutions(ctx, executionID)
	if err != nil {
		return nil, err
	}

	for _, step := range steps {
		if step.StepOrder == stepOrder {
			return step, nil
		}
	}

	return nil, persistence.NewStepExecutionError("StepExecution", executionID, stepOrder, persistence.ErrStepExecutionNotFound)
}

func (er *ExecutionRepository) SaveProgress(_ context.Context, execution *models.WorkflowExecution, step *models.WorkflowStepExecution) error {
	err := validateID(execution.ID)
	if err != nil {
		return err
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	record, err := er.read(execution.ID)
	if err != nil {
		return err
	}

	// A deleted execution takes no more progress, matching the SQL store's guard.
	if record.Execution.DeletedAt != nil || record.Execution.Version != execution.Version {
		return persistence.NewExecutionError("SaveProgress", execution.ID, persistence.ErrVersionConflict)
	}

	now := time.Now().UTC()
	updated := *execution
	updated.Version++
	updated.UpdatedAt = now
	record.Execution = &updated

	if step != nil {
		saved := *step
		saved.UpdatedAt = now

		idx := slices.IndexFunc(record.Steps, func(s *models.WorkflowStepExecution) bool {
			return s.StepOrder == step.StepOrder
		})
		if idx < 0 {
			return persistence.NewStepExecutionError("SaveProgress", execution.ID, step.StepOrder, persistence.ErrStepExecutionNotFound)
		}

		record.Steps[idx] = &saved
	}

	err = er.write(record)
	if err != nil {
		return err
	}

	execution.Version = updated.Version
	execution.UpdatedAt = now

	if step != nil {
		step.UpdatedAt = now
	}

	return nil
}

func (er *ExecutionRepository) records() ([]*executionRecord, error) {
	files, err := fs.Glob(os.DirFS(er.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list execution files: %w", err)
	}

	records := make([]*executionRecord, 0, len(files))

	for _, name := range files {
		record, err := er.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	return records, nil
}

func (er *ExecutionRepository) filter(match func(*models.WorkflowExecution) bool) ([]*models.WorkflowExecution, error) {
	records, err := er.records()
	if err != nil {
		return nil, err
	}

	executions := make([]*models.WorkflowExecution, 0)

	for _, record := range records {
		if record.Execution.DeletedAt == nil && match(record.Execution) {
			executions = append(executions, record.Execution)
		}
	}

	// Newest first, like the SQL store.
	slices.SortFunc(executions, func(a, b *models.WorkflowExecution) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return executions, nil
}

func (er *ExecutionRepository) ExecutionsByTenantStatus(_ context.Context, tenantID string, status models.ExecutionStatus) ([]*models.WorkflowExecution, error) {
	return er.filter(func(e *models.WorkflowExecution) bool {
		return e.TenantID == tenantID && e.Status == status
	})
}

func (er *ExecutionRepository) ExecutionsByEntity(_ context.Context, entityID, entityType string) ([]*models.WorkflowExecution, error) {
	return er.filter(func(e *models.WorkflowExecution) bool {
		return e.EntityID == entityID && e.EntityType == entityType
	})
}

func (er *ExecutionRepository) ExecutionsByWorkflowStatus(_ context.Context, workflowID string, status models.ExecutionStatus) ([]*models.WorkflowExecution, error) {
	return er.filter(func(e *models.WorkflowExecution) bool {
		return e.WorkflowID == workflowID && e.Status == status
	})
}

func (er *ExecutionRepository) StalledExecutions(_ context.Context, status models.ExecutionStatus, cutoff time.Time) ([]*models.WorkflowExecution, error) {
	return er.filter(func(e *models.WorkflowExecution) bool {
		return e.Status == status && e.UpdatedAt.Before(cutoff)
	})
}

func (er *ExecutionRepository) StepExecutionsByStatus(_ context.Context, status models.StepStatus) ([]*models.WorkflowStepExecution, error) {
	records, err := er.records()
	if err != nil {
		return nil, err
	}

	steps := make([]*models.WorkflowStepExecution, 0)

	for _, record := range records {
		if record.Execution.DeletedAt != nil {
			continue
		}

		for _, step := range record.Steps {
			if step.Status == status {
				steps = append(steps, step)
			}
		}
	}

	return steps, nil
}

func (er *ExecutionRepository) SoftDeleteExecution(_ context.Context, id string, at time.Time) error {
	err := validateID(id)
	if err != nil {
		return err
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	record, err := er.read(id)
	if err != nil {
		return err
	}

	deletedAt := at.UTC()
	record.Execution.DeletedAt = &deletedAt

	return er.write(record)
}

func sortSteps(steps []*models.WorkflowStepExecution) {
	slices.SortFunc(steps, func(a, b *models.WorkflowStepExecution) int {
		return cmp.Compare(a.StepOrder, b.StepOrder)
	})
}
