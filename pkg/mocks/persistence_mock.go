package mocks

import (
	"context"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockDefinitionRepository is a mock implementation of persistence.DefinitionRepository.
type MockDefinitionRepository struct {
	mock.Mock
}

func (m *MockDefinitionRepository) ActiveDefinitions(ctx context.Context, tenantID, entityType string, triggerType models.TriggerType) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx, tenantID, entityType, triggerType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

func (m *MockDefinitionRepository) DefinitionByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowDefinition), args.Error(1)
}

func (m *MockDefinitionRepository) ScheduledDefinitions(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

func (m *MockDefinitionRepository) RecordExecution(ctx context.Context, definition *models.WorkflowDefinition, at time.Time) error {
	args := m.Called(ctx, definition, at)

	return args.Error(0)
}

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) CreateExecution(ctx context.Context, execution *models.WorkflowExecution, steps []*models.WorkflowStepExecution) error {
	args := m.Called(ctx, execution, steps)

	return args.Error(0)
}

func (m *MockExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) StepExecutions(ctx context.Context, executionID string) ([]*models.WorkflowStepExecution, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowStepExecution), args.Error(1)
}

func (m *MockExecutionRepository) StepExecution(ctx context.Context, executionID string, stepOrder int) (*models.WorkflowStepExecution, error) {
	args := m.Called(ctx, executionID, stepOrder)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowStepExecution), args.Error(1)
}

func (m *MockExecutionRepository) SaveProgress(ctx context.Context, execution *models.WorkflowExecution, step *models.WorkflowStepExecution) error {
	args := m.Called(ctx, execution, step)

	return args.Error(0)
}

func (m *MockExecutionRepository) ExecutionsByTenantStatus(ctx context.Context, tenantID string, status models.ExecutionStatus) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx, tenantID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) ExecutionsByEntity(ctx context.Context, entityID, entityType string) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx, entityID, entityType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) ExecutionsByWorkflowStatus(ctx context.Context, workflowID string, status models.ExecutionStatus) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx, workflowID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) StepExecutionsByStatus(ctx context.Context, status models.StepStatus) ([]*models.WorkflowStepExecution, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowStepExecution), args.Error(1)
}

func (m *MockExecutionRepository) StalledExecutions(ctx context.Context, status models.ExecutionStatus, cutoff time.Time) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx, status, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) SoftDeleteExecution(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)

	return args.Error(0)
}

// MockPersistence is a mock implementation of persistence.Persistence.
type MockPersistence struct {
	mock.Mock

	Definitions *MockDefinitionRepository
	Executions  *MockExecutionRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Definitions: &MockDefinitionRepository{},
		Executions:  &MockExecutionRepository{},
	}
}

func (m *MockPersistence) DefinitionRepository() persistence.DefinitionRepository {
	return m.Definitions
}

func (m *MockPersistence) ExecutionRepository() persistence.ExecutionRepository {
	return m.Executions
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
