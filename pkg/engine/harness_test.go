package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/conditions"
	"github.com/dukex/crmflow/pkg/delay"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type behavior func(ctx context.Context, invocation models.ActionInvocation) (*models.ActionResult, error)

func succeed(output map[string]any) behavior {
	return func(context.Context, models.ActionInvocation) (*models.ActionResult, error) {
		return &models.ActionResult{Success: true, OutputData: output}, nil
	}
}

func fail(message string) behavior {
	return func(context.Context, models.ActionInvocation) (*models.ActionResult, error) {
		return &models.ActionResult{Success: false, ErrorMessage: message}, nil
	}
}

type fakeExecutor struct {
	mu          sync.Mutex
	calls       map[string]int
	invocations []models.ActionInvocation
	behaviors   map[string]behavior
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{calls: map[string]int{}, behaviors: map[string]behavior{}}
}

func (f *fakeExecutor) on(stepID string, b behavior) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.behaviors[stepID] = b
}

func (f *fakeExecutor) callsFor(stepID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[stepID]
}

func (f *fakeExecutor) Execute(ctx context.Context, invocation models.ActionInvocation) (*models.ActionResult, error) {
	f.mu.Lock()
	f.calls[invocation.StepID]++
	f.invocations = append(f.invocations, invocation)
	b := f.behaviors[invocation.StepID]
	f.mu.Unlock()

	if b == nil {
		b = succeed(map[string]any{"done_" + invocation.StepID: true})
	}

	return b(ctx, invocation)
}

// recordingExecutions keeps every successfully persisted state and can inject
// version conflicts into the next saves.
type recordingExecutions struct {
	persistence.ExecutionRepository

	mu        sync.Mutex
	states    []models.WorkflowExecution
	steps     []models.WorkflowStepExecution
	conflicts int
}

func (r *recordingExecutions) injectConflicts(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conflicts = n
}

func (r *recordingExecutions) SaveProgress(ctx context.Context, execution *models.WorkflowExecution, step *models.WorkflowStepExecution) error {
	r.mu.Lock()
	if r.conflicts > 0 {
		r.conflicts--
		r.mu.Unlock()

		return persistence.NewExecutionError("SaveProgress", execution.ID, persistence.ErrVersionConflict)
	}
	r.mu.Unlock()

	err := r.ExecutionRepository.SaveProgress(ctx, execution, step)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.states = append(r.states, *execution)
	if step != nil {
		r.steps = append(r.steps, *step)
	}

	return nil
}

type recordingStore struct {
	*file.Persistence

	executions *recordingExecutions
}

func (s *recordingStore) ExecutionRepository() persistence.ExecutionRepository {
	return s.executions
}

type harness struct {
	ctx          context.Context
	store        *recordingStore
	executions   *recordingExecutions
	executor     *fakeExecutor
	queue        *delay.MemoryQueue
	clock        *testClock
	config       Config
	orchestrator *Orchestrator
}

func testConfig() Config {
	config := DefaultConfig()
	config.MaxRetries = 2
	config.ActionTimeout = time.Second

	return config
}

func newHarness(t *testing.T, config Config, opts ...Option) *harness {
	t.Helper()

	fileStore := file.NewPersistence(t.TempDir())
	executions := &recordingExecutions{ExecutionRepository: fileStore.ExecutionRepository()}
	store := &recordingStore{Persistence: fileStore, executions: executions}

	h := &harness{
		ctx:        context.Background(),
		store:      store,
		executions: executions,
		executor:   newFakeExecutor(),
		queue:      delay.NewMemoryQueue(),
		clock:      newTestClock(),
		config:     config,
	}

	opts = append([]Option{WithClock(h.clock.Now)}, opts...)
	h.orchestrator = NewOrchestrator(
		testLogger(),
		store,
		conditions.NewEvaluator(nil),
		h.executor,
		h.queue,
		config,
		opts...,
	)

	return h
}

func (h *harness) save(t *testing.T, definition *models.WorkflowDefinition) {
	t.Helper()
	require.NoError(t, h.store.Definitions().SaveDefinition(h.ctx, definition))
}

func (h *harness) event() models.EntityEvent {
	return models.EntityEvent{
		ID:            "evt-1",
		TenantID:      "t1",
		EntityType:    "Lead",
		EntityID:      "lead-1",
		TriggerType:   models.TriggerOnCreate,
		FieldSnapshot: models.FieldMap{"status": "New", "amount": 1200},
		OccurredAt:    h.clock.Now(),
	}
}

// start saves definition, creates its execution and runs it.
func (h *harness) start(t *testing.T, definition *models.WorkflowDefinition) *models.WorkflowExecution {
	t.Helper()

	h.save(t, definition)

	execution, err := h.orchestrator.CreateExecution(h.ctx, definition, h.event())
	require.NoError(t, err)
	require.NoError(t, h.orchestrator.Start(h.ctx, execution))

	return h.reload(t, execution.ID)
}

func (h *harness) reload(t *testing.T, id string) *models.WorkflowExecution {
	t.Helper()

	execution, err := h.store.ExecutionRepository().ExecutionByID(h.ctx, id)
	require.NoError(t, err)

	return execution
}

func (h *harness) stepExecutions(t *testing.T, id string) map[string]*models.WorkflowStepExecution {
	t.Helper()

	steps, err := h.store.ExecutionRepository().StepExecutions(h.ctx, id)
	require.NoError(t, err)

	byID := make(map[string]*models.WorkflowStepExecution, len(steps))
	for _, step := range steps {
		byID[step.StepID] = step
	}

	return byID
}

// assertInvariants checks every persisted state: counters never exceed the total,
// the cursor never moves back, and retry counts stay within the policy.
func (h *harness) assertInvariants(t *testing.T) {
	t.Helper()

	h.executions.mu.Lock()
	defer h.executions.mu.Unlock()

	cursor := map[string]int{}
	started := map[string]bool{}

	for _, state := range h.executions.states {
		assert.LessOrEqual(t, state.CompletedSteps+state.FailedSteps, state.TotalSteps, "counters of %s", state.ID)

		if prev, ok := cursor[state.ID]; ok {
			assert.GreaterOrEqual(t, state.CurrentStep, prev, "cursor of %s moved back", state.ID)
		}

		cursor[state.ID] = state.CurrentStep

		if started[state.ID] {
			assert.NotEqual(t, models.ExecutionPending, state.Status, "%s returned to pending", state.ID)
		}

		started[state.ID] = started[state.ID] || state.Status != models.ExecutionPending
	}

	for _, step := range h.executions.steps {
		assert.LessOrEqual(t, step.RetryCount, h.config.MaxRetries, "retries of step %s", step.StepID)
	}
}

func (h *harness) reachedRunning(stepID string) bool {
	h.executions.mu.Lock()
	defer h.executions.mu.Unlock()

	for _, step := range h.executions.steps {
		if step.StepID == stepID && step.Status == models.StepRunning {
			return true
		}
	}

	return false
}

func threeStepDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:          "wf-onboarding",
		TenantID:    "t1",
		Name:        "Lead onboarding",
		TriggerType: models.TriggerOnCreate,
		EntityType:  "Lead",
		Active:      true,
		Steps: []models.WorkflowStep{
			{ID: "notify", StepOrder: 10, ActionType: models.ActionSendNotification, Enabled: true},
			{ID: "task", StepOrder: 20, ActionType: models.ActionCreateTask, Enabled: true},
			{ID: "assign", StepOrder: 30, ActionType: models.ActionAssignOwner, Enabled: true},
		},
	}
}
