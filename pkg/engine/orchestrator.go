// Package engine runs workflow executions: it creates them for matched definitions,
// walks their steps in order, and re-enters them after delays and crashes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/conditions"
	"github.com/dukex/crmflow/pkg/delay"
	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/retry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Orchestrator owns every transition of an execution after it is created. Each
// transition is persisted before the next one starts, and every write is guarded
// by the execution version, so a crashed or raced run can be re-entered from the
// persisted cursor.
type Orchestrator struct {
	logger      *slog.Logger
	executions  persistence.ExecutionRepository
	definitions persistence.DefinitionRepository
	evaluator   *conditions.Evaluator
	executor    actions.Executor
	scheduler   delay.Scheduler
	publisher   eventbus.EventPublisher
	policy      retry.Policy
	config      Config
	tracer      trace.Tracer
	now         func() time.Time
}

type Option func(*Orchestrator)

// WithPublisher makes the orchestrator announce finished executions.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(o *Orchestrator) {
		o.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = tracer
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func NewOrchestrator(
	logger *slog.Logger,
	store persistence.Persistence,
	evaluator *conditions.Evaluator,
	executor actions.Executor,
	scheduler delay.Scheduler,
	config Config,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		logger:      logger.With("module", "orchestrator"),
		executions:  store.ExecutionRepository(),
		definitions: store.DefinitionRepository(),
		evaluator:   evaluator,
		executor:    executor,
		scheduler:   scheduler,
		policy:      config.RetryPolicy(),
		config:      config,
		tracer:      otel.Tracer("crmflow/engine"),
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// ExecutionID derives the execution id for one event and one workflow, so a
// redelivered event finds the execution it already created.
func ExecutionID(eventID, workflowID string) string {
	if eventID == "" {
		return uuid.NewString()
	}

	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(eventID+"/"+workflowID)).String()
}

// CreateExecution stores a pending execution of definition for event, with one pending
// step execution per step. It returns persistence.ErrExecutionAlreadyExists when the
// event was already dispatched to this definition.
func (o *Orchestrator) CreateExecution(ctx context.Context, definition *models.WorkflowDefinition, event models.EntityEvent) (*models.WorkflowExecution, error) {
	now := o.now()

	triggeredAt := event.OccurredAt
	if triggeredAt.IsZero() {
		triggeredAt = now
	}

	steps := definition.OrderedSteps()

	execution := &models.WorkflowExecution{
		ID:             ExecutionID(event.ID, definition.ID),
		WorkflowID:     definition.ID,
		TenantID:       definition.TenantID,
		EntityID:       event.EntityID,
		EntityType:     event.EntityType,
		Status:         models.ExecutionPending,
		TriggerType:    event.TriggerType,
		TriggerEventID: event.ID,
		TriggerData:    event.FieldSnapshot.Merge(),
		TotalSteps:     len(steps),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	stepExecutions := make([]*models.WorkflowStepExecution, 0, len(steps))

	for i, step := range steps {
		stepExecution := &models.WorkflowStepExecution{
			ID:          uuid.NewString(),
			ExecutionID: execution.ID,
			StepID:      step.ID,
			StepOrder:   step.StepOrder,
			Status:      models.StepPending,
			UpdatedAt:   now,
		}

		if i == 0 {
			execution.CurrentStep = step.StepOrder

			// The first step's delay counts from the moment the entity changed.
			if step.Enabled && step.DelayMinutes > 0 {
				resumeAt := delay.ResumeAt(triggeredAt, step.DelayMinutes)
				stepExecution.ResumeAt = &resumeAt
			}
		}

		stepExecutions = append(stepExecutions, stepExecution)
	}

	err := o.executions.CreateExecution(ctx, execution, stepExecutions)
	if err != nil {
		return nil, err
	}

	o.logger.InfoContext(ctx, "Created execution",
		"execution_id", execution.ID,
		"workflow_id", definition.ID,
		"tenant_id", definition.TenantID,
		"entity_id", event.EntityID,
		"total_steps", execution.TotalSteps)

	return execution, nil
}

// Start runs a freshly created execution from its first step.
func (o *Orchestrator) Start(ctx context.Context, execution *models.WorkflowExecution) error {
	return o.Resume(ctx, execution.ID, execution.CurrentStep)
}

// Resume re-enters an execution at stepOrder and runs it until it finishes, suspends on
// a delay, or cannot persist. Re-entering a finished execution, or a step order behind
// the persisted cursor, does nothing, and so does re-entering a step another worker is
// still running. A lost version race is retried from freshly loaded state.
func (o *Orchestrator) Resume(ctx context.Context, executionID string, stepOrder int) error {
	var err error

	for attempt := 0; attempt <= o.config.ConflictRetries; attempt++ {
		err = o.resume(ctx, executionID, stepOrder)
		if !persistence.IsVersionConflict(err) {
			return err
		}

		o.logger.WarnContext(ctx, "Lost execution version race, reloading",
			"execution_id", executionID,
			"attempt", attempt+1)
	}

	return err
}

// ResumeHandler adapts Resume to the delay poller.
func (o *Orchestrator) ResumeHandler() delay.ResumeHandler {
	return func(ctx context.Context, task models.ResumeTask) error {
		return o.Resume(ctx, task.ExecutionID, task.StepOrder)
	}
}

func (o *Orchestrator) resume(ctx context.Context, executionID string, stepOrder int) error {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "orchestrator resume",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.Int(otelhelper.StepOrderKey, stepOrder),
	)
	defer span.End()

	execution, err := o.executions.ExecutionByID(ctx, executionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			o.logger.WarnContext(ctx, "Ignoring resume of unknown execution", "execution_id", executionID)

			return nil
		}

		otelhelper.SetError(span, err)

		return orchestrationError("load execution", executionID, err)
	}

	logger := o.logger.With(
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"tenant_id", execution.TenantID,
	)

	if execution.Status.Terminal() {
		logger.DebugContext(ctx, "Execution already finished", "status", execution.Status)

		return nil
	}

	if stepOrder < execution.CurrentStep {
		logger.DebugContext(ctx, "Ignoring stale resume", "step_order", stepOrder, "current_step", execution.CurrentStep)

		return nil
	}

	stepExecutions, err := o.executions.StepExecutions(ctx, execution.ID)
	if err != nil {
		otelhelper.SetError(span, err)

		return orchestrationError("load step executions", execution.ID, err)
	}

	if claimed := o.claimedStep(stepExecutions, execution.CurrentStep); claimed != nil {
		logger.DebugContext(ctx, "Step is being run elsewhere",
			"step_id", claimed.StepID,
			"step_order", claimed.StepOrder,
			"updated_at", claimed.UpdatedAt)

		return nil
	}

	definition, err := o.definitions.DefinitionByID(ctx, execution.WorkflowID)
	if err != nil {
		if persistence.IsDefinitionNotFound(err) {
			return o.failExecution(ctx, logger, execution, &DefinitionError{WorkflowID: execution.WorkflowID, Err: err})
		}

		otelhelper.SetError(span, err)

		return orchestrationError("load definition", execution.ID, err)
	}

	err = o.run(ctx, logger, definition, execution, stepExecutions)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return err
}

// claimedStep returns the cursor step when it is running and was written within the
// step lease, meaning another worker is still invoking or retrying it. A running step
// older than the lease was abandoned and may be taken over.
func (o *Orchestrator) claimedStep(stepExecutions []*models.WorkflowStepExecution, cursor int) *models.WorkflowStepExecution {
	for _, stepExecution := range stepExecutions {
		if stepExecution.StepOrder != cursor {
			continue
		}

		if stepExecution.Status == models.StepRunning && o.now().Sub(stepExecution.UpdatedAt) < o.config.StepLease() {
			return stepExecution
		}

		return nil
	}

	return nil
}

func (o *Orchestrator) run(
	ctx context.Context,
	logger *slog.Logger,
	definition *models.WorkflowDefinition,
	execution *models.WorkflowExecution,
	stepExecutions []*models.WorkflowStepExecution,
) error {
	fields := execution.TriggerData.Merge()

	for i, stepExecution := range stepExecutions {
		if stepExecution.StepOrder < execution.CurrentStep || stepExecution.Status.Terminal() {
			if stepExecution.Status == models.StepCompleted {
				fields = fields.Merge(stepExecution.OutputSnapshot)
			}

			continue
		}

		next := nextOrder(stepExecutions, i)

		suspended, err := o.processStep(ctx, logger, execution, findStep(definition, stepExecution.StepID), stepExecution, next, fields)
		if err != nil {
			return err
		}

		if suspended {
			return nil
		}

		if stepExecution.Status == models.StepCompleted {
			fields = fields.Merge(stepExecution.OutputSnapshot)
		}

		if execution.Status.Terminal() {
			o.finish(ctx, logger, execution)

			return nil
		}
	}

	// Nothing left to process: a workflow without steps, or a cursor resting on a
	// step that was already decided.
	now := o.now()
	o.markRunning(execution, now)
	o.settle(execution, now)

	err := o.save(ctx, "settle execution", execution, nil)
	if err != nil {
		return err
	}

	o.finish(ctx, logger, execution)

	return nil
}

// processStep drives one step to a terminal state, or suspends it on its delay.
func (o *Orchestrator) processStep(
	ctx context.Context,
	logger *slog.Logger,
	execution *models.WorkflowExecution,
	step *models.WorkflowStep,
	stepExecution *models.WorkflowStepExecution,
	next *int,
	fields models.FieldMap,
) (bool, error) {
	logger = logger.With("step_id", stepExecution.StepID, "step_order", stepExecution.StepOrder)

	switch {
	case step == nil:
		removed := &DefinitionError{WorkflowID: execution.WorkflowID, StepID: stepExecution.StepID, Err: ErrStepRemoved}
		logger.WarnContext(ctx, "Skipping step", "reason", removed)

		return false, o.skip(ctx, execution, stepExecution, next, removed.Error())
	case !step.Enabled:
		logger.InfoContext(ctx, "Skipping step", "reason", "disabled")

		return false, o.skip(ctx, execution, stepExecution, next, "")
	case !o.evaluator.Evaluate(ctx, step.Conditions, fields):
		logger.InfoContext(ctx, "Skipping step", "reason", "conditions not met")

		return false, o.skip(ctx, execution, stepExecution, next, "")
	}

	if step.DelayMinutes > 0 && stepExecution.Status == models.StepPending {
		suspended, err := o.holdForDelay(ctx, logger, execution, *step, stepExecution)
		if err != nil || suspended {
			return suspended, err
		}
	}

	return false, o.attempt(ctx, logger, execution, *step, stepExecution, next, fields)
}

// holdForDelay suspends a step whose delay has not elapsed. The resume time is persisted
// before the resume is scheduled, so a lost schedule is recovered once the time passes.
func (o *Orchestrator) holdForDelay(
	ctx context.Context,
	logger *slog.Logger,
	execution *models.WorkflowExecution,
	step models.WorkflowStep,
	stepExecution *models.WorkflowStepExecution,
) (bool, error) {
	now := o.now()

	if stepExecution.ResumeAt == nil {
		resumeAt := delay.ResumeAt(now, step.DelayMinutes)
		stepExecution.ResumeAt = &resumeAt
		execution.CurrentStep = stepExecution.StepOrder

		err := o.save(ctx, "persist delay", execution, stepExecution)
		if err != nil {
			return false, err
		}
	}

	if !now.Before(*stepExecution.ResumeAt) {
		return false, nil
	}

	err := o.scheduler.ScheduleResume(ctx, execution.ID, stepExecution.StepOrder, *stepExecution.ResumeAt)
	if err != nil {
		return false, orchestrationError("schedule resume", execution.ID, err)
	}

	logger.InfoContext(ctx, "Suspended until delay elapses", "resume_at", *stepExecution.ResumeAt)

	return true, nil
}

// attempt invokes the step's action until it succeeds or the retry policy gives up.
func (o *Orchestrator) attempt(
	ctx context.Context,
	logger *slog.Logger,
	execution *models.WorkflowExecution,
	step models.WorkflowStep,
	stepExecution *models.WorkflowStepExecution,
	next *int,
	fields models.FieldMap,
) error {
	for {
		now := o.now()
		o.markRunning(execution, now)
		execution.CurrentStep = stepExecution.StepOrder

		stepExecution.Status = models.StepRunning
		stepExecution.InputSnapshot = fields

		if stepExecution.StartedAt == nil {
			stepExecution.StartedAt = &now
		}

		err := o.save(ctx, "start step", execution, stepExecution)
		if err != nil {
			return err
		}

		result, err := o.invoke(ctx, execution, step, stepExecution, fields)
		if err == nil {
			completedAt := o.now()
			stepExecution.Status = models.StepCompleted
			stepExecution.OutputSnapshot = result.OutputData
			stepExecution.ErrorMessage = ""
			stepExecution.CompletedAt = &completedAt
			execution.CompletedSteps++
			o.advance(execution, next, completedAt)

			logger.InfoContext(ctx, "Step completed", "attempt", stepExecution.RetryCount+1)

			return o.save(ctx, "complete step", execution, stepExecution)
		}

		if IsOrchestrationError(err) {
			return err
		}

		stepExecution.ErrorMessage = err.Error()
		logger.WarnContext(ctx, "Step attempt failed", "attempt", stepExecution.RetryCount+1, "error", err)

		if o.policy.OnStepFailure(stepExecution, step) == retry.Retry {
			stepExecution.RetryCount++

			err = o.save(ctx, "record retry", execution, stepExecution)
			if err != nil {
				return err
			}

			err = o.policy.Wait(ctx)
			if err != nil {
				return orchestrationError("wait for retry", execution.ID, err)
			}

			continue
		}

		failedAt := o.now()
		stepExecution.Status = models.StepFailed
		stepExecution.CompletedAt = &failedAt
		execution.FailedSteps++
		execution.ErrorMessage = fmt.Sprintf("step %s: %s", stepExecution.StepID, stepExecution.ErrorMessage)

		if o.policy.AfterGiveUp(step) == retry.ContinueExecution {
			o.advance(execution, next, failedAt)
		} else {
			execution.Status = models.ExecutionFailed
			execution.CompletedAt = &failedAt
		}

		logger.WarnContext(ctx, "Step failed", "retries", stepExecution.RetryCount, "continue_on_error", step.ContinueOnError)

		return o.save(ctx, "fail step", execution, stepExecution)
	}
}

type invocationResult struct {
	result *models.ActionResult
	err    error
}

// invoke runs one action attempt, bounded by the action timeout even when the executor
// ignores its context.
func (o *Orchestrator) invoke(
	ctx context.Context,
	execution *models.WorkflowExecution,
	step models.WorkflowStep,
	stepExecution *models.WorkflowStepExecution,
	fields models.FieldMap,
) (*models.ActionResult, error) {
	attempt := stepExecution.RetryCount + 1

	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "step attempt",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.WorkflowIDKey, execution.WorkflowID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.ActionTypeKey, string(step.ActionType)),
		attribute.Int(otelhelper.AttemptKey, attempt),
	)
	defer span.End()

	invocation := models.ActionInvocation{
		ExecutionID: execution.ID,
		StepID:      step.ID,
		TenantID:    execution.TenantID,
		Attempt:     attempt,
		ActionType:  step.ActionType,
		Config:      step.ActionConfig,
		Context:     fields,
	}

	callCtx, cancel := o.actionContext(ctx)
	defer cancel()

	done := make(chan invocationResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invocationResult{err: fmt.Errorf("action panicked: %v", r)}
			}
		}()

		result, err := o.executor.Execute(callCtx, invocation)
		done <- invocationResult{result: result, err: err}
	}()

	actionErr := &ActionExecutionError{
		ExecutionID: execution.ID,
		StepID:      step.ID,
		ActionType:  step.ActionType,
		Attempt:     attempt,
	}

	select {
	case out := <-done:
		switch {
		case out.err != nil && ctx.Err() != nil:
			return nil, orchestrationError("invoke action", execution.ID, ctx.Err())
		case out.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded):
			actionErr.Err = ErrActionTimeout
		case out.err != nil:
			actionErr.Err = out.err
		case out.result == nil:
			actionErr.Err = ErrActionUnsuccessful
			actionErr.Message = "executor returned no result"
		case !out.result.Success:
			actionErr.Err = ErrActionUnsuccessful
			actionErr.Message = out.result.ErrorMessage
		default:
			return out.result, nil
		}
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, orchestrationError("invoke action", execution.ID, ctx.Err())
		}

		actionErr.Err = ErrActionTimeout
	}

	otelhelper.SetError(span, actionErr)

	return nil, actionErr
}

func (o *Orchestrator) actionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.config.ActionTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, o.config.ActionTimeout)
}

func (o *Orchestrator) skip(
	ctx context.Context,
	execution *models.WorkflowExecution,
	stepExecution *models.WorkflowStepExecution,
	next *int,
	reason string,
) error {
	now := o.now()
	o.markRunning(execution, now)
	execution.CurrentStep = stepExecution.StepOrder

	stepExecution.Status = models.StepSkipped
	stepExecution.ErrorMessage = reason
	stepExecution.CompletedAt = &now
	o.advance(execution, next, now)

	return o.save(ctx, "skip step", execution, stepExecution)
}

func (o *Orchestrator) failExecution(ctx context.Context, logger *slog.Logger, execution *models.WorkflowExecution, cause error) error {
	now := o.now()
	o.markRunning(execution, now)
	execution.Status = models.ExecutionFailed
	execution.ErrorMessage = cause.Error()
	execution.CompletedAt = &now

	logger.ErrorContext(ctx, "Failing execution", "error", cause)

	err := o.save(ctx, "fail execution", execution, nil)
	if err != nil {
		return err
	}

	o.finish(ctx, logger, execution)

	return nil
}

// markRunning performs the pending to running transition, which happens together with
// the first step write.
func (o *Orchestrator) markRunning(execution *models.WorkflowExecution, now time.Time) {
	if execution.Status != models.ExecutionPending {
		return
	}

	execution.Status = models.ExecutionRunning
	execution.StartedAt = &now
}

// advance moves the cursor to next, or settles the execution when the step was the last.
func (o *Orchestrator) advance(execution *models.WorkflowExecution, next *int, now time.Time) {
	if next != nil {
		execution.CurrentStep = *next

		return
	}

	o.settle(execution, now)
}

func (o *Orchestrator) settle(execution *models.WorkflowExecution, now time.Time) {
	if execution.Status.Terminal() {
		return
	}

	if execution.FailedSteps == 0 {
		execution.Status = models.ExecutionCompleted
	} else {
		execution.Status = models.ExecutionPartiallyCompleted
	}

	execution.CompletedAt = &now
}

func (o *Orchestrator) save(ctx context.Context, op string, execution *models.WorkflowExecution, stepExecution *models.WorkflowStepExecution) error {
	err := o.executions.SaveProgress(ctx, execution, stepExecution)
	if err != nil {
		return orchestrationError(op, execution.ID, err)
	}

	return nil
}

func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, execution *models.WorkflowExecution) {
	logger.InfoContext(ctx, "Execution finished",
		"status", execution.Status,
		"completed_steps", execution.CompletedSteps,
		"failed_steps", execution.FailedSteps,
		"total_steps", execution.TotalSteps)

	if o.publisher == nil {
		return
	}

	err := o.publisher.Publish(ctx, execution.ID, events.NewExecutionFinished(execution))
	if err != nil {
		logger.ErrorContext(ctx, "Failed to publish execution finished event", "error", err)
	}
}

func nextOrder(stepExecutions []*models.WorkflowStepExecution, i int) *int {
	if i+1 >= len(stepExecutions) {
		return nil
	}

	order := stepExecutions[i+1].StepOrder

	return &order
}

func findStep(definition *models.WorkflowDefinition, stepID string) *models.WorkflowStep {
	for i := range definition.Steps {
		if definition.Steps[i].ID == stepID {
			return &definition.Steps[i]
		}
	}

	return nil
}
