package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/trigger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrInvalidEvent = errors.New("invalid entity event")

// Dispatcher turns an entity event into executions: one per matching definition.
type Dispatcher struct {
	logger       *slog.Logger
	matcher      *trigger.Matcher
	orchestrator *Orchestrator
	definitions  persistence.DefinitionRepository
	executions   persistence.ExecutionRepository
	publisher    eventbus.EventPublisher
	validate     *validator.Validate
	retries      int
	tracer       trace.Tracer
}

// NewDispatcher creates a dispatcher. With a publisher, executions are handed to
// workers as execution.ready events; without one they run inline.
func NewDispatcher(
	logger *slog.Logger,
	store persistence.Persistence,
	matcher *trigger.Matcher,
	orchestrator *Orchestrator,
	publisher eventbus.EventPublisher,
	config Config,
) *Dispatcher {
	return &Dispatcher{
		logger:       logger.With("module", "dispatcher"),
		matcher:      matcher,
		orchestrator: orchestrator,
		definitions:  store.DefinitionRepository(),
		executions:   store.ExecutionRepository(),
		publisher:    publisher,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		retries:      config.ConflictRetries,
		tracer:       otel.Tracer("crmflow/engine"),
	}
}

// Dispatch matches event and starts an execution for every matching definition, in
// match order. Dispatching the same event again reuses the executions it created.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.EntityEvent) ([]*models.WorkflowExecution, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatch event",
		attribute.String(otelhelper.EventIDKey, event.ID),
		attribute.String(otelhelper.TenantIDKey, event.TenantID),
		attribute.String(otelhelper.EntityTypeKey, event.EntityType),
		attribute.String(otelhelper.EntityIDKey, event.EntityID),
		attribute.String(otelhelper.TriggerTypeKey, string(event.TriggerType)),
	)
	defer span.End()

	err := d.validate.Struct(event)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		otelhelper.SetError(span, err)

		return nil, err
	}

	matches, err := d.matcher.Match(ctx, event)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	executions := make([]*models.WorkflowExecution, 0, len(matches))

	for _, definition := range matches {
		execution, err := d.dispatchOne(ctx, definition, event)
		if err != nil {
			otelhelper.SetError(span, err, attribute.String(otelhelper.WorkflowIDKey, definition.ID))

			return executions, err
		}

		executions = append(executions, execution)
	}

	d.logger.InfoContext(ctx, "Dispatched entity event",
		"event_id", event.ID,
		"tenant_id", event.TenantID,
		"entity_type", event.EntityType,
		"entity_id", event.EntityID,
		"trigger_type", event.TriggerType,
		"executions", len(executions))

	return executions, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, definition *models.WorkflowDefinition, event models.EntityEvent) (*models.WorkflowExecution, error) {
	execution, err := d.orchestrator.CreateExecution(ctx, definition, event)

	switch {
	case errors.Is(err, persistence.ErrExecutionAlreadyExists):
		execution, err = d.executions.ExecutionByID(ctx, ExecutionID(event.ID, definition.ID))
		if err != nil {
			return nil, err
		}

		d.logger.DebugContext(ctx, "Event already dispatched to workflow", "execution_id", execution.ID, "workflow_id", definition.ID)
	case err != nil:
		return nil, err
	default:
		d.recordExecution(ctx, definition, execution)
	}

	if execution.Status.Terminal() {
		return execution, nil
	}

	return execution, d.handOff(ctx, execution)
}

// recordExecution bumps the definition's run counters, reloading on a lost version race.
// The counters are bookkeeping; failing to update them does not fail the dispatch.
func (d *Dispatcher) recordExecution(ctx context.Context, definition *models.WorkflowDefinition, execution *models.WorkflowExecution) {
	current := definition

	for attempt := 0; attempt <= d.retries; attempt++ {
		err := d.definitions.RecordExecution(ctx, current, execution.CreatedAt)
		if err == nil {
			return
		}

		if !persistence.IsVersionConflict(err) {
			d.logger.ErrorContext(ctx, "Failed to record workflow execution", "workflow_id", definition.ID, "error", err)

			return
		}

		current, err = d.definitions.DefinitionByID(ctx, definition.ID)
		if err != nil {
			d.logger.ErrorContext(ctx, "Failed to reload workflow definition", "workflow_id", definition.ID, "error", err)

			return
		}
	}

	d.logger.WarnContext(ctx, "Gave up recording workflow execution", "workflow_id", definition.ID, "attempts", d.retries+1)
}

func (d *Dispatcher) handOff(ctx context.Context, execution *models.WorkflowExecution) error {
	if d.publisher == nil {
		return d.orchestrator.Start(ctx, execution)
	}

	return d.publisher.Publish(ctx, execution.ID, events.NewExecutionReady(execution, execution.CurrentStep))
}
