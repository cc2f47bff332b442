package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/delay"
	"github.com/dukex/crmflow/pkg/engine"
	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
)

// WorkerManager consumes entity events and execution hand-offs from the bus, drives the
// delay poller and periodically recovers stalled executions.
type WorkerManager struct {
	id           string
	logger       *slog.Logger
	eventBus     eventbus.EventBus
	dispatcher   *engine.Dispatcher
	orchestrator *engine.Orchestrator
	poller       *delay.Poller
	recoverer    *engine.Recoverer
	recoverEvery time.Duration
}

func NewWorkerManager(
	id string,
	logger *slog.Logger,
	eventBus eventbus.EventBus,
	dispatcher *engine.Dispatcher,
	orchestrator *engine.Orchestrator,
	poller *delay.Poller,
	recoverer *engine.Recoverer,
	recoverEvery time.Duration,
) *WorkerManager {
	return &WorkerManager{
		id:           id,
		logger:       logger.With("module", "crmflow-worker", "worker_id", id),
		eventBus:     eventBus,
		dispatcher:   dispatcher,
		orchestrator: orchestrator,
		poller:       poller,
		recoverer:    recoverer,
		recoverEvery: recoverEvery,
	}
}

// Start subscribes the handlers and runs until ctx is cancelled.
func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	err := w.eventBus.Handle(events.EntityChangedEvent, w.handleEntityChanged)
	if err != nil {
		return err
	}

	err = w.eventBus.Handle(events.ExecutionReadyEvent, w.handleExecutionReady)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	w.poller.Start(ctx, w.orchestrator.ResumeHandler())
	defer w.poller.Stop()

	go w.recoverer.Run(ctx, w.recoverEvery)

	w.logger.InfoContext(ctx, "Worker started successfully")

	<-ctx.Done()
	w.logger.InfoContext(context.WithoutCancel(ctx), "Shutting down worker...")

	return nil
}

func (w *WorkerManager) handleEntityChanged(ctx context.Context, event any) error {
	changed, ok := event.(*events.EntityChanged)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for EntityChanged")

		return nil
	}

	logger := w.logger.With(
		"event_id", changed.Event.ID,
		"tenant_id", changed.Event.TenantID,
		"entity_type", changed.Event.EntityType,
		"entity_id", changed.Event.EntityID,
	)
	logger.DebugContext(ctx, "Processing entity changed event")

	_, err := w.dispatcher.Dispatch(ctx, changed.Event)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidEvent) {
			logger.WarnContext(ctx, "Dropping invalid entity event", "error", err)

			return nil
		}

		logger.ErrorContext(ctx, "Failed to dispatch entity event", "error", err)

		return err
	}

	return nil
}

func (w *WorkerManager) handleExecutionReady(ctx context.Context, event any) error {
	ready, ok := event.(*events.ExecutionReady)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for ExecutionReady")

		return nil
	}

	err := w.orchestrator.Resume(ctx, ready.ExecutionID, ready.StepOrder)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to run execution",
			"execution_id", ready.ExecutionID,
			"workflow_id", ready.WorkflowID,
			"step_order", ready.StepOrder,
			"error", err)

		return err
	}

	return nil
}
