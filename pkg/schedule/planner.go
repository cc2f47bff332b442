// Package schedule fires scheduled workflow definitions on their cron expressions.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/robfig/cron/v3"
)

// EmitFunc delivers a scheduled trigger event, usually by publishing it to the bus.
type EmitFunc func(ctx context.Context, event models.EntityEvent) error

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse parses a standard 5-field cron expression (minute hour day month weekday).
func Parse(expression string) (cron.Schedule, error) {
	return parser.Parse(expression)
}

type entry struct {
	expression string
	schedule   cron.Schedule
	dueAt      time.Time
}

// Planner keeps the next due time of every scheduled definition and emits a targeted
// scheduled event for each one that comes due. A definition first seen is scheduled
// from that moment on; it does not fire for times already past.
type Planner struct {
	logger      *slog.Logger
	definitions persistence.DefinitionRepository
	emit        EmitFunc
	now         func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

func NewPlanner(logger *slog.Logger, definitions persistence.DefinitionRepository, emit EmitFunc) *Planner {
	return &Planner{
		logger:      logger.With("module", "schedule_planner"),
		definitions: definitions,
		emit:        emit,
		now:         func() time.Time { return time.Now().UTC() },
		entries:     make(map[string]*entry),
	}
}

// Tick reloads the scheduled definitions and emits events for the due ones. It returns
// the number of events emitted.
func (p *Planner) Tick(ctx context.Context) (int, error) {
	definitions, err := p.definitions.ScheduledDefinitions(ctx)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	seen := make(map[string]struct{}, len(definitions))
	emitted := 0

	for _, definition := range definitions {
		seen[definition.ID] = struct{}{}

		current, ok := p.entries[definition.ID]
		if !ok || current.expression != definition.Schedule {
			p.plan(ctx, definition, now)

			continue
		}

		if now.Before(current.dueAt) {
			continue
		}

		event := scheduledEvent(definition, current.dueAt)

		err := p.emit(ctx, event)
		if err != nil {
			// Keep the due time so the next tick emits it again.
			p.logger.ErrorContext(ctx, "Failed to emit scheduled trigger", "workflow_id", definition.ID, "error", err)

			continue
		}

		current.dueAt = current.schedule.Next(now)
		emitted++

		p.logger.InfoContext(ctx, "Emitted scheduled trigger",
			"workflow_id", definition.ID,
			"tenant_id", definition.TenantID,
			"event_id", event.ID,
			"next_due_at", current.dueAt)
	}

	for id := range p.entries {
		if _, ok := seen[id]; !ok {
			delete(p.entries, id)
		}
	}

	return emitted, nil
}

func (p *Planner) plan(ctx context.Context, definition *models.WorkflowDefinition, now time.Time) {
	schedule, err := Parse(definition.Schedule)
	if err != nil {
		delete(p.entries, definition.ID)
		p.logger.WarnContext(ctx, "Ignoring definition with invalid schedule",
			"workflow_id", definition.ID,
			"schedule", definition.Schedule,
			"error", err)

		return
	}

	p.entries[definition.ID] = &entry{
		expression: definition.Schedule,
		schedule:   schedule,
		dueAt:      schedule.Next(now),
	}
}

// NextDue returns when the definition fires next, if it is planned.
func (p *Planner) NextDue(workflowID string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, ok := p.entries[workflowID]
	if !ok {
		return time.Time{}, false
	}

	return current.dueAt, true
}

// Run ticks every interval until ctx is cancelled.
func (p *Planner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_, err := p.Tick(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Scheduled definitions tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := p.Tick(ctx)
			if err != nil {
				p.logger.ErrorContext(ctx, "Scheduled definitions tick failed", "error", err)
			}
		}
	}
}

// scheduledEvent builds the trigger event for one due time. The id is derived from the
// workflow and due time, so two planners emitting the same occurrence dispatch it once.
func scheduledEvent(definition *models.WorkflowDefinition, dueAt time.Time) models.EntityEvent {
	return models.EntityEvent{
		ID:          fmt.Sprintf("schedule-%s-%s", definition.ID, strconv.FormatInt(dueAt.Unix(), 10)),
		TenantID:    definition.TenantID,
		EntityType:  definition.EntityType,
		EntityID:    "schedule-" + definition.ID,
		TriggerType: models.TriggerScheduled,
		WorkflowID:  definition.ID,
		FieldSnapshot: models.FieldMap{
			"scheduled_at": dueAt.Format(time.RFC3339),
			"schedule":     definition.Schedule,
		},
		OccurredAt: dueAt,
	}
}
