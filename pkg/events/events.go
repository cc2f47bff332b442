// Package events defines the messages exchanged between the API, the worker and downstream consumers.
package events

import (
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Kafka topic shared by every crmflow event; consumers dispatch on EventTypeMetadataKey.
const Topic = "crmflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// EntityChangedEvent carries an inbound EntityEvent from the CRUD layer.
	EntityChangedEvent EventType = "entity.changed"

	// ExecutionReadyEvent asks a worker to start or resume an execution at a step order.
	ExecutionReadyEvent EventType = "execution.ready"

	// ExecutionFinishedEvent announces that an execution reached a terminal status.
	ExecutionFinishedEvent EventType = "execution.finished"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	TenantID  string         `json:"tenant_id"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, tenantID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TenantID:  tenantID,
		Metadata:  make(map[string]any),
	}
}

type EntityChanged struct {
	BaseEvent

	Event models.EntityEvent `json:"event"`
}

func (EntityChanged) GetType() EventType {
	return EntityChangedEvent
}

// NewEntityChanged wraps event, assigning it an id when it has none.
func NewEntityChanged(event models.EntityEvent) EntityChanged {
	base := NewBaseEvent(EntityChangedEvent, event.TenantID)
	if event.ID == "" {
		event.ID = base.ID
	}

	return EntityChanged{BaseEvent: base, Event: event}
}

type ExecutionReady struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	StepOrder   int    `json:"step_order"`
}

func (ExecutionReady) GetType() EventType {
	return ExecutionReadyEvent
}

func NewExecutionReady(execution *models.WorkflowExecution, stepOrder int) ExecutionReady {
	return ExecutionReady{
		BaseEvent:   NewBaseEvent(ExecutionReadyEvent, execution.TenantID),
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		StepOrder:   stepOrder,
	}
}

type ExecutionFinished struct {
	BaseEvent

	ExecutionID    string                 `json:"execution_id"`
	WorkflowID     string                 `json:"workflow_id"`
	EntityID       string                 `json:"entity_id"`
	EntityType     string                 `json:"entity_type"`
	Status         models.ExecutionStatus `json:"status"`
	TotalSteps     int                    `json:"total_steps"`
	CompletedSteps int                    `json:"completed_steps"`
	FailedSteps    int                    `json:"failed_steps"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Duration       time.Duration          `json:"duration"`
}

func (ExecutionFinished) GetType() EventType {
	return ExecutionFinishedEvent
}

func NewExecutionFinished(execution *models.WorkflowExecution) ExecutionFinished {
	finished := ExecutionFinished{
		BaseEvent:      NewBaseEvent(ExecutionFinishedEvent, execution.TenantID),
		ExecutionID:    execution.ID,
		WorkflowID:     execution.WorkflowID,
		EntityID:       execution.EntityID,
		EntityType:     execution.EntityType,
		Status:         execution.Status,
		TotalSteps:     execution.TotalSteps,
		CompletedSteps: execution.CompletedSteps,
		FailedSteps:    execution.FailedSteps,
		ErrorMessage:   execution.ErrorMessage,
	}

	if execution.StartedAt != nil && execution.CompletedAt != nil {
		finished.Duration = execution.CompletedAt.Sub(*execution.StartedAt)
	}

	return finished
}
