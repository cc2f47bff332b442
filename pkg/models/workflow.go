// Package models provides the core domain models for tenant-defined workflow automation.
package models

import (
	"slices"
	"time"
)

// TriggerType identifies which entity lifecycle event a workflow reacts to.
type TriggerType string

const (
	TriggerOnCreate      TriggerType = "on_create"
	TriggerOnUpdate      TriggerType = "on_update"
	TriggerOnFieldChange TriggerType = "on_field_change"
	TriggerScheduled     TriggerType = "scheduled"
	TriggerManual        TriggerType = "manual"
)

// Valid reports whether t is one of the known trigger types.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerOnCreate, TriggerOnUpdate, TriggerOnFieldChange, TriggerScheduled, TriggerManual:
		return true
	default:
		return false
	}
}

// Targeted reports whether events of this trigger type must name the workflow they run.
func (t TriggerType) Targeted() bool {
	return t == TriggerManual || t == TriggerScheduled
}

// WorkflowDefinition is a tenant-scoped automation rule. Definitions are authored
// outside the engine and are read-only to it, except for the run counters.
type WorkflowDefinition struct {
	ID          string      `json:"id" validate:"required"`
	TenantID    string      `json:"tenant_id" validate:"required"`
	Name        string      `json:"name" validate:"required,min=1,max=255"`
	Description string      `json:"description"`
	TriggerType TriggerType `json:"trigger_type" validate:"required,oneof=on_create on_update on_field_change scheduled manual"`
	EntityType  string      `json:"entity_type" validate:"required"`

	// TriggerConditions must all hold against the event's field snapshot.
	TriggerConditions []Condition `json:"trigger_conditions" validate:"dive"`

	// WatchedFields narrows on_field_change triggers; empty means any changed field.
	WatchedFields []string `json:"watched_fields,omitempty"`

	// Schedule is a 5-field cron expression, used only by scheduled triggers.
	Schedule string `json:"schedule,omitempty" validate:"required_if=TriggerType scheduled"`

	Active         bool           `json:"active"`
	ExecutionOrder int            `json:"execution_order"`
	Steps          []WorkflowStep `json:"steps" validate:"dive"`

	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`
	ExecutionCount int64      `json:"execution_count"`

	// Version is the optimistic-concurrency token for the run counters.
	Version int64 `json:"version"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// OrderedSteps returns a copy of the steps sorted by ascending step order.
func (w *WorkflowDefinition) OrderedSteps() []WorkflowStep {
	steps := slices.Clone(w.Steps)
	slices.SortStableFunc(steps, func(a, b WorkflowStep) int {
		return a.StepOrder - b.StepOrder
	})

	return steps
}

// StepByOrder finds the step with the given order.
func (w *WorkflowDefinition) StepByOrder(order int) (WorkflowStep, bool) {
	for _, step := range w.Steps {
		if step.StepOrder == order {
			return step, true
		}
	}

	return WorkflowStep{}, false
}

// Watches reports whether any of changed is a field this definition watches.
func (w *WorkflowDefinition) Watches(changed []string) bool {
	if len(changed) == 0 {
		return false
	}

	if len(w.WatchedFields) == 0 {
		return true
	}

	for _, field := range changed {
		if slices.Contains(w.WatchedFields, field) {
			return true
		}
	}

	return false
}
