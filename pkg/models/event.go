package models

import "time"

// EntityEvent is emitted by the CRUD layer whenever a CRM record is created or updated.
type EntityEvent struct {
	ID            string      `json:"id"`
	TenantID      string      `json:"tenant_id" validate:"required"`
	EntityType    string      `json:"entity_type" validate:"required"`
	EntityID      string      `json:"entity_id" validate:"required"`
	TriggerType   TriggerType `json:"trigger_type" validate:"required,oneof=on_create on_update on_field_change scheduled manual"`
	FieldSnapshot FieldMap    `json:"field_snapshot"`
	ChangedFields []string    `json:"changed_fields,omitempty"`

	// WorkflowID targets a single definition; required for manual and scheduled triggers.
	WorkflowID string `json:"workflow_id,omitempty" validate:"required_if=TriggerType manual,required_if=TriggerType scheduled"`

	OccurredAt time.Time `json:"occurred_at" validate:"required"`
}
