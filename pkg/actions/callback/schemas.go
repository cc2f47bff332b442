package callback

import "github.com/dukex/crmflow/pkg/models"

// schemas holds the configuration schema owned by each CRM action type.
var schemas = map[models.ActionType]map[string]any{
	models.ActionSendNotification: {
		"type": "object",
		"properties": map[string]any{
			"recipient": map[string]any{"type": "string", "minLength": 1},
			"message":   map[string]any{"type": "string", "minLength": 1},
			"channel": map[string]any{
				"type":    "string",
				"default": "email",
				"enum":    []string{"email", "sms", "in_app"},
			},
		},
		"required": []string{"recipient", "message"},
	},
	models.ActionUpdateField: {
		"type": "object",
		"properties": map[string]any{
			"field": map[string]any{"type": "string", "minLength": 1},
			"value": map[string]any{},
		},
		"required": []string{"field", "value"},
	},
	models.ActionCreateTask: {
		"type": "object",
		"properties": map[string]any{
			"title":       map[string]any{"type": "string", "minLength": 1},
			"description": map[string]any{"type": "string"},
			"assignee":    map[string]any{"type": "string"},
			"due_in_days": map[string]any{"type": "integer", "minimum": 0},
		},
		"required": []string{"title"},
	},
	models.ActionAssignOwner: {
		"type": "object",
		"properties": map[string]any{
			"owner_id": map[string]any{"type": "string", "minLength": 1},
			"strategy": map[string]any{"type": "string", "enum": []string{"round_robin", "territory", "least_loaded"}},
		},
		"anyOf": []any{
			map[string]any{"required": []string{"owner_id"}},
			map[string]any{"required": []string{"strategy"}},
		},
	},
}

var descriptions = map[models.ActionType]string{
	models.ActionSendNotification: "Sends a notification to a user or contact through the host application.",
	models.ActionUpdateField:      "Updates a field on the triggering entity through the host application.",
	models.ActionCreateTask:       "Creates a follow-up task through the host application.",
	models.ActionAssignOwner:      "Assigns an owner to the triggering entity through the host application.",
}

// Types lists the action types this package can forward.
func Types() []models.ActionType {
	return []models.ActionType{
		models.ActionSendNotification,
		models.ActionUpdateField,
		models.ActionCreateTask,
		models.ActionAssignOwner,
	}
}
