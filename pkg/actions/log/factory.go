// Package log provides the log action, which writes a rendered message to the engine log.
package log

import (
	"log/slog"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/models"
)

// ActionFactory is the factory for creating log actions.
type ActionFactory struct {
	logger *slog.Logger
}

// NewActionFactory creates a factory whose actions write to logger.
func NewActionFactory(logger *slog.Logger) *ActionFactory {
	return &ActionFactory{logger: logger.With("module", "log_action")}
}

func (*ActionFactory) Type() models.ActionType {
	return models.ActionLog
}

func (*ActionFactory) Name() string {
	return "Log"
}

func (*ActionFactory) Description() string {
	return "Logs a message at a specified level. The message is a template over the entity fields."
}

// Create creates a log action from a configuration already validated against Schema.
func (f *ActionFactory) Create(config map[string]any) (actions.Action, error) {
	message, _ := config["message"].(string)
	level, _ := config["level"].(string)

	return NewAction(f.logger, message, level), nil
}

// Schema returns the JSON schema for the action configuration.
func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "The message to log.",
				"examples": []string{
					"Lead {{.fields.first_name}} entered status {{.fields.status}}",
				},
			},
			"level": map[string]any{
				"type":        "string",
				"description": "Log level for the message",
				"default":     "info",
				"enum":        []string{"debug", "info", "warn", "warning", "error"},
			},
		},
		"required": []string{"message"},
	}
}
