package log

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/template"
)

// Action writes one log record per invocation.
type Action struct {
	logger  *slog.Logger
	message string
	level   slog.Level
}

func NewAction(logger *slog.Logger, message, level string) *Action {
	return &Action{
		logger:  logger,
		message: message,
		level:   parseLevel(level),
	}
}

func (a *Action) Execute(ctx context.Context, invocation models.ActionInvocation) (*models.ActionResult, error) {
	message, err := template.RenderString(a.message, template.Data(invocation))
	if err != nil {
		return nil, fmt.Errorf("failed to render log message: %w", err)
	}

	a.logger.Log(ctx, a.level, message,
		"execution_id", invocation.ExecutionID,
		"step_id", invocation.StepID,
		"tenant_id", invocation.TenantID)

	return &models.ActionResult{
		Success: true,
		OutputData: map[string]any{
			"logged_message": message,
		},
	}, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
