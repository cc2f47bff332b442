package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/crmflow/pkg/otelhelper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// NewTracer returns an OTLP tracer when enabled, otherwise the global tracer. The
// returned shutdown is always safe to call.
//
// nolint:ireturn
func NewTracer(ctx context.Context, logger *slog.Logger, serviceName string, enabled bool) (trace.Tracer, otelhelper.ShutdownFunc) {
	noop := func(context.Context) error { return nil }

	if !enabled {
		return otel.Tracer(serviceName), noop
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		logger.WarnContext(ctx, "Failed to initialize tracing, continuing without it", "error", err)

		return otel.Tracer(serviceName), noop
	}

	logger.InfoContext(ctx, "Tracing enabled")

	return tracer, shutdown
}
