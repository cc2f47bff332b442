package conditions

import (
	"context"
	"log/slog"

	"github.com/dukex/crmflow/pkg/models"
)

// DiagnosticKind classifies why a predicate failed closed.
type DiagnosticKind string

const (
	// MalformedOperator is a definition problem: the operator is not part of the language.
	MalformedOperator DiagnosticKind = "malformed_operator"
	// TypeMismatch is an evaluation problem: operands could not be coerced for the operator.
	TypeMismatch DiagnosticKind = "type_mismatch"
)

// Diagnostic describes a predicate that evaluated false because it could not be evaluated.
type Diagnostic struct {
	Kind      DiagnosticKind
	Condition models.Condition
	Detail    string
}

// Diagnostics receives fail-closed evaluation reports.
type Diagnostics interface {
	Report(ctx context.Context, d Diagnostic)
}

// DiagnosticsFunc adapts a function to Diagnostics.
type DiagnosticsFunc func(ctx context.Context, d Diagnostic)

func (f DiagnosticsFunc) Report(ctx context.Context, d Diagnostic) {
	f(ctx, d)
}

type logDiagnostics struct {
	logger *slog.Logger
}

// LogDiagnostics reports diagnostics as warnings on logger.
func LogDiagnostics(logger *slog.Logger) Diagnostics {
	return &logDiagnostics{logger: logger.With("module", "conditions")}
}

func (l *logDiagnostics) Report(ctx context.Context, d Diagnostic) {
	l.logger.WarnContext(ctx, "Condition failed closed",
		"kind", d.Kind,
		"field", d.Condition.Field,
		"operator", d.Condition.Operator,
		"detail", d.Detail)
}

type discard struct{}

func (discard) Report(context.Context, Diagnostic) {}
