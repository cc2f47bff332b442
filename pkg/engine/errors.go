package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/crmflow/pkg/conditions"
	"github.com/dukex/crmflow/pkg/models"
)

var (
	// ErrActionTimeout is the cause of an ActionExecutionError when the executor did not
	// return within the action timeout.
	ErrActionTimeout = errors.New("action timed out")

	// ErrActionUnsuccessful is the cause when the executor returned a result with Success false.
	ErrActionUnsuccessful = errors.New("action reported failure")

	// ErrStepRemoved is the cause when an execution's step no longer exists in its definition.
	ErrStepRemoved = errors.New("step no longer defined")
)

// DefinitionError is a problem with tenant-authored definition data: a malformed
// condition, or a definition or step that disappeared under a running execution.
type DefinitionError struct {
	WorkflowID string
	StepID     string
	Detail     string
	Err        error
}

func (e *DefinitionError) Error() string {
	msg := "definition error"
	if e.WorkflowID != "" {
		msg += " in workflow " + e.WorkflowID
	}

	if e.StepID != "" {
		msg += " step " + e.StepID
	}

	if e.Detail != "" {
		msg += ": " + e.Detail
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// EvaluationError is an operator/operand mismatch met while evaluating a condition.
type EvaluationError struct {
	Field    string
	Operator models.Operator
	Detail   string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("cannot evaluate %s %s: %s", e.Field, e.Operator, e.Detail)
}

// ActionExecutionError is a failed action attempt. It is recoverable and governed by the
// retry policy.
type ActionExecutionError struct {
	ExecutionID string
	StepID      string
	ActionType  models.ActionType
	Attempt     int
	Message     string
	Err         error
}

func (e *ActionExecutionError) Error() string {
	msg := fmt.Sprintf("action %s failed on attempt %d", e.ActionType, e.Attempt)

	switch {
	case e.Message != "":
		return msg + ": " + e.Message
	case e.Err != nil:
		return msg + ": " + e.Err.Error()
	default:
		return msg
	}
}

func (e *ActionExecutionError) Unwrap() error {
	return e.Err
}

// OrchestrationError aborts the current attempt at advancing an execution: a persistence
// failure, a lost version race, or an interrupted context. The persisted state is left
// as it was, so the execution can be re-entered.
type OrchestrationError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("orchestration %s failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *OrchestrationError) Unwrap() error {
	return e.Err
}

func orchestrationError(op, executionID string, err error) error {
	return &OrchestrationError{Op: op, ExecutionID: executionID, Err: err}
}

func IsOrchestrationError(err error) bool {
	var target *OrchestrationError

	return errors.As(err, &target)
}

type errorDiagnostics struct {
	logger *slog.Logger
}

// ErrorDiagnostics is a condition diagnostics sink that classifies each report as a
// DefinitionError or an EvaluationError and logs it. Neither reaches the caller.
func ErrorDiagnostics(logger *slog.Logger) conditions.Diagnostics {
	return &errorDiagnostics{logger: logger.With("module", "conditions")}
}

func (d *errorDiagnostics) Report(ctx context.Context, diagnostic conditions.Diagnostic) {
	d.logger.WarnContext(ctx, "Condition evaluated false",
		"kind", diagnostic.Kind,
		"error", classify(diagnostic))
}

func classify(diagnostic conditions.Diagnostic) error {
	if diagnostic.Kind == conditions.MalformedOperator {
		return &DefinitionError{
			Detail: fmt.Sprintf("condition on %q: %s", diagnostic.Condition.Field, diagnostic.Detail),
		}
	}

	return &EvaluationError{
		Field:    diagnostic.Condition.Field,
		Operator: diagnostic.Condition.Operator,
		Detail:   diagnostic.Detail,
	}
}
