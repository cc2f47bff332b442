// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrDefinitionNotFound indicates a workflow definition was not found by the given identifier.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrExecutionNotFound indicates a workflow execution was not found.
	ErrExecutionNotFound = errors.New("workflow execution not found")

	// ErrStepExecutionNotFound indicates no step execution exists for the execution and step order.
	ErrStepExecutionNotFound = errors.New("step execution not found")

	// ErrExecutionAlreadyExists indicates an execution with the same identifier already exists.
	ErrExecutionAlreadyExists = errors.New("workflow execution already exists")

	// ErrVersionConflict indicates the row was advanced by someone else since it was read.
	ErrVersionConflict = errors.New("version conflict")
)

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string // Operation being performed (e.g., "SaveProgress", "ExecutionByID")
	ExecutionID string
	StepOrder   *int
	Err         error
}

func (e *ExecutionError) Error() string {
	if e.StepOrder != nil {
		return fmt.Sprintf("%s operation failed for execution %s step %d: %v", e.Op, e.ExecutionID, *e.StepOrder, e.Err)
	}

	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// NewStepExecutionError creates a new execution error scoped to one step order.
func NewStepExecutionError(op, executionID string, stepOrder int, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, StepOrder: &stepOrder, Err: err}
}

// DefinitionError wraps definition-related errors with additional context.
type DefinitionError struct {
	Op           string
	DefinitionID string
	Err          error
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow definition %s: %v", e.Op, e.DefinitionID, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// NewDefinitionError creates a new definition error with context.
func NewDefinitionError(op, definitionID string, err error) *DefinitionError {
	return &DefinitionError{Op: op, DefinitionID: definitionID, Err: err}
}

// IsDefinitionNotFound checks if an error indicates a definition was not found.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsVersionConflict checks if an error indicates a lost optimistic-concurrency race.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsStepExecutionNotFound checks if an error indicates a step execution was not found.
func IsStepExecutionNotFound(err error) bool {
	return errors.Is(err, ErrStepExecutionNotFound)
}
