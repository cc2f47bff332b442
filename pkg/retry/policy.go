// Package retry decides what happens to a step whose action failed.
package retry

import (
	"context"
	"time"

	"github.com/dukex/crmflow/pkg/models"
)

// DefaultMaxRetries is the number of re-invocations allowed after the first failure.
const DefaultMaxRetries = 3

// Decision is the outcome of a failed attempt.
type Decision int

const (
	Retry Decision = iota
	GiveUp
)

func (d Decision) String() string {
	switch d {
	case Retry:
		return "retry"
	case GiveUp:
		return "give_up"
	default:
		return "unknown"
	}
}

// Disposition says what a given-up step does to the rest of its execution.
type Disposition int

const (
	// ContinueExecution advances to the next step; the execution can end partially completed.
	ContinueExecution Disposition = iota
	// FailExecution marks the execution failed and stops it.
	FailExecution
)

// Policy is a bounded retry policy with an optional fixed delay between attempts.
type Policy struct {
	MaxRetries int
	Delay      time.Duration
}

// New returns a policy; negative values are clamped to zero.
func New(maxRetries int, delay time.Duration) Policy {
	return Policy{
		MaxRetries: max(maxRetries, 0),
		Delay:      max(delay, 0),
	}
}

// Default returns the policy used when nothing is configured: three immediate retries.
func Default() Policy {
	return New(DefaultMaxRetries, 0)
}

// OnStepFailure decides whether the failed attempt recorded in stepExecution is retried.
// The caller increments RetryCount when the decision is Retry, so RetryCount on a
// given-up step equals MaxRetries.
func (p Policy) OnStepFailure(stepExecution *models.WorkflowStepExecution, _ models.WorkflowStep) Decision {
	if stepExecution.RetryCount < p.MaxRetries {
		return Retry
	}

	return GiveUp
}

// AfterGiveUp maps the step's continue-on-error flag onto the execution.
func (p Policy) AfterGiveUp(step models.WorkflowStep) Disposition {
	if step.ContinueOnError {
		return ContinueExecution
	}

	return FailExecution
}

// MaxAttempts is the number of action invocations a step can receive.
func (p Policy) MaxAttempts() int {
	return p.MaxRetries + 1
}

// Wait blocks for the configured delay, returning early with the context's error.
func (p Policy) Wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(p.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
