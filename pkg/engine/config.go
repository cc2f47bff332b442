package engine

import (
	"time"

	"github.com/dukex/crmflow/pkg/retry"
)

// Config holds the orchestration knobs the binaries expose as flags.
type Config struct {
	// MaxRetries bounds re-invocations of a failed step.
	MaxRetries int
	// RetryDelay is the fixed wait between attempts; zero retries immediately.
	RetryDelay time.Duration
	// ActionTimeout bounds one action invocation. Zero disables the bound.
	ActionTimeout time.Duration
	// ConflictRetries is how many times a lost optimistic-concurrency race is retried
	// after reloading state.
	ConflictRetries int
	// StallAfter is how long a non-terminal execution may go without a write before
	// the Recoverer re-enters it.
	StallAfter time.Duration
	// Concurrency bounds the executions the Recoverer re-enters at once.
	Concurrency int
}

// leaseGrace covers the bookkeeping writes around one action attempt.
const leaseGrace = 5 * time.Second

func DefaultConfig() Config {
	return Config{
		MaxRetries:      retry.DefaultMaxRetries,
		RetryDelay:      0,
		ActionTimeout:   30 * time.Second,
		ConflictRetries: 3,
		StallAfter:      15 * time.Minute,
		Concurrency:     4,
	}
}

// RetryPolicy builds the step retry policy from the config.
func (c Config) RetryPolicy() retry.Policy {
	return retry.New(c.MaxRetries, c.RetryDelay)
}

// StepLease is how long a running step stays claimed by the worker that last wrote it.
// Every attempt and every retry rewrites the step, so a live worker never lets it lapse.
// Without an action timeout the claim lasts as long as the stall window.
func (c Config) StepLease() time.Duration {
	if c.ActionTimeout <= 0 {
		return c.StallAfter
	}

	return c.ActionTimeout + c.RetryDelay + leaseGrace
}
