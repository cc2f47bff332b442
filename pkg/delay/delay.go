// Package delay hands suspended executions to a durable timer and brings them back when due.
package delay

import (
	"context"
	"errors"
	"time"

	"github.com/dukex/crmflow/pkg/models"
)

// ErrQueueClosed is returned by queue operations after Close.
var ErrQueueClosed = errors.New("delay queue closed")

// Scheduler is the hand-off the orchestrator uses when a step has a delay.
type Scheduler interface {
	// ScheduleResume records that (executionID, stepOrder) must be re-entered at or
	// after resumeAt. Scheduling the same pair again replaces the earlier entry.
	ScheduleResume(ctx context.Context, executionID string, stepOrder int, resumeAt time.Time) error
}

// Queue is a durable timer: a Scheduler that can also list and claim due tasks.
type Queue interface {
	Scheduler

	// Due returns at most limit tasks whose resume time is not after now, earliest first.
	Due(ctx context.Context, now time.Time, limit int) ([]models.ResumeTask, error)
	// Claim removes task from the queue; false means another poller claimed it first.
	Claim(ctx context.Context, task models.ResumeTask) (bool, error)
	Close() error
}

// ResumeAt computes when a step delayed by delayMinutes becomes runnable.
func ResumeAt(base time.Time, delayMinutes int) time.Time {
	if delayMinutes <= 0 {
		return base
	}

	return base.Add(time.Duration(delayMinutes) * time.Minute)
}
