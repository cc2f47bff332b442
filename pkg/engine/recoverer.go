package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"golang.org/x/sync/errgroup"
)

// Resumer re-enters an execution at a step order.
type Resumer interface {
	Resume(ctx context.Context, executionID string, stepOrder int) error
}

// Recoverer re-enters executions nobody has advanced for a while: runs interrupted by a
// crash, a lost hand-off event, or a lost delay schedule.
type Recoverer struct {
	logger      *slog.Logger
	executions  persistence.ExecutionRepository
	resumer     Resumer
	stallAfter  time.Duration
	concurrency int
	now         func() time.Time
}

func NewRecoverer(logger *slog.Logger, executions persistence.ExecutionRepository, resumer Resumer, config Config) *Recoverer {
	return &Recoverer{
		logger:      logger.With("module", "recoverer"),
		executions:  executions,
		resumer:     resumer,
		stallAfter:  config.StallAfter,
		concurrency: max(config.Concurrency, 1),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Recover re-enters every stalled execution at its persisted cursor and returns how many
// it re-entered. Executions waiting on a delay are left alone until the delay has been
// overdue for a stall window.
func (r *Recoverer) Recover(ctx context.Context) (int, error) {
	now := r.now()
	cutoff := now.Add(-r.stallAfter)

	var stalled []*models.WorkflowExecution

	for _, status := range []models.ExecutionStatus{models.ExecutionPending, models.ExecutionRunning} {
		executions, err := r.executions.StalledExecutions(ctx, status, cutoff)
		if err != nil {
			return 0, err
		}

		stalled = append(stalled, executions...)
	}

	var resumed atomic.Int64

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.concurrency)

	for _, execution := range stalled {
		waiting, err := r.waitingOnDelay(groupCtx, execution, now)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to inspect stalled execution", "execution_id", execution.ID, "error", err)

			continue
		}

		if waiting {
			continue
		}

		group.Go(func() error {
			err := r.resumer.Resume(groupCtx, execution.ID, execution.CurrentStep)
			if err != nil {
				r.logger.ErrorContext(groupCtx, "Failed to resume stalled execution", "execution_id", execution.ID, "error", err)

				return nil
			}

			resumed.Add(1)

			return nil
		})
	}

	err := group.Wait()

	if count := resumed.Load(); count > 0 {
		r.logger.InfoContext(ctx, "Recovered stalled executions", "count", count, "stalled", len(stalled))
	}

	return int(resumed.Load()), err
}

func (r *Recoverer) waitingOnDelay(ctx context.Context, execution *models.WorkflowExecution, now time.Time) (bool, error) {
	stepExecution, err := r.executions.StepExecution(ctx, execution.ID, execution.CurrentStep)
	if err != nil {
		if persistence.IsStepExecutionNotFound(err) {
			return false, nil
		}

		return false, err
	}

	// A delayed step is due at ResumeAt and belongs to the delay poller until it has
	// been overdue for a whole stall window.
	return stepExecution.Status == models.StepPending &&
		stepExecution.ResumeAt != nil &&
		stepExecution.ResumeAt.Add(r.stallAfter).After(now), nil
}

// Run calls Recover every interval until ctx is cancelled.
func (r *Recoverer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := r.Recover(ctx)
			if err != nil {
				r.logger.ErrorContext(ctx, "Recovery pass failed", "error", err)
			}
		}
	}
}
