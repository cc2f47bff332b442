package delay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/models"
)

// ResumeHandler is called once per claimed task.
type ResumeHandler func(ctx context.Context, task models.ResumeTask) error

// RetryBackoff is how long a task whose handler failed waits before it is due again.
const RetryBackoff = 30 * time.Second

// Poller periodically claims due tasks from a Queue and hands them to a handler.
// A task whose handler fails is put back RetryBackoff after the failure.
type Poller struct {
	queue    Queue
	logger   *slog.Logger
	interval time.Duration
	batch    int
	now      func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewPoller creates a poller. interval defaults to one second, batch to 100.
func NewPoller(logger *slog.Logger, queue Queue, interval time.Duration, batch int) *Poller {
	if interval <= 0 {
		interval = time.Second
	}

	if batch <= 0 {
		batch = 100
	}

	return &Poller{
		queue:    queue,
		logger:   logger.With("module", "delay_poller"),
		interval: interval,
		batch:    batch,
		now:      time.Now,
	}
}

// Start runs the poll loop in the background until Stop or ctx cancellation.
func (p *Poller) Start(ctx context.Context, handler ResumeHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.started = true
	p.wg.Add(1)

	go p.loop(ctx, handler)

	p.logger.InfoContext(ctx, "Delay poller started", "interval", p.interval)
}

// Stop halts the poll loop and waits for an in-flight batch to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()

		return
	}

	p.cancel()
	p.started = false
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Delay poller stopped")
}

func (p *Poller) loop(ctx context.Context, handler ResumeHandler) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx, handler)
		}
	}
}

// Poll processes one batch of due tasks and returns how many were handled successfully.
func (p *Poller) Poll(ctx context.Context, handler ResumeHandler) int {
	tasks, err := p.queue.Due(ctx, p.now().UTC(), p.batch)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to read due resume tasks", "error", err)

		return 0
	}

	handled := 0

	for _, task := range tasks {
		claimed, err := p.queue.Claim(ctx, task)
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to claim resume task", "task", task.Key(), "error", err)

			continue
		}

		if !claimed {
			continue
		}

		err = handler(ctx, task)
		if err != nil {
			p.logger.ErrorContext(ctx, "Resume handler failed, requeueing",
				"execution_id", task.ExecutionID,
				"step_order", task.StepOrder,
				"error", err)

			retryAt := p.now().UTC().Add(RetryBackoff)

			requeueErr := p.queue.ScheduleResume(context.WithoutCancel(ctx), task.ExecutionID, task.StepOrder, retryAt)
			if requeueErr != nil {
				p.logger.ErrorContext(ctx, "Failed to requeue resume task", "task", task.Key(), "error", requeueErr)
			}

			continue
		}

		handled++
	}

	return handled
}
