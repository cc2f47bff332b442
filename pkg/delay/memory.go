package delay

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/models"
)

// MemoryQueue is a process-local Queue for tests and single-process development.
// Tasks do not survive a restart.
type MemoryQueue struct {
	mu     sync.Mutex
	tasks  map[string]models.ResumeTask
	closed bool
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{tasks: make(map[string]models.ResumeTask)}
}

func (q *MemoryQueue) ScheduleResume(_ context.Context, executionID string, stepOrder int, resumeAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	task := models.ResumeTask{ExecutionID: executionID, StepOrder: stepOrder, ResumeAt: resumeAt.UTC()}
	q.tasks[task.Key()] = task

	return nil
}

func (q *MemoryQueue) Due(_ context.Context, now time.Time, limit int) ([]models.ResumeTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	due := make([]models.ResumeTask, 0)

	for _, task := range q.tasks {
		if !task.ResumeAt.After(now) {
			due = append(due, task)
		}
	}

	slices.SortFunc(due, func(a, b models.ResumeTask) int {
		if c := a.ResumeAt.Compare(b.ResumeAt); c != 0 {
			return c
		}

		return cmp.Compare(a.Key(), b.Key())
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (q *MemoryQueue) Claim(_ context.Context, task models.ResumeTask) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrQueueClosed
	}

	_, ok := q.tasks[task.Key()]
	delete(q.tasks, task.Key())

	return ok, nil
}

// Pending returns a snapshot of every queued task.
func (q *MemoryQueue) Pending() []models.ResumeTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	return slices.Collect(maps.Values(q.tasks))
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true

	return nil
}
