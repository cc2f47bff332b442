package delay_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/delay"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResumeAt(t *testing.T) {
	occurredAt := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, occurredAt.Add(60*time.Minute), delay.ResumeAt(occurredAt, 60))
	assert.Equal(t, occurredAt, delay.ResumeAt(occurredAt, 0))
	assert.Equal(t, occurredAt, delay.ResumeAt(occurredAt, -5))
}

func TestMemoryQueue(t *testing.T) {
	ctx := context.Background()
	queue := delay.NewMemoryQueue()
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, queue.ScheduleResume(ctx, "exec-late", 1, now.Add(time.Hour)))
	require.NoError(t, queue.ScheduleResume(ctx, "exec-b", 2, now.Add(-time.Minute)))
	require.NoError(t, queue.ScheduleResume(ctx, "exec-a", 1, now.Add(-2*time.Minute)))

	// Rescheduling keeps a single entry.
	require.NoError(t, queue.ScheduleResume(ctx, "exec-b", 2, now.Add(-time.Minute)))
	assert.Len(t, queue.Pending(), 3)

	due, err := queue.Due(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "exec-a", due[0].ExecutionID)
	assert.Equal(t, "exec-b", due[1].ExecutionID)

	limited, err := queue.Due(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	claimed, err := queue.Claim(ctx, due[0])
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = queue.Claim(ctx, due[0])
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, queue.Close())

	err = queue.ScheduleResume(ctx, "exec-c", 1, now)
	assert.ErrorIs(t, err, delay.ErrQueueClosed)
}

func TestPoller_Poll(t *testing.T) {
	ctx := context.Background()
	queue := delay.NewMemoryQueue()
	past := time.Now().UTC().Add(-time.Minute)

	require.NoError(t, queue.ScheduleResume(ctx, "exec-ok", 1, past))
	require.NoError(t, queue.ScheduleResume(ctx, "exec-fail", 3, past))
	require.NoError(t, queue.ScheduleResume(ctx, "exec-future", 1, time.Now().Add(time.Hour)))

	var resumed []string

	poller := delay.NewPoller(testLogger(), queue, time.Hour, 10)
	handled := poller.Poll(ctx, func(_ context.Context, task models.ResumeTask) error {
		resumed = append(resumed, task.ExecutionID)
		if task.ExecutionID == "exec-fail" {
			return assert.AnError
		}

		return nil
	})

	assert.Equal(t, 1, handled)
	assert.ElementsMatch(t, []string{"exec-ok", "exec-fail"}, resumed)

	pending := queue.Pending()
	keys := make([]string, 0, len(pending))

	for _, task := range pending {
		keys = append(keys, task.Key())
	}

	assert.ElementsMatch(t, []string{"exec-fail#3", "exec-future#1"}, keys)

	for _, task := range pending {
		if task.ExecutionID == "exec-fail" {
			assert.True(t, task.ResumeAt.After(time.Now().Add(delay.RetryBackoff/2)), "failed task is backed off")
		}
	}

	handled = poller.Poll(ctx, func(context.Context, models.ResumeTask) error {
		t.Fatal("backed off task was retried immediately")

		return nil
	})
	assert.Zero(t, handled)
}

func TestPoller_StartStop(t *testing.T) {
	ctx := context.Background()
	queue := delay.NewMemoryQueue()
	require.NoError(t, queue.ScheduleResume(ctx, "exec-1", 10, time.Now().Add(-time.Second)))

	done := make(chan models.ResumeTask, 1)

	poller := delay.NewPoller(testLogger(), queue, 10*time.Millisecond, 10)
	poller.Start(ctx, func(_ context.Context, task models.ResumeTask) error {
		done <- task

		return nil
	})

	select {
	case task := <-done:
		assert.Equal(t, "exec-1", task.ExecutionID)
		assert.Equal(t, 10, task.StepOrder)
	case <-time.After(2 * time.Second):
		t.Fatal("resume task was not delivered")
	}

	poller.Stop()
	poller.Stop()
}
