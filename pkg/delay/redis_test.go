package delay_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/delay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupRedis(t *testing.T) (*delay.RedisQueue, context.Context) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)

	endpoint, err := container.Endpoint(ctx, "redis")
	require.NoError(t, err)

	queue, err := delay.NewRedisQueue(ctx, testLogger(), endpoint, "crmflow:test:resume")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = queue.Close()
		_ = container.Terminate(context.Background())

		cancel()
	})

	return queue, ctx
}

func TestRedisQueue(t *testing.T) {
	queue, ctx := setupRedis(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, queue.ScheduleResume(ctx, "exec-1", 10, now.Add(-time.Minute)))
	require.NoError(t, queue.ScheduleResume(ctx, "exec-2", 20, now.Add(time.Hour)))
	require.NoError(t, queue.ScheduleResume(ctx, "exec-1", 10, now.Add(-time.Minute)))

	size, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)

	due, err := queue.Due(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "exec-1", due[0].ExecutionID)
	assert.Equal(t, 10, due[0].StepOrder)
	assert.True(t, now.Add(-time.Minute).Equal(due[0].ResumeAt))

	claimed, err := queue.Claim(ctx, due[0])
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = queue.Claim(ctx, due[0])
	require.NoError(t, err)
	assert.False(t, claimed)

	due, err = queue.Due(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "exec-2", due[0].ExecutionID)
}
