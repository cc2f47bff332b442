package delay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	redis "github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the sorted set holding pending resume tasks.
const DefaultRedisKey = "crmflow:resume"

// RedisQueue keeps resume tasks in a sorted set scored by resume time in Unix
// milliseconds. The member is the task key, so rescheduling a task moves it.
type RedisQueue struct {
	client redis.UniversalClient
	key    string
	logger *slog.Logger
}

// NewRedisQueue connects to the redis:// URL and checks the connection.
func NewRedisQueue(ctx context.Context, logger *slog.Logger, url string, key string) (*RedisQueue, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return NewRedisQueueFromClient(logger, client, key), nil
}

// NewRedisQueueFromClient wraps an existing client.
func NewRedisQueueFromClient(logger *slog.Logger, client redis.UniversalClient, key string) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}

	return &RedisQueue{
		client: client,
		key:    key,
		logger: logger.With("module", "delay_queue"),
	}
}

func (q *RedisQueue) ScheduleResume(ctx context.Context, executionID string, stepOrder int, resumeAt time.Time) error {
	task := models.ResumeTask{ExecutionID: executionID, StepOrder: stepOrder}

	err := q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(resumeAt.UnixMilli()),
		Member: task.Key(),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule resume of %s: %w", task.Key(), err)
	}

	q.logger.DebugContext(ctx, "Scheduled resume", "task", task.Key(), "resume_at", resumeAt)

	return nil
}

func (q *RedisQueue) Due(ctx context.Context, now time.Time, limit int) ([]models.ResumeTask, error) {
	query := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	if limit > 0 {
		query.Count = int64(limit)
	}

	entries, err := q.client.ZRangeByScoreWithScores(ctx, q.key, query).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read due resume tasks: %w", err)
	}

	tasks := make([]models.ResumeTask, 0, len(entries))

	for _, entry := range entries {
		member, ok := entry.Member.(string)
		if !ok {
			continue
		}

		executionID, stepOrder, err := models.ParseResumeKey(member)
		if err != nil {
			q.logger.WarnContext(ctx, "Dropping malformed resume task", "member", member, "error", err)
			_ = q.client.ZRem(ctx, q.key, member).Err()

			continue
		}

		tasks = append(tasks, models.ResumeTask{
			ExecutionID: executionID,
			StepOrder:   stepOrder,
			ResumeAt:    time.UnixMilli(int64(entry.Score)).UTC(),
		})
	}

	return tasks, nil
}

func (q *RedisQueue) Claim(ctx context.Context, task models.ResumeTask) (bool, error) {
	removed, err := q.client.ZRem(ctx, q.key, task.Key()).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim resume task %s: %w", task.Key(), err)
	}

	return removed == 1, nil
}

// Len returns the number of pending tasks.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}

func (q *RedisQueue) Close() error {
	err := q.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	return nil
}
