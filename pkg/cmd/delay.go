package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/crmflow/pkg/delay"
)

// NewDelayQueue picks the delay queue from the URL scheme: redis:// or memory://.
func NewDelayQueue(ctx context.Context, logger *slog.Logger, url string) (delay.Queue, error) {
	provider, _ := parseProvider(url)

	switch provider {
	case "redis", "rediss":
		return delay.NewRedisQueue(ctx, logger, url, delay.DefaultRedisKey)
	case "memory":
		logger.WarnContext(ctx, "Using in-memory delay queue; pending resumes are lost on restart")

		return delay.NewMemoryQueue(), nil
	default:
		return nil, fmt.Errorf("delay queue %q: %w", provider, ErrUnsupportedProvider)
	}
}
