package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/platform/retry"
)

// NewClient creates a Redis client from a URL (e.g. "redis://localhost:6379")
// and verifies the connection, retrying transient failures during startup.
func NewClient(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)

	policy := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Redis ping failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	if err := retry.DoVoid(ctx, policy, nil, func() error { return rdb.Ping(ctx).Err() }); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return rdb, nil
}
