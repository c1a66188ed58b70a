// Package ratelimit provides Redis-backed sliding-window rate limiters.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderLimiter caps mirror-order submissions per session using a sliding
// window over a Redis sorted set. The window survives restarts and is
// shared across instances.
type OrderLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
	logger *zap.Logger
}

// NewOrderLimiter creates a limiter allowing `limit` orders per window.
func NewOrderLimiter(rdb *redis.Client, limit int64, window time.Duration, logger *zap.Logger) *OrderLimiter {
	return &OrderLimiter{
		redis:  rdb,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

// Allow reports whether the session may submit another order now. It
// only inspects the window; the budget is consumed by Record, so a trade
// that never reaches the venue costs nothing.
func (l *OrderLimiter) Allow(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	redisKey := orderKey(sessionID)
	windowStart := time.Now().Add(-l.window)

	pipe := l.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCount(ctx, redisKey, fmt.Sprintf("%d", windowStart.UnixNano()), "+inf")

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := countCmd.Val()
	if count >= l.limit {
		l.logger.Warn("session order rate limit hit",
			zap.String("session_id", sessionID.String()),
			zap.Int64("limit", l.limit),
			zap.Duration("window", l.window),
		)
		return false, nil
	}
	return true, nil
}

// Record books one submitted order against the session's window. Callers
// invoke it only when an order is actually submitted.
func (l *OrderLimiter) Record(ctx context.Context, sessionID uuid.UUID) error {
	redisKey := orderKey(sessionID)
	now := time.Now()

	pipe := l.redis.Pipeline()
	pipe.ZAdd(ctx, redisKey, &redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	pipe.Expire(ctx, redisKey, l.window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rate limit record failed: %w", err)
	}
	return nil
}

func orderKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("ratelimit:orders:%s", sessionID)
}
