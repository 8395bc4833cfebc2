// Package ratelimit implements the fixed-window request limiter backing
// mcp.security.rate_limiting (§6.5): global_per_minute and
// execute_task_per_minute.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCommander is the subset of *redis.Client's method set Limiter needs,
// narrowed out so tests can supply a fake without a live Redis server.
type redisCommander interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Limiter is a Redis-backed fixed-window counter: each (key, window) pair
// gets one INCR'd counter that expires at the end of its window, the same
// client and TTL-on-first-write idiom the Streaming Session Layer's
// RedisEventStore uses for stream trimming.
type Limiter struct {
	client redisCommander
	prefix string
}

func NewLimiter(client *redis.Client, prefix string) *Limiter {
	if prefix == "" {
		prefix = "jobforge:ratelimit:"
	}
	return &Limiter{client: client, prefix: prefix}
}

// Allow reports whether one more request against key is permitted within
// limit per window, atomically incrementing the counter either way. The
// window starts on the first request after the previous one expired, so
// bursts align to request arrival, not wall-clock minute boundaries.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	redisKey := l.prefix + key

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: incr %s: %w", key, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, window).Err(); err != nil {
			return false, fmt.Errorf("ratelimit: expire %s: %w", key, err)
		}
	}
	return count <= int64(limit), nil
}

// Remaining returns how many requests key may still make in its current
// window, for surfacing as a response header.
func (l *Limiter) Remaining(ctx context.Context, key string, limit int) (int, error) {
	count, err := l.client.Get(ctx, l.prefix+key).Int64()
	if err != nil {
		if err == redis.Nil {
			return limit, nil
		}
		return 0, fmt.Errorf("ratelimit: get %s: %w", key, err)
	}
	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}
	return int(remaining), nil
}
