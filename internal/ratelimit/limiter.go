// Package ratelimit implements the inbound request gate: fixed-window
// counters in Redis keyed by client IP. Mutating endpoints sit behind it;
// exceeding the budget yields 429 before the handler body runs.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds gate tuning parameters.
type Config struct {
	Enabled bool
	Max     int
	Window  time.Duration
}

// Limiter enforces a per-IP request budget using Redis counters.
// Fixed-window: INCR + EXPIRE on first hit.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Limiter backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{redis: redisClient, config: cfg}
}

// Allow records one request for the IP and reports whether it is within
// budget. A Redis failure fails open: the gate protects availability of the
// handlers behind it, it is not a correctness boundary.
func (l *Limiter) Allow(ctx context.Context, ip string) (bool, error) {
	if !l.config.Enabled || ip == "" {
		return true, nil
	}

	key := ipKey(ip)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return true, fmt.Errorf("gate incr: %w", err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return true, fmt.Errorf("gate expire: %w", err)
		}
	}
	if count > int64(l.config.Max) {
		return false, nil
	}
	return true, nil
}

// Remaining returns the requests left in the current window for an IP.
// Missing keys report the full budget.
func (l *Limiter) Remaining(ctx context.Context, ip string) (int, error) {
	if !l.config.Enabled {
		return l.config.Max, nil
	}
	count, err := l.redis.Get(ctx, ipKey(ip)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return l.config.Max, nil
		}
		return 0, err
	}
	left := l.config.Max - int(count)
	if left < 0 {
		left = 0
	}
	return left, nil
}

func ipKey(ip string) string { return "gate:ip:" + ip }
