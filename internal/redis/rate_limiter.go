package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter allows or denies requests using a sliding-window count in Redis.
// The window is shared by every process using the same key, which is what
// keeps several operators from hammering one hosting panel together.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Limit() int
	Window() time.Duration
}

type slidingWindowLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRateLimiter returns a Redis-backed sliding-window rate limiter.
// limit is the maximum number of events allowed per window for a given key.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration) RateLimiter {
	return &slidingWindowLimiter{client: client, limit: limit, window: window}
}

func (r *slidingWindowLimiter) Limit() int            { return r.limit }
func (r *slidingWindowLimiter) Window() time.Duration { return r.window }

// Allow returns true when the request is within the allowed rate, false when
// it should be rejected.  It uses a Redis sorted set as a timestamp ring buffer.
func (r *slidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now().UnixNano()
	windowStart := now - r.window.Nanoseconds()
	rkey := "mailherd:ratelimit:" + key

	pipe := r.client.TxPipeline()
	// Evict timestamps that fell outside the window.
	pipe.ZRemRangeByScore(ctx, rkey, "0", strconv.FormatInt(windowStart, 10))
	// Record this event with the current nanosecond timestamp as both score and member.
	pipe.ZAdd(ctx, rkey, redis.Z{Score: float64(now), Member: strconv.FormatInt(now, 10)})
	// Count events still in the window.
	countCmd := pipe.ZCard(ctx, rkey)
	// Keep the key alive for at least one more window.
	pipe.Expire(ctx, rkey, r.window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limiter pipeline for %q: %w", key, err)
	}

	return countCmd.Val() <= int64(r.limit), nil
}

// APILimiter turns the allow/deny answer into the blocking Wait the panel
// clients expect. A denied attempt still records an event in the window, so
// the retry pause must cover a full window or the waiter starves itself.
type APILimiter struct {
	limiter RateLimiter
	key     string
	pause   time.Duration
	logger  *slog.Logger
}

// NewAPILimiter wraps limiter for calls tagged with key. The retry pause is
// the limiter's window.
func NewAPILimiter(limiter RateLimiter, key string, logger *slog.Logger) *APILimiter {
	return &APILimiter{
		limiter: limiter,
		key:     key,
		pause:   limiter.Window(),
		logger:  logger,
	}
}

// Wait blocks until the limiter admits the call or ctx is done.
func (l *APILimiter) Wait(ctx context.Context) error {
	for {
		allowed, err := l.limiter.Allow(ctx, l.key)
		if err != nil {
			// Allow on limiter failure so Redis issues never stall panel calls.
			l.logger.Error("rate limiter error, allowing call", slog.String("error", err.Error()))
			return nil
		}
		if allowed {
			return nil
		}
		l.logger.Debug("rate limited, pausing",
			slog.String("key", l.key),
			slog.Duration("pause", l.pause))
		select {
		case <-time.After(l.pause):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
