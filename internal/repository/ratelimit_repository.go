package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitRepository implements fixed-window counters in Redis.
type RateLimitRepository struct {
	client redis.UniversalClient
	prefix string
}

// NewRateLimitRepository constructs a limiter. A nil client allows everything.
func NewRateLimitRepository(client redis.UniversalClient, prefix string) *RateLimitRepository {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RateLimitRepository{client: client, prefix: prefix}
}

// Allow counts one delivery for key in the current fixed window. When the
// limit is reached it reports false together with the time left until the
// window resets; the refused call is not counted, so postponed deliveries do
// not push the window's counter further up.
//
// The window is started with PTTL + EXPIRE rather than EXPIRE NX so Redis
// versions before 7.0 are supported.
func (r *RateLimitRepository) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	if r.client == nil || limit <= 0 {
		return true, 0, nil
	}
	redisKey := r.prefix + ":" + key

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", key, err)
	}

	remaining := pttl.Val()
	if remaining < 0 {
		if err := r.client.PExpire(ctx, redisKey, window).Err(); err != nil {
			return false, 0, fmt.Errorf("rate limit %s: start window: %w", key, err)
		}
		remaining = window
	}
	if incr.Val() <= int64(limit) {
		return true, 0, nil
	}
	if err := r.client.Decr(ctx, redisKey).Err(); err != nil {
		return false, 0, fmt.Errorf("rate limit %s: refund: %w", key, err)
	}
	return false, remaining, nil
}
