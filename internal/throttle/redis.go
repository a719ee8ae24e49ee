package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "auth:ratelimit:"

// RedisLimiter is a fixed-window counter shared by every replica. Each key
// gets one counter per window; the counter expires when its window ends.
type RedisLimiter struct {
	client redis.Cmdable
	limit  int64
	window time.Duration
}

// NewRedisLimiter allows limit requests per window for each key.
func NewRedisLimiter(client redis.Cmdable, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: int64(limit), window: window}
}

// Allow increments the key's counter. Once the counter passes the limit the
// remaining window length is returned as the retry delay. The increment and
// the first-hit expiry run in one MULTI, so a counter never outlives its
// window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := redisKeyPrefix + key

	var (
		incr *redis.IntCmd
		pttl *redis.DurationCmd
	)
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.ExpireNX(ctx, k, l.window)
		pttl = p.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("rate limit counter: %w", err)
	}

	if incr.Val() <= l.limit {
		return true, 0, nil
	}
	remaining := pttl.Val()
	if remaining <= 0 {
		remaining = l.window
	}
	return false, remaining, nil
}
