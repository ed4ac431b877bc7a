package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisRateLimitPrefix = "medledger:ratelimit:"

// fixedWindowScript increments the counter and sets its expiry in one step.
// A counter found without a TTL gets one, so a key can never outlive its
// window.
var fixedWindowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// RedisLimiter counts requests per key in fixed windows kept in Redis, so
// replicas behind a load balancer share one budget per caller.
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = time.Second
	}
	return &RedisLimiter{client: client, limit: int64(limit), window: window}
}

// Allow increments the window counter and returns whether key is still under
// the limit, with the seconds left in the window when it is not.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	res, err := fixedWindowScript.Run(ctx, l.client,
		[]string{redisRateLimitPrefix + key}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis rate limit: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("redis rate limit: unexpected reply %v", res)
	}
	n, ttl := res[0], time.Duration(res[1])*time.Millisecond
	if n <= l.limit {
		return true, 0, nil
	}
	if ttl <= 0 {
		return false, 1, nil
	}
	return false, int((ttl + time.Second - 1) / time.Second), nil
}

// Limit returns the number of requests allowed per window.
func (l *RedisLimiter) Limit() int64 { return l.limit }
