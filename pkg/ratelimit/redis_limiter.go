package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// fixedWindow counts requests in the current window and rejects past burst.
var fixedWindow = redis.NewScript(`
local key = KEYS[1]
local burst_size = tonumber(ARGV[1])
local window_size = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local count = tonumber(redis.call('HGET', key, 'count')) or 0
local window_start = tonumber(redis.call('HGET', key, 'window_start')) or now

if now - window_start >= window_size then
	count = 0
	window_start = now
end

local allowed = count < burst_size
if allowed then
	count = count + 1
end

local reset_ms = 0
if not allowed then
	reset_ms = (window_start + window_size) - now
end

redis.call('HSET', key, 'count', count, 'window_start', window_start)
redis.call('PEXPIRE', key, window_size + 1000)

if allowed then
	return {1, reset_ms}
end
return {0, reset_ms}
`)

// RedisRateLimiter implements RateLimiter using Redis as the backend, so limits
// hold across server instances.
type RedisRateLimiter struct {
	client  *redis.Client
	config  *Config
	total   atomic.Int64
	blocked atomic.Int64
}

// NewRedisRateLimiter creates a new Redis-backed rate limiter
func NewRedisRateLimiter(client *redis.Client, config *Config) *RedisRateLimiter {
	if config == nil {
		config = DefaultConfig()
	}
	return &RedisRateLimiter{
		client: client,
		config: config,
	}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, clientID string, category string) (bool, time.Duration, error) {
	if !r.config.Enabled {
		return true, 0, nil
	}
	r.total.Add(1)

	limit := r.config.Limit(category)
	key := fmt.Sprintf("%s%s:%s", r.config.RedisKeyPrefix, category, clientID)

	result, err := fixedWindow.Run(ctx, r.client, []string{key},
		limit.BurstSize,
		limit.WindowSize.Milliseconds(),
		time.Now().UnixMilli(),
	).Int64Slice()
	if err != nil {
		return false, 0, errors.Wrap(err, "rate limit check failed")
	}
	if len(result) != 2 {
		return false, 0, errors.New("unexpected script result format")
	}

	if result[0] != 1 {
		r.blocked.Add(1)
		return false, time.Duration(result[1]) * time.Millisecond, nil
	}
	return true, 0, nil
}

func (r *RedisRateLimiter) Limit(category string) RateLimit {
	return r.config.Limit(category)
}

func (r *RedisRateLimiter) GetStats() RateLimiterStats {
	return RateLimiterStats{
		TotalRequests:   r.total.Load(),
		BlockedRequests: r.blocked.Load(),
	}
}
