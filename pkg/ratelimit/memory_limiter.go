package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryRateLimiter implements RateLimiter in process, one token bucket per
// client and category.
type MemoryRateLimiter struct {
	config   *Config
	mu       sync.Mutex
	limiters map[string]*KeyedLimiter // category -> buckets
	total    atomic.Int64
	blocked  atomic.Int64
}

// NewMemoryRateLimiter creates a new in-memory rate limiter
func NewMemoryRateLimiter(config *Config) *MemoryRateLimiter {
	if config == nil {
		config = DefaultConfig()
	}
	return &MemoryRateLimiter{
		config:   config,
		limiters: make(map[string]*KeyedLimiter),
	}
}

func (r *MemoryRateLimiter) Allow(_ context.Context, clientID string, category string) (bool, time.Duration, error) {
	if !r.config.Enabled {
		return true, 0, nil
	}
	r.total.Add(1)

	allowed, wait := r.limiterFor(category).Allow(clientID)
	if !allowed {
		r.blocked.Add(1)
	}
	return allowed, wait, nil
}

func (r *MemoryRateLimiter) limiterFor(category string) *KeyedLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[category]; ok {
		return l
	}
	limit := r.config.Limit(category)
	interval := time.Minute
	if limit.RequestsPerMinute > 0 {
		interval = time.Minute / time.Duration(limit.RequestsPerMinute)
	}
	l := NewKeyedLimiter(interval, limit.BurstSize)
	r.limiters[category] = l
	return l
}

func (r *MemoryRateLimiter) Limit(category string) RateLimit {
	return r.config.Limit(category)
}

func (r *MemoryRateLimiter) GetStats() RateLimiterStats {
	r.mu.Lock()
	active := 0
	for _, l := range r.limiters {
		active += l.Len()
	}
	r.mu.Unlock()

	return RateLimiterStats{
		TotalRequests:   r.total.Load(),
		BlockedRequests: r.blocked.Load(),
		ActiveClients:   active,
	}
}

// Sweep drops buckets idle longer than the configured IdleTTL.
func (r *MemoryRateLimiter) Sweep(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	removed := 0
	for _, l := range r.limiters {
		removed += l.Sweep(now, r.config.IdleTTL)
	}
	return removed, nil
}
