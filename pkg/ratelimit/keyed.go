package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedLimiter keeps one token bucket per key.
type KeyedLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyedLimiter allows one event per interval per key with the given burst.
// A zero interval disables limiting.
func NewKeyedLimiter(interval time.Duration, burst int) *KeyedLimiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	if burst < 1 {
		burst = 1
	}
	return &KeyedLimiter{
		limit:   limit,
		burst:   burst,
		entries: make(map[string]*keyedEntry),
	}
}

// AllowAt reports whether an event for key may happen at now. When it may not,
// the returned duration is how long until the next token.
func (k *KeyedLimiter) AllowAt(key string, now time.Time) (bool, time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry, ok := k.entries[key]
	if !ok {
		entry = &keyedEntry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.entries[key] = entry
	}
	entry.lastSeen = now

	if entry.limiter.AllowN(now, 1) {
		return true, 0
	}
	r := entry.limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

func (k *KeyedLimiter) Allow(key string) (bool, time.Duration) {
	return k.AllowAt(key, time.Now())
}

// Forget drops the bucket for key.
func (k *KeyedLimiter) Forget(key string) {
	k.mu.Lock()
	delete(k.entries, key)
	k.mu.Unlock()
}

// Sweep drops buckets unused for longer than idle and returns how many were removed.
func (k *KeyedLimiter) Sweep(now time.Time, idle time.Duration) int {
	k.mu.Lock()
	defer k.mu.Unlock()

	removed := 0
	for key, entry := range k.entries {
		if now.Sub(entry.lastSeen) > idle {
			delete(k.entries, key)
			removed++
		}
	}
	return removed
}

func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
