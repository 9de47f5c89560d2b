// Package ratelimit implements per-key token buckets driven by an injected
// clock, so the same limiter works against wall time and simulated time.
package ratelimit

import (
	"sync"
	"time"

	"grimm.is/leasenet/internal/clock"
)

// Limiter manages rate limiting for multiple keys.
type Limiter struct {
	clock    clock.Clock
	limit    int
	interval time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

// bucket is refilled in full once interval has elapsed since lastFill.
type bucket struct {
	tokens   int
	lastFill time.Time
}

// NewLimiter creates a limiter allowing limit requests per interval for
// each key.
func NewLimiter(clk clock.Clock, limit int, interval time.Duration) *Limiter {
	return &Limiter{
		clock:    clk,
		limit:    limit,
		interval: interval,
		buckets:  make(map[string]*bucket),
	}
}

// Allow checks if a request for the given key is allowed and consumes a
// token if so.
func (l *Limiter) Allow(key string) bool {
	return l.AllowN(key, 1)
}

// AllowN checks if n requests are allowed.
func (l *Limiter) AllowN(key string, n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.fill(key)
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

func (l *Limiter) fill(key string) *bucket {
	now := l.clock.Now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.limit, lastFill: now}
		l.buckets[key] = b
		return b
	}
	if now.Sub(b.lastFill) >= l.interval {
		b.tokens = l.limit
		b.lastFill = now
	}
	return b
}

// Reset clears rate limit for a specific key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// CleanupExpired removes buckets that haven't been refilled within maxAge.
// Returns the number removed.
func (l *Limiter) CleanupExpired(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastFill) > maxAge {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
