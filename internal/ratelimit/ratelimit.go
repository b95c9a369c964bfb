// Package ratelimit caps outbound calls per upstream source with lazy-refill
// token buckets, so a burst of cache misses cannot exhaust an API quota.
package ratelimit

import (
	"sync"
	"time"

	fastpass "github.com/eugener/fastpass/internal"
)

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

// bucket is a token bucket with lazy refill (no background goroutine).
type bucket struct {
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastFill time.Time
}

func newBucket(perMinute int64, now time.Time) *bucket {
	return &bucket{
		tokens:   float64(perMinute),
		max:      float64(perMinute),
		rate:     float64(perMinute) / 60.0,
		lastFill: now,
	}
}

// refill adds tokens based on elapsed time since last refill.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.max, b.tokens+elapsed*b.rate)
	b.lastFill = now
}

// tryConsume takes one token if available.
func (b *bucket) tryConsume(now time.Time) (remaining int64, allowed bool) {
	b.refill(now)
	if b.tokens >= 1 {
		b.tokens--
		return int64(b.tokens), true
	}
	return 0, false
}

// retryAfter returns the time until one token is available.
func (b *bucket) retryAfter() time.Duration {
	if b.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
}

// Limiter is the call budget of a single source.
type Limiter struct {
	mu        sync.Mutex
	clock     fastpass.Clock
	perMinute int64
	b         *bucket // nil if unlimited
}

func newLimiter(clock fastpass.Clock, perMinute int64) *Limiter {
	l := &Limiter{clock: clock, perMinute: perMinute}
	if perMinute > 0 {
		l.b = newBucket(perMinute, clock.Now())
	}
	return l
}

// Allow consumes one call from the budget.
func (l *Limiter) Allow() Result {
	if l.b == nil {
		return Result{Allowed: true}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining, ok := l.b.tryConsume(l.clock.Now())
	if ok {
		return Result{Allowed: true, Limit: l.perMinute, Remaining: remaining}
	}
	return Result{Limit: l.perMinute, RetryAfter: l.b.retryAfter()}
}

// Registry holds one Limiter per source. Sources without a configured limit
// are unlimited.
type Registry struct {
	clock    fastpass.Clock
	limits   map[string]int64
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewRegistry creates a Registry from calls-per-minute limits keyed by
// source name.
func NewRegistry(clock fastpass.Clock, limits map[string]int64) *Registry {
	return &Registry{
		clock:    clock,
		limits:   limits,
		limiters: make(map[string]*Limiter),
	}
}

// Get returns the limiter for source, creating it on first use.
func (r *Registry) Get(source string) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[source]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock.
	if l, ok := r.limiters[source]; ok {
		return l
	}
	l = newLimiter(r.clock, r.limits[source])
	r.limiters[source] = l
	return l
}
