// Package ratelimit throttles repeated events with per-key token buckets.
package ratelimit

import (
	"sync"
	"time"
)

// bucket tracks the token state for a single key.
type bucket struct {
	tokens     float64
	lastRefill time.Time
	suppressed int
}

// Limiter implements a token-bucket limiter keyed by arbitrary strings
// (diagnostic kinds). Each key may fire rate times per window; denied events
// are counted so the next allowed one can report how many were suppressed.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    int
	window  time.Duration
	now     func() time.Time // injectable clock for testing
}

// New creates a Limiter that allows rate events per window for each key. A
// non-positive rate disables limiting.
func New(rate int, window time.Duration) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		window:  window,
		now:     time.Now,
	}
}

// getBucket returns the bucket for key, creating a full one if needed.
// Must be called with l.mu held.
func (l *Limiter) getBucket(key string) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			tokens:     float64(l.rate),
			lastRefill: l.now(),
		}
		l.buckets[key] = b
	}
	return b
}

// refill adds tokens to the bucket based on elapsed time since the last refill.
// Must be called with l.mu held.
func (l *Limiter) refill(b *bucket) {
	now := l.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	// Tokens accumulate at rate/window per second.
	refillRate := float64(l.rate) / l.window.Seconds()
	b.tokens += elapsed * refillRate
	if b.tokens > float64(l.rate) {
		b.tokens = float64(l.rate)
	}
	b.lastRefill = now
}

// Allow reports whether an event for key may fire now, consuming a token if
// so. When allowed, suppressed is the number of events denied for key since
// the previous allowed one.
func (l *Limiter) Allow(key string) (allowed bool, suppressed int) {
	if l == nil || l.rate <= 0 || l.window <= 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.getBucket(key)
	l.refill(b)

	if b.tokens < 1 {
		b.suppressed++
		return false, 0
	}
	b.tokens--
	suppressed = b.suppressed
	b.suppressed = 0
	return true, suppressed
}

// DrainSuppressed returns the number of denied events per key since each
// key's last allowed event, and resets those counts. Keys with nothing
// suppressed are omitted.
func (l *Limiter) DrainSuppressed() map[string]int {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var out map[string]int
	for key, b := range l.buckets {
		if b.suppressed == 0 {
			continue
		}
		if out == nil {
			out = make(map[string]int)
		}
		out[key] = b.suppressed
		b.suppressed = 0
	}
	return out
}
