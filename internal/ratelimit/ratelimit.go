// Package ratelimit implements per-key token-bucket admission control.
// Each action kind gets its own Limiter with its own burst/window pair;
// keys are opaque strings, typically "connection-id:action-kind".
package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Limiter is a token bucket per key: capacity C, continuous refill at
// C/window tokens per second. Buckets start full on first use and are
// never evicted; the key space is bounded by live connections times a
// fixed set of action kinds, so stale entries are an accepted trade-off.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	capacity     float64
	refillPerSec float64
	clock        clockwork.Clock
}

type bucket struct {
	tokens float64
	last   time.Time
}

// New creates a limiter allowing bursts of capacity calls, refilling
// over window.
func New(clock clockwork.Clock, capacity int, window time.Duration) *Limiter {
	return &Limiter{
		buckets:      make(map[string]*bucket),
		capacity:     float64(capacity),
		refillPerSec: float64(capacity) / window.Seconds(),
		clock:        clock,
	}
}

// Allow consumes one token for the key if available. A false return is
// a pure admission decision: callers drop the action silently, no error
// and no blocking.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.last).Seconds()
	b.tokens += elapsed * l.refillPerSec
	if b.tokens > l.capacity {
		b.tokens = l.capacity
	}
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}
