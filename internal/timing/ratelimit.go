package timing

import (
	"sync"
	"time"
)

// RateLimiter rejects triggers arriving inside a minimum interval of the
// last allowed one.
type RateLimiter struct {
	mu       sync.Mutex
	clock    Clock
	interval time.Duration
	last     time.Time
}

// NewRateLimiter creates a limiter enforcing the given minimum interval.
func NewRateLimiter(clock Clock, interval time.Duration) *RateLimiter {
	return &RateLimiter{clock: clock, interval: interval}
}

// Allow reports whether a trigger may proceed now, recording it if so.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if !r.last.IsZero() && now.Sub(r.last) < r.interval {
		return false
	}
	r.last = now
	return true
}

// Remaining returns how long until the next trigger would be allowed.
func (r *RateLimiter) Remaining() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.last.IsZero() {
		return 0
	}
	rem := r.interval - r.clock.Now().Sub(r.last)
	if rem < 0 {
		return 0
	}
	return rem
}

// SetInterval changes the enforced interval, for reconfiguration at runtime.
func (r *RateLimiter) SetInterval(interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interval = interval
}
