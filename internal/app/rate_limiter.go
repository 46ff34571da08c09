package app

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter keyed by identity.
// All connections of one identity share the same window.
type RateLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

// NewRateLimiter returns nil when limit is not positive; a nil limiter allows everything.
func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	if limit <= 0 || interval <= 0 {
		return nil
	}
	return &RateLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *RateLimiter) Allow(identity string) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[identity]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[identity] = fresh
		return false
	}

	rl.history[identity] = append(fresh, now)
	return true
}

// Forget drops the window of identity once it has fully expired.
func (rl *RateLimiter) Forget(identity string) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	attempts := rl.history[identity]
	if len(attempts) == 0 || !attempts[len(attempts)-1].After(rl.now().Add(-rl.interval)) {
		delete(rl.history, identity)
	}
}
