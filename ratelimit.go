package main

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// RateLimiter bounds how often a key may act: roughly limit events per
// window, with bursts up to the full limit. It is consulted before frames
// reach the protocol state machine and never alters protocol state itself.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rateLimiterEntry
	limit    int
	window   time.Duration
	clock    clockwork.Clock
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(limit int, window time.Duration, clock clockwork.Clock) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*rateLimiterEntry),
		limit:    limit,
		window:   window,
		clock:    clock,
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) Allow(key string) bool {
	now := rl.clock.Now()

	rl.mu.Lock()
	entry, ok := rl.limiters[key]
	if !ok {
		entry = &rateLimiterEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(rl.limit)/rl.window.Seconds()), rl.limit),
		}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	rl.mu.Unlock()

	return entry.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) cleanup() {
	ticker := rl.clock.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.Chan() {
		rl.mu.Lock()
		cutoff := rl.clock.Now().Add(-10 * time.Minute)
		for key, entry := range rl.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(rl.limiters, key)
			}
		}
		rl.mu.Unlock()
	}
}
