package broker

import (
	"sync"
	"time"
)

// RateLimiter enforces a per-identity publish quota over a minute window.
type RateLimiter struct {
	mu         sync.Mutex
	limit      int
	identities map[string]*identityWindow
}

type identityWindow struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a limiter allowing limit publishes per identity
// per minute. A non-positive limit disables limiting.
func NewRateLimiter(limit int) *RateLimiter {
	return &RateLimiter{
		limit:      limit,
		identities: make(map[string]*identityWindow),
	}
}

// Allow reports whether identity may publish now and records the attempt.
func (rl *RateLimiter) Allow(identity string) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	w, exists := rl.identities[identity]
	if !exists {
		rl.identities[identity] = &identityWindow{count: 1, windowStart: now}
		return true
	}

	if now.Sub(w.windowStart) >= time.Minute {
		w.count = 1
		w.windowStart = now
		return true
	}

	if w.count >= rl.limit {
		return false
	}

	w.count++
	return true
}

// Cleanup drops identities idle for more than five windows. Call
// periodically from a maintenance loop.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for identity, w := range rl.identities {
		if now.Sub(w.windowStart) > 5*time.Minute {
			delete(rl.identities, identity)
		}
	}
}
