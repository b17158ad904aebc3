package server

import (
	"sync"
	"time"

	"tienlen-server/internal/config"
)

// RateLimiter is a per-key sliding-window counter. IsAllowed is the only
// decision point; its only side effect is on the internal counters.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	requests    map[string][]time.Time
	mu          sync.Mutex
}

func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
	}
}

func (r *RateLimiter) IsAllowed(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	timestamps := r.requests[key]

	// Drop timestamps outside the window so memory stays bounded and only
	// recent requests count.
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= r.maxRequests {
		r.requests[key] = valid
		return false
	}

	r.requests[key] = append(valid, now)
	return true
}

// Forget drops all counters for a key. Called when its connection closes.
func (r *RateLimiter) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, key)
}

// Cleanup removes keys with no requests inside the window. Called from the
// heartbeat sweep so abandoned connections do not leak counter slices.
func (r *RateLimiter) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.window)
	for key, timestamps := range r.requests {
		stale := true
		for _, ts := range timestamps {
			if ts.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(r.requests, key)
		}
	}
}

// RateLimiters holds the three independent per-connection policies: room
// management, game actions, and connection/reconnect attempts.
type RateLimiters struct {
	roomOps *RateLimiter
	gameOps *RateLimiter
	connOps *RateLimiter
}

func NewRateLimiters(cfg *config.Config) *RateLimiters {
	return &RateLimiters{
		roomOps: NewRateLimiter(cfg.RoomOpsLimit, cfg.RoomOpsWindow),
		gameOps: NewRateLimiter(cfg.GameOpsLimit, cfg.GameOpsWindow),
		connOps: NewRateLimiter(cfg.ConnOpsLimit, cfg.ConnOpsWindow),
	}
}

// Allow applies the policy for the category, keyed by connection.
func (rl *RateLimiters) Allow(category limitCategory, connectionID string) bool {
	switch category {
	case limitRoomOps:
		return rl.roomOps.IsAllowed(connectionID)
	case limitGameOps:
		return rl.gameOps.IsAllowed(connectionID)
	case limitConnOps:
		return rl.connOps.IsAllowed(connectionID)
	default:
		return true
	}
}

func (rl *RateLimiters) Forget(connectionID string) {
	rl.roomOps.Forget(connectionID)
	rl.gameOps.Forget(connectionID)
	rl.connOps.Forget(connectionID)
}

func (rl *RateLimiters) Cleanup() {
	rl.roomOps.Cleanup()
	rl.gameOps.Cleanup()
	rl.connOps.Cleanup()
}
