package common

import (
	"log"
	"strconv"
	"sync"
	"time"
)

// RateLimiter tracks API quota usage from response headers. Bybit reports
// the remaining request budget per window rather than consumed weight.
type RateLimiter struct {
	remaining     int
	limit         int
	lastUpdate    time.Time
	resetInterval time.Duration
	mu            sync.RWMutex
}

// NewRateLimiter creates a tracker for a limit/window pair
// (e.g. 120 requests per 5s on the V5 REST surface).
func NewRateLimiter(limit int, resetInterval time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:         limit,
		remaining:     limit,
		resetInterval: resetInterval,
		lastUpdate:    time.Now(),
	}
}

// UpdateFromHeader records the remaining budget from a response header.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}

	remaining, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.remaining = remaining
	rl.lastUpdate = time.Now()

	used := rl.limit - remaining
	percentage := float64(used) / float64(rl.limit) * 100
	if percentage >= 95 {
		log.Printf("rate limit critical: %d/%d (%.1f%%) - approaching ban threshold", used, rl.limit, percentage)
	} else if percentage >= 80 {
		log.Printf("rate limit warning: %d/%d (%.1f%%)", used, rl.limit, percentage)
	}
}

// GetUsage returns current usage information.
func (rl *RateLimiter) GetUsage() (used int, limit int, percentage float64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	// Stale data means the window has rolled over
	if time.Since(rl.lastUpdate) >= rl.resetInterval {
		return 0, rl.limit, 0
	}

	used = rl.limit - rl.remaining
	return used, rl.limit, float64(used) / float64(rl.limit) * 100
}

// ShouldDelay returns true if we should delay the next request.
func (rl *RateLimiter) ShouldDelay() bool {
	_, _, pct := rl.GetUsage()
	return pct >= 90
}
