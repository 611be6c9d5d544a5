package resilience

import (
	"sync"
	"time"

	"github.com/jonwraymond/callguard/clock"
)

// RateLimiterConfig configures the local token-bucket ceiling.
type RateLimiterConfig struct {
	// Rate is the number of calls allowed per second.
	// Default: 100
	Rate float64

	// Burst is the bucket capacity.
	// Default: 10
	Burst int
}

// RateLimiter is a token-bucket limiter on the injected clock. The executor
// applies it before the circuit breaker, so local rejections never count as
// dependency failures.
type RateLimiter struct {
	config RateLimiterConfig
	clock  clock.Clock

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter creates a rate limiter starting with a full bucket.
// A nil clk falls back to the system clock.
func NewRateLimiter(config RateLimiterConfig, clk clock.Clock) *RateLimiter {
	if config.Rate <= 0 {
		config.Rate = 100
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}
	if clk == nil {
		clk = clock.System()
	}

	return &RateLimiter{
		config:     config,
		clock:      clk,
		tokens:     float64(config.Burst),
		lastRefill: clk.Now(),
	}
}

// Allow consumes one token if available.
func (rl *RateLimiter) Allow() bool {
	return rl.AllowN(1)
}

// AllowN consumes n tokens if available.
func (rl *RateLimiter) AllowN(n int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked()

	if rl.tokens >= float64(n) {
		rl.tokens -= float64(n)
		return true
	}
	return false
}

// Tokens returns the currently available token count.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked()
	return rl.tokens
}

func (rl *RateLimiter) refillLocked() {
	now := rl.clock.Now()
	elapsed := now.Sub(rl.lastRefill)
	if elapsed <= 0 {
		return
	}

	rl.tokens += elapsed.Seconds() * rl.config.Rate
	if max := float64(rl.config.Burst); rl.tokens > max {
		rl.tokens = max
	}
	rl.lastRefill = now
}
