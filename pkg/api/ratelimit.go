package api

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces out calls to a remote API
type RateLimiter interface {
	// Wait blocks until another call may be made or ctx is done
	Wait(ctx context.Context) error
	// CanProceed reports whether a call could be made right now
	CanProceed() bool
}

// SimpleRateLimiter enforces a minimum delay between calls
type SimpleRateLimiter struct {
	mu       sync.Mutex
	lastCall time.Time
	minDelay time.Duration
}

// NewSimpleRateLimiter creates a limiter with minDelay between calls
func NewSimpleRateLimiter(minDelay time.Duration) *SimpleRateLimiter {
	return &SimpleRateLimiter{
		minDelay: minDelay,
	}
}

// Wait blocks until minDelay has passed since the previous call
func (rl *SimpleRateLimiter) Wait(ctx context.Context) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if wait := rl.minDelay - time.Since(rl.lastCall); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	rl.lastCall = time.Now()
	return nil
}

// CanProceed returns true if a call can be made without waiting
func (rl *SimpleRateLimiter) CanProceed() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return time.Since(rl.lastCall) >= rl.minDelay
}

// NoOpRateLimiter never delays
type NoOpRateLimiter struct{}

// NewNoOpRateLimiter creates a rate limiter that performs no limiting
func NewNoOpRateLimiter() *NoOpRateLimiter {
	return &NoOpRateLimiter{}
}

// Wait only reports a cancelled context
func (rl *NoOpRateLimiter) Wait(ctx context.Context) error {
	return ctx.Err()
}

// CanProceed always returns true
func (rl *NoOpRateLimiter) CanProceed() bool {
	return true
}
