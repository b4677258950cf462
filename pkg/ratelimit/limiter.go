// Package ratelimit provides the minimum-interval limiter that gates every
// outbound LLM and embedding call. One limiter exists per external service for
// the lifetime of the process.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter enforces a minimum delay between successive calls. Safe for
// concurrent use; callers queue behind the shared mutex so the inter-call
// spacing holds even under parallel stage execution.
type Limiter struct {
	mu       sync.Mutex
	minDelay time.Duration
	lastCall time.Time
}

// New creates a limiter with the given minimum inter-call delay. A
// non-positive delay disables waiting.
func New(minDelay time.Duration) *Limiter {
	return &Limiter{minDelay: minDelay}
}

// Wait blocks until the minimum delay since the previous call has elapsed or
// the context is cancelled. The reservation is taken before sleeping, so
// concurrent waiters are serialized with the configured spacing.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.minDelay <= 0 {
		return ctx.Err()
	}

	l.mu.Lock()
	now := time.Now()
	next := l.lastCall.Add(l.minDelay)
	if next.Before(now) {
		next = now
	}
	l.lastCall = next
	l.mu.Unlock()

	wait := time.Until(next)
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MinDelay returns the configured inter-call delay.
func (l *Limiter) MinDelay() time.Duration {
	return l.minDelay
}
