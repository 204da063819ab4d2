// Package ratelimit provides the per-source request limiters. Each harvester
// owns exactly one limiter; nothing is shared across sources.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter gates outbound requests to a single portal. Acquire blocks until
// the next request is allowed or ctx is cancelled. Limiters never fail on
// their own; the only error they return is the context's.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// IntervalLimiter enforces a minimum spacing between consecutive acquires.
// The first acquire never waits. Callers are admitted in the order they
// arrive at the internal mutex.
type IntervalLimiter struct {
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewIntervalLimiter builds a limiter spacing calls 1/requestsPerSecond apart.
func NewIntervalLimiter(requestsPerSecond float64) (*IntervalLimiter, error) {
	if requestsPerSecond <= 0 {
		return nil, fmt.Errorf("requests per second must be positive, got %v", requestsPerSecond)
	}
	return &IntervalLimiter{
		interval: time.Duration(float64(time.Second) / requestsPerSecond),
	}, nil
}

// Acquire blocks until the configured interval has elapsed since the
// previous Acquire returned.
func (l *IntervalLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.last.IsZero() {
		if wait := l.interval - time.Since(l.last); wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	l.last = time.Now()
	return nil
}

// Reset clears the remembered last-call time so the next Acquire returns
// immediately.
func (l *IntervalLimiter) Reset() {
	l.mu.Lock()
	l.last = time.Time{}
	l.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
