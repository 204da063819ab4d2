package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TokenBucket allows short bursts up to a capacity while converging to a
// sustained refill rate under continuous load. Tokens refill continuously
// as elapsed_seconds * rate, capped at capacity.
//
// Admission is serialized through a gate mutex so concurrent waiters are
// admitted in arrival order; a waiter cannot be starved by later arrivals
// under sustained contention.
type TokenBucket struct {
	gate sync.Mutex

	mu       sync.Mutex
	capacity float64
	tokens   float64
	rate     float64
	last     time.Time

	now func() time.Time
}

// NewTokenBucket builds a bucket that starts full.
func NewTokenBucket(rate float64, capacity int) (*TokenBucket, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("refill rate must be positive, got %v", rate)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive, got %d", capacity)
	}
	b := &TokenBucket{
		capacity: float64(capacity),
		tokens:   float64(capacity),
		rate:     rate,
		now:      time.Now,
	}
	b.last = b.now()
	return b, nil
}

// Acquire takes one token, blocking until it is available.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	return b.AcquireN(ctx, 1)
}

// AcquireN takes n tokens atomically, blocking until the bucket holds them.
// The wait is computed from the current deficit: (n - tokens) / rate.
func (b *TokenBucket) AcquireN(ctx context.Context, n int) error {
	if n <= 0 {
		return fmt.Errorf("token count must be positive, got %d", n)
	}
	need := float64(n)
	if need > b.capacity {
		return fmt.Errorf("requested %d tokens exceeds capacity %d", n, int(b.capacity))
	}

	b.gate.Lock()
	defer b.gate.Unlock()

	for {
		b.mu.Lock()
		b.refillLocked()
		if b.tokens >= need {
			b.tokens -= need
			b.mu.Unlock()
			return nil
		}
		wait := time.Duration((need - b.tokens) / b.rate * float64(time.Second))
		b.mu.Unlock()

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Tokens reports the current token count after refilling. Never negative,
// never above capacity.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

// refillLocked credits tokens for the wall-clock time elapsed since the
// last refill. Monotonic: the refill depends only on elapsed time, not on
// when tokens were last consumed.
func (b *TokenBucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.last = now
}
