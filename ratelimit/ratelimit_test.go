package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestIntervalLimiterFirstAcquireImmediate(t *testing.T) {
	l, err := NewIntervalLimiter(1) // one per second
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	start := time.Now()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("first acquire waited %v, want immediate", elapsed)
	}
}

func TestIntervalLimiterSpacesCalls(t *testing.T) {
	l, err := NewIntervalLimiter(20) // 50ms interval
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}

	// Two waits of ~50ms follow the free first call.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("three acquires took %v, want >= 80ms", elapsed)
	}
}

func TestIntervalLimiterReset(t *testing.T) {
	l, err := NewIntervalLimiter(1)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	l.Reset()

	start := time.Now()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire after reset: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("acquire after reset waited %v, want immediate", elapsed)
	}
}

func TestIntervalLimiterContextCancelled(t *testing.T) {
	l, err := NewIntervalLimiter(0.5) // 2s interval
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err != context.DeadlineExceeded {
		t.Fatalf("acquire err = %v, want context.DeadlineExceeded", err)
	}
}

func TestNewIntervalLimiterRejectsZeroRate(t *testing.T) {
	if _, err := NewIntervalLimiter(0); err == nil {
		t.Fatalf("expected error for zero rate")
	}
}

func TestTokenBucketBurstWithoutDelay(t *testing.T) {
	b, err := NewTokenBucket(1, 5)
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := b.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("burst of 5 took %v, want immediate", elapsed)
	}
}

func TestTokenBucketWaitsForDeficit(t *testing.T) {
	b, err := NewTokenBucket(20, 2) // 20 tokens/sec
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}

	ctx := context.Background()
	if err := b.AcquireN(ctx, 2); err != nil {
		t.Fatalf("drain: %v", err)
	}

	// Bucket is empty; two tokens need ~100ms to refill.
	start := time.Now()
	if err := b.AcquireN(ctx, 2); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("acquire from empty bucket took %v, want >= 80ms", elapsed)
	}
}

func TestTokenBucketNeverExceedsCapacity(t *testing.T) {
	b, err := NewTokenBucket(1000, 3)
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if tokens := b.Tokens(); tokens > 3 {
		t.Fatalf("tokens = %v, want <= capacity 3", tokens)
	}
	if tokens := b.Tokens(); tokens < 0 {
		t.Fatalf("tokens = %v, want >= 0", tokens)
	}
}

func TestTokenBucketRejectsOversizedRequest(t *testing.T) {
	b, err := NewTokenBucket(1, 2)
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}
	if err := b.AcquireN(context.Background(), 3); err == nil {
		t.Fatalf("expected error when n exceeds capacity")
	}
	if err := b.AcquireN(context.Background(), 0); err == nil {
		t.Fatalf("expected error when n is zero")
	}
}

func TestTokenBucketContextCancelled(t *testing.T) {
	b, err := NewTokenBucket(0.5, 1)
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}
	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := b.Acquire(ctx); err != context.DeadlineExceeded {
		t.Fatalf("acquire err = %v, want context.DeadlineExceeded", err)
	}
}
