package parallel

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestProcessInChunksPreservesOrder(t *testing.T) {
	items := make([]int, 40)
	for i := range items {
		items[i] = i
	}

	op := func(ctx context.Context, item int) (string, error) {
		// Randomized latency forces out-of-order completion within chunks.
		time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
		return fmt.Sprintf("item-%d", item), nil
	}

	results, err := ProcessInChunks(context.Background(), items, op, Options{Concurrency: 7})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(results) != len(items) {
		t.Fatalf("results = %d, want %d", len(results), len(items))
	}
	for i, res := range results {
		if res.Index != i {
			t.Fatalf("result %d has index %d", i, res.Index)
		}
		if res.Value != fmt.Sprintf("item-%d", i) {
			t.Fatalf("result %d = %q", i, res.Value)
		}
	}
}

func TestProcessInChunksBoundsConcurrency(t *testing.T) {
	const concurrency = 3
	items := make([]int, 20)

	var inFlight, peak atomic.Int64
	op := func(ctx context.Context, item int) (struct{}, error) {
		current := inFlight.Add(1)
		for {
			observed := peak.Load()
			if current <= observed || peak.CompareAndSwap(observed, current) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return struct{}{}, nil
	}

	if _, err := ProcessInChunks(context.Background(), items, op, Options{Concurrency: concurrency}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := peak.Load(); got > concurrency {
		t.Fatalf("peak in-flight = %d, want <= %d", got, concurrency)
	}
}

func TestProcessInChunksRetriesThenSucceeds(t *testing.T) {
	var mu sync.Mutex
	attempts := map[int]int{}

	op := func(ctx context.Context, item int) (int, error) {
		mu.Lock()
		attempts[item]++
		n := attempts[item]
		mu.Unlock()
		if item == 1 && n <= 2 {
			return 0, errors.New("transient")
		}
		return item * 10, nil
	}

	results, err := ProcessInChunks(context.Background(), []int{0, 1, 2}, op, Options{
		Concurrency:   2,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	for _, res := range results {
		if !res.Success() {
			t.Fatalf("item %d failed: %v", res.Index, res.Err)
		}
	}
	if attempts[1] != 3 {
		t.Fatalf("item 1 attempts = %d, want 3", attempts[1])
	}
}

func TestProcessInChunksExhaustedFailureDoesNotAbort(t *testing.T) {
	op := func(ctx context.Context, item int) (int, error) {
		if item == 2 {
			return 0, errors.New("permanent")
		}
		return item, nil
	}

	results, err := ProcessInChunks(context.Background(), []int{0, 1, 2, 3, 4}, op, Options{
		Concurrency:   2,
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	failures := 0
	for _, res := range results {
		if !res.Success() {
			failures++
			if res.Index != 2 {
				t.Fatalf("unexpected failure at index %d", res.Index)
			}
		}
	}
	if failures != 1 {
		t.Fatalf("failures = %d, want 1", failures)
	}
}

func TestProcessInChunksProgressFiresPerItem(t *testing.T) {
	var mu sync.Mutex
	var calls []int
	total := 0

	op := func(ctx context.Context, item int) (int, error) {
		if item%2 == 0 {
			return 0, errors.New("even items fail")
		}
		return item, nil
	}

	items := []int{0, 1, 2, 3, 4, 5}
	_, err := ProcessInChunks(context.Background(), items, op, Options{
		Concurrency: 2,
		OnProgress: func(completed, t int) {
			mu.Lock()
			calls = append(calls, completed)
			total = t
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(calls) != len(items) {
		t.Fatalf("progress calls = %d, want %d (fires for failures too)", len(calls), len(items))
	}
	if total != len(items) {
		t.Fatalf("progress total = %d, want %d", total, len(items))
	}
}

func TestProcessInChunksStopBetweenChunks(t *testing.T) {
	var processed atomic.Int64
	var stop atomic.Bool

	op := func(ctx context.Context, item int) (int, error) {
		processed.Add(1)
		stop.Store(true) // ask for a halt while the first chunk runs
		return item, nil
	}

	items := make([]int, 12)
	results, err := ProcessInChunks(context.Background(), items, op, Options{
		Concurrency: 4,
		Stop:        stop.Load,
	})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}

	// The in-flight chunk drains; later chunks never start.
	if got := processed.Load(); got != 4 {
		t.Fatalf("processed = %d, want exactly one chunk (4)", got)
	}
	if len(results) != 4 {
		t.Fatalf("partial results = %d, want 4", len(results))
	}
}

func TestProcessInChunksRejectsZeroConcurrency(t *testing.T) {
	_, err := ProcessInChunks(context.Background(), []int{1}, func(ctx context.Context, i int) (int, error) {
		return i, nil
	}, Options{Concurrency: 0})
	if err == nil {
		t.Fatalf("expected configuration error")
	}
}

func TestProcessAllNoRetry(t *testing.T) {
	var attempts atomic.Int64
	op := func(ctx context.Context, item int) (int, error) {
		attempts.Add(1)
		if item == 1 {
			return 0, errors.New("fails once, stays failed")
		}
		return item, nil
	}

	results := ProcessAll(context.Background(), []int{0, 1, 2}, op)
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if results[1].Success() {
		t.Fatalf("item 1 should have failed")
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3 (no retries)", got)
	}
}

func TestBackoffDelayDoubles(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 100 * time.Millisecond},
		{attempt: 1, want: 200 * time.Millisecond},
		{attempt: 2, want: 400 * time.Millisecond},
		{attempt: 3, want: 800 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Fatalf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	b := Backoff{Base: 200 * time.Millisecond, Max: 500 * time.Millisecond}
	if got := b.Delay(4); got != 500*time.Millisecond {
		t.Fatalf("Delay(4) = %v, want capped at 500ms", got)
	}
}

func TestBackoffDelayDefaultsBase(t *testing.T) {
	b := Backoff{}
	if got := b.Delay(0); got != 100*time.Millisecond {
		t.Fatalf("Delay(0) = %v, want default 100ms", got)
	}
}

func TestRetryElapsedApproximatesBackoffSeries(t *testing.T) {
	op := func(ctx context.Context, item int) (int, error) {
		return 0, errors.New("always fails")
	}

	// 3 retries at 10ms base: waits of 10+20+40 = 70ms.
	start := time.Now()
	results, err := ProcessInChunks(context.Background(), []int{0}, op, Options{
		Concurrency:   1,
		RetryAttempts: 3,
		RetryDelay:    10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if results[0].Success() {
		t.Fatalf("expected exhausted failure")
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Fatalf("elapsed = %v, want >= 60ms of backoff", elapsed)
	}
}
