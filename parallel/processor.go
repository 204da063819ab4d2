// Package parallel applies an operation to every item of a collection with
// bounded concurrency, per-item retry, and progress reporting. One item's
// failure never aborts the rest; results come back in input order.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStopped is returned by ProcessInChunks when the stop callback asked
// the chunk loop to halt. Results accumulated before the stop are still
// returned alongside it.
var ErrStopped = errors.New("parallel: stopped between chunks")

// Operation transforms a single item. It is invoked once per attempt.
type Operation[T, R any] func(ctx context.Context, item T) (R, error)

// Result carries one item's outcome. Index identifies the item's original
// position regardless of completion order. Err is nil exactly when the
// operation (eventually) succeeded.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// Success reports whether the item settled without error.
func (r Result[R]) Success() bool { return r.Err == nil }

// Options configures a chunked run.
type Options struct {
	// Concurrency bounds in-flight operations: items are processed in
	// consecutive chunks of this size, one chunk fully before the next.
	Concurrency int

	// RetryAttempts is the number of additional attempts after the first
	// failure. Zero means no retries.
	RetryAttempts int

	// RetryDelay is the base exponential backoff delay between attempts.
	RetryDelay time.Duration

	// RetryDelayMax caps the backoff. Zero means uncapped.
	RetryDelayMax time.Duration

	// OnProgress, when set, fires after every item settles (success or
	// exhausted failure) with the number of settled items and the total.
	OnProgress func(completed, total int)

	// Stop, when set, is consulted between chunks. Returning true halts
	// the run after the in-flight chunk drains; no new chunk starts.
	Stop func() bool
}

func (o Options) validate() error {
	if o.Concurrency <= 0 {
		return fmt.Errorf("parallel: concurrency must be positive, got %d", o.Concurrency)
	}
	if o.RetryAttempts < 0 {
		return fmt.Errorf("parallel: retry attempts cannot be negative, got %d", o.RetryAttempts)
	}
	return nil
}

// ProcessInChunks runs op over items in chunks of opts.Concurrency. Each
// chunk completes fully before the next starts, so at most Concurrency
// operations are ever in flight. Cancellation and the stop callback are
// checked only at chunk boundaries; in-flight work always drains.
//
// The returned slice is ordered by input index. When the run halts early
// (stop or context), the partial results are returned together with
// ErrStopped or the context's error.
func ProcessInChunks[T, R any](ctx context.Context, items []T, op Operation[T, R], opts Options) ([]Result[R], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	backoff := Backoff{Base: opts.RetryDelay, Max: opts.RetryDelayMax}
	results := make([]Result[R], 0, len(items))
	var completed atomic.Int64
	total := len(items)

	for start := 0; start < len(items); start += opts.Concurrency {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if opts.Stop != nil && opts.Stop() {
			return results, ErrStopped
		}

		end := start + opts.Concurrency
		if end > len(items) {
			end = len(items)
		}
		chunk := make([]Result[R], end-start)

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(index int) {
				defer wg.Done()
				value, err := runWithRetry(ctx, items[index], op, opts.RetryAttempts, backoff)
				chunk[index-start] = Result[R]{Index: index, Value: value, Err: err}
				if opts.OnProgress != nil {
					opts.OnProgress(int(completed.Add(1)), total)
				}
			}(i)
		}
		wg.Wait()

		results = append(results, chunk...)
	}

	return results, nil
}

// ProcessAll runs op over every item concurrently with no concurrency bound
// and no retry. Intended for already-reliable in-memory operations, not
// network calls.
func ProcessAll[T, R any](ctx context.Context, items []T, op Operation[T, R]) []Result[R] {
	if len(items) == 0 {
		return nil
	}

	results := make([]Result[R], len(items))
	var wg sync.WaitGroup
	for i := range items {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			value, err := op(ctx, items[index])
			results[index] = Result[R]{Index: index, Value: value, Err: err}
		}(i)
	}
	wg.Wait()
	return results
}

// runWithRetry wraps one item's operation in the retry loop. The final
// error is the last attempt's error once the budget is exhausted.
func runWithRetry[T, R any](ctx context.Context, item T, op Operation[T, R], attempts int, backoff Backoff) (R, error) {
	var lastErr error
	var zero R

	for attempt := 0; ; attempt++ {
		value, err := op(ctx, item)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if attempt >= attempts {
			break
		}
		if err := sleep(ctx, backoff.Delay(attempt)); err != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
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
