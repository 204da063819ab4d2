package parallel

import (
	"context"
	"sync"
)

// IndexedError pairs a failed item's original index with its error.
type IndexedError struct {
	Index int
	Err   error
}

// Progress is the aggregate view reported after each batch.
type Progress struct {
	Total      int
	Completed  int
	Succeeded  int
	Failed     int
	Percentage float64
}

// BatchOutcome holds one ProcessBatch call's results. Results keeps only
// successful values, in input order; Errors carries the failures.
type BatchOutcome[R any] struct {
	Results []R
	Errors  []IndexedError
}

// BatchProcessor runs items through ProcessAll one batch at a time and
// accumulates success/error counts across calls on the same instance.
// Useful when harvesting is itself chunked into outer batches for memory
// control, distinct from the inner chunking of ProcessInChunks.
type BatchProcessor[T, R any] struct {
	mu        sync.Mutex
	succeeded int
	failed    int
	errs      []IndexedError
}

// NewBatchProcessor returns an empty processor.
func NewBatchProcessor[T, R any]() *BatchProcessor[T, R] {
	return &BatchProcessor[T, R]{}
}

// ProcessBatch splits items into batches of batchSize and runs each batch
// through ProcessAll. Batch sizing already bounds concurrency, so no inner
// chunking applies. onProgress, when set, fires after every batch with the
// running aggregate.
func (bp *BatchProcessor[T, R]) ProcessBatch(ctx context.Context, items []T, op Operation[T, R], batchSize int, onProgress func(Progress)) BatchOutcome[R] {
	if batchSize <= 0 {
		batchSize = len(items)
	}

	outcome := BatchOutcome[R]{}
	total := len(items)
	completed := 0

	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}

		results := ProcessAll(ctx, items[start:end], op)
		for _, res := range results {
			completed++
			globalIndex := start + res.Index
			if res.Success() {
				outcome.Results = append(outcome.Results, res.Value)
				bp.record(true, globalIndex, nil)
			} else {
				outcome.Errors = append(outcome.Errors, IndexedError{Index: globalIndex, Err: res.Err})
				bp.record(false, globalIndex, res.Err)
			}
		}

		if onProgress != nil {
			onProgress(bp.progress(total, completed))
		}
	}

	return outcome
}

// SuccessCount returns the running success total across all batches.
func (bp *BatchProcessor[T, R]) SuccessCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.succeeded
}

// ErrorCount returns the running failure total across all batches.
func (bp *BatchProcessor[T, R]) ErrorCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.failed
}

// Errors returns a copy of every failure recorded so far.
func (bp *BatchProcessor[T, R]) Errors() []IndexedError {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	out := make([]IndexedError, len(bp.errs))
	copy(out, bp.errs)
	return out
}

// Reset clears the running counters and error details.
func (bp *BatchProcessor[T, R]) Reset() {
	bp.mu.Lock()
	bp.succeeded = 0
	bp.failed = 0
	bp.errs = nil
	bp.mu.Unlock()
}

func (bp *BatchProcessor[T, R]) record(success bool, index int, err error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if success {
		bp.succeeded++
		return
	}
	bp.failed++
	bp.errs = append(bp.errs, IndexedError{Index: index, Err: err})
}

func (bp *BatchProcessor[T, R]) progress(total, completed int) Progress {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	pct := 0.0
	if total > 0 {
		pct = float64(completed) / float64(total) * 100
	}
	return Progress{
		Total:      total,
		Completed:  completed,
		Succeeded:  bp.succeeded,
		Failed:     bp.failed,
		Percentage: pct,
	}
}
