package parallel

import "time"

// Backoff computes exponential retry delays. The calculation is pure so it
// can be tested without real time passing; the processor owns the sleeping.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns Base * 2^attempt, capped at Max when Max is set. Attempt 0
// is the delay before the first retry.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	base := b.Base
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay
}
