package worker

import (
	"math"
	"time"
)

// RetryPolicy shapes the backoff between ledger sync attempts. A zero
// value backs off from one second, doubling per attempt, with no cap.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NextDelay returns how long to wait before the given attempt. Attempts
// count from 1; out-of-range input is treated as the first attempt, and
// the result is clamped to MaxDelay when one is set.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	base := r.InitialDelay
	if base <= 0 {
		base = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}
	if attempt < 1 {
		attempt = 1
	}

	d := time.Duration(float64(base) * math.Pow(factor, float64(attempt-1)))
	switch {
	case r.MaxDelay > 0 && d > r.MaxDelay:
		return r.MaxDelay
	case d <= 0:
		// Float conversion overflowed for a very deep retry count.
		return base
	}
	return d
}
