package utils

import (
	"context"
	"slotarbiter/internal/logging"
	"time"
)

// Retryable is an operation that may fail and be tried again. try counts from 0.
type Retryable func(try int) error

// RetryPolicy bounds the number of attempts and the exponential backoff between them.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is used by the TCP dialer.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 10,
	BaseDelay:   100 * time.Millisecond,
	MaxDelay:    5 * time.Second,
}

// RetryWithCutoff calls fn until it succeeds, the attempts are exhausted, or ctx is done.
// The delay doubles after each failure, capped at policy.MaxDelay.
func RetryWithCutoff(
	ctx context.Context,
	log *logging.Logger,
	policy RetryPolicy,
	fn Retryable,
) (err error) {
	delay := policy.BaseDelay
	for i := 0; i < policy.MaxAttempts; i++ {
		err = fn(i)
		if err == nil {
			return
		}
		if i == policy.MaxAttempts-1 {
			break
		}

		log.Warnf("Error: %v [Retrying in %v...]", err, delay)

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}

			err = ctx.Err()
			return
		}

		delay = min(2*delay, policy.MaxDelay)
	}
	return
}
