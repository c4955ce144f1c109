// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package retry re-invokes failing operations a bounded number of times.

package retry

import (
	"context"
	"time"
)

// calculateDelay returns the sleep to apply before the attempt with the given
// index. A backoffExponentBase of 1 (or less) gives a constant delay.
func calculateDelay(failCount int, sleep time.Duration, backoffExponentBase float64) time.Duration {
	if backoffExponentBase <= 1.0 {
		return sleep
	}

	multiplier := 1.0
	for i := 0; i < failCount; i++ {
		multiplier *= backoffExponentBase
	}

	return time.Duration(float64(sleep) * multiplier)
}

// runWithDelay runs fn up to attempts times, sleeping between failures, until
// fn succeeds or ctx is cancelled. The last error from fn is returned after
// the final attempt; cancellation returns the context's error.
func runWithDelay(ctx context.Context, fn func() error, attempts int, sleep time.Duration,
	backoffExponentBase float64,
) (err error) {
	timer := time.NewTimer(time.Duration(0))
	defer timer.Stop()

	// Drain the timer's initial tick so the first attempt runs immediately.
	<-timer.C

	for failures := 0; failures < attempts; failures++ {
		err = fn()
		if err == nil {
			break
		}

		if failures == attempts-1 {
			break
		}

		timer.Reset(calculateDelay(failures, sleep, backoffExponentBase))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return err
}

// Run runs fn up to attempts times with a constant sleep between failures,
// returning the last error once the attempts are exhausted.
func Run(fn func() error, attempts int, sleep time.Duration) error {
	return runWithDelay(context.Background(), fn, attempts, sleep, 1.0)
}

// RunWithExpBackoff runs fn up to attempts times, multiplying the sleep by
// backoffExponentBase after each failure. Cancelling ctx stops the retries
// between attempts; the in-flight call is never interrupted.
func RunWithExpBackoff(ctx context.Context, fn func() error, attempts int, sleep time.Duration,
	backoffExponentBase float64,
) error {
	return runWithDelay(ctx, fn, attempts, sleep, backoffExponentBase)
}
