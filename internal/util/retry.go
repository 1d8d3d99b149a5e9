package util

import (
	"context"
	"errors"
	"time"
)

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay. It returns nil on the first successful call, or the last error
// if all attempts fail. The function respects context cancellation between
// retries.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return err
}

// ErrPollTimeout is returned by Poll when the predicate never held within the
// attempt budget. Callers treat it as a non-fatal condition: the order or
// position is left in its last known state for the next cycle to re-evaluate.
var ErrPollTimeout = errors.New("poll attempts exhausted")

// Sleep blocks for d or until the context is canceled, returning the
// context's error in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Poll sleeps interval, then evaluates fn, up to maxAttempts times. It stops
// as soon as fn reports done or returns an error, and returns ErrPollTimeout
// if the budget is exhausted first. Unlike Retry, the interval is fixed and
// the sleep comes before each evaluation, matching the fill-confirmation
// loops both trading engines run against the brokerage.
func Poll(ctx context.Context, maxAttempts int, interval time.Duration, fn func() (bool, error)) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		done, err := fn()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return ErrPollTimeout
}
