// Package retry provides a small bounded retry policy.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy describes how an operation is retried: at most MaxRetries extra
// attempts after the first, waiting Backoff(n) before retry n (1-based), and
// only while Retryable accepts the error.
type Policy struct {
	MaxRetries int
	Backoff    func(retry int) time.Duration
	Retryable  func(err error) bool

	// Sleep waits between attempts. Nil uses a timer that honours ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Linear returns a backoff of base, 2*base, 3*base, ...
func Linear(base time.Duration) func(int) time.Duration {
	return func(retry int) time.Duration {
		return time.Duration(retry) * base
	}
}

// Always retries every error except context cancellation.
func Always(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// ExhaustedError is returned when every attempt failed with a retryable
// error. Err is the failure of the final attempt.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return "retries exhausted: " + e.Err.Error()
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do calls fn until it succeeds, fails with a non-retryable error, the
// context is cancelled, or the retry budget is spent. The attempt number
// passed to fn starts at 1.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = Always
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	attempts := p.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if p.Backoff != nil {
			if serr := sleep(ctx, p.Backoff(attempt)); serr != nil {
				return serr
			}
		}
	}
	return &ExhaustedError{Attempts: attempts, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
