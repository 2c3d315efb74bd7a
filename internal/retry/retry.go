// Package retry runs an operation a bounded number of times, sleeping a
// strictly increasing backoff between attempts that fail with a retryable error.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoffStep = 100 * time.Millisecond
)

// ErrExhausted is matched by every *ExhaustedError.
var ErrExhausted = errors.New("retry attempts exhausted")

// ExhaustedError reports that every allowed attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error // last retryable error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry attempts exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Err}
}

// Policy decides whether a failed attempt is re-run.
// Zero values fall back to DefaultMaxAttempts, Linear(DefaultBackoffStep)
// and SleepWithContext. A nil Retryable retries nothing.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
	Retryable   func(err error) bool
	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Default returns the policy with three attempts and a 100ms linear backoff
// that retries errors matching target.
func Default(target error) Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     Linear(DefaultBackoffStep),
		Sleep:       SleepWithContext,
		Retryable: func(err error) bool {
			return errors.Is(err, target)
		},
	}
}

// Linear returns a backoff of step × attempt.
func Linear(step time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return step * time.Duration(attempt)
	}
}

// SleepWithContext sleeps for d unless ctx is done first.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}

// Do calls fn with attempt numbers starting at 1 until it succeeds, fails
// with a non-retryable error, or MaxAttempts attempts have been made.
// ctx is only consulted while sleeping between attempts.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = Linear(DefaultBackoffStep)
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepWithContext
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		if attempt == maxAttempts {
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		delay := backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry stopped after attempt %d: %w", attempt, err)
		}
	}

	// unreachable: the loop returns on its last iteration
	return &ExhaustedError{Attempts: maxAttempts}
}
