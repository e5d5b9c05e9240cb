// Package retry provides named retry policies with per-attempt timeouts and
// jittered exponential backoff. Listeners and schedulers share two canonical
// policies, one for store calls and one for broker publishes.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is an immutable, reusable retry configuration constructed at startup.
type Policy struct {
	Name           string
	MaxAttempts    int
	AttemptTimeout time.Duration
	BaseDelay      time.Duration
	JitterFactor   float64
	// Retryable reports whether an error is transient. Timeouts are always
	// treated as transient regardless of the predicate. A nil predicate
	// retries everything.
	Retryable func(error) bool
}

// ExhaustedError is the terminal error after the attempt budget is spent on a
// retryable failure. Callers use it to choose dead-letter over fail-fast.
type ExhaustedError struct {
	Policy   string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry policy %q exhausted after %d attempts: %v", e.Policy, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsExhausted reports whether err marks a spent attempt budget.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}

// StoreCall builds the canonical policy for persistence operations.
func StoreCall(timeout time.Duration, attempts int, baseDelay time.Duration, jitter float64, retryable func(error) bool) Policy {
	return Policy{
		Name:           "store-call",
		MaxAttempts:    attempts,
		AttemptTimeout: timeout,
		BaseDelay:      baseDelay,
		JitterFactor:   jitter,
		Retryable:      retryable,
	}
}

// BrokerCall builds the canonical policy for message publishes.
func BrokerCall(timeout time.Duration, attempts int, baseDelay time.Duration, jitter float64, retryable func(error) bool) Policy {
	return Policy{
		Name:           "broker-call",
		MaxAttempts:    attempts,
		AttemptTimeout: timeout,
		BaseDelay:      baseDelay,
		JitterFactor:   jitter,
		Retryable:      retryable,
	}
}

// Do runs op under the policy. Each attempt is bounded by AttemptTimeout; a
// timed-out attempt counts as a transient failure. A non-retryable error is
// surfaced immediately and unchanged; a spent budget surfaces as
// *ExhaustedError wrapping the last cause.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = p.JitterFactor
	b.MaxElapsedTime = 0
	b.Reset()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
		err := op(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}

		if !p.retryable(err) {
			return err
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-time.After(b.NextBackOff()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return &ExhaustedError{Policy: p.Name, Attempts: p.MaxAttempts, Err: lastErr}
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}
