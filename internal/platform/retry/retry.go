// Package retry provides a small generic retry helper with exponential
// backoff, used for flaky startup work such as establishing the Redis and
// Postgres connections.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy controls how an operation is retried.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	OnRetry        func(attempt int, err error, backoff time.Duration)
}

// Classify decides whether an error is worth retrying. Returning false
// aborts immediately with a PermanentError.
type Classify func(err error) bool

// Operation is the retried unit of work.
type Operation[T any] func() (T, error)

// VoidOperation is an Operation without a result.
type VoidOperation func() error

// Do runs op under the policy, doubling the backoff after each failed
// attempt. The context cancels waiting between attempts.
func Do[T any](ctx context.Context, p Policy, classify Classify, op Operation[T]) (T, error) {
	backoff := p.InitialBackoff

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		val, err := op()
		if err == nil {
			return val, nil
		}

		if classify != nil && !classify(err) {
			var zero T
			return zero, &PermanentError{Err: err}
		}

		if attempt == p.MaxAttempts {
			var zero T
			return zero, fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, err)
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err, backoff)
		}

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			var zero T
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	panic("unreachable: MaxAttempts must be >= 1")
}

// DoVoid runs a resultless operation under the policy.
func DoVoid(ctx context.Context, p Policy, classify Classify, op VoidOperation) error {
	_, err := Do(ctx, p, classify, func() (struct{}, error) { return struct{}{}, op() })
	return err
}

// PermanentError wraps an error the classifier deemed not retryable.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
