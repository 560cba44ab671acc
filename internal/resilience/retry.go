// Package resilience provides the call-hardening primitives agencyd wraps
// around its external dependencies: a single fixed-delay retry for
// generative-model calls and a circuit breaker for document search.
package resilience

import (
	"context"
	"errors"
	"time"
)

// DefaultRetryBackoff is the fixed wait before the single retry attempt.
// Preview-tier model endpoints rate limit aggressively; one immediate retry
// after a short pause recovers most transient failures.
const DefaultRetryBackoff = time.Second

// Retry invokes fn and, on failure, waits backoff and invokes fn exactly once
// more. The second failure is propagated unmodified so callers see the
// original error kind.
//
// Cancellation is never retried: if ctx is done, or fn failed because ctx was
// cancelled, Retry returns immediately.
func Retry[T any](ctx context.Context, backoff time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := fn(ctx)
	if err == nil {
		return result, nil
	}

	var zero T
	if isCancelled(ctx, err) {
		return zero, err
	}

	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	return fn(ctx)
}

// isCancelled reports whether the failure came from request cancellation
// rather than the dependency itself.
func isCancelled(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
