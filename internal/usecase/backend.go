package usecase

import (
	"context"
	"errors"
	"time"
)

const (
	defaultStoreTimeout = 5 * time.Second
	defaultRetryBackoff = 100 * time.Millisecond
)

// callStore invokes a store operation with a bounded timeout and maps timeouts
// to ErrBackendUnavailable so no operation in the engine can hang indefinitely.
func callStore(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(opCtx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return ErrBackendUnavailable
	}
	return err
}

// retryRead retries an idempotent read once after a short backoff when the
// backend is unavailable. Writes, above all the conditional rotation, must
// never go through this path, to avoid double-application ambiguity.
func retryRead(ctx context.Context, timeout, backoff time.Duration, fn func(ctx context.Context) error) error {
	err := callStore(ctx, timeout, fn)
	if !errors.Is(err, ErrBackendUnavailable) {
		return err
	}

	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoff):
	}

	return callStore(ctx, timeout, fn)
}
