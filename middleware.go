package runbus

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// RequestMiddleware composes processing concerns around a RequestHandler.
type RequestMiddleware func(next RequestHandler) RequestHandler

// Chain composes middlewares around a handler in order: the first
// middleware wraps the last.
func Chain(h RequestHandler, mws ...RequestMiddleware) RequestHandler {
	if len(mws) == 0 {
		return h
	}
	wrapped := h
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}

// RecoveryMiddleware converts handler panics into errors so composed
// middlewares (retry, instrumentation) observe them as ordinary
// failures. The bus contains panics on its own either way.
func RecoveryMiddleware() RequestMiddleware {
	return func(next RequestHandler) RequestHandler {
		return func(ctx context.Context, env Envelope) (res Result, err error) {
			defer func() {
				if r := recover(); r != nil {
					res = nil
					err = fmt.Errorf("panic recovered: %v", r)
				}
			}()
			return next(ctx, env)
		}
	}
}

// RetryConfig controls retry behavior for request middleware.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// Backoff computes the base wait before the next attempt.
	Backoff func(attempt int) time.Duration
	// RetryIf, when provided, returns true if the error should be
	// retried. If nil, all errors are retried (bounded by MaxAttempts).
	RetryIf func(err error) bool
	// Jitter adds up to [0, Jitter] random delay to the base backoff.
	Jitter time.Duration
}

// RetryMiddleware provides bounded, selective retries around a request
// handler. Only errors trigger a retry; a Result is always final.
func RetryMiddleware(cfg RetryConfig) RequestMiddleware {
	return func(next RequestHandler) RequestHandler {
		return func(ctx context.Context, env Envelope) (Result, error) {
			attempts := cfg.MaxAttempts
			if attempts < 1 {
				attempts = 1
			}
			shouldRetry := cfg.RetryIf
			if shouldRetry == nil {
				shouldRetry = func(error) bool { return true }
			}

			var lastErr error
			for i := 1; i <= attempts; i++ {
				res, err := next(ctx, env)
				if err == nil {
					return res, nil
				}
				lastErr = err
				if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, lastErr
				}
				if i == attempts || !shouldRetry(lastErr) {
					return nil, lastErr
				}
				if cfg.Backoff != nil {
					wait := cfg.Backoff(i)
					if cfg.Jitter > 0 {
						wait += time.Duration(rand.Int63n(int64(cfg.Jitter)))
					}
					select {
					case <-ctx.Done():
						return nil, lastErr
					case <-time.After(wait):
					}
				}
			}
			return nil, lastErr
		}
	}
}
