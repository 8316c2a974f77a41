package resilience

import (
	"context"
	"errors"
	"time"
)

// TimeoutConfig configures the per-attempt timeout wrapper.
type TimeoutConfig struct {
	// Timeout is the maximum duration of one attempt.
	// Default: 30 seconds
	Timeout time.Duration
}

// Timeout bounds a single attempt. It is applied per attempt, never to a
// whole retry sequence.
type Timeout struct {
	config TimeoutConfig
}

// NewTimeout creates a new timeout wrapper.
func NewTimeout(config TimeoutConfig) *Timeout {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Timeout{config: config}
}

// Execute runs op, returning a TIMEOUT ClassifiedError if it overruns.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	_, err := callWithTimeout(ctx, t.config.Timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Config returns the timeout configuration.
func (t *Timeout) Config() TimeoutConfig {
	return t.config
}

// callWithTimeout runs op under its own deadline when d > 0. The op runs on
// a separate goroutine so an op that ignores ctx still cannot hold the
// caller past its deadline.
func callWithTimeout[T any](ctx context.Context, d time.Duration, op func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := op(attemptCtx)
		done <- result{v, err}
	}()

	var zero T
	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return zero, attemptTimeout(d)
		}
		return res.val, res.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, attemptTimeout(d)
	}
}

func attemptTimeout(d time.Duration) *ClassifiedError {
	return &ClassifiedError{
		Kind:      KindTimeout,
		Message:   "attempt exceeded " + d.String(),
		Retryable: true,
		Cause:     ErrTimeout,
	}
}
