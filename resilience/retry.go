package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxAttempts is the number of additional attempts after the first
	// failure, so the default makes 4 attempts in total. A negative value
	// disables retries, including the free Retry-After attempt.
	// Default: 3
	MaxAttempts int

	// BaseDelay is the delay before the first retry. Retry n waits
	// BaseDelay * Multiplier^(n-1).
	// Default: 1s
	BaseDelay time.Duration

	// MaxDelay caps the exponential delay. It does not cap Retry-After.
	// Default: 30s
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor.
	// Default: 2.0
	Multiplier float64

	// Jitter adds up to 25% random delay on exponential retries.
	// Default: false
	Jitter bool

	// AttemptTimeout bounds each attempt individually. Zero leaves
	// attempts bounded only by ctx.
	AttemptTimeout time.Duration

	// MaxRateLimitWait caps how long a Retry-After delay is honored.
	// Default: MaxRetryAfter
	MaxRateLimitWait time.Duration

	// RetryIf decides whether a classified failure is retried.
	// Default: the error's Retryable flag.
	RetryIf func(err *ClassifiedError) bool

	// OnRetry is called before sleeping ahead of each retry.
	OnRetry func(attempt int, err *ClassifiedError, delay time.Duration)
}

// Retry runs an operation with classified, server-aware backoff.
//
// A RATE_LIMIT failure carrying Retry-After sleeps exactly that long and
// then tries once more without consuming MaxAttempts. Only the first such
// failure in an Execute is free; later ones still wait Retry-After but
// count as regular retries. With retries disabled nothing is free and the
// first failure is returned.
type Retry struct {
	config RetryConfig

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewRetry creates a retry controller, applying defaults.
func NewRetry(config RetryConfig) *Retry {
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 3
	}
	if config.MaxAttempts < 0 {
		config.MaxAttempts = 0
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.MaxRateLimitWait <= 0 {
		config.MaxRateLimitWait = MaxRetryAfter
	}
	if config.RetryIf == nil {
		config.RetryIf = func(err *ClassifiedError) bool { return err.Retryable }
	}

	return &Retry{
		config: config,
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// WithRetryIf returns a copy of r using a different retry predicate.
// A nil fn returns r unchanged.
func (r *Retry) WithRetryIf(fn func(err *ClassifiedError) bool) *Retry {
	if fn == nil {
		return r
	}
	cp := *r
	cp.config.RetryIf = fn
	return &cp
}

// WithMaxAttempts returns a copy of r with a different retry budget.
func (r *Retry) WithMaxAttempts(n int) *Retry {
	cp := *r
	cp.config.MaxAttempts = max(n, 0)
	return &cp
}

// Execute runs op until it succeeds, fails with a non-retryable error, or
// the retry budget is spent. The returned error is always a
// *ClassifiedError.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	_, err := Do(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do is the value-returning form of Retry.Execute.
func Do[T any](ctx context.Context, r *Retry, op func(context.Context) (T, error)) (T, error) {
	var zero T
	cfg := r.config

	var last *ClassifiedError
	retries := 0
	rateLimitGranted := false

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return zero, last
			}
			return zero, ClassifyError(err)
		}

		res, err := callWithTimeout(ctx, cfg.AttemptTimeout, op)
		if err == nil {
			return res, nil
		}

		ce := ClassifyError(err)
		last = ce

		// The caller gave up; nothing more to try.
		if ctx.Err() != nil {
			return zero, ce
		}
		if !cfg.RetryIf(ce) {
			return zero, ce
		}

		var delay time.Duration
		switch {
		case ce.Kind == KindRateLimit && ce.RetryAfter > 0:
			if rateLimitGranted || cfg.MaxAttempts == 0 {
				if retries >= cfg.MaxAttempts {
					return zero, ce
				}
				retries++
			}
			rateLimitGranted = true
			delay = min(ce.RetryAfter, cfg.MaxRateLimitWait)
		default:
			if retries >= cfg.MaxAttempts {
				return zero, ce
			}
			retries++
			delay = r.backoff(retries)
		}

		if deadline, ok := ctx.Deadline(); ok && r.now().Add(delay).After(deadline) {
			return zero, ce
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, ce, delay)
		}

		if err := r.sleep(ctx, delay); err != nil {
			return zero, ce
		}
	}
}

// backoff returns the delay before retry n (1-based).
func (r *Retry) backoff(n int) time.Duration {
	mult := math.Pow(r.config.Multiplier, float64(n-1))
	delay := time.Duration(float64(r.config.BaseDelay) * mult)

	if delay > r.config.MaxDelay || delay < 0 {
		delay = r.config.MaxDelay
	}

	if r.config.Jitter && delay >= 4 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		delay += time.Duration(rand.Int64N(int64(delay / 4)))
	}
	return delay
}

// Config returns the effective retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
