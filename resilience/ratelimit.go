package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiterConfig configures the client-side token bucket.
type RateLimiterConfig struct {
	// Rate is the number of requests allowed per second.
	// Default: 20
	Rate float64

	// Burst is the bucket size.
	// Default: 10
	Burst int

	// WaitOnLimit makes Execute queue for a token instead of failing.
	// Default: false
	WaitOnLimit bool

	// MaxWait bounds how long Execute queues when WaitOnLimit is set.
	// Default: 1 second
	MaxWait time.Duration
}

// RateLimiter throttles outgoing attempts before the backend has to
// answer 429.
type RateLimiter struct {
	config RateLimiterConfig
	now    func() time.Time

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	throttled  int64
}

// NewRateLimiter creates a new rate limiter with a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Rate <= 0 {
		config.Rate = 20
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}
	if config.MaxWait <= 0 {
		config.MaxWait = time.Second
	}

	return &RateLimiter{
		config:     config,
		now:        time.Now,
		tokens:     float64(config.Burst),
		lastRefill: time.Now(),
	}
}

// Allow takes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked()
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	rl.throttled++
	return false
}

// Wait blocks until a token is taken, MaxWait elapses, or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	deadline := rl.now().Add(rl.config.MaxWait)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rl.mu.Lock()
		rl.refillLocked()
		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - rl.tokens) / rl.config.Rate * float64(time.Second))
		rl.mu.Unlock()

		remaining := deadline.Sub(rl.now())
		if remaining <= 0 {
			rl.mu.Lock()
			rl.throttled++
			rl.mu.Unlock()
			return ErrRateLimitExceeded
		}
		if err := sleepContext(ctx, min(wait, remaining)); err != nil {
			return err
		}
	}
}

// Execute runs op once a token is obtained. Throttling surfaces as a
// retryable RATE_LIMIT ClassifiedError.
func (rl *RateLimiter) Execute(ctx context.Context, op func(context.Context) error) error {
	if rl.config.WaitOnLimit {
		if err := rl.Wait(ctx); err != nil {
			return ClassifyError(err)
		}
	} else if !rl.Allow() {
		return ClassifyError(ErrRateLimitExceeded)
	}
	return op(ctx)
}

func (rl *RateLimiter) refillLocked() {
	now := rl.now()
	elapsed := now.Sub(rl.lastRefill)
	if elapsed <= 0 {
		return
	}
	rl.lastRefill = now
	rl.tokens = min(rl.tokens+elapsed.Seconds()*rl.config.Rate, float64(rl.config.Burst))
}

// Tokens returns the number of tokens currently available.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked()
	return rl.tokens
}

// Throttled returns how many requests found the bucket empty.
func (rl *RateLimiter) Throttled() int64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.throttled
}
