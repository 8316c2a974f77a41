// Package resilience classifies request failures and retries them.
//
// The classifier maps transport errors and HTTP statuses onto a fixed
// taxonomy (NETWORK, TIMEOUT, AUTH, AUTHZ, VALIDATION, RATE_LIMIT, CLIENT,
// SERVER, UNKNOWN). Each ClassifiedError carries a Retryable flag.
//
// Retry is the retry controller. It grants MaxAttempts additional attempts
// after the first failure, waiting BaseDelay * 2^(n-1) between them. A 429
// that carries Retry-After waits exactly that long and gets one extra
// attempt that does not consume the budget:
//
//	r := resilience.NewRetry(resilience.RetryConfig{
//	    MaxAttempts: 3,
//	    BaseDelay:   500 * time.Millisecond,
//	})
//	body, err := resilience.Do(ctx, r, fetch)
//
// CircuitBreaker, RateLimiter, Bulkhead and Timeout wrap single attempts,
// and Executor chains them in that order around one attempt. Their
// rejections also surface as ClassifiedErrors, so the retry controller
// decides uniformly:
//
//	guard := resilience.NewExecutor(
//	    resilience.WithCircuitBreaker(cb),
//	    resilience.WithTimeout(15*time.Second),
//	)
//	err := r.Execute(ctx, func(ctx context.Context) error {
//	    return guard.Execute(ctx, attempt)
//	})
package resilience
