package resilience

import "errors"

// Sentinel errors for resilience operations. When they reach a caller they
// are wrapped in a ClassifiedError.
var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a call.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrRateLimitExceeded is returned when the local token bucket is empty.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrBulkheadFull is returned when no concurrency slot is free.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrTimeout is returned when a single attempt exceeds its timeout.
	ErrTimeout = errors.New("resilience: attempt timed out")
)
