package dedup

import "errors"

var (
	// ErrNilFunc is returned by Do when fn is nil.
	ErrNilFunc = errors.New("dedup: fn is nil")

	// ErrPanicked wraps a panic recovered from fn. Every joiner receives it.
	ErrPanicked = errors.New("dedup: call panicked")
)
