package health

import "errors"

var (
	// ErrCheckFailed wraps the classified upstream error of a failed probe.
	ErrCheckFailed = errors.New("health: upstream probe failed")

	// ErrCheckTimeout marks a check abandoned at the aggregator deadline.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrCheckerNotFound is returned by Aggregator.Check for unknown names.
	ErrCheckerNotFound = errors.New("health: checker not found")

	// ErrPushDown marks a push channel that is down after a failure.
	ErrPushDown = errors.New("health: push channel down")
)
