package config

import "errors"

var (
	// ErrMissingBaseURL indicates client.base_url is empty.
	ErrMissingBaseURL = errors.New("config: client.base_url is required")

	// ErrInvalidConfig indicates a setting outside its allowed range.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)
