package secret

import "errors"

var (
	// ErrMissingEnv is returned by ExpandEnvStrict when a ${VAR} is unset.
	ErrMissingEnv = errors.New("secret: missing required environment variables")

	// ErrProviderNotRegistered indicates a secretref names an unknown provider.
	ErrProviderNotRegistered = errors.New("secret: provider is not registered")

	// ErrNotFound indicates a provider has no value for the reference.
	ErrNotFound = errors.New("secret: not found")

	// ErrEmptyValue is returned in strict mode when a provider yields "".
	ErrEmptyValue = errors.New("secret: provider returned empty value")

	// ErrInvalidRef indicates a malformed reference.
	ErrInvalidRef = errors.New("secret: invalid reference")
)
