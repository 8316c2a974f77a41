package credential

import "errors"

var (
	// ErrMissingToken indicates a Source has no token to offer.
	ErrMissingToken = errors.New("credential: missing token")

	// ErrTokenExpired indicates the token's exp claim is in the past.
	ErrTokenExpired = errors.New("credential: token expired")

	// ErrNilSource indicates a nil Source was provided.
	ErrNilSource = errors.New("credential: source is nil")
)
