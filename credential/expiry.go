package credential

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jonwraymond/quotelink/resilience"
)

// ExpiryOption configures ExpiryChecked.
type ExpiryOption func(*expirySource)

// WithLeeway treats tokens expiring within d as already expired.
func WithLeeway(d time.Duration) ExpiryOption {
	return func(s *expirySource) {
		if d > 0 {
			s.leeway = d
		}
	}
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) ExpiryOption {
	return func(s *expirySource) {
		if now != nil {
			s.now = now
		}
	}
}

// ExpiryChecked wraps src so that a JWT whose exp claim has passed is
// rejected locally with a non-retryable AUTH ClassifiedError wrapping
// ErrTokenExpired. The signature is not verified; the server remains the
// authority. Opaque (non-JWT) tokens and JWTs without exp pass through.
func ExpiryChecked(src Source, opts ...ExpiryOption) Source {
	s := &expirySource{src: src, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type expirySource struct {
	src    Source
	leeway time.Duration
	now    func() time.Time
}

func (s *expirySource) Token(ctx context.Context) (string, error) {
	if s.src == nil {
		return "", ErrNilSource
	}
	tok, err := s.src.Token(ctx)
	if err != nil || tok == "" {
		return tok, err
	}

	exp, ok := Expiry(tok)
	if ok && !s.now().Add(s.leeway).Before(exp) {
		return "", &resilience.ClassifiedError{
			Kind:    resilience.KindAuth,
			Message: "token expired at " + exp.UTC().Format(time.RFC3339),
			Cause:   ErrTokenExpired,
		}
	}
	return tok, nil
}

// Expiry returns the exp claim of a JWT without verifying its signature.
// ok is false for opaque tokens and JWTs without exp.
func Expiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
