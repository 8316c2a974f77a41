package credential

import (
	"context"
	"strings"

	"github.com/jonwraymond/quotelink/secret"
)

// Source yields the bearer token for outgoing calls.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - An empty token with nil error means "send no Authorization header".
//   - Implementations must not log token values.
type Source interface {
	Token(ctx context.Context) (string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (string, error)

// Token calls f.
func (f SourceFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// Static returns a Source that always yields token.
func Static(token string) Source {
	return staticSource(strings.TrimSpace(token))
}

type staticSource string

func (s staticSource) Token(context.Context) (string, error) {
	return string(s), nil
}

// FromSecret returns a Source that resolves value through r on every call.
// value may be a plain token, a ${VAR} expansion or a secretref.
func FromSecret(r *secret.Resolver, value string) Source {
	return &secretSource{resolver: r, value: value}
}

type secretSource struct {
	resolver *secret.Resolver
	value    string
}

func (s *secretSource) Token(ctx context.Context) (string, error) {
	tok, err := s.resolver.ResolveValue(ctx, s.value)
	if err != nil {
		return "", err
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", ErrMissingToken
	}
	return tok, nil
}

// None returns a Source that never sends credentials.
func None() Source {
	return staticSource("")
}
