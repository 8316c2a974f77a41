package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Keyer derives the request signature used as both cache and dedup key.
//
// Contract:
//   - Determinism: the same request must produce the same key regardless of
//     query parameter or map ordering.
//   - Readability: keys keep the request path verbatim so ClearByTag can
//     match on path segments.
type Keyer interface {
	Key(method, path string, query url.Values, body any) (string, error)
}

// DefaultKeyer builds keys of the form
//
//	GET /stocks/AAPL/prices?from=2024-01-01&to=2024-03-31
//
// Requests other than GET and HEAD that carry a body get a short SHA-256 of
// the JSON body appended after a '#'.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key implements Keyer.
func (k *DefaultKeyer) Key(method, path string, query url.Values, body any) (string, error) {
	return Signature(method, path, query, body)
}

// Signature returns the deterministic request signature.
func Signature(method, path string, query url.Values, body any) (string, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}

	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(path)

	if q := canonicalQuery(query); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}

	if body != nil && method != http.MethodGet && method != http.MethodHead {
		// encoding/json sorts map keys, so the encoding is canonical.
		raw, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("cache: failed to encode body: %w", err)
		}
		sum := sha256.Sum256(raw)
		b.WriteByte('#')
		b.WriteString(hex.EncodeToString(sum[:8]))
	}

	key := b.String()
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// canonicalQuery encodes query with keys sorted and each key's values sorted.
func canonicalQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vals := append([]string(nil), query[k]...)
		sort.Strings(vals)
		ek := url.QueryEscape(k)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(ek)
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// Ensure DefaultKeyer implements Keyer
var _ Keyer = (*DefaultKeyer)(nil)
