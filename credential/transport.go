package credential

import (
	"context"
	"net/http"
)

// Transport is an http.RoundTripper that sets "Authorization: Bearer" from
// a Source. Requests that already carry an Authorization header are sent
// unchanged.
type Transport struct {
	Source Source

	// Base is the underlying transport. Default: http.DefaultTransport
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Source == nil || req.Header.Get("Authorization") != "" {
		return base.RoundTrip(req)
	}

	tok, err := t.Source.Token(req.Context())
	if err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}
	if tok == "" {
		return base.RoundTrip(req)
	}

	// RoundTrippers must not modify the caller's request.
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+tok)
	return base.RoundTrip(clone)
}

// Header returns the headers carrying src's token, for handshakes that do
// not go through an http.Client such as a websocket dial.
func Header(ctx context.Context, src Source) (http.Header, error) {
	h := http.Header{}
	if src == nil {
		return h, nil
	}
	tok, err := src.Token(ctx)
	if err != nil {
		return nil, err
	}
	if tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
	return h, nil
}

var _ http.RoundTripper = (*Transport)(nil)
