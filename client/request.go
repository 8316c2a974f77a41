package client

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonwraymond/quotelink/resilience"
)

// RequestConfig describes one REST call.
type RequestConfig struct {
	// Method defaults to GET.
	Method string

	// Path is joined to Config.BaseURL, e.g. "/stocks/AAPL/prices".
	Path string

	// Route is the template Path was built from, e.g.
	// "/stocks/{symbol}/prices". It labels metrics and spans; requests
	// without one are labelled OtherRoute.
	Route string

	Query  url.Values
	Header http.Header

	// Body is encoded as JSON.
	Body any
}

// OtherRoute labels telemetry for requests that carry no Route.
const OtherRoute = "_OTHER"

func (r RequestConfig) route() string {
	if r.Route == "" {
		return OtherRoute
	}
	return r.Route
}

func (r RequestConfig) method() string {
	m := strings.ToUpper(strings.TrimSpace(r.Method))
	if m == "" {
		return http.MethodGet
	}
	return m
}

// RequestOptions tune the pipeline for one call. The zero value caches
// GET responses with the policy TTL and retries per Config.Retry.
type RequestOptions struct {
	// TTL overrides the cache policy TTL.
	TTL time.Duration

	// SkipCache bypasses both the cache read and the cache write.
	SkipCache bool

	// ServeStaleOnError returns an expired cached response instead of the
	// error when a refresh fails.
	ServeStaleOnError bool

	// StaleThreshold overrides the fraction of TTL after which a cache hit
	// triggers background revalidation.
	StaleThreshold float64

	// OnSoftFail is called when a stale response is served in place of an
	// error.
	OnSoftFail func(resp *Response, err error)

	// RetryIf overrides the retry predicate.
	RetryIf func(err *resilience.ClassifiedError) bool

	// NoRetry makes exactly one attempt, even when a 429 carries
	// Retry-After.
	NoRetry bool

	// Dedupe shares in-flight non-GET requests with identical signatures.
	// GET and HEAD are always shared.
	Dedupe bool
}

// Response is the outcome of a request.
type Response struct {
	Status int
	Header http.Header
	Body   []byte

	// Signature is the deterministic request key.
	Signature string

	// Cached reports that Body came from the cache.
	Cached bool

	// Stale reports that Body is an expired entry served after a failed
	// refresh; RefreshErr holds that failure.
	Stale      bool
	RefreshErr error

	// Revalidated reports that the server answered 304 and the cached
	// entry was renewed.
	Revalidated bool

	// Shared reports that this caller joined another caller's fetch.
	Shared bool

	// FetchedAt is when Body was obtained from the server.
	FetchedAt time.Time
}

// clone returns a copy safe to hand to one caller. Body is shared and must
// be treated as read-only.
func (r *Response) clone() *Response {
	cp := *r
	cp.Header = r.Header.Clone()
	return &cp
}

func cacheable(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}
