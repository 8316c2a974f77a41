package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonwraymond/quotelink/cache"
	"github.com/jonwraymond/quotelink/credential"
	"github.com/jonwraymond/quotelink/observe"
	"github.com/jonwraymond/quotelink/resilience"
)

// Request runs req through the pipeline: cache lookup, in-flight sharing,
// retry with classified backoff, then the transport. A successful GET is
// written back to the cache before any waiting caller is released.
//
// When a refresh fails and opts.ServeStaleOnError is set, an expired cached
// entry is returned with Stale set and RefreshErr holding the failure.
func (c *Client) Request(ctx context.Context, req RequestConfig, opts RequestOptions) (*Response, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if strings.TrimSpace(req.Path) == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidRequest)
	}

	method := req.method()
	sig, err := c.keyer.Key(method, req.Path, req.Query, req.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	c.stats.requests.Add(1)
	start := time.Now()
	defer func() { c.stats.observe(time.Since(start)) }()

	useCache := c.cache != nil && !opts.SkipCache && cacheable(method)
	route := req.route()

	// An expired entry is never read through Get, which would evict it.
	// prior stays in the store to back a conditional request or a soft
	// failure on this or a later call.
	var prior *cache.Entry
	if useCache {
		prior, _ = c.cache.Peek(ctx, sig)
		if prior != nil && !prior.Stale(time.Now()) {
			if e, ok := c.cache.Get(ctx, sig); ok {
				c.stats.cacheHits.Add(1)
				c.metrics.RecordCache(ctx, route, true)
				if c.cache.ShouldRevalidate(ctx, sig, opts.StaleThreshold) {
					c.revalidate(sig, req, method, opts, e)
				}
				return cachedResponse(sig, e), nil
			}
			c.retain(ctx, sig, prior)
		}
		c.stats.cacheMisses.Add(1)
		c.metrics.RecordCache(ctx, route, false)
	}

	fetch := func(ctx context.Context) (*Response, error) {
		return c.fetch(ctx, sig, req, method, opts, prior, useCache)
	}

	var resp *Response
	if cacheable(method) || opts.Dedupe {
		var shared bool
		resp, shared, err = c.inflight.Do(ctx, sig, fetch)
		if err == nil {
			resp = resp.clone()
			resp.Shared = shared
			if shared {
				c.stats.deduplicated.Add(1)
			}
		}
	} else {
		resp, err = fetch(ctx)
	}
	if err == nil {
		return resp, nil
	}

	ce := resilience.ClassifyError(err)
	if prior != nil && opts.ServeStaleOnError && ctx.Err() == nil {
		return c.softFail(ctx, sig, prior, ce, opts), nil
	}
	c.stats.errors.Add(1)
	return nil, ce
}

// fetch performs the retried network exchange for one signature and applies
// the outcome to the cache.
func (c *Client) fetch(ctx context.Context, sig string, req RequestConfig, method string, opts RequestOptions, prior *cache.Entry, useCache bool) (*Response, error) {
	retry := c.retry.WithRetryIf(opts.RetryIf)
	if opts.NoRetry {
		retry = retry.WithMaxAttempts(0)
	}

	var validators cache.Validators
	if useCache && prior != nil {
		validators = prior.Validators()
	}

	meta := observe.RequestMeta{Method: method, Route: req.route(), Path: req.Path, Signature: sig}
	out, err := c.mw.Wrap(func(ctx context.Context, _ observe.RequestMeta) (any, error) {
		return resilience.Do(ctx, retry, func(ctx context.Context) (*Response, error) {
			return c.attempt(ctx, req, method, validators)
		})
	})(ctx, meta)
	if err != nil {
		return nil, err
	}

	resp := out.(*Response)
	resp.Signature = sig

	if resp.Status == http.StatusNotModified && useCache && prior != nil {
		return c.renew(ctx, sig, prior, resp), nil
	}
	if useCache && resp.Status >= 200 && resp.Status < 300 {
		c.store(ctx, sig, resp, opts.TTL)
	}
	return resp, nil
}

// attempt is one guarded trip to the server: rate limiter, circuit
// breaker, bulkhead, attempt timeout, transport.
func (c *Client) attempt(ctx context.Context, req RequestConfig, method string, v cache.Validators) (*Response, error) {
	var resp *Response
	err := c.guard.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.roundTrip(ctx, req, method, v)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, req RequestConfig, method string, v cache.Validators) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, &resilience.ClassifiedError{
				Kind:    resilience.KindClient,
				Message: "encode request body",
				Cause:   fmt.Errorf("%w: %w", ErrInvalidRequest, err),
			}
		}
		body = bytes.NewReader(raw)
	}

	hreq, err := http.NewRequestWithContext(ctx, method, c.resolve(req.Path, req.Query), body)
	if err != nil {
		return nil, &resilience.ClassifiedError{
			Kind:    resilience.KindClient,
			Message: "build request",
			Cause:   fmt.Errorf("%w: %w", ErrInvalidRequest, err),
		}
	}
	hreq.Header.Set("Accept", "application/json")
	hreq.Header.Set("User-Agent", c.config.UserAgent)
	if body != nil {
		hreq.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range req.Header {
		hreq.Header.Del(k)
		for _, val := range vs {
			hreq.Header.Add(k, val)
		}
	}
	if hreq.Header.Get("If-None-Match") == "" && hreq.Header.Get("If-Modified-Since") == "" {
		v.Apply(hreq.Header)
	}

	hresp, err := c.http.Do(hreq)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer hresp.Body.Close()

	limit := c.config.MaxResponseBytes
	data, err := io.ReadAll(io.LimitReader(hresp.Body, limit+1))
	if err != nil {
		return nil, resilience.ClassifyError(err)
	}
	if int64(len(data)) > limit {
		return nil, resilience.NewValidationError(fmt.Sprintf("response body exceeds %d bytes", limit), nil)
	}

	if ce := resilience.ClassifyStatus(hresp.StatusCode, hresp.Header, data); ce != nil {
		return nil, ce
	}
	return &Response{
		Status:    hresp.StatusCode,
		Header:    hresp.Header,
		Body:      data,
		FetchedAt: time.Now(),
	}, nil
}

// classifyTransport maps a failed http.Client.Do. Credential failures never
// reached the server and must not be retried as network errors.
func classifyTransport(err error) *resilience.ClassifiedError {
	if ce, ok := resilience.AsClassified(err); ok {
		return ce
	}
	if errors.Is(err, credential.ErrMissingToken) || errors.Is(err, credential.ErrNilSource) {
		return &resilience.ClassifiedError{
			Kind:    resilience.KindAuth,
			Message: "no credentials available",
			Cause:   err,
		}
	}
	return resilience.ClassifyError(err)
}

// resolve joins path onto the base URL. path must not carry a query.
func (c *Client) resolve(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawPath = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	} else {
		u.RawQuery = ""
	}
	return u.String()
}

// store writes a successful response back to the cache. Write failures are
// logged; the caller still gets the response.
func (c *Client) store(ctx context.Context, sig string, resp *Response, ttl time.Duration) {
	cc := resp.Header.Get("Cache-Control")
	if hasDirective(cc, "no-store") {
		return
	}
	if ttl <= 0 {
		ttl = maxAge(cc)
	}
	entry := cache.Entry{
		Data:         resp.Body,
		TTL:          ttl,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
	if err := c.cache.SetEntry(ctx, sig, entry); err != nil {
		c.logger.Warn(ctx, "cache write failed", observe.F("signature", sig), observe.F("error", err))
	}
}

// renew handles a 304: the prior entry is rewritten as fresh with any new
// validators and served as a 200.
func (c *Client) renew(ctx context.Context, sig string, prior *cache.Entry, resp *Response) *Response {
	entry := *prior
	entry.WrittenAt = time.Time{}
	if et := resp.Header.Get("ETag"); et != "" {
		entry.ETag = et
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		entry.LastModified = lm
	}
	if ttl := maxAge(resp.Header.Get("Cache-Control")); ttl > 0 {
		entry.TTL = ttl
	}
	if err := c.cache.SetEntry(ctx, sig, entry); err != nil {
		c.logger.Warn(ctx, "cache renew failed", observe.F("signature", sig), observe.F("error", err))
	}
	c.stats.notModified.Add(1)

	return &Response{
		Status:      http.StatusOK,
		Header:      resp.Header,
		Body:        prior.Data,
		Signature:   sig,
		Cached:      true,
		Revalidated: true,
		FetchedAt:   resp.FetchedAt,
	}
}

// retain puts prior back when the store dropped it, as Get does when its
// clock runs ahead of ours.
func (c *Client) retain(ctx context.Context, sig string, prior *cache.Entry) {
	if _, ok := c.cache.Peek(ctx, sig); ok {
		return
	}
	if err := c.cache.SetEntry(ctx, sig, *prior); err != nil {
		c.logger.Debug(ctx, "stale entry not retained", observe.F("signature", sig), observe.F("error", err))
	}
}

// softFail serves prior in place of err. The entry is kept so later callers
// can also fall back to it until the retention window closes.
func (c *Client) softFail(ctx context.Context, sig string, prior *cache.Entry, err *resilience.ClassifiedError, opts RequestOptions) *Response {
	c.stats.softFailures.Add(1)
	c.retain(ctx, sig, prior)

	resp := cachedResponse(sig, prior)
	resp.Stale = true
	resp.RefreshErr = err

	c.logger.Warn(ctx, "serving stale response",
		observe.F("signature", sig),
		observe.F("kind", err.Kind.String()),
		observe.F("age", prior.Age(time.Now())),
	)
	if opts.OnSoftFail != nil {
		opts.OnSoftFail(resp, err)
	}
	return resp
}

// revalidate refreshes sig in the background. Concurrent triggers for the
// same signature collapse into one refresh.
func (c *Client) revalidate(sig string, req RequestConfig, method string, opts RequestOptions, current *cache.Entry) {
	c.bgMu.Lock()
	if c.closed.Load() {
		c.bgMu.Unlock()
		return
	}
	c.bg.Add(1)
	c.bgMu.Unlock()

	opts.OnSoftFail = nil
	go func() {
		defer c.bg.Done()
		_, _, _ = c.refresh.Do(sig, func() (any, error) {
			ctx := c.bgCtx
			_, _, err := c.inflight.Do(ctx, sig, func(ctx context.Context) (*Response, error) {
				return c.fetch(ctx, sig, req, method, opts, current, true)
			})
			if err != nil {
				c.logger.Debug(ctx, "background revalidation failed",
					observe.F("signature", sig),
					observe.F("error", err),
				)
				return nil, err
			}
			c.stats.revalidations.Add(1)
			return nil, nil
		})
	}()
}

func cachedResponse(sig string, e *cache.Entry) *Response {
	h := make(http.Header)
	if e.ETag != "" {
		h.Set("ETag", e.ETag)
	}
	if e.LastModified != "" {
		h.Set("Last-Modified", e.LastModified)
	}
	h.Set("Content-Type", "application/json")
	return &Response{
		Status:    http.StatusOK,
		Header:    h,
		Body:      e.Data,
		Signature: sig,
		Cached:    true,
		FetchedAt: e.WrittenAt,
	}
}

func hasDirective(cacheControl, name string) bool {
	for _, d := range strings.Split(cacheControl, ",") {
		if strings.EqualFold(strings.TrimSpace(d), name) {
			return true
		}
	}
	return false
}

// maxAge returns the Cache-Control max-age, or 0 when absent or invalid.
func maxAge(cacheControl string) time.Duration {
	for _, d := range strings.Split(cacheControl, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(d), "=")
		if !ok || !strings.EqualFold(k, "max-age") {
			continue
		}
		secs, err := strconv.Atoi(strings.Trim(v, `"`))
		if err != nil || secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	return 0
}
