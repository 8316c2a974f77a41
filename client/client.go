package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/quotelink/cache"
	"github.com/jonwraymond/quotelink/credential"
	"github.com/jonwraymond/quotelink/dedup"
	"github.com/jonwraymond/quotelink/observe"
	"github.com/jonwraymond/quotelink/push"
	"github.com/jonwraymond/quotelink/resilience"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the absolute REST endpoint, e.g. "https://api.example.com/v1".
	BaseURL string

	// UserAgent is sent on every request.
	// Default: "quotelink"
	UserAgent string

	// Credentials supplies the bearer token for REST and push. JWTs are
	// checked for expiry locally before each request.
	Credentials credential.Source

	// TokenLeeway treats tokens expiring within this window as expired.
	// Default: 30s
	TokenLeeway time.Duration

	// Cache is the policy for the built-in memory cache, or the TTL policy
	// applied on top of a cache passed via WithCache.
	// Default: cache.DefaultPolicy()
	Cache cache.Policy

	// DisableCache turns caching off entirely.
	DisableCache bool

	// SweepInterval is how often expired memory-cache entries are removed.
	// Negative disables the sweeper.
	// Default: 1m
	SweepInterval time.Duration

	// Retry configures the retry controller. AttemptTimeout bounds each
	// trip to the server, excluding rate limiter and bulkhead waits, and
	// defaults to 15s.
	Retry resilience.RetryConfig

	Circuit  resilience.CircuitBreakerConfig
	Bulkhead resilience.BulkheadConfig

	// RateLimit enables the client-side token bucket when non-nil.
	RateLimit *resilience.RateLimiterConfig

	// MaxResponseBytes caps a response body.
	// Default: 8 MiB
	MaxResponseBytes int64

	// HealthPath, when set, adds an "upstream" health check that GETs this
	// path relative to BaseURL, e.g. "/health".
	HealthPath string

	// PushURL enables the push channel over WebSocketTransport.
	PushURL string

	// Push configures the push manager.
	// Default: push.DefaultConfig()
	Push *push.Config
}

func (c *Config) applyDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = "quotelink"
	}
	if c.TokenLeeway <= 0 {
		c.TokenLeeway = 30 * time.Second
	}
	if c.Cache == (cache.Policy{}) {
		c.Cache = cache.DefaultPolicy()
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
	if c.Retry.AttemptTimeout <= 0 {
		c.Retry.AttemptTimeout = 15 * time.Second
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = 8 << 20
	}
}

// Option configures a Client with an injected component.
type Option func(*options)

type options struct {
	httpClient    *http.Client
	cache         cache.Cache
	keyer         cache.Keyer
	pushTransport push.Transport
	observer      observe.Observer
	logger        observe.Logger
	metrics       observe.Metrics
	tracer        observe.Tracer
}

// WithHTTPClient replaces the HTTP client. Its transport is wrapped to
// inject credentials.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithCache replaces the built-in memory cache, e.g. with a RedisCache.
func WithCache(c cache.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithKeyer replaces the request signature used for cache and in-flight
// sharing. Default: cache.DefaultKeyer.
func WithKeyer(k cache.Keyer) Option {
	return func(o *options) { o.keyer = k }
}

// WithPushTransport enables the push channel over t.
func WithPushTransport(t push.Transport) Option {
	return func(o *options) { o.pushTransport = t }
}

// WithObserver takes logger, tracer and metrics from obs.
func WithObserver(obs observe.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithLogger sets the logger.
func WithLogger(l observe.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t observe.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// Client is the resilient data-access client.
//
// Contract:
//   - Concurrency: all methods are safe for concurrent use.
//   - Errors: Request returns *resilience.ClassifiedError for every failure
//     that reached the pipeline.
//   - Close stops background work; later calls return ErrClosed.
type Client struct {
	config Config
	base   *url.URL
	http   *http.Client

	cache    cache.Cache
	keyer    cache.Keyer
	inflight *dedup.Registry[*Response]
	refresh  singleflight.Group

	retry    *resilience.Retry
	guard    *resilience.Executor
	breaker  *resilience.CircuitBreaker
	bulkhead *resilience.Bulkhead
	limiter  *resilience.RateLimiter

	mw      *observe.Middleware
	logger  observe.Logger
	metrics observe.Metrics

	push *push.Manager

	stats counters

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgMu     sync.Mutex // orders bg.Add against Close
	bg       sync.WaitGroup
	closed   atomic.Bool
}

// New builds a Client from config.
func New(config Config, opts ...Option) (*Client, error) {
	config.applyDefaults()

	base, err := url.Parse(config.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, config.BaseURL)
	}

	if config.Circuit.IsFailure == nil {
		config.Circuit.IsFailure = backendFailure
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var mw *observe.Middleware
	if o.observer != nil {
		mw, err = observe.MiddlewareFromObserver(o.observer)
		if err != nil {
			return nil, err
		}
	} else {
		mw = observe.NewMiddleware(o.tracer, o.metrics, o.logger)
	}
	logger := mw.Logger().With(observe.F("component", "client"))

	c := &Client{
		config:   config,
		base:     base,
		keyer:    o.keyer,
		inflight: dedup.New[*Response](),
		breaker:  resilience.NewCircuitBreaker(config.Circuit),
		bulkhead: resilience.NewBulkhead(config.Bulkhead),
		mw:       mw,
		logger:   logger,
		metrics:  mw.Metrics(),
	}
	if c.keyer == nil {
		c.keyer = cache.NewDefaultKeyer()
	}
	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())

	if config.RateLimit != nil {
		c.limiter = resilience.NewRateLimiter(*config.RateLimit)
	}

	retryCfg := config.Retry
	userOnRetry := retryCfg.OnRetry
	retryCfg.OnRetry = func(attempt int, err *resilience.ClassifiedError, delay time.Duration) {
		c.stats.retries.Add(1)
		c.metrics.RecordRetry(c.bgCtx, err.Kind.String())
		c.logger.Debug(c.bgCtx, "retrying request",
			observe.F("attempt", attempt),
			observe.F("kind", err.Kind.String()),
			observe.F("delay", delay),
		)
		if userOnRetry != nil {
			userOnRetry(attempt, err, delay)
		}
	}
	// The attempt timeout sits inside the guard, under the breaker, rather
	// than around the whole attempt.
	retryCfg.AttemptTimeout = 0
	c.retry = resilience.NewRetry(retryCfg)
	c.guard = resilience.NewExecutor(
		resilience.WithRateLimiter(c.limiter),
		resilience.WithCircuitBreaker(c.breaker),
		resilience.WithBulkhead(c.bulkhead),
		resilience.WithTimeout(config.Retry.AttemptTimeout),
	)

	c.http = c.buildHTTPClient(o.httpClient)

	if !config.DisableCache {
		c.cache = o.cache
		if c.cache == nil {
			mem := cache.NewMemoryCache(config.Cache)
			if config.SweepInterval > 0 {
				mem.StartSweeper(c.bgCtx, config.SweepInterval)
			}
			c.cache = mem
		}
	}

	transport := o.pushTransport
	if transport == nil && config.PushURL != "" {
		transport = push.NewWebSocketTransport(push.WebSocketConfig{
			URL:         config.PushURL,
			Credentials: c.credentials(),
		})
	}
	if transport != nil {
		pcfg := push.DefaultConfig()
		if config.Push != nil {
			pcfg = *config.Push
		}
		if pcfg.Logger == nil {
			pcfg.Logger = mw.Logger().With(observe.F("component", "push"))
		}
		if pcfg.Metrics == nil {
			pcfg.Metrics = c.metrics
		}
		c.push, err = push.NewManager(transport, pcfg)
		if err != nil {
			return nil, err
		}
	}

	return c, nil
}

// backendFailure counts failures that say the backend is unhealthy. A
// full bulkhead is local back-pressure and does not trip the breaker.
func backendFailure(err error) bool {
	if err == nil || errors.Is(err, resilience.ErrBulkheadFull) {
		return false
	}
	switch resilience.ClassifyError(err).Kind {
	case resilience.KindNetwork, resilience.KindTimeout, resilience.KindServer:
		return true
	default:
		return false
	}
}

// credentials returns the configured source with local expiry checks, or
// nil when none is configured.
func (c *Client) credentials() credential.Source {
	if c.config.Credentials == nil {
		return nil
	}
	return credential.ExpiryChecked(c.config.Credentials, credential.WithLeeway(c.config.TokenLeeway))
}

func (c *Client) buildHTTPClient(hc *http.Client) *http.Client {
	var cp http.Client
	if hc != nil {
		cp = *hc
	}
	if src := c.credentials(); src != nil {
		cp.Transport = &credential.Transport{Source: src, Base: cp.Transport}
	}
	return &cp
}

// Close stops background revalidation and the sweeper and closes the push
// channel. It waits for background work until ctx is done.
func (c *Client) Close(ctx context.Context) error {
	c.bgMu.Lock()
	if !c.closed.CompareAndSwap(false, true) {
		c.bgMu.Unlock()
		return nil
	}
	c.bgMu.Unlock()
	c.bgCancel()

	var errs []error
	if c.push != nil {
		errs = append(errs, c.push.Close(ctx))
	}

	done := make(chan struct{})
	go func() {
		c.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}

// ClearCache removes cached responses whose signature contains pattern.
// An empty pattern clears everything. It returns the number removed when
// the store can report it.
func (c *Client) ClearCache(ctx context.Context, pattern string) (int, error) {
	if c.cache == nil {
		return 0, nil
	}
	if pattern == "" {
		return 0, c.cache.Clear(ctx)
	}
	n, err := c.cache.ClearByTag(ctx, pattern)
	if err == nil {
		c.logger.Debug(ctx, "cache cleared", observe.F("pattern", pattern), observe.F("removed", n))
	}
	return n, err
}

// Cache returns the response cache, or nil when caching is disabled.
func (c *Client) Cache() cache.Cache {
	return c.cache
}
