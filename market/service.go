package market

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jonwraymond/quotelink/client"
	"github.com/jonwraymond/quotelink/observe"
	"github.com/jonwraymond/quotelink/push"
	"github.com/jonwraymond/quotelink/resilience"
)

// ServiceConfig sets per-endpoint cache lifetimes and paging limits.
type ServiceConfig struct {
	// StockTTL caches a single quote.
	// Default: 15s
	StockTTL time.Duration

	// ListTTL caches stock list pages.
	// Default: 1m
	ListTTL time.Duration

	// PriceTTL caches price history.
	// Default: 1m
	PriceTTL time.Duration

	// SectorTTL caches the sector list.
	// Default: 5m
	SectorTTL time.Duration

	// IndicatorTTL caches indicator series.
	// Default: 1m
	IndicatorTTL time.Duration

	// DefaultPageSize applies when ListFilter.PageSize is zero.
	// Default: 50
	DefaultPageSize int

	// MaxPageSize caps ListFilter.PageSize.
	// Default: 200
	MaxPageSize int

	Logger observe.Logger
}

func (c *ServiceConfig) applyDefaults() {
	if c.StockTTL <= 0 {
		c.StockTTL = 15 * time.Second
	}
	if c.ListTTL <= 0 {
		c.ListTTL = time.Minute
	}
	if c.PriceTTL <= 0 {
		c.PriceTTL = time.Minute
	}
	if c.SectorTTL <= 0 {
		c.SectorTTL = 5 * time.Minute
	}
	if c.IndicatorTTL <= 0 {
		c.IndicatorTTL = time.Minute
	}
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = 50
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = 200
	}
	if c.Logger == nil {
		c.Logger = observe.NopLogger()
	}
}

// Service is the typed market-data API.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: failures are *resilience.ClassifiedError from the client, or
//     wrap one of this package's sentinels for invalid arguments.
//   - Reference data (stock lists, sectors) is served stale when a refresh
//     fails; quotes and prices are not.
type Service struct {
	client *client.Client
	config ServiceConfig
	logger observe.Logger
}

// NewService wraps c.
func NewService(c *client.Client, config ServiceConfig) *Service {
	config.applyDefaults()
	return &Service{
		client: c,
		config: config,
		logger: config.Logger.With(observe.F("component", "market")),
	}
}

// ListFilter selects a page of stocks.
type ListFilter struct {
	Sector   string
	Exchange string
	Search   string
	Page     int
	PageSize int
}

// Normalize applies paging defaults and limits.
func (f *ListFilter) Normalize(defaultSize, maxSize int) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = defaultSize
	}
	if maxSize > 0 && f.PageSize > maxSize {
		f.PageSize = maxSize
	}
	f.Sector = strings.TrimSpace(f.Sector)
	f.Exchange = strings.ToUpper(strings.TrimSpace(f.Exchange))
	f.Search = strings.TrimSpace(f.Search)
}

func (f ListFilter) query() url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(f.Page))
	q.Set("page_size", strconv.Itoa(f.PageSize))
	if f.Sector != "" {
		q.Set("sector", f.Sector)
	}
	if f.Exchange != "" {
		q.Set("exchange", f.Exchange)
	}
	if f.Search != "" {
		q.Set("q", f.Search)
	}
	return q
}

// ListStocks returns one page of the stock catalogue.
func (s *Service) ListStocks(ctx context.Context, filter ListFilter) (Page[Stock], error) {
	filter.Normalize(s.config.DefaultPageSize, s.config.MaxPageSize)
	return client.Fetch[Page[Stock]](ctx, s.client,
		client.RequestConfig{Path: "/stocks", Route: "/stocks", Query: filter.query()},
		s.reference(s.config.ListTTL),
	)
}

// Stock returns the latest quote for symbol.
func (s *Service) Stock(ctx context.Context, symbol string) (Stock, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return Stock{}, err
	}
	st, err := client.Fetch[Stock](ctx, s.client,
		client.RequestConfig{Path: stockPath(sym), Route: "/stocks/{symbol}"},
		client.RequestOptions{TTL: s.config.StockTTL},
	)
	if err != nil {
		return Stock{}, err
	}
	if st.Symbol != sym {
		return Stock{}, resilience.NewValidationError(fmt.Sprintf("asked for %s, got %s", sym, st.Symbol), ErrInvalidSymbol)
	}
	return st, nil
}

// PriceQuery bounds a price history request. Zero times are omitted.
type PriceQuery struct {
	From time.Time
	To   time.Time

	// Interval is the bar width such as "1m", "1h" or "1d".
	// Default: "1d"
	Interval string
}

func (q PriceQuery) values() (url.Values, error) {
	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		return nil, fmt.Errorf("%w: from %s after to %s", ErrInvalidRange,
			q.From.Format(time.RFC3339), q.To.Format(time.RFC3339))
	}
	v := url.Values{}
	interval := q.Interval
	if interval == "" {
		interval = "1d"
	}
	v.Set("interval", interval)
	if !q.From.IsZero() {
		v.Set("from", formatBound(q.From))
	}
	if !q.To.IsZero() {
		v.Set("to", formatBound(q.To))
	}
	return v, nil
}

// formatBound writes midnight UTC as a date so daily queries share cache
// keys regardless of how the caller built the time.
func formatBound(t time.Time) string {
	t = t.UTC()
	if t.Equal(t.Truncate(24 * time.Hour)) {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.RFC3339)
}

// Prices returns symbol's bars for q.
func (s *Service) Prices(ctx context.Context, symbol string, q PriceQuery) (PriceSeries, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return PriceSeries{}, err
	}
	query, err := q.values()
	if err != nil {
		return PriceSeries{}, err
	}
	series, err := client.Fetch[PriceSeries](ctx, s.client,
		client.RequestConfig{Path: stockPath(sym) + "/prices", Route: "/stocks/{symbol}/prices", Query: query},
		client.RequestOptions{TTL: s.config.PriceTTL},
	)
	if err != nil {
		return PriceSeries{}, err
	}
	if series.Symbol != sym {
		return PriceSeries{}, resilience.NewValidationError(fmt.Sprintf("asked for %s prices, got %s", sym, series.Symbol), ErrInvalidSymbol)
	}
	return series, nil
}

// Sectors returns every sector.
func (s *Service) Sectors(ctx context.Context) ([]Sector, error) {
	out, err := client.Fetch[Sectors](ctx, s.client,
		client.RequestConfig{Path: "/sectors", Route: "/sectors"},
		s.reference(s.config.SectorTTL),
	)
	return out, err
}

// Indicators returns the named indicator series for symbol. No names asks
// the server for its default set.
func (s *Service) Indicators(ctx context.Context, symbol string, names ...string) ([]Indicator, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	var query url.Values
	if len(names) > 0 {
		query = url.Values{"name": normalizeNames(names)}
	}
	out, err := client.Fetch[Indicators](ctx, s.client,
		client.RequestConfig{Path: stockPath(sym) + "/indicators", Route: "/stocks/{symbol}/indicators", Query: query},
		client.RequestOptions{TTL: s.config.IndicatorTTL},
	)
	return out, err
}

// Invalidate drops every cached response under symbol's path.
func (s *Service) Invalidate(ctx context.Context, symbol string) (int, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return 0, err
	}
	return s.client.ClearCache(ctx, stockPath(sym))
}

// PriceEvent returns the push event name carrying symbol's updates.
func PriceEvent(symbol string) string {
	return "prices." + symbol
}

// WatchPrices subscribes handler to live updates for symbols and returns a
// function that cancels every subscription it made. Payloads that fail to
// decode or name another symbol are rejected before handler runs.
func (s *Service) WatchPrices(ctx context.Context, handler func(context.Context, PriceUpdate) error, symbols ...string) (func(), error) {
	syms := make([]string, 0, len(symbols))
	for _, raw := range symbols {
		sym, err := NormalizeSymbol(raw)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(syms, sym) {
			syms = append(syms, sym)
		}
	}
	if len(syms) == 0 {
		return nil, ErrNoSymbols
	}

	handles := make([]*push.Handle, 0, len(syms))
	stop := func() {
		for _, h := range handles {
			h.Unsubscribe()
		}
	}

	for _, sym := range syms {
		h, err := s.client.Subscribe(ctx, PriceEvent(sym), priceHandler(sym, handler))
		if err != nil {
			stop()
			return nil, err
		}
		handles = append(handles, h)
	}
	s.logger.Debug(ctx, "watching prices", observe.F("symbols", syms))
	return stop, nil
}

func priceHandler(sym string, handler func(context.Context, PriceUpdate) error) push.Handler {
	return func(ctx context.Context, ev push.Event) error {
		u, err := client.Decode[PriceUpdate](ev.Payload)
		if err != nil {
			return err
		}
		if u.Symbol != sym {
			return resilience.NewValidationError(fmt.Sprintf("%s event carried %s", ev.Name, u.Symbol), ErrInvalidSymbol)
		}
		if u.Time.IsZero() {
			u.Time = ev.ReceivedAt
		}
		return handler(ctx, u)
	}
}

// reference is the option set for slow-changing lists.
func (s *Service) reference(ttl time.Duration) client.RequestOptions {
	return client.RequestOptions{
		TTL:               ttl,
		ServeStaleOnError: true,
		OnSoftFail: func(resp *client.Response, err error) {
			s.logger.Info(context.Background(), "serving stale reference data",
				observe.F("signature", resp.Signature),
				observe.F("error", err),
			)
		},
	}
}

func stockPath(sym string) string {
	return "/stocks/" + url.PathEscape(sym)
}

func normalizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out
}
