package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/quotelink/client"
	"github.com/jonwraymond/quotelink/push"
	"github.com/jonwraymond/quotelink/resilience"
)

func newTestService(t *testing.T, mux *http.ServeMux, opts ...client.Option) *Service {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := client.New(client.Config{
		BaseURL:       srv.URL,
		SweepInterval: -1,
		Retry:         resilience.RetryConfig{BaseDelay: time.Millisecond},
	}, opts...)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return NewService(c, ServiceConfig{})
}

func TestService_Stock(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stocks/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"symbol":%q,"name":"Apple Inc.","price":"187.44","change":"1.20","change_pct":"0.64","volume":1000,"updated_at":"2024-03-01T20:00:00Z"}`, r.PathValue("symbol"))
	})
	s := newTestService(t, mux)

	st, err := s.Stock(context.Background(), "aapl")
	if err != nil {
		t.Fatalf("Stock() error = %v", err)
	}
	if st.Symbol != "AAPL" || st.Price.String() != "187.44" {
		t.Errorf("Stock() = %s %s, want AAPL 187.44", st.Symbol, st.Price)
	}

	if _, err := s.Stock(context.Background(), "1bad"); !errors.Is(err, ErrInvalidSymbol) {
		t.Errorf("Stock(1bad) error = %v, want ErrInvalidSymbol", err)
	}
}

func TestService_StockSymbolMismatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stocks/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"MSFT","name":"Microsoft","price":"1","change":"0","change_pct":"0","volume":0,"updated_at":"2024-03-01T20:00:00Z"}`)
	})
	s := newTestService(t, mux)

	if _, err := s.Stock(context.Background(), "AAPL"); !resilience.IsKind(err, resilience.KindValidation) {
		t.Errorf("Stock() error = %v, want VALIDATION", err)
	}
}

func TestService_ListStocks(t *testing.T) {
	var query atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stocks", func(w http.ResponseWriter, r *http.Request) {
		query.Store(r.URL.RawQuery)
		fmt.Fprint(w, `{"items":[{"symbol":"AAPL","name":"Apple","price":"1","change":"0","change_pct":"0","volume":0,"updated_at":"2024-03-01T20:00:00Z"}],"page":1,"page_size":50,"total":1}`)
	})
	s := newTestService(t, mux)

	p, err := s.ListStocks(context.Background(), ListFilter{Sector: "Technology"})
	if err != nil {
		t.Fatalf("ListStocks() error = %v", err)
	}
	if len(p.Items) != 1 || p.Items[0].Symbol != "AAPL" {
		t.Errorf("ListStocks() items = %+v", p.Items)
	}
	if p.HasMore() {
		t.Error("HasMore() = true, want false")
	}
	if got, _ := query.Load().(string); got != "page=1&page_size=50&sector=Technology" {
		t.Errorf("query = %q", got)
	}
}

func TestService_Prices(t *testing.T) {
	var query atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stocks/{symbol}/prices", func(w http.ResponseWriter, r *http.Request) {
		query.Store(r.URL.RawQuery)
		fmt.Fprintf(w, `{"symbol":%q,"interval":"1d","bars":[
			{"time":"2024-01-02T00:00:00Z","open":"10","high":"12","low":"9","close":"11","volume":100},
			{"time":"2024-01-03T00:00:00Z","open":"11","high":"13","low":"10","close":"12","volume":200}]}`, r.PathValue("symbol"))
	})
	s := newTestService(t, mux)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	series, err := s.Prices(context.Background(), "AAPL", PriceQuery{From: from, To: to})
	if err != nil {
		t.Fatalf("Prices() error = %v", err)
	}
	if len(series.Bars) != 2 {
		t.Fatalf("bars = %d, want 2", len(series.Bars))
	}
	if last, _ := series.Last(); last.Close.String() != "12" {
		t.Errorf("last close = %s, want 12", last.Close)
	}
	if got, _ := query.Load().(string); got != "from=2024-01-01&interval=1d&to=2024-03-31" {
		t.Errorf("query = %q", got)
	}

	if _, err := s.Prices(context.Background(), "AAPL", PriceQuery{From: to, To: from}); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("Prices() reversed range error = %v, want ErrInvalidRange", err)
	}
}

func TestService_PricesRejectsBadBars(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stocks/{symbol}/prices", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"AAPL","interval":"1d","bars":[{"time":"2024-01-02T00:00:00Z","open":"10","high":"8","low":"9","close":"11","volume":1}]}`)
	})
	s := newTestService(t, mux)

	_, err := s.Prices(context.Background(), "AAPL", PriceQuery{})
	if !resilience.IsKind(err, resilience.KindValidation) || !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("Prices() error = %v, want VALIDATION wrapping ErrInvalidPrice", err)
	}
}

func TestService_SectorsServedStale(t *testing.T) {
	var hits atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sectors", func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) > 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `[{"name":"Technology","change_pct":"1.5","stocks":70},{"name":"Energy","change_pct":"-0.4","stocks":22}]`)
	})
	s := newTestService(t, mux)
	s.config.SectorTTL = 10 * time.Millisecond

	sectors, err := s.Sectors(context.Background())
	if err != nil {
		t.Fatalf("Sectors() error = %v", err)
	}
	if len(sectors) != 2 || sectors[0].Name != "Technology" {
		t.Errorf("Sectors() = %+v", sectors)
	}

	time.Sleep(20 * time.Millisecond)
	sectors, err = s.Sectors(context.Background())
	if err != nil {
		t.Fatalf("stale Sectors() error = %v", err)
	}
	if len(sectors) != 2 {
		t.Errorf("stale Sectors() = %+v", sectors)
	}
	if got := s.client.PerformanceStats().SoftFailures; got != 1 {
		t.Errorf("SoftFailures = %d, want 1", got)
	}
}

func TestService_Indicators(t *testing.T) {
	var query atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stocks/{symbol}/indicators", func(w http.ResponseWriter, r *http.Request) {
		query.Store(r.URL.RawQuery)
		fmt.Fprint(w, `[{"symbol":"AAPL","name":"rsi","period":14,"values":[{"time":"2024-01-02T00:00:00Z","value":"55.2"}]},{"symbol":"AAPL","name":"sma","period":20,"values":[]}]`)
	})
	s := newTestService(t, mux)

	ind, err := s.Indicators(context.Background(), "AAPL", "SMA", "rsi", "sma")
	if err != nil {
		t.Fatalf("Indicators() error = %v", err)
	}
	if len(ind) != 2 || ind[0].Name != "rsi" || ind[0].Values[0].Value.String() != "55.2" {
		t.Errorf("Indicators() = %+v", ind)
	}
	if got, _ := query.Load().(string); got != "name=rsi&name=sma" {
		t.Errorf("query = %q, want name=rsi&name=sma", got)
	}
}

func TestService_Invalidate(t *testing.T) {
	var hits atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stocks/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprintf(w, `{"symbol":%q,"name":"x","price":"1","change":"0","change_pct":"0","volume":0,"updated_at":"2024-03-01T20:00:00Z"}`, r.PathValue("symbol"))
	})
	s := newTestService(t, mux)
	ctx := context.Background()

	for range 2 {
		if _, err := s.Stock(ctx, "AAPL"); err != nil {
			t.Fatalf("Stock() error = %v", err)
		}
	}
	if _, err := s.Stock(ctx, "MSFT"); err != nil {
		t.Fatalf("Stock() error = %v", err)
	}

	n, err := s.Invalidate(ctx, "AAPL")
	if err != nil || n != 1 {
		t.Errorf("Invalidate() = %d, %v; want 1, nil", n, err)
	}
	if _, err := s.Stock(ctx, "AAPL"); err != nil {
		t.Fatalf("Stock() error = %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("server hits = %d, want 3", hits.Load())
	}
}

// feedConn is a push.Conn that delivers queued events.
type feedConn struct {
	events chan push.Event
	done   chan struct{}
	once   sync.Once
}

func (c *feedConn) ID() string                                { return "feed" }
func (c *feedConn) Subscribe(context.Context, string) error   { return nil }
func (c *feedConn) Unsubscribe(context.Context, string) error { return nil }
func (c *feedConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *feedConn) Receive(ctx context.Context) (push.Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case <-c.done:
		return push.Event{}, push.ErrConnectionLost
	case <-ctx.Done():
		return push.Event{}, ctx.Err()
	}
}

func TestService_WatchPrices(t *testing.T) {
	conn := &feedConn{events: make(chan push.Event, 4), done: make(chan struct{})}
	transport := push.TransportFunc(func(context.Context) (push.Conn, error) { return conn, nil })
	s := newTestService(t, http.NewServeMux(), client.WithPushTransport(transport))
	ctx := context.Background()

	got := make(chan PriceUpdate, 4)
	stop, err := s.WatchPrices(ctx, func(_ context.Context, u PriceUpdate) error {
		got <- u
		return nil
	}, "aapl", "AAPL", "msft")
	if err != nil {
		t.Fatalf("WatchPrices() error = %v", err)
	}
	if n := len(s.client.Push().Subscriptions()); n != 2 {
		t.Errorf("subscriptions = %d, want 2", n)
	}
	if err := s.client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	payload, _ := json.Marshal(map[string]any{"symbol": "MSFT", "price": "411.40", "change": "2.10", "volume": 10, "time": "2024-03-01T20:00:00Z"})
	// A mismatched payload is dropped before the handler.
	conn.events <- push.Event{Name: PriceEvent("AAPL"), Payload: payload}
	conn.events <- push.Event{Name: PriceEvent("MSFT"), Payload: payload}

	select {
	case u := <-got:
		if u.Symbol != "MSFT" || u.Price.String() != "411.4" {
			t.Errorf("update = %s %s, want MSFT 411.4", u.Symbol, u.Price)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("update not delivered")
	}
	select {
	case u := <-got:
		t.Errorf("unexpected update %+v", u)
	case <-time.After(20 * time.Millisecond):
	}

	stop()
	if n := len(s.client.Push().Subscriptions()); n != 0 {
		t.Errorf("subscriptions after stop = %d, want 0", n)
	}

	if _, err := s.WatchPrices(ctx, nil); !errors.Is(err, ErrNoSymbols) {
		t.Errorf("WatchPrices() without symbols error = %v, want ErrNoSymbols", err)
	}
}
