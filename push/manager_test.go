package push

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func counter(n *atomic.Int32) Handler {
	return func(context.Context, Event) error {
		n.Add(1)
		return nil
	}
}

func TestNewManager_NilTransport(t *testing.T) {
	if _, err := NewManager(nil, DefaultConfig()); !errors.Is(err, ErrNilTransport) {
		t.Errorf("NewManager(nil) error = %v, want ErrNilTransport", err)
	}
}

func TestManager_ConnectReplaysExistingSubscriptions(t *testing.T) {
	tr := &fakeTransport{}
	m, rec, _ := newTestManager(t, tr, DefaultConfig())
	ctx := context.Background()

	if _, err := m.Subscribe(ctx, "prices.AAPL", counter(new(atomic.Int32))); err != nil {
		t.Fatalf("Subscribe error = %v", err)
	}
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect error = %v", err)
	}

	st := m.Status()
	if st.State != StateConnected {
		t.Errorf("State = %v, want connected", st.State)
	}
	if st.ConnectionID != "conn-1" {
		t.Errorf("ConnectionID = %q, want conn-1", st.ConnectionID)
	}
	if st.LastConnectedAt.IsZero() {
		t.Error("LastConnectedAt should be set")
	}
	if got := tr.conn(0).recorded(); !slices.Equal(got, []string{"subscribe:prices.AAPL"}) {
		t.Errorf("calls = %v, want [subscribe:prices.AAPL]", got)
	}
	want := []State{StateConnecting, StateConnected}
	if got := rec.states(); !slices.Equal(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
}

func TestManager_ConnectIdempotent(t *testing.T) {
	tr := &fakeTransport{}
	m, _, _ := newTestManager(t, tr, DefaultConfig())
	ctx := context.Background()

	for range 3 {
		if err := m.Connect(ctx); err != nil {
			t.Fatalf("Connect error = %v", err)
		}
	}
	if n := tr.dials.Load(); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
}

func TestManager_ConcurrentConnectDialsOnce(t *testing.T) {
	tr := &fakeTransport{delay: 20 * time.Millisecond}
	m, _, _ := newTestManager(t, tr, DefaultConfig())

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Connect(context.Background())
		}()
	}
	wg.Wait()

	if n := tr.dials.Load(); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
	if peak := tr.maxDialing.Load(); peak != 1 {
		t.Errorf("concurrent dials = %d, want 1", peak)
	}
}

func TestManager_ConnectFailure(t *testing.T) {
	refused := errors.New("connection refused")
	tr := &fakeTransport{failures: []error{refused}}
	m, rec, _ := newTestManager(t, tr, DefaultConfig())
	ctx := context.Background()

	if err := m.Connect(ctx); !errors.Is(err, refused) {
		t.Fatalf("Connect error = %v, want %v", err, refused)
	}
	st := m.Status()
	if st.State != StateDisconnected || !errors.Is(st.Err, refused) {
		t.Errorf("Status = %+v, want disconnected with refused", st)
	}
	want := []State{StateConnecting, StateDisconnected}
	if got := rec.states(); !slices.Equal(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("second Connect error = %v", err)
	}
	if st := m.Status(); st.State != StateConnected || st.Err != nil {
		t.Errorf("Status = %+v, want connected without error", st)
	}
}

func TestManager_ReconnectResumesSubscriptions(t *testing.T) {
	tr := &fakeTransport{}
	m, rec, _ := newTestManager(t, tr, DefaultConfig())
	ctx := context.Background()

	var aapl, msft atomic.Int32
	if _, err := m.Subscribe(ctx, "prices.AAPL", counter(&aapl)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Subscribe(ctx, "prices.MSFT", counter(&msft)); err != nil {
		t.Fatal(err)
	}
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect error = %v", err)
	}

	want := []string{"subscribe:prices.AAPL", "subscribe:prices.MSFT"}
	first := tr.conn(0)
	if got := first.recorded(); !slices.Equal(got, want) {
		t.Errorf("first connection calls = %v, want %v", got, want)
	}

	first.drop()
	waitFor(t, func() bool { return rec.count(StateConnected) == 2 })

	second := tr.conn(1)
	if second == nil {
		t.Fatal("expected a second connection")
	}
	if got := second.recorded(); !slices.Equal(got, want) {
		t.Errorf("replayed calls = %v, want %v", got, want)
	}
	if st := m.Status(); st.ConnectionID != "conn-2" {
		t.Errorf("ConnectionID = %q, want conn-2", st.ConnectionID)
	}

	second.push("prices.AAPL", `{"price":"189.12"}`)
	second.push("prices.MSFT", `{"price":"411.40"}`)
	waitFor(t, func() bool { return aapl.Load() == 1 && msft.Load() == 1 })

	if n := len(m.Subscriptions()); n != 2 {
		t.Errorf("Subscriptions = %d, want 2", n)
	}
	if !first.closed.Load() {
		t.Error("dropped connection should be closed")
	}
}

func TestManager_ConnectedOnlyViaConnecting(t *testing.T) {
	tr := &fakeTransport{failures: []error{nil, errors.New("refused")}}
	m, rec, _ := newTestManager(t, tr, DefaultConfig())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	tr.conn(0).drop()
	waitFor(t, func() bool { return rec.count(StateConnected) == 2 })

	want := []State{
		StateConnecting, StateConnected,
		StateReconnecting, StateConnecting, StateReconnecting, StateConnecting, StateConnected,
	}
	got := rec.states()
	if !slices.Equal(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
	for i, s := range got {
		if s == StateConnected && (i == 0 || got[i-1] != StateConnecting) {
			t.Errorf("state %d: connected reached from %v", i, got[i-1])
		}
	}
}

func TestManager_ReconnectBackoffAndExhaustion(t *testing.T) {
	tr := &fakeTransport{}
	cfg := DefaultConfig()
	cfg.BaseDelay = 100 * time.Millisecond
	cfg.MaxDelay = 250 * time.Millisecond
	cfg.MaxReconnectAttempts = 3
	m, _, sleeps := newTestManager(t, tr, cfg)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	tr.setFailAll(errors.New("refused"))
	tr.conn(0).drop()

	waitFor(t, func() bool {
		st := m.Status()
		return st.State == StateDisconnected && st.Err != nil
	})

	st := m.Status()
	if !errors.Is(st.Err, ErrReconnectExhausted) {
		t.Errorf("Err = %v, want ErrReconnectExhausted", st.Err)
	}
	if st.ReconnectAttempts != 3 {
		t.Errorf("ReconnectAttempts = %d, want 3", st.ReconnectAttempts)
	}
	if n := tr.dials.Load(); n != 4 {
		t.Errorf("dials = %d, want 4", n)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond}
	if got := sleeps.recorded(); !slices.Equal(got, want) {
		t.Errorf("delays = %v, want %v", got, want)
	}
	if peak := tr.maxDialing.Load(); peak != 1 {
		t.Errorf("concurrent dials = %d, want 1", peak)
	}
}

func TestManager_NoAutoReconnect(t *testing.T) {
	tr := &fakeTransport{}
	cfg := DefaultConfig()
	cfg.AutoReconnect = false
	m, _, _ := newTestManager(t, tr, cfg)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	tr.conn(0).drop()

	waitFor(t, func() bool { return m.Status().State == StateDisconnected })
	if err := m.Status().Err; !errors.Is(err, ErrConnectionLost) {
		t.Errorf("Err = %v, want ErrConnectionLost", err)
	}
	time.Sleep(10 * time.Millisecond)
	if n := tr.dials.Load(); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
}

func TestManager_DisconnectCancelsReconnectDelay(t *testing.T) {
	tr := &fakeTransport{}
	m, _, _ := newTestManager(t, tr, DefaultConfig())

	sleeping := make(chan struct{}, 1)
	m.sleep = func(ctx context.Context, _ time.Duration) error {
		sleeping <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	tr.conn(0).drop()
	<-sleeping

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect error = %v", err)
	}
	if st := m.Status(); st.State != StateDisconnected {
		t.Errorf("State = %v, want disconnected", st.State)
	}
	if n := tr.dials.Load(); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
}

func TestManager_DisconnectKeepsSubscriptions(t *testing.T) {
	tr := &fakeTransport{}
	m, rec, _ := newTestManager(t, tr, DefaultConfig())
	ctx := context.Background()

	if _, err := m.Subscribe(ctx, "prices.AAPL", counter(new(atomic.Int32))); err != nil {
		t.Fatal(err)
	}
	if err := m.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect error = %v", err)
	}
	if !tr.conn(0).closed.Load() {
		t.Error("connection should be closed")
	}
	want := []State{StateConnecting, StateConnected, StateDisconnecting, StateDisconnected}
	if got := rec.states(); !slices.Equal(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}

	if err := m.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if got := tr.conn(1).recorded(); !slices.Equal(got, []string{"subscribe:prices.AAPL"}) {
		t.Errorf("calls = %v, want [subscribe:prices.AAPL]", got)
	}
	if err := m.Disconnect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Disconnect(ctx); err != nil {
		t.Errorf("second Disconnect error = %v", err)
	}
}

func TestManager_Closed(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeTransport{}, DefaultConfig())
	ctx := context.Background()

	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if err := m.Connect(ctx); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Connect error = %v, want ErrManagerClosed", err)
	}
	if _, err := m.Subscribe(ctx, "prices.AAPL", counter(new(atomic.Int32))); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Subscribe error = %v, want ErrManagerClosed", err)
	}
}

func TestManager_InterestCoalescedPerEvent(t *testing.T) {
	tr := &fakeTransport{}
	m, _, _ := newTestManager(t, tr, DefaultConfig())
	ctx := context.Background()

	if err := m.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	h1, err := m.Subscribe(ctx, "prices.AAPL", counter(new(atomic.Int32)))
	if err != nil {
		t.Fatal(err)
	}
	h2, err := m.Subscribe(ctx, "prices.AAPL", counter(new(atomic.Int32)))
	if err != nil {
		t.Fatal(err)
	}
	conn := tr.conn(0)
	if got := conn.recorded(); !slices.Equal(got, []string{"subscribe:prices.AAPL"}) {
		t.Errorf("calls = %v, want one subscribe", got)
	}

	h1.Unsubscribe()
	h1.Unsubscribe()
	if got := conn.recorded(); len(got) != 1 {
		t.Errorf("calls = %v, want no unsubscribe while another subscription remains", got)
	}

	h2.Unsubscribe()
	want := []string{"subscribe:prices.AAPL", "unsubscribe:prices.AAPL"}
	if got := conn.recorded(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if m.Unsubscribe(h2.ID()) {
		t.Error("Unsubscribe of removed id should report false")
	}
	if m.Unsubscribe("unknown") {
		t.Error("Unsubscribe of unknown id should report false")
	}
}

func TestManager_UnsubscribedHandlerNotInvoked(t *testing.T) {
	tr := &fakeTransport{}
	m, _, _ := newTestManager(t, tr, DefaultConfig())
	ctx := context.Background()

	var removed, kept atomic.Int32
	h, _ := m.Subscribe(ctx, "prices.AAPL", counter(&removed))
	_, _ = m.Subscribe(ctx, "prices.AAPL", counter(&kept))
	if err := m.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	h.Unsubscribe()
	tr.conn(0).push("prices.AAPL", `{}`)
	waitFor(t, func() bool { return kept.Load() == 1 })
	if n := removed.Load(); n != 0 {
		t.Errorf("removed handler invoked %d times, want 0", n)
	}
}

func TestManager_PredicateFiltersEvents(t *testing.T) {
	tr := &fakeTransport{}
	m, _, _ := newTestManager(t, tr, DefaultConfig())
	ctx := context.Background()

	var big atomic.Int32
	onlyBig := WithPredicate(func(p json.RawMessage) bool { return strings.Contains(string(p), `"volume":9`) })
	if _, err := m.Subscribe(ctx, "trades", counter(&big), onlyBig); err != nil {
		t.Fatal(err)
	}
	var all atomic.Int32
	if _, err := m.Subscribe(ctx, "trades", counter(&all)); err != nil {
		t.Fatal(err)
	}
	if err := m.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	conn := tr.conn(0)
	conn.push("trades", `{"volume":1}`)
	conn.push("trades", `{"volume":9}`)
	waitFor(t, func() bool { return all.Load() == 2 })
	if n := big.Load(); n != 1 {
		t.Errorf("filtered handler calls = %d, want 1", n)
	}
}

func TestManager_ReplayIsBestEffort(t *testing.T) {
	tr := &fakeTransport{}
	m, rec, _ := newTestManager(t, tr, DefaultConfig())
	ctx := context.Background()

	for _, ev := range []string{"prices.AAPL", "prices.MSFT", "prices.NVDA"} {
		if _, err := m.Subscribe(ctx, ev, counter(new(atomic.Int32))); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	tr.mu.Lock()
	tr.onDial = func(c *fakeConn) { c.refuse("prices.MSFT") }
	tr.mu.Unlock()
	tr.conn(0).drop()
	waitFor(t, func() bool { return rec.count(StateConnected) == 2 })

	want := []string{"subscribe:prices.AAPL", "subscribe:prices.NVDA"}
	if got := tr.conn(1).recorded(); !slices.Equal(got, want) {
		t.Errorf("replayed calls = %v, want %v", got, want)
	}
	if st := m.Status(); st.State != StateConnected {
		t.Errorf("State = %v, want connected", st.State)
	}
}

func TestManager_StatusListeners(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeTransport{}, DefaultConfig())
	ctx := context.Background()

	var calls atomic.Int32
	m.OnStatusChange(func(ConnectionStatus) { panic("listener bug") })
	remove := m.OnStatusChange(func(ConnectionStatus) { calls.Add(1) })
	if nilRemove := m.OnStatusChange(nil); nilRemove == nil {
		t.Fatal("OnStatusChange(nil) should return a no-op remover")
	}

	if err := m.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("listener calls = %d, want 2", n)
	}

	remove()
	remove()
	if err := m.Disconnect(ctx); err != nil {
		t.Fatal(err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("listener calls after removal = %d, want 2", n)
	}
}

func TestManager_Backoff(t *testing.T) {
	m, err := NewManager(&fakeTransport{}, Config{BaseDelay: time.Second, MaxDelay: 30 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := m.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestConfig_Defaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()
	if cfg.BaseDelay != time.Second || cfg.MaxDelay != 30*time.Second {
		t.Errorf("delays = %v/%v, want 1s/30s", cfg.BaseDelay, cfg.MaxDelay)
	}
	if cfg.MaxReconnectAttempts != 10 {
		t.Errorf("MaxReconnectAttempts = %d, want 10", cfg.MaxReconnectAttempts)
	}
	if cfg.Logger == nil || cfg.Metrics == nil {
		t.Error("Logger and Metrics should default to no-ops")
	}
	if cfg.AutoReconnect {
		t.Error("zero Config should not enable AutoReconnect")
	}
	if !DefaultConfig().AutoReconnect {
		t.Error("DefaultConfig should enable AutoReconnect")
	}
}
