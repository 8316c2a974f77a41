package push

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeConn struct {
	id       string
	events   chan Event
	dropped  chan struct{}
	dropOnce sync.Once
	closed   atomic.Bool

	mu            sync.Mutex
	calls         []string
	failSubscribe map[string]bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{
		id:            id,
		events:        make(chan Event, 16),
		dropped:       make(chan struct{}),
		failSubscribe: make(map[string]bool),
	}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Subscribe(_ context.Context, event string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSubscribe[event] {
		return fmt.Errorf("subscribe %s refused", event)
	}
	c.calls = append(c.calls, "subscribe:"+event)
	return nil
}

func (c *fakeConn) Unsubscribe(_ context.Context, event string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "unsubscribe:"+event)
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case <-c.dropped:
		return Event{}, ErrConnectionLost
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	c.drop()
	return nil
}

func (c *fakeConn) drop() {
	c.dropOnce.Do(func() { close(c.dropped) })
}

func (c *fakeConn) push(name, payload string) {
	c.events <- Event{Name: name, Payload: []byte(payload)}
}

func (c *fakeConn) recorded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *fakeConn) refuse(event string) {
	c.mu.Lock()
	c.failSubscribe[event] = true
	c.mu.Unlock()
}

type fakeTransport struct {
	mu       sync.Mutex
	conns    []*fakeConn
	failures []error
	failAll  error
	onDial   func(*fakeConn)
	delay    time.Duration

	dials      atomic.Int32
	dialing    atomic.Int32
	maxDialing atomic.Int32
}

func (t *fakeTransport) Dial(ctx context.Context) (Conn, error) {
	t.dials.Add(1)
	n := t.dialing.Add(1)
	defer t.dialing.Add(-1)
	for {
		peak := t.maxDialing.Load()
		if n <= peak || t.maxDialing.CompareAndSwap(peak, n) {
			break
		}
	}

	if t.delay > 0 {
		select {
		case <-time.After(t.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.failures) > 0 {
		err := t.failures[0]
		t.failures = t.failures[1:]
		if err != nil {
			return nil, err
		}
	} else if t.failAll != nil {
		return nil, t.failAll
	}

	c := newFakeConn(fmt.Sprintf("conn-%d", len(t.conns)+1))
	if t.onDial != nil {
		t.onDial(c)
	}
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= len(t.conns) {
		return nil
	}
	return t.conns[i]
}

func (t *fakeTransport) connCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *fakeTransport) setFailAll(err error) {
	t.mu.Lock()
	t.failAll = err
	t.mu.Unlock()
}

// statusRecorder collects every status delivered to a listener.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []ConnectionStatus
}

func (r *statusRecorder) record(st ConnectionStatus) {
	r.mu.Lock()
	r.statuses = append(r.statuses, st)
	r.mu.Unlock()
}

// states returns the recorded states with consecutive repeats collapsed.
func (r *statusRecorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, st := range r.statuses {
		if len(out) > 0 && out[len(out)-1] == st.State {
			continue
		}
		out = append(out, st.State)
	}
	return out
}

func (r *statusRecorder) count(s State) int {
	n := 0
	for _, st := range r.states() {
		if st == s {
			n++
		}
	}
	return n
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func newTestManager(t *testing.T, tr Transport, config Config) (*Manager, *statusRecorder, *sleepRecorder) {
	t.Helper()
	m, err := NewManager(tr, config)
	if err != nil {
		t.Fatalf("NewManager error = %v", err)
	}
	sleeps := &sleepRecorder{}
	m.sleep = sleeps.sleep

	rec := &statusRecorder{}
	m.OnStatusChange(rec.record)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m, rec, sleeps
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
