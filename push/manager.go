package push

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonwraymond/quotelink/observe"
)

// Config configures a Manager.
type Config struct {
	// AutoReconnect starts a reconnect cycle after an unexpected drop.
	AutoReconnect bool

	// BaseDelay is the delay before the first reconnect attempt.
	// Default: 1s
	BaseDelay time.Duration

	// MaxDelay caps the reconnect delay.
	// Default: 30s
	MaxDelay time.Duration

	// MaxReconnectAttempts bounds one reconnect cycle.
	// Default: 10
	MaxReconnectAttempts int

	// DialTimeout bounds each dial.
	// Default: 10s
	DialTimeout time.Duration

	// ReplayTimeout bounds each server-side (un)registration.
	// Default: 5s
	ReplayTimeout time.Duration

	Logger  observe.Logger
	Metrics observe.Metrics
}

// DefaultConfig returns the default configuration with AutoReconnect on.
func DefaultConfig() Config {
	return Config{
		AutoReconnect:        true,
		BaseDelay:            time.Second,
		MaxDelay:             30 * time.Second,
		MaxReconnectAttempts: 10,
		DialTimeout:          10 * time.Second,
		ReplayTimeout:        5 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.ReplayTimeout <= 0 {
		c.ReplayTimeout = d.ReplayTimeout
	}
	if c.Logger == nil {
		c.Logger = observe.NopLogger()
	}
	if c.Metrics == nil {
		c.Metrics = observe.NopMetrics()
	}
}

// session scopes the goroutines of one Connect..Disconnect span.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newSession() *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{ctx: ctx, cancel: cancel}
}

// Manager owns the push connection and its subscriptions.
//
// Contract:
//   - Concurrency: all methods are safe for concurrent use.
//   - Dials never overlap; a manual Connect during a reconnect cycle waits
//     for the in-flight attempt.
//   - Every transition into StateConnected passes through StateConnecting
//     and is followed by replay of ActiveEvents in order. A replay failure
//     for one event is logged and the rest continue.
//   - Status listeners run on the goroutine that changed state, in
//     transition order. They must not call Connect, Disconnect or Close.
type Manager struct {
	transport Transport
	config    Config
	registry  *Registry
	logger    observe.Logger
	metrics   observe.Metrics

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	// connectMu serializes dial attempts.
	connectMu sync.Mutex

	// interestMu orders server-side (un)registration against replay.
	// Lock order: interestMu, then mu.
	interestMu sync.Mutex
	registered map[string]bool

	mu           sync.Mutex
	status       ConnectionStatus
	conn         Conn
	gen          uint64
	sess         *session
	cycle        uint64
	reconnecting bool
	closed       bool
	pending      []ConnectionStatus

	emitMu       sync.Mutex
	listenerMu   sync.Mutex
	listeners    map[uint64]func(ConnectionStatus)
	nextListener uint64
}

// NewManager creates a disconnected Manager.
func NewManager(transport Transport, config Config) (*Manager, error) {
	if transport == nil {
		return nil, ErrNilTransport
	}
	config.applyDefaults()

	return &Manager{
		transport:  transport,
		config:     config,
		registry:   NewRegistry(config.Logger),
		logger:     config.Logger,
		metrics:    config.Metrics,
		sleep:      sleepContext,
		now:        time.Now,
		registered: make(map[string]bool),
		listeners:  make(map[uint64]func(ConnectionStatus)),
	}, nil
}

// Connect dials the transport. It is a no-op when already connected.
func (m *Manager) Connect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.status.State == StateConnected {
		m.mu.Unlock()
		return nil
	}
	if err := m.moveLocked(StateConnecting, nil); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.sess == nil {
		m.sess = newSession()
	}
	s := m.sess
	m.mu.Unlock()
	m.flush()

	return m.dialAndAttach(ctx, s)
}

// dialAndAttach requires connectMu and StateConnecting.
func (m *Manager) dialAndAttach(ctx context.Context, s *session) error {
	dctx, cancel := context.WithTimeout(ctx, m.config.DialTimeout)
	stop := context.AfterFunc(s.ctx, cancel)
	conn, err := m.transport.Dial(dctx)
	stop()
	cancel()

	if err != nil {
		m.mu.Lock()
		if m.status.State == StateConnecting {
			target := StateDisconnected
			if m.reconnecting {
				target = StateReconnecting
			}
			_ = m.moveLocked(target, func(st *ConnectionStatus) { st.Err = err })
		}
		m.mu.Unlock()
		m.flush()
		return err
	}
	return m.attach(s, conn)
}

func (m *Manager) attach(s *session, conn Conn) error {
	m.interestMu.Lock()
	m.mu.Lock()
	if m.status.State != StateConnecting || s.ctx.Err() != nil {
		m.mu.Unlock()
		m.interestMu.Unlock()
		_ = conn.Close()
		return ErrNotConnected
	}
	m.gen++
	gen := m.gen
	m.conn = conn
	m.reconnecting = false
	_ = m.moveLocked(StateConnected, func(st *ConnectionStatus) {
		st.ConnectionID = conn.ID()
		st.LastConnectedAt = m.now()
		st.Err = nil
		st.ReconnectAttempts = 0
	})
	m.mu.Unlock()

	m.registry.Sweep()
	m.registered = make(map[string]bool)
	replayed := 0
	for _, event := range m.registry.ActiveEvents() {
		rctx, cancel := context.WithTimeout(s.ctx, m.config.ReplayTimeout)
		err := conn.Subscribe(rctx, event)
		cancel()
		if err != nil {
			m.logger.Warn(s.ctx, "push replay failed",
				observe.F("event", event),
				observe.F("connection_id", conn.ID()),
				observe.F("error", err),
			)
			continue
		}
		m.registered[event] = true
		replayed++
	}
	m.interestMu.Unlock()

	m.logger.Info(s.ctx, "push connected",
		observe.F("connection_id", conn.ID()),
		observe.F("replayed", replayed),
	)
	m.flush()

	s.wg.Add(1)
	go m.readLoop(s, conn, gen)
	return nil
}

func (m *Manager) readLoop(s *session, conn Conn, gen uint64) {
	defer s.wg.Done()
	for {
		ev, err := conn.Receive(s.ctx)
		if err != nil {
			m.handleDrop(s, conn, gen, err)
			return
		}
		n := m.registry.Dispatch(s.ctx, ev)
		m.metrics.RecordDispatch(s.ctx, ev.Name, n)
	}
}

func (m *Manager) handleDrop(s *session, conn Conn, gen uint64, cause error) {
	_ = conn.Close()

	m.mu.Lock()
	if gen != m.gen || m.status.State != StateConnected || s.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	if !m.config.AutoReconnect || m.closed {
		_ = m.moveLocked(StateDisconnected, func(st *ConnectionStatus) {
			st.ConnectionID = ""
			st.Err = cause
		})
		m.mu.Unlock()
		m.flush()
		m.logger.Warn(s.ctx, "push connection lost", observe.F("error", cause))
		return
	}
	m.cycle++
	cycle := m.cycle
	m.reconnecting = true
	_ = m.moveLocked(StateReconnecting, func(st *ConnectionStatus) {
		st.ConnectionID = ""
		st.Err = cause
		st.ReconnectAttempts = 0
	})
	m.mu.Unlock()
	m.flush()

	m.logger.Warn(s.ctx, "push connection lost, reconnecting", observe.F("error", cause))
	s.wg.Add(1)
	go m.reconnectLoop(s, cycle)
}

// inCycleLocked reports whether the reconnect cycle is still current.
func (m *Manager) inCycleLocked(s *session, cycle uint64) bool {
	return m.cycle == cycle && m.status.State == StateReconnecting && s.ctx.Err() == nil
}

func (m *Manager) reconnectLoop(s *session, cycle uint64) {
	defer s.wg.Done()
	defer func() {
		m.mu.Lock()
		if m.cycle == cycle {
			m.reconnecting = false
		}
		m.mu.Unlock()
	}()

	var lastErr error
	for attempt := 0; attempt < m.config.MaxReconnectAttempts; attempt++ {
		delay := m.backoff(attempt)

		m.mu.Lock()
		if !m.inCycleLocked(s, cycle) {
			m.mu.Unlock()
			return
		}
		_ = m.moveLocked(StateReconnecting, func(st *ConnectionStatus) { st.ReconnectAttempts = attempt + 1 })
		m.mu.Unlock()
		m.flush()

		m.logger.Debug(s.ctx, "push reconnect scheduled",
			observe.F("attempt", attempt+1),
			observe.F("delay", delay),
		)
		if err := m.sleep(s.ctx, delay); err != nil {
			return
		}

		m.connectMu.Lock()
		m.mu.Lock()
		if !m.inCycleLocked(s, cycle) {
			m.mu.Unlock()
			m.connectMu.Unlock()
			return
		}
		_ = m.moveLocked(StateConnecting, nil)
		m.mu.Unlock()
		m.flush()

		err := m.dialAndAttach(s.ctx, s)
		m.connectMu.Unlock()
		m.metrics.RecordReconnect(s.ctx, attempt+1, err)
		if err == nil {
			return
		}
		lastErr = err
		m.logger.Warn(s.ctx, "push reconnect failed",
			observe.F("attempt", attempt+1),
			observe.F("error", err),
		)
	}

	m.mu.Lock()
	if !m.inCycleLocked(s, cycle) {
		m.mu.Unlock()
		return
	}
	exhausted := fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, m.config.MaxReconnectAttempts, lastErr)
	_ = m.moveLocked(StateDisconnected, func(st *ConnectionStatus) { st.Err = exhausted })
	m.mu.Unlock()
	m.flush()
	m.logger.Error(s.ctx, "push reconnect gave up", observe.F("error", exhausted))
}

// backoff returns min(BaseDelay*2^attempt, MaxDelay).
func (m *Manager) backoff(attempt int) time.Duration {
	if attempt >= 62 {
		return m.config.MaxDelay
	}
	d := m.config.BaseDelay << attempt
	if d <= 0 || d > m.config.MaxDelay {
		return m.config.MaxDelay
	}
	return d
}

// Disconnect closes the connection and stops any reconnect cycle. It waits
// for background goroutines until ctx is done. Subscriptions are kept.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	s := m.sess
	m.sess = nil
	m.cycle++
	m.reconnecting = false

	if m.status.State == StateDisconnected || m.status.State == StateDisconnecting {
		m.mu.Unlock()
		if s != nil {
			s.cancel()
			return waitGroup(ctx, &s.wg)
		}
		return nil
	}

	_ = m.moveLocked(StateDisconnecting, nil)
	conn := m.conn
	m.conn = nil
	m.gen++
	m.mu.Unlock()
	m.flush()

	var errs []error
	if s != nil {
		s.cancel()
	}
	if conn != nil {
		errs = append(errs, conn.Close())
	}
	if s != nil {
		errs = append(errs, waitGroup(ctx, &s.wg))
	}

	m.mu.Lock()
	_ = m.moveLocked(StateDisconnected, func(st *ConnectionStatus) {
		st.ConnectionID = ""
		st.Err = nil
		st.ReconnectAttempts = 0
	})
	m.mu.Unlock()
	m.flush()

	m.logger.Info(ctx, "push disconnected")
	return errors.Join(errs...)
}

// Close disconnects and rejects further Connect and Subscribe calls.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.Disconnect(ctx)
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	predicate Predicate
}

// WithPredicate delivers only events whose payload satisfies p.
func WithPredicate(p Predicate) SubscribeOption {
	return func(o *subscribeOptions) {
		o.predicate = p
	}
}

// Subscribe registers handler for event. When connected and this is the
// first subscription for event, interest is registered with the server.
// A failed registration is logged and retried on the next connect.
func (m *Manager) Subscribe(ctx context.Context, event string, handler Handler, opts ...SubscribeOption) (*Handle, error) {
	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrManagerClosed
	}

	m.interestMu.Lock()
	defer m.interestMu.Unlock()

	sub, _, err := m.registry.Add(event, o.predicate, handler)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn != nil && !m.registered[event] {
		rctx, cancel := context.WithTimeout(ctx, m.config.ReplayTimeout)
		err := conn.Subscribe(rctx, event)
		cancel()
		if err != nil {
			m.logger.Warn(ctx, "push subscribe failed",
				observe.F("event", event),
				observe.F("error", err),
			)
		} else {
			m.registered[event] = true
		}
	}

	return &Handle{manager: m, id: sub.ID, event: event}, nil
}

// Unsubscribe deactivates the subscription with id. When it was the last
// one for its event, server-side interest is withdrawn. It reports whether
// a subscription was removed.
func (m *Manager) Unsubscribe(id string) bool {
	m.interestMu.Lock()
	defer m.interestMu.Unlock()

	event, last, ok := m.registry.Remove(id)
	if !ok {
		return false
	}
	if !last || !m.registered[event] {
		return true
	}
	delete(m.registered, event)

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.config.ReplayTimeout)
	defer cancel()
	if err := conn.Unsubscribe(ctx, event); err != nil {
		m.logger.Warn(ctx, "push unsubscribe failed",
			observe.F("event", event),
			observe.F("error", err),
		)
	}
	return true
}

// Status returns the current connection status.
func (m *Manager) Status() ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscriptions returns the active subscriptions in creation order.
func (m *Manager) Subscriptions() []Subscription {
	return m.registry.Active()
}

// OnStatusChange registers fn for every status transition and returns a
// function that removes it. Removal is idempotent.
func (m *Manager) OnStatusChange(fn func(ConnectionStatus)) func() {
	if fn == nil {
		return func() {}
	}

	m.listenerMu.Lock()
	m.nextListener++
	id := m.nextListener
	m.listeners[id] = fn
	m.listenerMu.Unlock()

	return func() {
		m.listenerMu.Lock()
		delete(m.listeners, id)
		m.listenerMu.Unlock()
	}
}

// moveLocked applies a transition and queues its snapshot for listeners.
// A move to the current state updates the snapshot in place.
func (m *Manager) moveLocked(to State, update func(*ConnectionStatus)) error {
	from := m.status.State
	if from != to && !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.status.State = to
	if update != nil {
		update(&m.status)
	}
	m.pending = append(m.pending, m.status)
	return nil
}

// flush delivers queued snapshots. A goroutine that finds another one
// delivering leaves its snapshots to that goroutine.
func (m *Manager) flush() {
	for {
		if !m.emitMu.TryLock() {
			return
		}
		m.mu.Lock()
		batch := m.pending
		m.pending = nil
		m.mu.Unlock()

		for _, st := range batch {
			m.emit(st)
		}
		m.emitMu.Unlock()

		m.mu.Lock()
		more := len(m.pending) > 0
		m.mu.Unlock()
		if !more {
			return
		}
	}
}

func (m *Manager) emit(st ConnectionStatus) {
	m.listenerMu.Lock()
	ids := make([]uint64, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	m.listenerMu.Unlock()

	// Deliver in registration order.
	slices.Sort(ids)
	for _, id := range ids {
		m.listenerMu.Lock()
		fn, ok := m.listeners[id]
		m.listenerMu.Unlock()
		if !ok {
			continue
		}
		func() {
			defer func() {
				if v := recover(); v != nil {
					m.logger.Error(context.Background(), "status listener panicked", observe.F("panic", fmt.Sprint(v)))
				}
			}()
			fn(st)
		}()
	}
}

// Handle is returned by Subscribe and removes the subscription once.
type Handle struct {
	manager *Manager
	id      string
	event   string
	once    sync.Once
}

// ID returns the subscription id.
func (h *Handle) ID() string { return h.id }

// Event returns the subscribed event name.
func (h *Handle) Event() string { return h.event }

// Unsubscribe removes the subscription. Calls after the first are no-ops.
func (h *Handle) Unsubscribe() {
	h.once.Do(func() {
		h.manager.Unsubscribe(h.id)
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
