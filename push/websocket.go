package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jonwraymond/quotelink/credential"
	"github.com/jonwraymond/quotelink/resilience"
)

const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameWelcome     = "welcome"
	frameEvent       = "event"
	framePing        = "ping"
	framePong        = "pong"
)

type frame struct {
	Type         string          `json:"type"`
	Event        string          `json:"event,omitempty"`
	ConnectionID string          `json:"connection_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// WebSocketConfig configures a WebSocketTransport.
type WebSocketConfig struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// Credentials supplies the bearer token sent on the handshake.
	Credentials credential.Source

	// Header is added to every handshake.
	Header http.Header

	// Dialer overrides the gorilla dialer.
	// Default: websocket.DefaultDialer
	Dialer *websocket.Dialer

	// SkipWelcome assigns a local connection id instead of waiting for the
	// server's welcome frame.
	SkipWelcome bool

	// WelcomeTimeout bounds the wait for the welcome frame.
	// Default: 5s
	WelcomeTimeout time.Duration

	// PingInterval is how often a websocket ping is sent.
	// Default: 30s
	PingInterval time.Duration

	// PongWait is the read deadline extended by every frame or pong. It
	// must exceed PingInterval.
	// Default: 60s
	PongWait time.Duration

	// WriteTimeout bounds each frame write.
	// Default: 10s
	WriteTimeout time.Duration

	// ReadLimit caps an inbound message in bytes.
	// Default: 1 MiB
	ReadLimit int64
}

// WebSocketTransport dials push connections over gorilla/websocket.
type WebSocketTransport struct {
	config WebSocketConfig
}

// NewWebSocketTransport creates a transport for config.URL.
func NewWebSocketTransport(config WebSocketConfig) *WebSocketTransport {
	if config.Dialer == nil {
		config.Dialer = websocket.DefaultDialer
	}
	if config.WelcomeTimeout <= 0 {
		config.WelcomeTimeout = 5 * time.Second
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.PongWait <= config.PingInterval {
		config.PongWait = 2 * config.PingInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.ReadLimit <= 0 {
		config.ReadLimit = 1 << 20
	}
	return &WebSocketTransport{config: config}
}

// Dial performs the handshake and, unless SkipWelcome is set, waits for the
// welcome frame. Handshake rejections are classified by HTTP status.
func (t *WebSocketTransport) Dial(ctx context.Context) (Conn, error) {
	header, err := credential.Header(ctx, t.config.Credentials)
	if err != nil {
		return nil, err
	}
	for k, vs := range t.config.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}

	ws, resp, err := t.config.Dialer.DialContext(ctx, t.config.URL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if ce := resilience.ClassifyStatus(resp.StatusCode, resp.Header, body); ce != nil {
				ce.Cause = err
				return nil, ce
			}
		}
		return nil, resilience.ClassifyError(err)
	}

	c := &wsConn{
		ws:     ws,
		config: t.config,
		done:   make(chan struct{}),
	}
	ws.SetReadLimit(t.config.ReadLimit)
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(t.config.PongWait))
	})

	if t.config.SkipWelcome {
		c.setID(uuid.NewString())
	} else if err := c.awaitWelcome(ctx); err != nil {
		_ = ws.Close()
		return nil, err
	}

	go c.keepalive()
	return c, nil
}

type wsConn struct {
	ws     *websocket.Conn
	config WebSocketConfig

	idMu sync.RWMutex
	id   string

	writeMu sync.Mutex

	// pending holds an event that arrived ahead of the welcome frame.
	pending *Event

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) ID() string {
	c.idMu.RLock()
	defer c.idMu.RUnlock()
	return c.id
}

func (c *wsConn) setID(id string) {
	c.idMu.Lock()
	c.id = id
	c.idMu.Unlock()
}

func (c *wsConn) awaitWelcome(ctx context.Context) error {
	deadline := time.Now().Add(c.config.WelcomeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	stop := context.AfterFunc(ctx, func() { _ = c.ws.SetReadDeadline(time.Now()) })
	defer stop()

	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return resilience.ClassifyError(err)
	}
	for {
		f, err := c.readFrame()
		if err != nil {
			if ctx.Err() != nil {
				return resilience.ClassifyError(ctx.Err())
			}
			return resilience.ClassifyError(fmt.Errorf("push: awaiting welcome: %w", err))
		}
		switch f.Type {
		case frameWelcome:
			id := f.ConnectionID
			if id == "" {
				id = uuid.NewString()
			}
			c.setID(id)
			return nil
		case frameEvent:
			// The server skipped the welcome; keep the event for Receive.
			c.setID(uuid.NewString())
			c.pending = &Event{Name: f.Event, Payload: f.Payload, ReceivedAt: time.Now()}
			return nil
		}
	}
}

// readFrame returns the next well-formed frame. Malformed messages are
// skipped.
func (c *wsConn) readFrame() (frame, error) {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return frame{}, err
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		return f, nil
	}
}

func (c *wsConn) Subscribe(ctx context.Context, event string) error {
	return c.write(ctx, frame{Type: frameSubscribe, Event: event})
}

func (c *wsConn) Unsubscribe(ctx context.Context, event string) error {
	return c.write(ctx, frame{Type: frameUnsubscribe, Event: event})
}

func (c *wsConn) Receive(ctx context.Context) (Event, error) {
	if ev := c.pending; ev != nil {
		c.pending = nil
		return *ev, nil
	}

	stop := context.AfterFunc(ctx, func() { _ = c.ws.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		if err := c.ws.SetReadDeadline(time.Now().Add(c.config.PongWait)); err != nil {
			return Event{}, fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}
		f, err := c.readFrame()
		if err != nil {
			if ctx.Err() != nil {
				return Event{}, ctx.Err()
			}
			return Event{}, fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}

		switch f.Type {
		case frameEvent:
			if f.Event == "" {
				continue
			}
			return Event{Name: f.Event, Payload: f.Payload, ReceivedAt: time.Now()}, nil
		case framePing:
			if err := c.write(ctx, frame{Type: framePong}); err != nil {
				return Event{}, fmt.Errorf("%w: %w", ErrConnectionLost, err)
			}
		case frameWelcome:
			if f.ConnectionID != "" {
				c.setID(f.ConnectionID)
			}
		}
	}
}

func (c *wsConn) write(ctx context.Context, f frame) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}

	deadline := time.Now().Add(c.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteJSON(f)
}

func (c *wsConn) keepalive() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout))
			if err != nil {
				return
			}
		}
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		if err := c.ws.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.closeErr = err
		}
	})
	return c.closeErr
}

// Ensure WebSocketTransport implements Transport
var _ Transport = (*WebSocketTransport)(nil)

// Ensure wsConn implements Conn
var _ Conn = (*wsConn)(nil)
