package client

import (
	"context"

	"github.com/jonwraymond/quotelink/push"
)

// Connect opens the push channel. Subscriptions made before Connect are
// registered with the server once connected.
func (c *Client) Connect(ctx context.Context) error {
	if c.push == nil {
		return ErrPushDisabled
	}
	if c.closed.Load() {
		return ErrClosed
	}
	return c.push.Connect(ctx)
}

// Disconnect closes the push channel and keeps subscriptions for a later
// Connect.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.push == nil {
		return ErrPushDisabled
	}
	return c.push.Disconnect(ctx)
}

// Subscribe registers handler for a push event such as "prices.AAPL".
func (c *Client) Subscribe(ctx context.Context, event string, handler push.Handler, opts ...push.SubscribeOption) (*push.Handle, error) {
	if c.push == nil {
		return nil, ErrPushDisabled
	}
	return c.push.Subscribe(ctx, event, handler, opts...)
}

// Unsubscribe removes the subscription with the given ID. It reports
// whether the subscription existed.
func (c *Client) Unsubscribe(id string) bool {
	if c.push == nil {
		return false
	}
	return c.push.Unsubscribe(id)
}

// ConnectionStatus reports the push channel state. Without a push channel
// it is always Disconnected.
func (c *Client) ConnectionStatus() push.ConnectionStatus {
	if c.push == nil {
		return push.ConnectionStatus{State: push.StateDisconnected}
	}
	return c.push.Status()
}

// OnConnectionStatusChange registers fn for push status transitions and
// returns a function that removes it.
func (c *Client) OnConnectionStatusChange(fn func(push.ConnectionStatus)) func() {
	if c.push == nil {
		return func() {}
	}
	return c.push.OnStatusChange(fn)
}

// Push returns the push manager, or nil when push is not configured.
func (c *Client) Push() *push.Manager {
	return c.push
}
