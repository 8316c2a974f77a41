package push

import (
	"context"
	"encoding/json"
	"time"
)

// Event is one message delivered on the push channel.
type Event struct {
	Name       string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Transport opens push connections.
//
// Contract:
//   - Dial blocks until the connection is usable or ctx is done.
//   - Each successful Dial returns a fresh Conn; the Manager never reuses a
//     Conn after it reported an error from Receive.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one live push connection.
//
// Contract:
//   - Concurrency: Subscribe, Unsubscribe and Close may be called while
//     another goroutine is blocked in Receive. Receive has a single caller.
//   - Receive returns an error wrapping ErrConnectionLost when the channel
//     drops, and ctx.Err() when ctx is done.
//   - Close is idempotent and unblocks Receive.
type Conn interface {
	// ID returns the server-assigned connection id.
	ID() string
	Subscribe(ctx context.Context, event string) error
	Unsubscribe(ctx context.Context, event string) error
	Receive(ctx context.Context) (Event, error)
	Close() error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context) (Conn, error)

// Dial calls f(ctx).
func (f TransportFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}
