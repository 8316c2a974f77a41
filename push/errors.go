package push

import "errors"

var (
	// ErrNotConnected indicates an operation that needs a live connection.
	ErrNotConnected = errors.New("push: not connected")

	// ErrReconnectExhausted is recorded in ConnectionStatus.Err once
	// automatic reconnection gives up.
	ErrReconnectExhausted = errors.New("push: reconnect attempts exhausted")

	// ErrInvalidTransition indicates a state change the state machine forbids.
	ErrInvalidTransition = errors.New("push: invalid state transition")

	// ErrManagerClosed indicates the Manager has been closed.
	ErrManagerClosed = errors.New("push: manager closed")

	// ErrConnectionLost is returned by Conn.Receive when the channel drops.
	ErrConnectionLost = errors.New("push: connection lost")

	// ErrInvalidSubscription indicates an empty event name or nil handler.
	ErrInvalidSubscription = errors.New("push: invalid subscription")

	// ErrNilTransport indicates a nil Transport was provided.
	ErrNilTransport = errors.New("push: transport is nil")
)
