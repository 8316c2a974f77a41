package push

import (
	"fmt"
	"time"
)

// State is the connection lifecycle state.
type State int

const (
	// StateDisconnected is the initial state.
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnecting
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions lists the allowed target states for each state. Connected is
// reachable only from Connecting. Connecting -> Reconnecting is used only by
// attempts inside the automatic reconnect cycle.
var transitions = map[State][]State{
	StateDisconnected:  {StateConnecting, StateDisconnecting},
	StateConnecting:    {StateConnected, StateDisconnected, StateReconnecting, StateDisconnecting},
	StateConnected:     {StateReconnecting, StateDisconnected, StateDisconnecting},
	StateReconnecting:  {StateConnecting, StateDisconnected, StateDisconnecting},
	StateDisconnecting: {StateDisconnected},
}

// canTransition reports whether the state machine allows from -> to.
func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ConnectionStatus is a snapshot of the Manager's connection.
type ConnectionStatus struct {
	State State

	// ConnectionID is the server-assigned id of the current connection.
	ConnectionID string

	// LastConnectedAt is when the Manager last entered StateConnected.
	LastConnectedAt time.Time

	// Err is the most recent connection failure. It is cleared on connect.
	Err error

	// ReconnectAttempts counts attempts in the current reconnect cycle.
	ReconnectAttempts int
}

// Connected reports whether the status is StateConnected.
func (s ConnectionStatus) Connected() bool {
	return s.State == StateConnected
}
