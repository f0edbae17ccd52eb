package domain

import (
	"errors"
	"fmt"
	"time"
)

// ConnState is the lifecycle state of the single gateway connection.
// It is owned exclusively by the gateway connection's state machine;
// every other component only ever sees snapshot reads.
type ConnState int

const (
	ConnStateDisconnected ConnState = iota
	ConnStateConnecting
	ConnStateAuthenticating
	ConnStateConnected
	ConnStateReconnecting
	ConnStateFailed
)

func (s ConnState) String() string {
	switch s {
	case ConnStateDisconnected:
		return "disconnected"
	case ConnStateConnecting:
		return "connecting"
	case ConnStateAuthenticating:
		return "authenticating"
	case ConnStateConnected:
		return "connected"
	case ConnStateReconnecting:
		return "reconnecting"
	case ConnStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var ErrInvalidTransition = errors.New("invalid connection state transition")

func NewInvalidTransitionError(from, to ConnState) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

var validTransitions = map[ConnState][]ConnState{
	ConnStateDisconnected:   {ConnStateConnecting},
	ConnStateConnecting:     {ConnStateAuthenticating, ConnStateReconnecting, ConnStateDisconnected, ConnStateFailed},
	ConnStateAuthenticating: {ConnStateConnected, ConnStateReconnecting, ConnStateDisconnected, ConnStateFailed},
	ConnStateConnected:      {ConnStateReconnecting, ConnStateDisconnected},
	ConnStateReconnecting:   {ConnStateConnecting, ConnStateDisconnected},
	ConnStateFailed:         {ConnStateConnecting, ConnStateDisconnected},
}

func CanTransition(from, to ConnState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StateTransition records one applied transition, for diagnostics and tests.
type StateTransition struct {
	From      ConnState
	To        ConnState
	Reason    string
	Timestamp time.Time
}
