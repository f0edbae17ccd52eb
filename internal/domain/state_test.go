package domain

import (
	"errors"
	"testing"
)

func TestConnStateString(t *testing.T) {
	tests := []struct {
		state    ConnState
		expected string
	}{
		{ConnStateDisconnected, "disconnected"},
		{ConnStateConnecting, "connecting"},
		{ConnStateAuthenticating, "authenticating"},
		{ConnStateConnected, "connected"},
		{ConnStateReconnecting, "reconnecting"},
		{ConnStateFailed, "failed"},
		{ConnState(999), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("ConnState(%d).String() = %q, want %q", tt.state, got, tt.expected)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from     ConnState
		to       ConnState
		expected bool
	}{
		{ConnStateDisconnected, ConnStateConnecting, true},
		{ConnStateDisconnected, ConnStateConnected, false},
		{ConnStateConnecting, ConnStateAuthenticating, true},
		{ConnStateConnecting, ConnStateConnected, false},
		{ConnStateAuthenticating, ConnStateConnected, true},
		{ConnStateAuthenticating, ConnStateFailed, true},
		{ConnStateConnected, ConnStateReconnecting, true},
		{ConnStateConnected, ConnStateAuthenticating, false},
		{ConnStateReconnecting, ConnStateConnecting, true},
		{ConnStateReconnecting, ConnStateConnected, false},
		{ConnStateFailed, ConnStateConnecting, true},
		{ConnStateFailed, ConnStateReconnecting, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.expected {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.expected)
		}
	}
}

func TestAnyStateCanReachDisconnected(t *testing.T) {
	states := []ConnState{
		ConnStateConnecting,
		ConnStateAuthenticating,
		ConnStateConnected,
		ConnStateReconnecting,
		ConnStateFailed,
	}
	for _, from := range states {
		if !CanTransition(from, ConnStateDisconnected) {
			t.Errorf("expected %s -> disconnected to be allowed", from)
		}
	}
}

func TestNewInvalidTransitionError(t *testing.T) {
	err := NewInvalidTransitionError(ConnStateConnected, ConnStateAuthenticating)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected error to wrap ErrInvalidTransition, got %v", err)
	}
}
