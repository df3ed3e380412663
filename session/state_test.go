// ABOUTME: Tests for the connection health state machine transition rules.
// ABOUTME: Verifies legal paths, rejected shortcuts, and terminal-state behavior.
package session

import "testing"

func TestConnectionStateTransitions(t *testing.T) {
	tests := []struct {
		from, to ConnectionState
		want     bool
	}{
		{StateDisconnected, StateConnecting, true},
		{StateDisconnected, StateConnected, false}, // no shortcut to Connected
		{StateDisconnected, StateReconnecting, false},
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateDisconnected, true},
		{StateConnecting, StateFailed, true},
		{StateConnecting, StateReconnecting, false},
		{StateConnected, StateReconnecting, true},
		{StateConnected, StateDisconnected, true},
		{StateConnected, StateConnecting, false},
		{StateReconnecting, StateConnecting, true},
		{StateReconnecting, StateConnected, false}, // must pass through Connecting
		{StateReconnecting, StateFailed, true},
		{StateFailed, StateConnecting, true},
		{StateFailed, StateConnected, false},
		{StateFailed, StateDisconnected, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminalState(t *testing.T) {
	if !StateFailed.Terminal() {
		t.Error("expected StateFailed to be terminal")
	}
	for _, s := range []ConnectionState{StateDisconnected, StateConnecting, StateConnected, StateReconnecting} {
		if s.Terminal() {
			t.Errorf("expected %s not to be terminal", s)
		}
	}
}
