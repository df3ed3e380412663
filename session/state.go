// ABOUTME: Connection health state machine for the upstream preview session.
// ABOUTME: Defines ConnectionState values and the legal transitions between them.
package session

import "time"

// ConnectionState describes the health of the single upstream connection.
type ConnectionState string

const (
	// StateDisconnected means no connection exists and no attempt is running.
	StateDisconnected ConnectionState = "disconnected"
	// StateConnecting means a connect attempt is in flight.
	StateConnecting ConnectionState = "connecting"
	// StateConnected means the upstream session is live and usable.
	StateConnected ConnectionState = "connected"
	// StateReconnecting means a live session was lost to a transport error
	// and the next connect attempt will try to restore it.
	StateReconnecting ConnectionState = "reconnecting"
	// StateFailed means connect retries were exhausted. Terminal until an
	// explicit Reconnect call.
	StateFailed ConnectionState = "failed"
)

// connectionTransitions is the set of legal state transitions. Every path to
// StateConnected passes through StateConnecting; there is no shortcut from
// StateDisconnected straight to StateConnected.
var connectionTransitions = map[ConnectionState][]ConnectionState{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateDisconnected, StateFailed},
	StateConnected:    {StateReconnecting, StateDisconnected},
	StateReconnecting: {StateConnecting, StateFailed},
	StateFailed:       {StateConnecting},
}

// CanTransition reports whether moving from s to next is a legal transition.
func (s ConnectionState) CanTransition(next ConnectionState) bool {
	for _, allowed := range connectionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the state requires an explicit Reconnect to leave.
func (s ConnectionState) Terminal() bool {
	return s == StateFailed
}

// ErrorInfo captures the last failure observed on the session, kept for
// status reads after the error has been returned to its original caller.
type ErrorInfo struct {
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Info is a point-in-time, read-only snapshot of the session for status
// endpoints. ConnectedAt is nil unless the session is currently connected.
type Info struct {
	State       ConnectionState `json:"state"`
	LastError   *ErrorInfo      `json:"last_error,omitempty"`
	ConnectedAt *time.Time      `json:"connected_at,omitempty"`
	RetryCount  int             `json:"retry_count"`
	AttemptID   string          `json:"attempt_id,omitempty"`
}
