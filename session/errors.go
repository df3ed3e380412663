// ABOUTME: Error types for the upstream session: connection failures vs protocol failures.
// ABOUTME: ConnectionError affects session state and may be retryable; ProtocolError never does.
package session

import "encoding/json"

// ConnectionError is a transport-level failure: dialing the upstream failed,
// or an established connection broke mid-call. Connection errors are recorded
// on the session and drive state transitions.
type ConnectionError struct {
	Message   string
	Cause     error
	Retryable bool
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the connect loop may try again.
func (e *ConnectionError) IsRetryable() bool {
	return e.Retryable
}

// ProtocolError is a malformed or unexpected upstream response. It is
// returned to the immediate caller and never changes connection state.
type ProtocolError struct {
	Message string
	Cause   error
	Raw     json.RawMessage
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}
