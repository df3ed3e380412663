// ABOUTME: Session Manager owning the single logical upstream connection shared by all requests.
// ABOUTME: Double-checked connect with in-flight deduplication, at-most-once forwarding, manual reconnect.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ForwardRequest is an opaque tool call from the widget bound for upstream.
// Arguments are passed through without inspection.
type ForwardRequest struct {
	Tool      string `json:"name"`
	Arguments []byte `json:"arguments,omitempty"`
}

// ForwardResponse is the opaque upstream reply, returned to the widget as-is.
type ForwardResponse struct {
	Body []byte `json:"body"`
}

// Conn is a live upstream connection. Call is at-most-once from the proxy's
// perspective: a transport failure is reported, never replayed.
type Conn interface {
	Call(ctx context.Context, req *ForwardRequest) (*ForwardResponse, error)
	Close() error
}

// Dialer establishes upstream connections. Implementations should return
// *ConnectionError for failures so the connect loop can honor retryability.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

const defaultConnectTimeout = 10 * time.Second

// Manager owns the process-wide upstream session. It is created once at
// startup and shared by reference into every handler; all mutation of the
// session happens through its synchronized entry points.
type Manager struct {
	dialer         Dialer
	policy         RetryPolicy
	connectTimeout time.Duration

	lifeCtx context.Context
	cancel  context.CancelFunc

	// mu guards everything below. The fast path in GetOrConnect takes only
	// the read lock; connect cycles publish results under the write lock.
	mu          sync.RWMutex
	state       ConnectionState
	conn        Conn
	lastErr     *ErrorInfo
	connectedAt time.Time
	retryCount  int
	attemptID   string
	// inflight is non-nil while a connect cycle runs and is closed when the
	// cycle publishes its outcome. Concurrent callers wait on it instead of
	// dialing themselves, so at most one physical connect attempt exists.
	inflight chan struct{}
	// wake cuts short the cycle's backoff sleep so an explicit Reconnect
	// dials promptly instead of waiting out the remaining delay.
	wake chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRetryPolicy overrides the connect retry policy.
func WithRetryPolicy(p RetryPolicy) ManagerOption {
	return func(m *Manager) {
		m.policy = p
	}
}

// WithConnectTimeout bounds each individual dial attempt.
func WithConnectTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.connectTimeout = d
	}
}

// NewManager creates a session manager in the Disconnected state. No
// connection is attempted until the first GetOrConnect or Reconnect call.
func NewManager(dialer Dialer, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		dialer:         dialer,
		policy:         DefaultRetryPolicy(),
		connectTimeout: defaultConnectTimeout,
		lifeCtx:        ctx,
		cancel:         cancel,
		state:          StateDisconnected,
		wake:           make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ConnRef is a reference to a live upstream connection obtained from
// GetOrConnect. It stays valid for a single forward; the manager revokes the
// underlying connection on transport failure.
type ConnRef struct {
	conn Conn
}

// Call forwards a request on the referenced connection.
func (r *ConnRef) Call(ctx context.Context, req *ForwardRequest) (*ForwardResponse, error) {
	return r.conn.Call(ctx, req)
}

// GetOrConnect returns a reference usable to forward requests, connecting if
// needed. When called concurrently while disconnected, exactly one connect
// cycle runs; all callers wait on it and observe the same published outcome.
// A session in the Failed state is not retried here; it needs Reconnect.
func (m *Manager) GetOrConnect(ctx context.Context) (*ConnRef, error) {
	for {
		// Fast path: shared lock, connected.
		m.mu.RLock()
		if m.state == StateConnected && m.conn != nil {
			ref := &ConnRef{conn: m.conn}
			m.mu.RUnlock()
			return ref, nil
		}
		m.mu.RUnlock()

		m.mu.Lock()
		// Re-check: another caller may have just finished connecting.
		if m.state == StateConnected && m.conn != nil {
			ref := &ConnRef{conn: m.conn}
			m.mu.Unlock()
			return ref, nil
		}

		if m.inflight == nil {
			if m.state == StateFailed {
				err := m.failedErrLocked()
				m.mu.Unlock()
				return nil, err
			}
			m.startConnectLocked()
		}
		wait := m.inflight
		m.mu.Unlock()

		select {
		case <-wait:
			// Loop to observe the published outcome.
		case <-ctx.Done():
			return nil, &ConnectionError{Message: "waiting for upstream connect", Cause: ctx.Err()}
		}
	}
}

// Forward sends a pre-validated request upstream. On transport failure the
// session transitions to Reconnecting and a ConnectionError is returned; the
// request itself is never retried. Protocol errors pass through untouched.
func (m *Manager) Forward(ctx context.Context, req *ForwardRequest) (*ForwardResponse, error) {
	ref, err := m.GetOrConnect(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := ref.Call(ctx, req)
	if err == nil {
		return resp, nil
	}

	var perr *ProtocolError
	if errors.As(err, &perr) {
		// Malformed upstream response; connection state is unaffected.
		return nil, perr
	}
	if ctx.Err() != nil {
		// The caller gave up; that says nothing about the shared connection.
		return nil, &ConnectionError{Message: fmt.Sprintf("forwarding %s", req.Tool), Cause: ctx.Err(), Retryable: true}
	}

	m.mu.Lock()
	if m.conn == ref.conn {
		_ = m.conn.Close()
		m.conn = nil
		m.connectedAt = time.Time{}
		m.lastErr = &ErrorInfo{Message: err.Error(), Time: time.Now()}
		m.setStateLocked(StateReconnecting)
		log.Printf("session: transport error on forward tool=%s attempt=%s err=%v", req.Tool, m.attemptID, err)
	}
	m.mu.Unlock()

	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return nil, cerr
	}
	return nil, &ConnectionError{Message: fmt.Sprintf("forwarding %s", req.Tool), Cause: err, Retryable: true}
}

// Reconnect forces a new connect cycle regardless of the current state,
// including Failed, and resets the retry counter. It returns the state after
// the cycle completes (or the current state if ctx expires while waiting).
func (m *Manager) Reconnect(ctx context.Context) ConnectionState {
	m.mu.Lock()
	m.retryCount = 0
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
		m.connectedAt = time.Time{}
		m.setStateLocked(StateDisconnected)
	}
	if m.inflight == nil {
		m.startConnectLocked()
	} else {
		// A cycle is already running; cut its backoff sleep short so the
		// next attempt happens now rather than after the remaining delay.
		select {
		case m.wake <- struct{}{}:
		default:
		}
	}
	wait := m.inflight
	m.mu.Unlock()

	select {
	case <-wait:
	case <-ctx.Done():
	}
	return m.State()
}

// State returns the current connection state without blocking on any
// in-flight connect.
func (m *Manager) State() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Snapshot returns a copy of the session's observable fields for status reads.
func (m *Manager) Snapshot() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info := Info{
		State:      m.state,
		RetryCount: m.retryCount,
		AttemptID:  m.attemptID,
	}
	if m.lastErr != nil {
		errCopy := *m.lastErr
		info.LastError = &errCopy
	}
	if !m.connectedAt.IsZero() {
		t := m.connectedAt
		info.ConnectedAt = &t
	}
	return info
}

// Close tears the session down at process shutdown.
func (m *Manager) Close() error {
	m.cancel()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		err := m.conn.Close()
		m.conn = nil
		m.connectedAt = time.Time{}
		if m.state.CanTransition(StateDisconnected) {
			m.setStateLocked(StateDisconnected)
		}
		return err
	}
	return nil
}

// startConnectLocked begins a connect cycle. Caller must hold the write lock
// and have verified no cycle is in flight.
func (m *Manager) startConnectLocked() {
	done := make(chan struct{})
	m.inflight = done
	m.attemptID = uuid.New().String()
	m.setStateLocked(StateConnecting)
	go m.runConnectCycle(done)
}

// runConnectCycle performs bounded dial attempts with backoff, publishing
// every state change under the write lock. It runs on the manager's own
// lifetime context so a single caller's cancellation cannot abort a connect
// that other callers are waiting on.
func (m *Manager) runConnectCycle(done chan struct{}) {
	defer func() {
		m.mu.Lock()
		m.inflight = nil
		m.mu.Unlock()
		close(done)
	}()

	// Drop any wake left over from a previous cycle; the first dial below
	// happens immediately regardless.
	select {
	case <-m.wake:
	default:
	}

	attempts := m.policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		dialCtx, cancel := context.WithTimeout(m.lifeCtx, m.connectTimeout)
		conn, err := m.dialer.Dial(dialCtx)
		cancel()

		if err == nil {
			m.mu.Lock()
			m.conn = conn
			m.connectedAt = time.Now()
			m.lastErr = nil
			m.setStateLocked(StateConnected)
			m.mu.Unlock()
			log.Printf("session: connected attempt=%s retries=%d", m.attemptID, attempt)
			return
		}

		retryable := true
		var cerr *ConnectionError
		if errors.As(err, &cerr) {
			retryable = cerr.Retryable
		}

		m.mu.Lock()
		m.retryCount++
		m.lastErr = &ErrorInfo{Message: err.Error(), Time: time.Now()}
		exhausted := attempt == attempts-1 || !retryable || m.lifeCtx.Err() != nil
		if exhausted {
			m.setStateLocked(StateFailed)
			m.mu.Unlock()
			log.Printf("session: connect failed terminally attempt=%s retries=%d err=%v", m.attemptID, attempt+1, err)
			return
		}
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()

		delay := m.policy.Backoff.DelayForAttempt(attempt)
		log.Printf("session: connect attempt %d/%d failed, retrying in %s: %v", attempt+1, attempts, delay, err)

		select {
		case <-m.lifeCtx.Done():
			m.mu.Lock()
			m.setStateLocked(StateFailed)
			m.mu.Unlock()
			return
		case <-m.wake:
			log.Printf("session: backoff interrupted by reconnect attempt=%s", m.attemptID)
		case <-time.After(delay):
		}

		m.mu.Lock()
		m.setStateLocked(StateConnecting)
		m.mu.Unlock()
	}
}

// setStateLocked transitions the state machine. Caller must hold the write
// lock. Illegal transitions indicate a bug and are logged before applying.
func (m *Manager) setStateLocked(next ConnectionState) {
	if m.state == next {
		return
	}
	if !m.state.CanTransition(next) {
		log.Printf("session: illegal state transition %s -> %s", m.state, next)
	}
	m.state = next
}

// failedErrLocked builds the error surfaced to callers while the session is
// in the terminal Failed state. Caller must hold a lock.
func (m *Manager) failedErrLocked() error {
	msg := "upstream session failed; manual reconnect required"
	if m.lastErr != nil {
		msg = fmt.Sprintf("%s (last error: %s)", msg, m.lastErr.Message)
	}
	return &ConnectionError{Message: msg, Retryable: false}
}
