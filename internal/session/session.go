// Package session owns the single logical connection to the gateway's
// network endpoint. State transitions belong to the supervisor; this
// package only tracks connectivity and activity on the wire.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle state of the shared gateway session. Exactly one
// value exists per process; the supervisor is its single writer.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Degraded     State = "degraded"
	Reconnecting State = "reconnecting"
)

// Endpoint is the gateway's network address plus the API client id.
type Endpoint struct {
	Host     string
	Port     int
	ClientID int
}

func (e Endpoint) String() string { return fmt.Sprintf("%s:%d", e.Host, e.Port) }

// Client is the gateway client library boundary. Connectivity is distinct
// from usefulness: LastMessageAt is how a connected-but-silent session is
// told apart from one that is actually producing data.
type Client interface {
	Connect(ctx context.Context, ep Endpoint, timeout time.Duration) error
	Disconnect() error
	IsConnected() bool
	LastMessageAt() time.Time
}

// ConnectionError wraps a connect or reconnect failure.
type ConnectionError struct {
	Endpoint Endpoint
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Session wraps one Client with activity tracking.
type Session struct {
	client Client
	ep     Endpoint

	mu           sync.Mutex
	lastActivity time.Time
	now          func() time.Time
}

func New(client Client, ep Endpoint) *Session {
	return &Session{client: client, ep: ep, now: time.Now}
}

// Connect opens the connection. On success the session records fresh
// activity so a just-connected session is never judged stale.
func (s *Session) Connect(ctx context.Context, timeout time.Duration) error {
	if s.client.IsConnected() {
		return nil
	}
	if err := s.client.Connect(ctx, s.ep, timeout); err != nil {
		return &ConnectionError{Endpoint: s.ep, Err: err}
	}
	s.TouchActivity()
	return nil
}

// Disconnect closes the connection. It is forwarded unconditionally:
// after a spontaneous loss the client reports not-connected but still
// holds the dead socket until Disconnect releases it.
func (s *Session) Disconnect() {
	_ = s.client.Disconnect()
}

// IsConnected is a cheap, non-blocking liveness check.
func (s *Session) IsConnected() bool { return s.client.IsConnected() }

// TouchActivity records that a data-bearing exchange just succeeded.
func (s *Session) TouchActivity() {
	s.mu.Lock()
	s.lastActivity = s.now()
	s.mu.Unlock()
}

// LastActivityAt returns the most recent sign of life: either an explicit
// touch or the client's own last-received-message timestamp, whichever is
// later.
func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	touched := s.lastActivity
	s.mu.Unlock()
	if msg := s.client.LastMessageAt(); msg.After(touched) {
		return msg
	}
	return touched
}

// DataAge returns how long the session has been silent. ok is false when
// no activity has ever been observed on this session.
func (s *Session) DataAge(now time.Time) (time.Duration, bool) {
	last := s.LastActivityAt()
	if last.IsZero() {
		return 0, false
	}
	return now.Sub(last), true
}

// Client exposes the wrapped client for scoped use by the supervisor.
func (s *Session) Client() Client { return s.client }

// Endpoint returns the configured gateway endpoint.
func (s *Session) Endpoint() Endpoint { return s.ep }
