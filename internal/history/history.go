// Package history exports session and recovery lifecycle events to
// external systems for audit and analysis.
package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventSessionConnected    EventType = "session_connected"
	EventSessionDisconnected EventType = "session_disconnected"
	EventRecoveryStarted     EventType = "recovery_started"
	EventRecoveryAttempt     EventType = "recovery_attempt"
	EventRecoverySucceeded   EventType = "recovery_succeeded"
	EventRecoveryFailed      EventType = "recovery_failed"
	EventContainerStarted    EventType = "container_started"
	EventContainerRestarted  EventType = "container_restarted"
	EventAlertEntered        EventType = "alert_entered"
	EventAlertCleared        EventType = "alert_cleared"
)

// Event is one lifecycle event. Attempt and Kind are only set for
// recovery events.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Detail     string    `json:"detail,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
}

// Sink is a destination for history events. Implementations must be safe
// for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Recorder fans events out to the configured sinks. Sink failures are
// logged, never propagated to the caller.
type Recorder struct {
	mu    sync.RWMutex
	sinks []Sink
	now   func() time.Time
}

func NewRecorder(sinks ...Sink) *Recorder {
	return &Recorder{sinks: sinks, now: time.Now}
}

// Record stamps and delivers the event to every sink.
func (r *Recorder) Record(ctx context.Context, e Event) {
	e.ID = uuid.NewString()
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now().UTC()
	}
	r.mu.RLock()
	sinks := r.sinks
	r.mu.RUnlock()
	for _, s := range sinks {
		if err := s.Send(ctx, e); err != nil {
			slog.Warn("history sink send failed", "type", e.Type, "error", err)
		}
	}
}

func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sinks {
		_ = s.Close()
	}
	r.sinks = nil
}
