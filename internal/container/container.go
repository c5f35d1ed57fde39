// Package container owns the desired state of the single gateway
// container and drives it through the runtime adapter.
package container

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ibgate/internal/runtime"
)

// DesiredState is what the lifecycle manager wants the container to be.
type DesiredState string

const (
	DesiredAbsent  DesiredState = "absent"
	DesiredRunning DesiredState = "running"
	DesiredStopped DesiredState = "stopped"
)

// Record is the lifecycle manager's view of the gateway container. It is
// discarded on process shutdown; the container itself is left to the
// engine so it survives restarts of the supervising process.
type Record struct {
	Name           string                 `json:"name"`
	Image          string                 `json:"image"`
	Desired        DesiredState           `json:"desired_state"`
	Observed       runtime.ContainerState `json:"observed_state"`
	StartedAt      time.Time              `json:"started_at,omitempty"`
	LastObservedAt time.Time              `json:"last_observed_at"`
}

// DefaultLogTail is the log tail used when the caller does not ask for a
// specific line count.
const DefaultLogTail = 100

// Manager drives one named container to its desired state.
type Manager struct {
	rt   runtime.Runtime
	spec runtime.Spec

	mu     sync.Mutex
	record Record

	restartMu sync.Mutex
	restart   *inflightRestart

	stopGrace time.Duration
	now       func() time.Time
}

// inflightRestart lets concurrent Restart callers join the restart that is
// already running instead of racing a second stop/start cycle.
type inflightRestart struct {
	done chan struct{}
	err  error
}

// NewManager creates a lifecycle manager for the container described by spec.
func NewManager(rt runtime.Runtime, spec runtime.Spec, stopGrace time.Duration) *Manager {
	if stopGrace <= 0 {
		stopGrace = 30 * time.Second
	}
	return &Manager{
		rt:        rt,
		spec:      spec,
		stopGrace: stopGrace,
		now:       time.Now,
		record: Record{
			Name:    spec.Name,
			Image:   spec.Image,
			Desired: DesiredAbsent,
		},
	}
}

// EnsureRunning drives the container to the running state. It creates and
// starts the container when missing, starts it when stopped, and is a
// no-op (beyond refreshing observed state) when already running.
func (m *Manager) EnsureRunning(ctx context.Context) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record.Desired = DesiredRunning
	insp, err := m.rt.Inspect(ctx, m.spec.Name)
	if err != nil {
		return m.observeLocked(insp), err
	}

	switch insp.State {
	case runtime.StateRunning:
		return m.observeLocked(insp), nil
	case runtime.StateNotFound:
		if err := m.rt.EnsureImage(ctx, m.spec.Image); err != nil {
			return m.observeLocked(insp), err
		}
		if _, err := m.rt.Create(ctx, m.spec); err != nil {
			return m.observeLocked(insp), err
		}
		slog.Info("gateway container created", "name", m.spec.Name, "image", m.spec.Image)
		fallthrough
	case runtime.StateCreated, runtime.StateExited:
		if err := m.rt.Start(ctx, m.spec.Name); err != nil {
			return m.observeLocked(insp), err
		}
		slog.Info("gateway container started", "name", m.spec.Name)
	}

	insp, err = m.rt.Inspect(ctx, m.spec.Name)
	return m.observeLocked(insp), err
}

// Status returns a snapshot of the container record with freshly observed
// state. A missing container is reported as NotFound, never as an error.
func (m *Manager) Status(ctx context.Context) Record {
	insp, err := m.rt.Inspect(ctx, m.spec.Name)
	if err != nil {
		insp.State = runtime.StateUnknown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.observeLocked(insp)
}

// Logs returns the last tail lines of container output. tail <= 0 uses
// DefaultLogTail. A missing container surfaces as a not-found
// ContainerError.
func (m *Manager) Logs(ctx context.Context, tail int) ([]string, error) {
	if tail <= 0 {
		tail = DefaultLogTail
	}
	insp, err := m.rt.Inspect(ctx, m.spec.Name)
	if err != nil {
		return nil, err
	}
	if insp.State == runtime.StateNotFound {
		return nil, &runtime.ContainerError{
			Kind: runtime.KindNotFound,
			Op:   "logs",
			Err:  errNotFound(m.spec.Name),
		}
	}
	return m.rt.Logs(ctx, m.spec.Name, tail)
}

// Restart stops the container (graceful, then forced by the engine after
// the grace period) and starts it again. Concurrent calls join the
// in-flight restart and observe its outcome.
func (m *Manager) Restart(ctx context.Context) error {
	m.restartMu.Lock()
	if r := m.restart; r != nil {
		m.restartMu.Unlock()
		select {
		case <-r.done:
			return r.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r := &inflightRestart{done: make(chan struct{})}
	m.restart = r
	m.restartMu.Unlock()

	r.err = m.restartOnce(ctx)
	close(r.done)

	m.restartMu.Lock()
	m.restart = nil
	m.restartMu.Unlock()
	return r.err
}

func (m *Manager) restartOnce(ctx context.Context) error {
	slog.Warn("restarting gateway container", "name", m.spec.Name)
	insp, err := m.rt.Inspect(ctx, m.spec.Name)
	if err != nil {
		return err
	}
	if insp.State == runtime.StateNotFound {
		_, err := m.EnsureRunning(ctx)
		return err
	}
	if insp.State == runtime.StateRunning {
		if err := m.rt.Stop(ctx, m.spec.Name, m.stopGrace); err != nil {
			return err
		}
	}
	if err := m.rt.Start(ctx, m.spec.Name); err != nil {
		return err
	}
	m.mu.Lock()
	m.record.StartedAt = m.now()
	m.mu.Unlock()
	slog.Info("gateway container restarted", "name", m.spec.Name)
	return nil
}

// Stop drives the container to the stopped state. It is used by the CLI,
// not by normal shutdown: the supervising process leaves the container
// running when it exits.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.record.Desired = DesiredStopped
	m.mu.Unlock()
	insp, err := m.rt.Inspect(ctx, m.spec.Name)
	if err != nil {
		return err
	}
	if insp.State != runtime.StateRunning {
		return nil
	}
	return m.rt.Stop(ctx, m.spec.Name, m.stopGrace)
}

func (m *Manager) observeLocked(insp runtime.Inspection) Record {
	m.record.Observed = insp.State
	m.record.LastObservedAt = m.now()
	if !insp.StartedAt.IsZero() {
		m.record.StartedAt = insp.StartedAt
	}
	return m.record
}

type errNotFound string

func (e errNotFound) Error() string { return "no container named " + string(e) }
