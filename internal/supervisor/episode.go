package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ibgate/internal/history"
	"ibgate/internal/metrics"
	"ibgate/internal/session"
)

// RecoveryKind is a rung of the escalation ladder.
type RecoveryKind string

const (
	KindReconnect        RecoveryKind = "reconnect"
	KindContainerRestart RecoveryKind = "container_restart"
)

// AttemptOutcome is the resolution of one recovery attempt.
type AttemptOutcome string

const (
	OutcomePending   AttemptOutcome = "pending"
	OutcomeSucceeded AttemptOutcome = "succeeded"
	OutcomeFailed    AttemptOutcome = "failed"
)

// RecoveryAttempt is first-class, inspectable retry state: attempt
// counters and outcomes live here, not in a catch block.
type RecoveryAttempt struct {
	Kind      RecoveryKind   `json:"kind"`
	Number    int            `json:"number"`
	StartedAt time.Time      `json:"started_at"`
	Outcome   AttemptOutcome `json:"outcome"`
}

// episode is one bounded recovery sequence. Late arrivals wait on done
// and observe the same err the starter produced.
type episode struct {
	reason    string
	startedAt time.Time
	done      chan struct{}
	err       error

	mu       sync.Mutex
	attempts []RecoveryAttempt
}

func (e *episode) begin(kind RecoveryKind, n int, at time.Time) *RecoveryAttempt {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts = append(e.attempts, RecoveryAttempt{
		Kind: kind, Number: n, StartedAt: at, Outcome: OutcomePending,
	})
	return &e.attempts[len(e.attempts)-1]
}

func (e *episode) resolve(a *RecoveryAttempt, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ok {
		a.Outcome = OutcomeSucceeded
	} else {
		a.Outcome = OutcomeFailed
	}
}

func (e *episode) snapshot() []RecoveryAttempt {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]RecoveryAttempt, len(e.attempts))
	copy(out, e.attempts)
	return out
}

// Recover starts a recovery episode, or attaches to the one in flight.
// At most one episode runs at a time; every caller observes the same
// outcome. A nil return means a healthy session was restored; an
// ErrRecoveryExhausted return means the ladder is spent.
func (s *Supervisor) Recover(ctx context.Context, reason string) error {
	s.epMu.Lock()
	if ep := s.episode; ep != nil {
		s.epMu.Unlock()
		select {
		case <-ep.done:
			return ep.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	ep := &episode{reason: reason, startedAt: s.now(), done: make(chan struct{})}
	s.episode = ep
	s.epMu.Unlock()

	ep.err = s.runEpisode(ctx, ep)
	close(ep.done)

	s.epMu.Lock()
	s.episode = nil
	s.epMu.Unlock()
	return ep.err
}

// runEpisode executes the escalation ladder under the exclusive section:
// cheap reconnects first, a container restart only when those are spent.
func (s *Supervisor) runEpisode(ctx context.Context, ep *episode) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.setState(session.Reconnecting)
	s.record(history.EventRecoveryStarted, ep.reason, "", 0)
	slog.Warn("recovery episode started", "reason", ep.reason)

	backoff := s.cfg.BackoffBase
	for i := 1; i <= s.cfg.ReconnectAttempts; i++ {
		a := ep.begin(KindReconnect, i, s.now())
		s.record(history.EventRecoveryAttempt, ep.reason, string(KindReconnect), i)
		ok := s.tryReconnect(ctx)
		ep.resolve(a, ok)
		if ok {
			metrics.IncReconnect("success")
			return s.episodeSucceeded(ep)
		}
		metrics.IncReconnect("failure")
		if ctx.Err() != nil {
			s.setState(session.Disconnected)
			return ctx.Err()
		}
		if i < s.cfg.ReconnectAttempts {
			if err := s.sleep(ctx, backoff); err != nil {
				s.setState(session.Disconnected)
				return err
			}
			if backoff *= 2; backoff > s.cfg.BackoffCap {
				backoff = s.cfg.BackoffCap
			}
		}
	}

	for i := 1; i <= s.cfg.RestartAttempts; i++ {
		a := ep.begin(KindContainerRestart, i, s.now())
		s.record(history.EventRecoveryAttempt, ep.reason, string(KindContainerRestart), i)
		ok := s.tryRestart(ctx)
		ep.resolve(a, ok)
		if ok {
			metrics.IncContainerRestart()
			s.record(history.EventContainerRestarted, "", "", 0)
			return s.episodeSucceeded(ep)
		}
		if ctx.Err() != nil {
			s.setState(session.Disconnected)
			return ctx.Err()
		}
	}

	s.setState(session.Disconnected)
	s.enterAlert()
	s.record(history.EventRecoveryFailed, ep.reason, "", 0)
	metrics.IncRecoveryEpisode("failed")
	return ErrRecoveryExhausted
}

func (s *Supervisor) episodeSucceeded(ep *episode) error {
	s.clearAlert()
	s.setState(session.Connected)
	s.record(history.EventRecoverySucceeded, ep.reason, "", 0)
	metrics.IncRecoveryEpisode("succeeded")
	slog.Info("recovery episode succeeded", "reason", ep.reason, "attempts", len(ep.snapshot()))
	return nil
}

// tryReconnect drops and re-establishes the session. Caller holds opMu.
func (s *Supervisor) tryReconnect(ctx context.Context) bool {
	s.sess.Disconnect()
	if err := s.sess.Connect(ctx, s.cfg.ConnectTimeout); err != nil {
		slog.Warn("reconnect attempt failed", "error", err)
		return false
	}
	return true
}

// tryRestart restarts the gateway container, then probes until the
// gateway accepts a session again or the probe window closes. Caller
// holds opMu.
func (s *Supervisor) tryRestart(ctx context.Context) bool {
	s.sess.Disconnect()
	if err := s.containers.Restart(ctx); err != nil {
		slog.Error("container restart failed", "error", err)
		return false
	}
	deadline := s.now().Add(s.cfg.RestartProbeWait)
	for {
		if err := s.sess.Connect(ctx, s.cfg.ConnectTimeout); err == nil {
			return true
		}
		if s.now().After(deadline) || ctx.Err() != nil {
			return false
		}
		if err := s.sleep(ctx, s.cfg.RestartProbeEvery); err != nil {
			return false
		}
	}
}
