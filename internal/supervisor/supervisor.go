// Package supervisor serializes access to the shared gateway session and
// owns the reconnect/restart recovery protocol. All operation handlers go
// through WithSession; nothing else may touch the session.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ibgate/internal/container"
	"ibgate/internal/health"
	"ibgate/internal/history"
	"ibgate/internal/metrics"
	"ibgate/internal/session"
)

// ErrRecoveryExhausted is returned by Recover when the full escalation
// ladder (reconnects, then container restarts) has failed. The monitor
// translates it into the Alert state.
var ErrRecoveryExhausted = errors.New("recovery ladder exhausted")

// NotReadyError is returned to a caller whose bounded wait for a usable
// session elapsed while recovery was in flight. Safe for the caller to
// retry; no supervisor state changed on its behalf.
type NotReadyError struct {
	State session.State
	Wait  time.Duration
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("gateway session not ready (%s): wait timeout %s elapsed", e.State, e.Wait)
}

// Config controls connect timeouts and the recovery ladder bounds.
type Config struct {
	ConnectTimeout    time.Duration // per connect attempt, default 20s
	WaitTimeout       time.Duration // WithSession wait during recovery, default 5s
	ReconnectAttempts int           // ladder stage 1 bound, default 3
	BackoffBase       time.Duration // default 1s
	BackoffCap        time.Duration // default 30s
	RestartAttempts   int           // ladder stage 2 bound, default 2
	RestartProbeWait  time.Duration // total wait for gateway readiness after restart, default 90s
	RestartProbeEvery time.Duration // probe interval after restart, default 5s
	RequestRate       rate.Limit    // gateway request pacing, default 40/s
	RequestBurst      int           // default 10
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 20 * time.Second
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 5 * time.Second
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.RestartAttempts <= 0 {
		c.RestartAttempts = 2
	}
	if c.RestartProbeWait <= 0 {
		c.RestartProbeWait = 90 * time.Second
	}
	if c.RestartProbeEvery <= 0 {
		c.RestartProbeEvery = 5 * time.Second
	}
	if c.RequestRate <= 0 {
		c.RequestRate = 40
	}
	if c.RequestBurst <= 0 {
		c.RequestBurst = 10
	}
	return c
}

// Supervisor is the single owner of session state. Session-mutating
// sequences (connect, disconnect, the recovery ladder) run under the
// exclusive side of opMu; read-only operations share the session under
// the read side once it is confirmed connected.
type Supervisor struct {
	sess       *session.Session
	containers *container.Manager
	cfg        Config
	recorder   *history.Recorder
	limiter    *rate.Limiter

	opMu sync.RWMutex

	stateMu    sync.RWMutex
	state      session.State
	alert      bool
	alertSince time.Time

	epMu    sync.Mutex
	episode *episode

	sampleMu     sync.Mutex
	lastSample   *health.Sample
	monitorState health.MonitorState

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(sess *session.Session, containers *container.Manager, recorder *history.Recorder, cfg Config) *Supervisor {
	cfg = cfg.withDefaults()
	return &Supervisor{
		sess:         sess,
		containers:   containers,
		cfg:          cfg,
		recorder:     recorder,
		limiter:      rate.NewLimiter(cfg.RequestRate, cfg.RequestBurst),
		state:        session.Disconnected,
		monitorState: health.StateHealthy,
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

// State returns the current session state.
func (s *Supervisor) State() session.State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// WithSession runs op against the live session. Callers never receive a
// raw handle outside the scoped function, and never observe a session
// mid-recovery.
func (s *Supervisor) WithSession(ctx context.Context, op string, fn func(session.Client) error) error {
	if err := s.ready(ctx); err != nil {
		metrics.IncRequest(op, "not_ready")
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	s.opMu.RLock()
	defer s.opMu.RUnlock()
	if st := s.State(); st != session.Connected && st != session.Degraded {
		metrics.IncRequest(op, "not_ready")
		return &NotReadyError{State: st, Wait: s.cfg.WaitTimeout}
	}
	err := fn(s.sess.Client())
	if err != nil {
		metrics.IncRequest(op, "error")
		return err
	}
	s.sess.TouchActivity()
	metrics.IncRequest(op, "ok")
	return nil
}

// ready blocks (bounded) until the session is usable, lazily connecting
// when nothing else is trying to.
func (s *Supervisor) ready(ctx context.Context) error {
	deadline := s.now().Add(s.cfg.WaitTimeout)
	for {
		switch st := s.State(); st {
		case session.Connected, session.Degraded:
			return nil
		case session.Connecting, session.Reconnecting:
			if err := s.waitEpisode(ctx, deadline, st); err != nil {
				return err
			}
		case session.Disconnected:
			// An episode can be installed before its runner flips the
			// state; attach to it with the deadline rather than queue
			// behind it on the exclusive section.
			if s.episodeInFlight() {
				if err := s.waitEpisode(ctx, deadline, st); err != nil {
					return err
				}
				continue
			}
			if err := s.connect(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *Supervisor) episodeInFlight() bool {
	s.epMu.Lock()
	defer s.epMu.Unlock()
	return s.episode != nil
}

// waitEpisode waits for the in-flight recovery (if any) to resolve, up to
// the caller's deadline.
func (s *Supervisor) waitEpisode(ctx context.Context, deadline time.Time, st session.State) error {
	s.epMu.Lock()
	ep := s.episode
	s.epMu.Unlock()
	if ep == nil {
		// Connect in progress without an episode; poll briefly.
		if s.now().After(deadline) {
			return &NotReadyError{State: st, Wait: s.cfg.WaitTimeout}
		}
		return s.sleep(ctx, 50*time.Millisecond)
	}
	remain := time.Until(deadline)
	if remain <= 0 {
		return &NotReadyError{State: st, Wait: s.cfg.WaitTimeout}
	}
	t := time.NewTimer(remain)
	defer t.Stop()
	select {
	case <-ep.done:
		return nil
	case <-t.C:
		return &NotReadyError{State: st, Wait: s.cfg.WaitTimeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// connect performs a single lazy connect under the exclusive section.
func (s *Supervisor) connect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.sess.IsConnected() {
		s.setState(session.Connected)
		return nil
	}
	s.setState(session.Connecting)
	start := s.now()
	if err := s.sess.Connect(ctx, s.cfg.ConnectTimeout); err != nil {
		s.setState(session.Disconnected)
		return err
	}
	metrics.ObserveConnectDuration(s.now().Sub(start).Seconds())
	s.record(history.EventSessionConnected, "", "", 0)
	s.clearAlert()
	s.setState(session.Connected)
	return nil
}

// EnsureConnected retries connect with backoff until success or ctx
// expiry. Used at startup, after the container has been brought up.
func (s *Supervisor) EnsureConnected(ctx context.Context) error {
	backoff := s.cfg.BackoffBase
	for {
		err := s.connect(ctx)
		if err == nil {
			return nil
		}
		slog.Warn("gateway not accepting connections yet", "error", err)
		if serr := s.sleep(ctx, backoff); serr != nil {
			return err
		}
		if backoff *= 2; backoff > s.cfg.BackoffCap {
			backoff = s.cfg.BackoffCap
		}
	}
}

// Reconnect is the caller-triggered manual reconnect. It acquires the
// same mutual-exclusion point as monitor-driven recovery: if an episode
// is already in flight this call attaches to it and reports its outcome.
func (s *Supervisor) Reconnect(ctx context.Context) error {
	return s.Recover(ctx, "manual reconnect")
}

// Disconnect tears the session down for shutdown. The monitor loop must
// already be stopped.
func (s *Supervisor) Disconnect() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.sess.Disconnect()
	s.record(history.EventSessionDisconnected, "shutdown", "", 0)
	s.setState(session.Disconnected)
}

func (s *Supervisor) setState(st session.State) {
	s.stateMu.Lock()
	prev := s.state
	s.state = st
	s.stateMu.Unlock()
	if prev != st {
		slog.Info("session state changed", "from", prev, "to", st)
	}
	for _, v := range []session.State{
		session.Disconnected, session.Connecting, session.Connected,
		session.Degraded, session.Reconnecting,
	} {
		metrics.SetSessionState(string(v), v == st)
	}
}

func (s *Supervisor) record(t history.EventType, detail, kind string, attempt int) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(context.Background(), history.Event{
		Type: t, Detail: detail, Kind: kind, Attempt: attempt,
	})
}

func (s *Supervisor) clearAlert() {
	s.stateMu.Lock()
	was := s.alert
	s.alert = false
	s.alertSince = time.Time{}
	s.stateMu.Unlock()
	if was {
		s.record(history.EventAlertCleared, "", "", 0)
	}
}

func (s *Supervisor) enterAlert() {
	s.stateMu.Lock()
	was := s.alert
	s.alert = true
	if !was {
		s.alertSince = s.now()
	}
	s.stateMu.Unlock()
	if !was {
		s.record(history.EventAlertEntered, "", "", 0)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
