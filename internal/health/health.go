// Package health judges whether the live gateway session is actually
// useful, not merely connected, and drives recovery when it is not.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ibgate/internal/metrics"
)

// MonitorState is the health state machine.
type MonitorState string

const (
	StateHealthy    MonitorState = "healthy"
	StateSuspect    MonitorState = "suspect"
	StateRecovering MonitorState = "recovering"
	StateAlert      MonitorState = "alert"
)

// Sample is one observation of session liveness and data freshness.
// DataAgeSeconds is nil when no data has ever been observed this session.
type Sample struct {
	At             time.Time `json:"at"`
	Connected      bool      `json:"connected"`
	DataAgeSeconds *float64  `json:"last_data_age_seconds"`
}

// Target is what the monitor needs from the connection supervisor. The
// monitor never touches the session directly: Recover goes through the
// same mutual-exclusion point manual reconnects use.
type Target interface {
	// Sample reports current connectivity and data age.
	Sample(now time.Time) Sample
	// Recover starts (or joins) a recovery episode and blocks until it
	// resolves. A non-nil error means the escalation ladder is exhausted.
	Recover(ctx context.Context, reason string) error
	// ObserveSample publishes the sample and monitor state to the status
	// surface.
	ObserveSample(s Sample, state MonitorState)
	// SetDegraded marks the session degraded while the condition persists
	// but before recovery starts.
	SetDegraded(degraded bool)
}

// Calendar tells the monitor when data silence is legitimate. Outside
// open hours a connected-but-silent session is not treated as stale.
type Calendar interface {
	Open(t time.Time) bool
}

// AlwaysOpen treats every instant as trading hours.
type AlwaysOpen struct{}

func (AlwaysOpen) Open(time.Time) bool { return true }

// Config controls sampling and the escalation cadence.
type Config struct {
	Interval           time.Duration // between samples, default 30s
	StalenessThreshold time.Duration // data age considered stale, default 60s
	Debounce           int           // consecutive breaches before recovery, default 2
	AlertRetryInterval time.Duration // slow retry cadence in Alert, default 5m
	RingSize           int           // retained samples, default covers the staleness window
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.StalenessThreshold <= 0 {
		c.StalenessThreshold = 60 * time.Second
	}
	if c.Debounce <= 0 {
		c.Debounce = 2
	}
	if c.AlertRetryInterval <= 0 {
		c.AlertRetryInterval = 5 * time.Minute
	}
	if c.RingSize <= 0 {
		n := int(c.StalenessThreshold/c.Interval) + 2
		if n < 4 {
			n = 4
		}
		c.RingSize = n
	}
	return c
}

// Monitor runs the periodic liveness loop. Samples are strictly ordered:
// one goroutine, one ticker, and recovery runs inline so a new sample can
// never overlap an in-flight episode started by this monitor.
type Monitor struct {
	target Target
	cal    Calendar
	cfg    Config

	mu             sync.Mutex
	state          MonitorState
	ring           []Sample
	breaches       int
	lastAlertRetry time.Time

	now  func() time.Time
	done chan struct{}
}

func NewMonitor(target Target, cal Calendar, cfg Config) *Monitor {
	if cal == nil {
		cal = AlwaysOpen{}
	}
	cfg = cfg.withDefaults()
	return &Monitor{
		target: target,
		cal:    cal,
		cfg:    cfg,
		state:  StateHealthy,
		ring:   make([]Sample, 0, cfg.RingSize),
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// Run executes the sampling loop until ctx is canceled. Shutdown must
// cancel this loop before releasing the session.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.done)
	t := time.NewTicker(m.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.tick(ctx)
		}
	}
}

// Done is closed when the loop has exited.
func (m *Monitor) Done() <-chan struct{} { return m.done }

// State returns the current monitor state.
func (m *Monitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RecentSamples returns the retained sample ring, oldest first.
func (m *Monitor) RecentSamples() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.ring))
	copy(out, m.ring)
	return out
}

func (m *Monitor) tick(ctx context.Context) {
	now := m.now()
	s := m.target.Sample(now)
	unhealthy := m.classify(s, now)

	m.mu.Lock()
	m.push(s)
	state := m.state
	m.mu.Unlock()

	switch state {
	case StateHealthy:
		if unhealthy {
			m.transition(StateSuspect)
			m.setBreaches(1)
			m.target.SetDegraded(true)
		}
	case StateSuspect:
		if !unhealthy {
			m.transition(StateHealthy)
			m.setBreaches(0)
			m.target.SetDegraded(false)
			break
		}
		n := m.incBreaches()
		if n >= m.cfg.Debounce {
			m.transition(StateRecovering)
			m.recover(ctx, "staleness debounce exceeded")
		}
	case StateRecovering:
		if !unhealthy {
			m.transition(StateHealthy)
			m.setBreaches(0)
			m.target.SetDegraded(false)
		} else {
			m.recover(ctx, "still unhealthy after recovery")
		}
	case StateAlert:
		if !unhealthy {
			m.transition(StateHealthy)
			m.setBreaches(0)
			m.target.SetDegraded(false)
			break
		}
		m.mu.Lock()
		due := now.Sub(m.lastAlertRetry) >= m.cfg.AlertRetryInterval
		if due {
			m.lastAlertRetry = now
		}
		m.mu.Unlock()
		if due {
			slog.Info("alert-state recovery retry")
			m.recover(ctx, "alert cadence retry")
		}
	}

	m.target.ObserveSample(s, m.State())
	if s.DataAgeSeconds != nil {
		metrics.SetDataAge(*s.DataAgeSeconds)
	}
}

// classify decides whether the sample breaches health. A connected but
// silent session outside trading hours is legitimate silence, not
// staleness.
func (m *Monitor) classify(s Sample, now time.Time) bool {
	if !s.Connected {
		return true
	}
	if s.DataAgeSeconds == nil {
		return false
	}
	if time.Duration(*s.DataAgeSeconds*float64(time.Second)) <= m.cfg.StalenessThreshold {
		return false
	}
	return m.cal.Open(now)
}

func (m *Monitor) recover(ctx context.Context, reason string) {
	if err := m.target.Recover(ctx, reason); err != nil {
		slog.Error("recovery ladder exhausted", "reason", reason, "error", err)
		m.mu.Lock()
		m.lastAlertRetry = m.now()
		m.mu.Unlock()
		m.transition(StateAlert)
	}
}

func (m *Monitor) transition(to MonitorState) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()
	if from == to {
		return
	}
	slog.Info("health state changed", "from", from, "to", to)
	for _, st := range []MonitorState{StateHealthy, StateSuspect, StateRecovering, StateAlert} {
		metrics.SetMonitorState(string(st), st == to)
	}
}

func (m *Monitor) push(s Sample) {
	if len(m.ring) == m.cfg.RingSize {
		copy(m.ring, m.ring[1:])
		m.ring = m.ring[:len(m.ring)-1]
	}
	m.ring = append(m.ring, s)
}

func (m *Monitor) setBreaches(n int) {
	m.mu.Lock()
	m.breaches = n
	m.mu.Unlock()
}

func (m *Monitor) incBreaches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breaches++
	return m.breaches
}
