package supervisor

import (
	"context"
	"time"

	"ibgate/internal/container"
	"ibgate/internal/health"
	"ibgate/internal/session"
)

// EpisodeStatus describes the in-flight recovery episode, if any.
type EpisodeStatus struct {
	Reason    string            `json:"reason"`
	StartedAt time.Time         `json:"started_at"`
	Attempts  []RecoveryAttempt `json:"attempts"`
}

// Status is the read-only snapshot consumed by the API and CLI. It always
// reflects the true current state: it never reports Connected while a
// recovery episode is active.
type Status struct {
	SessionState session.State       `json:"session_state"`
	Endpoint     string              `json:"endpoint"`
	Alert        bool                `json:"alert"`
	AlertSince   *time.Time          `json:"alert_since,omitempty"`
	Monitor      health.MonitorState `json:"monitor_state"`
	LastSample   *health.Sample      `json:"last_sample,omitempty"`
	Container    container.Record    `json:"container"`
	Episode      *EpisodeStatus      `json:"recovery_episode,omitempty"`
}

// Status assembles the observability snapshot.
func (s *Supervisor) Status(ctx context.Context) Status {
	st := Status{
		SessionState: s.State(),
		Endpoint:     s.sess.Endpoint().String(),
		Container:    s.containers.Status(ctx),
	}

	s.stateMu.RLock()
	st.Alert = s.alert
	if s.alert {
		t := s.alertSince
		st.AlertSince = &t
	}
	s.stateMu.RUnlock()

	s.sampleMu.Lock()
	st.Monitor = s.monitorState
	if s.lastSample != nil {
		sample := *s.lastSample
		st.LastSample = &sample
	}
	s.sampleMu.Unlock()

	s.epMu.Lock()
	if ep := s.episode; ep != nil {
		st.Episode = &EpisodeStatus{
			Reason:    ep.reason,
			StartedAt: ep.startedAt,
			Attempts:  ep.snapshot(),
		}
	}
	s.epMu.Unlock()
	return st
}

// Sample implements health.Target.
func (s *Supervisor) Sample(now time.Time) health.Sample {
	hs := health.Sample{At: now, Connected: s.sess.IsConnected()}
	if age, ok := s.sess.DataAge(now); ok {
		secs := age.Seconds()
		hs.DataAgeSeconds = &secs
	}
	return hs
}

// ObserveSample implements health.Target.
func (s *Supervisor) ObserveSample(sample health.Sample, state health.MonitorState) {
	s.sampleMu.Lock()
	s.lastSample = &sample
	s.monitorState = state
	s.sampleMu.Unlock()
}

// SetDegraded implements health.Target. Degraded is only ever layered on
// top of Connected; recovery owns every other transition.
func (s *Supervisor) SetDegraded(degraded bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	switch {
	case degraded && s.state == session.Connected:
		s.state = session.Degraded
	case !degraded && s.state == session.Degraded:
		s.state = session.Connected
	}
}
