package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ibgate",
			Subsystem: "session",
			Name:      "reconnects_total",
			Help:      "Number of reconnect attempts by outcome.",
		}, []string{"outcome"},
	)
	containerRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ibgate",
			Subsystem: "container",
			Name:      "restarts_total",
			Help:      "Number of gateway container restarts driven by recovery.",
		},
	)
	recoveryEpisodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ibgate",
			Subsystem: "session",
			Name:      "recovery_episodes_total",
			Help:      "Number of completed recovery episodes by outcome.",
		}, []string{"outcome"},
	)
	sessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ibgate",
			Subsystem: "session",
			Name:      "state",
			Help:      "Current session state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	dataAge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ibgate",
			Subsystem: "session",
			Name:      "data_age_seconds",
			Help:      "Seconds since the session last produced data.",
		},
	)
	monitorState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ibgate",
			Subsystem: "health",
			Name:      "monitor_state",
			Help:      "Current health monitor state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	connectDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ibgate",
			Subsystem: "session",
			Name:      "connect_duration_seconds",
			Help:      "Observed duration of successful connects.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ibgate",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Number of gateway operations executed through the supervisor.",
		}, []string{"op", "outcome"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		reconnects, containerRestarts, recoveryEpisodes,
		sessionState, dataAge, monitorState, connectDuration, requests,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncReconnect(outcome string) {
	if regOK.Load() {
		reconnects.WithLabelValues(outcome).Inc()
	}
}

func IncContainerRestart() {
	if regOK.Load() {
		containerRestarts.Inc()
	}
}

func IncRecoveryEpisode(outcome string) {
	if regOK.Load() {
		recoveryEpisodes.WithLabelValues(outcome).Inc()
	}
}

func SetSessionState(state string, active bool) {
	if regOK.Load() {
		v := 0.0
		if active {
			v = 1
		}
		sessionState.WithLabelValues(state).Set(v)
	}
}

func SetDataAge(seconds float64) {
	if regOK.Load() {
		dataAge.Set(seconds)
	}
}

func SetMonitorState(state string, active bool) {
	if regOK.Load() {
		v := 0.0
		if active {
			v = 1
		}
		monitorState.WithLabelValues(state).Set(v)
	}
}

func ObserveConnectDuration(seconds float64) {
	if regOK.Load() {
		connectDuration.Observe(seconds)
	}
}

func IncRequest(op, outcome string) {
	if regOK.Load() {
		requests.WithLabelValues(op, outcome).Inc()
	}
}
