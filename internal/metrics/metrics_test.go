package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndHelpersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncReconnect("ok")
	IncReconnect("error")
	IncContainerRestart()
	IncRecoveryEpisode("recovered")
	SetSessionState("connected", true)
	SetDataAge(1.5)
	SetMonitorState("healthy", true)
	ObserveConnectDuration(0.25)
	IncRequest("positions", "ok")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"ibgate_session_reconnects_total":         false,
		"ibgate_container_restarts_total":         false,
		"ibgate_session_recovery_episodes_total":  false,
		"ibgate_session_state":                    false,
		"ibgate_session_data_age_seconds":         false,
		"ibgate_health_monitor_state":             false,
		"ibgate_session_connect_duration_seconds": false,
		"ibgate_gateway_requests_total":           false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestHandlerServes(t *testing.T) {
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, err := io.ReadAll(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
}
