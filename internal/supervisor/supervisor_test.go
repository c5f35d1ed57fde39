package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ibgate/internal/container"
	"ibgate/internal/history"
	"ibgate/internal/runtime"
	"ibgate/internal/session"
)

// fakeClient scripts connect outcomes: the first failuresLeft attempts
// fail, later ones succeed. blockConnect holds a connect mid-flight so
// tests can pile up concurrent callers.
type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	alwaysFail   bool
	failuresLeft int
	connectCalls int
	blockConnect chan struct{}
}

func (f *fakeClient) Connect(ctx context.Context, _ session.Endpoint, _ time.Duration) error {
	f.mu.Lock()
	f.connectCalls++
	block := f.blockConnect
	fail := f.alwaysFail || f.failuresLeft > 0
	if f.failuresLeft > 0 {
		f.failuresLeft--
	}
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return errors.New("connection refused")
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Disconnect() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) LastMessageAt() time.Time { return time.Now() }

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

// fakeRuntime counts restart-relevant engine calls.
type fakeRuntime struct {
	stopCalls  atomic.Int32
	startCalls atomic.Int32
}

func (f *fakeRuntime) EnsureImage(context.Context, string) error { return nil }
func (f *fakeRuntime) Create(context.Context, runtime.Spec) (string, error) {
	return "cid", nil
}
func (f *fakeRuntime) Start(context.Context, string) error {
	f.startCalls.Add(1)
	return nil
}
func (f *fakeRuntime) Stop(context.Context, string, time.Duration) error {
	f.stopCalls.Add(1)
	return nil
}
func (f *fakeRuntime) Remove(context.Context, string) error { return nil }
func (f *fakeRuntime) Inspect(context.Context, string) (runtime.Inspection, error) {
	return runtime.Inspection{ID: "cid", State: runtime.StateRunning}, nil
}
func (f *fakeRuntime) Logs(context.Context, string, int) ([]string, error) { return nil, nil }
func (f *fakeRuntime) Close() error                                        { return nil }

// captureSink records history events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (c *captureSink) Send(_ context.Context, e history.Event) error {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) Close() error { return nil }

func (c *captureSink) count(t history.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func testConfig() Config {
	return Config{
		ConnectTimeout:    time.Second,
		WaitTimeout:       100 * time.Millisecond,
		ReconnectAttempts: 2,
		BackoffBase:       time.Millisecond,
		BackoffCap:        4 * time.Millisecond,
		RestartAttempts:   1,
		RestartProbeWait:  50 * time.Millisecond,
		RestartProbeEvery: time.Millisecond,
	}
}

func newTestSupervisor(fc *fakeClient, cfg Config) (*Supervisor, *fakeRuntime, *captureSink) {
	rt := &fakeRuntime{}
	mgr := container.NewManager(rt, runtime.Spec{Name: "gw", Image: "img"}, time.Second)
	sink := &captureSink{}
	sess := session.New(fc, session.Endpoint{Host: "127.0.0.1", Port: 8888, ClientID: 1})
	sup := New(sess, mgr, history.NewRecorder(sink), cfg)
	sup.sleep = func(context.Context, time.Duration) error { return nil }
	return sup, rt, sink
}

func TestWithSessionConnectsLazily(t *testing.T) {
	fc := &fakeClient{}
	sup, _, _ := newTestSupervisor(fc, testConfig())

	var ran bool
	err := sup.WithSession(context.Background(), "status", func(session.Client) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithSession: %v", err)
	}
	if !ran {
		t.Fatal("op did not run")
	}
	if sup.State() != session.Connected {
		t.Fatalf("state = %s, want connected", sup.State())
	}
}

func TestWithSessionPropagatesOpError(t *testing.T) {
	fc := &fakeClient{}
	sup, _, _ := newTestSupervisor(fc, testConfig())

	cause := errors.New("boom")
	err := sup.WithSession(context.Background(), "x", func(session.Client) error { return cause })
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want %v", err, cause)
	}
}

func TestWithSessionBoundedWaitDuringRecovery(t *testing.T) {
	fc := &fakeClient{connected: true}
	sup, _, _ := newTestSupervisor(fc, testConfig())

	// park an unresolved episode and mark the session recovering
	ep := &episode{reason: "test", startedAt: time.Now(), done: make(chan struct{})}
	sup.epMu.Lock()
	sup.episode = ep
	sup.epMu.Unlock()
	sup.setState(session.Reconnecting)

	start := time.Now()
	err := sup.WithSession(context.Background(), "status", func(session.Client) error { return nil })
	var nr *NotReadyError
	if !errors.As(err, &nr) {
		t.Fatalf("err = %v, want *NotReadyError", err)
	}
	if nr.State != session.Reconnecting {
		t.Fatalf("NotReadyError.State = %s, want reconnecting", nr.State)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("wait took %s, want around the configured bound", elapsed)
	}
}

func TestWithSessionBoundedBeforeEpisodeSetsState(t *testing.T) {
	fc := &fakeClient{}
	sup, _, _ := newTestSupervisor(fc, testConfig())

	// park an episode whose runner holds the exclusive section but has
	// not yet flipped the state off disconnected
	ep := &episode{reason: "test", startedAt: time.Now(), done: make(chan struct{})}
	sup.epMu.Lock()
	sup.episode = ep
	sup.epMu.Unlock()
	sup.opMu.Lock()
	defer func() {
		sup.opMu.Unlock()
		close(ep.done)
	}()

	errs := make(chan error, 1)
	go func() {
		errs <- sup.WithSession(context.Background(), "status", func(session.Client) error { return nil })
	}()

	select {
	case err := <-errs:
		var nr *NotReadyError
		if !errors.As(err, &nr) {
			t.Fatalf("err = %v, want *NotReadyError", err)
		}
		if nr.State != session.Disconnected {
			t.Fatalf("NotReadyError.State = %s, want disconnected", nr.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("caller queued behind the episode instead of honoring the wait bound")
	}
}

func TestWithSessionProceedsOnceEpisodeResolves(t *testing.T) {
	fc := &fakeClient{connected: true}
	sup, _, _ := newTestSupervisor(fc, testConfig())

	ep := &episode{reason: "test", startedAt: time.Now(), done: make(chan struct{})}
	sup.epMu.Lock()
	sup.episode = ep
	sup.epMu.Unlock()
	sup.setState(session.Reconnecting)

	go func() {
		time.Sleep(20 * time.Millisecond)
		sup.setState(session.Connected)
		close(ep.done)
	}()

	err := sup.WithSession(context.Background(), "status", func(session.Client) error { return nil })
	if err != nil {
		t.Fatalf("WithSession after resolution: %v", err)
	}
}

func TestRecoverReconnectSucceeds(t *testing.T) {
	fc := &fakeClient{failuresLeft: 1}
	sup, rt, sink := newTestSupervisor(fc, testConfig())

	if err := sup.Recover(context.Background(), "test"); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if sup.State() != session.Connected {
		t.Fatalf("state = %s, want connected", sup.State())
	}
	if got := rt.stopCalls.Load(); got != 0 {
		t.Fatalf("container stops = %d, want 0 when reconnect succeeds", got)
	}
	if n := sink.count(history.EventRecoverySucceeded); n != 1 {
		t.Fatalf("recovery_succeeded events = %d, want 1", n)
	}
}

func TestRecoverEscalatesToContainerRestart(t *testing.T) {
	cfg := testConfig()
	// both reconnect attempts fail, the post-restart probe succeeds
	fc := &fakeClient{failuresLeft: cfg.ReconnectAttempts}
	sup, rt, sink := newTestSupervisor(fc, cfg)

	if err := sup.Recover(context.Background(), "stale data"); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if sup.State() != session.Connected {
		t.Fatalf("state = %s, want connected", sup.State())
	}
	if got := rt.stopCalls.Load(); got != 1 {
		t.Fatalf("container stops = %d, want exactly 1", got)
	}
	if n := sink.count(history.EventContainerRestarted); n != 1 {
		t.Fatalf("container_restarted events = %d, want 1", n)
	}
}

func TestRecoverExhaustedEntersAlert(t *testing.T) {
	fc := &fakeClient{alwaysFail: true}
	sup, _, sink := newTestSupervisor(fc, testConfig())

	err := sup.Recover(context.Background(), "test")
	if !errors.Is(err, ErrRecoveryExhausted) {
		t.Fatalf("err = %v, want ErrRecoveryExhausted", err)
	}
	if sup.State() != session.Disconnected {
		t.Fatalf("state = %s, want disconnected", sup.State())
	}
	st := sup.Status(context.Background())
	if !st.Alert {
		t.Fatal("alert flag not set after exhausted ladder")
	}
	if n := sink.count(history.EventRecoveryFailed); n != 1 {
		t.Fatalf("recovery_failed events = %d, want 1", n)
	}
}

func TestAlertClearedOnSuccessfulRecovery(t *testing.T) {
	fc := &fakeClient{alwaysFail: true}
	sup, _, sink := newTestSupervisor(fc, testConfig())

	_ = sup.Recover(context.Background(), "first")
	fc.mu.Lock()
	fc.alwaysFail = false
	fc.mu.Unlock()

	if err := sup.Recover(context.Background(), "second"); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	st := sup.Status(context.Background())
	if st.Alert {
		t.Fatal("alert flag still set after successful recovery")
	}
	if n := sink.count(history.EventAlertCleared); n != 1 {
		t.Fatalf("alert_cleared events = %d, want 1", n)
	}
}

func TestConcurrentRecoverRunsOneEpisode(t *testing.T) {
	fc := &fakeClient{blockConnect: make(chan struct{})}
	sup, _, sink := newTestSupervisor(fc, testConfig())

	const callers = 4
	errs := make(chan error, callers)
	for range callers {
		go func() { errs <- sup.Recover(context.Background(), "concurrent") }()
	}

	// wait for the leader to reach Connect, let joiners attach, release
	deadline := time.After(2 * time.Second)
	for fc.calls() == 0 {
		select {
		case <-deadline:
			t.Fatal("no connect attempt observed")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	time.Sleep(50 * time.Millisecond)
	close(fc.blockConnect)

	for range callers {
		if err := <-errs; err != nil {
			t.Fatalf("Recover: %v", err)
		}
	}
	if n := sink.count(history.EventRecoveryStarted); n != 1 {
		t.Fatalf("recovery_started events = %d, want 1 (joined episode)", n)
	}
}

func TestEnsureConnectedRetriesUntilSuccess(t *testing.T) {
	fc := &fakeClient{failuresLeft: 3}
	sup, _, _ := newTestSupervisor(fc, testConfig())

	if err := sup.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}
	if fc.calls() != 4 {
		t.Fatalf("connect calls = %d, want 4", fc.calls())
	}
	if sup.State() != session.Connected {
		t.Fatalf("state = %s, want connected", sup.State())
	}
}

func TestDisconnectForShutdown(t *testing.T) {
	fc := &fakeClient{connected: true}
	sup, rt, _ := newTestSupervisor(fc, testConfig())
	sup.setState(session.Connected)

	sup.Disconnect()
	if fc.IsConnected() {
		t.Fatal("client still connected after Disconnect")
	}
	if sup.State() != session.Disconnected {
		t.Fatalf("state = %s, want disconnected", sup.State())
	}
	// the container is never stopped by session shutdown
	if got := rt.stopCalls.Load(); got != 0 {
		t.Fatalf("container stops = %d, want 0", got)
	}
}
