package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeTarget struct {
	sample Sample

	recoverCalls  int
	recoverErr    error
	recoverFixes  bool // a successful recovery makes the next sample healthy
	degradedCalls []bool
}

func (f *fakeTarget) Sample(time.Time) Sample { return f.sample }

func (f *fakeTarget) Recover(context.Context, string) error {
	f.recoverCalls++
	if f.recoverErr != nil {
		return f.recoverErr
	}
	if f.recoverFixes {
		f.sample = healthySample()
	}
	return nil
}

func (f *fakeTarget) ObserveSample(Sample, MonitorState) {}

func (f *fakeTarget) SetDegraded(d bool) { f.degradedCalls = append(f.degradedCalls, d) }

func healthySample() Sample {
	age := 5.0
	return Sample{At: time.Now(), Connected: true, DataAgeSeconds: &age}
}

func staleSample(age float64) Sample {
	return Sample{At: time.Now(), Connected: true, DataAgeSeconds: &age}
}

func newTestMonitor(target Target, cal Calendar) *Monitor {
	return NewMonitor(target, cal, Config{
		Interval:           30 * time.Second,
		StalenessThreshold: 60 * time.Second,
		Debounce:           2,
		AlertRetryInterval: 5 * time.Minute,
	})
}

func TestDebounceSingleBreachDoesNotRecover(t *testing.T) {
	ft := &fakeTarget{sample: staleSample(120)}
	m := newTestMonitor(ft, nil)

	m.tick(context.Background())
	if m.State() != StateSuspect {
		t.Fatalf("state = %s, want suspect after first breach", m.State())
	}
	if ft.recoverCalls != 0 {
		t.Fatalf("recoverCalls = %d, want 0 before debounce", ft.recoverCalls)
	}
	if len(ft.degradedCalls) != 1 || !ft.degradedCalls[0] {
		t.Fatalf("degradedCalls = %v, want [true]", ft.degradedCalls)
	}
}

func TestDebounceSecondBreachTriggersRecovery(t *testing.T) {
	ft := &fakeTarget{sample: staleSample(120), recoverFixes: true}
	m := newTestMonitor(ft, nil)

	m.tick(context.Background()) // breach 1: suspect
	m.tick(context.Background()) // breach 2: recover
	if ft.recoverCalls != 1 {
		t.Fatalf("recoverCalls = %d, want 1", ft.recoverCalls)
	}
	if m.State() != StateRecovering {
		t.Fatalf("state = %s, want recovering", m.State())
	}

	m.tick(context.Background()) // healthy sample after fix
	if m.State() != StateHealthy {
		t.Fatalf("state = %s, want healthy after good sample", m.State())
	}
}

func TestSuspectClearsOnGoodSample(t *testing.T) {
	ft := &fakeTarget{sample: staleSample(120)}
	m := newTestMonitor(ft, nil)

	m.tick(context.Background())
	ft.sample = healthySample()
	m.tick(context.Background())

	if m.State() != StateHealthy {
		t.Fatalf("state = %s, want healthy", m.State())
	}
	if ft.recoverCalls != 0 {
		t.Fatalf("recoverCalls = %d, want 0", ft.recoverCalls)
	}
	if len(ft.degradedCalls) != 2 || ft.degradedCalls[1] {
		t.Fatalf("degradedCalls = %v, want [true false]", ft.degradedCalls)
	}
}

func TestDisconnectedIsAlwaysUnhealthy(t *testing.T) {
	ft := &fakeTarget{sample: Sample{At: time.Now(), Connected: false}}
	m := newTestMonitor(ft, nil)

	m.tick(context.Background())
	if m.State() != StateSuspect {
		t.Fatalf("state = %s, want suspect", m.State())
	}
}

func TestNoDataEverIsHealthy(t *testing.T) {
	ft := &fakeTarget{sample: Sample{At: time.Now(), Connected: true}}
	m := newTestMonitor(ft, nil)

	m.tick(context.Background())
	if m.State() != StateHealthy {
		t.Fatalf("state = %s, want healthy when no data has ever flowed", m.State())
	}
}

type closedCalendar struct{}

func (closedCalendar) Open(time.Time) bool { return false }

func TestStalenessIgnoredWhenMarketClosed(t *testing.T) {
	ft := &fakeTarget{sample: staleSample(3600)}
	m := newTestMonitor(ft, closedCalendar{})

	m.tick(context.Background())
	if m.State() != StateHealthy {
		t.Fatalf("state = %s, want healthy outside trading hours", m.State())
	}
}

func TestExhaustedRecoveryEntersAlert(t *testing.T) {
	ft := &fakeTarget{sample: staleSample(120), recoverErr: errors.New("ladder exhausted")}
	m := newTestMonitor(ft, nil)

	m.tick(context.Background())
	m.tick(context.Background())
	if m.State() != StateAlert {
		t.Fatalf("state = %s, want alert", m.State())
	}
}

func TestAlertRetriesOnSlowCadence(t *testing.T) {
	ft := &fakeTarget{sample: staleSample(120), recoverErr: errors.New("ladder exhausted")}
	m := newTestMonitor(ft, nil)

	base := time.Now()
	clock := base
	m.now = func() time.Time { return clock }

	m.tick(context.Background())
	m.tick(context.Background()) // enters alert, recoverCalls = 1
	if ft.recoverCalls != 1 {
		t.Fatalf("recoverCalls = %d, want 1", ft.recoverCalls)
	}

	// within the retry interval: no new attempt
	clock = base.Add(time.Minute)
	m.tick(context.Background())
	if ft.recoverCalls != 1 {
		t.Fatalf("recoverCalls = %d, want still 1 inside cadence", ft.recoverCalls)
	}

	// past the interval: exactly one more attempt
	clock = base.Add(6 * time.Minute)
	m.tick(context.Background())
	if ft.recoverCalls != 2 {
		t.Fatalf("recoverCalls = %d, want 2 after cadence elapsed", ft.recoverCalls)
	}
	if m.State() != StateAlert {
		t.Fatalf("state = %s, want alert while recovery keeps failing", m.State())
	}
}

func TestAlertClearsOnGoodSample(t *testing.T) {
	ft := &fakeTarget{sample: staleSample(120), recoverErr: errors.New("ladder exhausted")}
	m := newTestMonitor(ft, nil)

	m.tick(context.Background())
	m.tick(context.Background())
	ft.sample = healthySample()
	m.tick(context.Background())

	if m.State() != StateHealthy {
		t.Fatalf("state = %s, want healthy", m.State())
	}
}

func TestRingRetainsRecentSamples(t *testing.T) {
	ft := &fakeTarget{sample: healthySample()}
	m := NewMonitor(ft, nil, Config{Interval: time.Second, StalenessThreshold: 2 * time.Second})

	for range 10 {
		m.tick(context.Background())
	}
	got := m.RecentSamples()
	if len(got) != m.cfg.RingSize {
		t.Fatalf("len(samples) = %d, want ring size %d", len(got), m.cfg.RingSize)
	}
}
