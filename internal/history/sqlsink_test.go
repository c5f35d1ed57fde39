package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLSinkRoundTrip(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "history.db")
	s, err := NewSQLSinkFromDSN(dsn)
	if err != nil {
		t.Fatalf("NewSQLSinkFromDSN: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	events := []Event{
		{ID: "a", Type: EventSessionConnected, OccurredAt: base},
		{ID: "b", Type: EventRecoveryStarted, OccurredAt: base.Add(time.Minute), Detail: "stale data"},
		{ID: "c", Type: EventRecoveryAttempt, OccurredAt: base.Add(2 * time.Minute), Kind: "reconnect", Attempt: 1},
	}
	for _, e := range events {
		if err := s.Send(ctx, e); err != nil {
			t.Fatalf("Send(%s): %v", e.ID, err)
		}
	}

	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(got))
	}
	// newest first
	if got[0].ID != "c" || got[2].ID != "a" {
		t.Fatalf("order = [%s %s %s], want [c b a]", got[0].ID, got[1].ID, got[2].ID)
	}
	if got[0].Kind != "reconnect" || got[0].Attempt != 1 {
		t.Fatalf("attempt fields not preserved: %+v", got[0])
	}
}

func TestSQLSinkRecentLimit(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "history.db")
	s, err := NewSQLSinkFromDSN(dsn)
	if err != nil {
		t.Fatalf("NewSQLSinkFromDSN: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	base := time.Now().UTC()
	for i := range 5 {
		e := Event{ID: string(rune('a' + i)), Type: EventSessionConnected, OccurredAt: base.Add(time.Duration(i) * time.Second)}
		if err := s.Send(ctx, e); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
}

func TestSQLSinkRejectsEmptyDSN(t *testing.T) {
	if _, err := NewSQLSinkFromDSN("  "); err == nil {
		t.Fatal("empty DSN must be rejected")
	}
}
