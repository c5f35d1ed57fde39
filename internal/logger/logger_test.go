package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupWritesFile(t *testing.T) {
	dir := t.TempDir()
	l, closer := Setup(Config{Level: "debug", Dir: dir})
	l.Info("hello", "k", "v")
	if err := closer(); err != nil {
		t.Fatalf("closer: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "ibgate.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Fatalf("log file missing record: %s", data)
	}
}

func TestSetupLevelFilter(t *testing.T) {
	dir := t.TempDir()
	l, closer := Setup(Config{Level: "warn", Dir: dir})
	l.Info("quiet")
	l.Warn("loud")
	_ = closer()

	data, err := os.ReadFile(filepath.Join(dir, "ibgate.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(data), "quiet") {
		t.Fatal("info record should be filtered at warn level")
	}
	if !strings.Contains(string(data), "loud") {
		t.Fatal("warn record missing")
	}
}

func TestMultiHandlerEnabled(t *testing.T) {
	debugH := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	errH := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})
	m := multiHandler{errH, debugH}
	if !m.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("multiHandler should be enabled when any handler is")
	}
	m = multiHandler{errH}
	if m.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("multiHandler should be disabled when no handler is")
	}
}
