// Package logger configures the process-wide slog logger: colored text on
// stderr for interactive use, rotated files when a log directory is set.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults, lumberjack semantics.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Config describes logging destinations.
type Config struct {
	Level      string `mapstructure:"level"`        // debug, info, warn, error
	Dir        string `mapstructure:"dir"`          // when set, also log to Dir/ibgate.log
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // megabytes before rotation
	MaxBackups int    `mapstructure:"max_backups"`  // rotated files to keep
	MaxAgeDays int    `mapstructure:"max_age_days"` // days to keep
	Compress   bool   `mapstructure:"compress"`     // gzip rotated files
}

// Setup builds the logger from config and installs it as the slog
// default. The returned closer flushes the file writer, if any.
func Setup(c Config) (*slog.Logger, func() error) {
	level := parseLevel(c.Level)
	opts := &slog.HandlerOptions{Level: level}

	handlers := []slog.Handler{newColorHandler(os.Stderr, opts)}
	closer := func() error { return nil }
	if c.Dir != "" {
		w := &lj.Logger{
			Filename:   filepath.Join(c.Dir, "ibgate.log"),
			MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.Compress,
		}
		handlers = append(handlers, slog.NewJSONHandler(w, opts))
		closer = w.Close
	}

	l := slog.New(multiHandler(handlers))
	slog.SetDefault(l)
	return l, closer
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// colorHandler wraps slog.TextHandler to color the level prefix.
type colorHandler struct {
	*slog.TextHandler
}

func newColorHandler(w io.Writer, opts *slog.HandlerOptions) *colorHandler {
	return &colorHandler{TextHandler: slog.NewTextHandler(w, opts)}
}

func (h *colorHandler) Handle(ctx context.Context, r slog.Record) error {
	var color string
	switch r.Level {
	case slog.LevelDebug:
		color = "\033[36m"
	case slog.LevelInfo:
		color = "\033[32m"
	case slog.LevelWarn:
		color = "\033[33m"
	case slog.LevelError:
		color = "\033[31m"
	default:
		color = "\033[0m"
	}
	r.Message = color + r.Level.String() + "\033[0m  " + r.Message
	return h.TextHandler.Handle(ctx, r)
}

// multiHandler fans records out to every handler.
type multiHandler []slog.Handler

func (m multiHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range m {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (m multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range m {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithGroup(name)
	}
	return out
}
