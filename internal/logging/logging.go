// Package logging defines the Logger contract used across the fabric and a
// slog-backed default implementation.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the printf-style logging contract every component depends on.
// Components never nil-check a Logger field; they run it through OrNop first.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)

	// With returns a derived logger tagged with component, e.g. "scheduler".
	With(component string) Logger
}

// slogLogger adapts log/slog to the Logger contract.
type slogLogger struct {
	l *slog.Logger
}

// Config controls the default logger's level and output.
type Config struct {
	Level  string // debug|info|warn|error
	Output io.Writer
	JSON   bool
}

// New builds the default slog-backed Logger.
func New(cfg Config) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var h slog.Handler
	if cfg.JSON {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	return &slogLogger{l: slog.New(h)}
}

func parseLevel(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
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

func (s *slogLogger) Debug(format string, args ...any) { s.l.Debug(fmt.Sprintf(format, args...)) }
func (s *slogLogger) Info(format string, args ...any)  { s.l.Info(fmt.Sprintf(format, args...)) }
func (s *slogLogger) Warn(format string, args ...any)  { s.l.Warn(fmt.Sprintf(format, args...)) }
func (s *slogLogger) Error(format string, args ...any) { s.l.Error(fmt.Sprintf(format, args...)) }

func (s *slogLogger) With(component string) Logger {
	return &slogLogger{l: s.l.With("component", component)}
}

// nopLogger discards everything. Used by OrNop when no logger is supplied.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (n nopLogger) With(string) Logger { return n }

// Nop is a shared no-op Logger instance.
var Nop Logger = nopLogger{}

// IsNil reports whether logger is a nil interface value, or a typed-nil
// pointer hiding behind the interface (a common gotcha when a concrete
// *struct is assigned to a Logger field and then left unconstructed).
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	if sl, ok := logger.(*slogLogger); ok {
		return sl == nil
	}
	return false
}

// OrNop returns logger unchanged unless it is nil (by IsNil's definition), in
// which case it returns Nop so callers can log unconditionally.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop
	}
	return logger
}
