package auditlog

import (
	"context"
	"log/slog"
)

// LevelError is the only level dispatched to the host sink.
const LevelError = "error"

// Entry is one structured log call to the host.
type Entry struct {
	Service string `json:"service"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// HostSink is the host's structured logging service.
type HostSink interface {
	Log(ctx context.Context, e Entry) error
}

// HostSinkFunc adapts a function to HostSink.
type HostSinkFunc func(ctx context.Context, e Entry) error

// Log implements HostSink.
func (f HostSinkFunc) Log(ctx context.Context, e Entry) error {
	return f(ctx, e)
}

// SlogSink forwards entries to a slog.Logger. A nil Logger uses slog.Default.
type SlogSink struct {
	Logger *slog.Logger
}

// Log implements HostSink.
func (s SlogSink) Log(ctx context.Context, e Entry) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Log(ctx, slogLevel(e.Level), e.Message, "service", e.Service)
	return nil
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
