package logging

import (
	"log/slog"
	"os"
)

// Logger is a thin wrapper over slog that writes structured records to stdout.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger at the given level ("debug", "info", "warn",
// "error"); unknown values fall back to info.
func NewLogger(level string) *Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return &Logger{Logger: slog.New(handler)}
}

// With returns a Logger that carries the given attributes on every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}
