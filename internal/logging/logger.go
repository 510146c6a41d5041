package logging

import "log/slog"

// Logger is the observability collaborator accepted by the transport and batch
// layers. Implementations must not change request behavior.
type Logger interface {
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)
}

// Default returns a Logger that writes through the package-level handler.
func Default() Logger {
	return globalLogger{}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

type globalLogger struct{}

func (globalLogger) Debug(msg string, fields Fields) {
	emit(3, slog.LevelDebug, msg, fieldAttrs(fields))
}
func (globalLogger) Info(msg string, fields Fields) { emit(3, slog.LevelInfo, msg, fieldAttrs(fields)) }
func (globalLogger) Warn(msg string, fields Fields) { emit(3, slog.LevelWarn, msg, fieldAttrs(fields)) }
func (globalLogger) Error(msg string, fields Fields) {
	emit(3, slog.LevelError, msg, fieldAttrs(fields))
}

type nopLogger struct{}

func (nopLogger) Debug(string, Fields) {}
func (nopLogger) Info(string, Fields)  {}
func (nopLogger) Warn(string, Fields)  {}
func (nopLogger) Error(string, Fields) {}

func fieldAttrs(fields Fields) []slog.Attr {
	if len(fields) == 0 {
		return nil
	}
	attrs := make([]slog.Attr, 0, len(fields))
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}
