// Package logging is the logger contract shared by the stream router, the
// forwarders and the sinks, plus adapters for slog, Watermill and
// entry-style loggers.
package logging

import (
	"log/slog"
	"maps"

	"github.com/ThreeDotsLabs/watermill"
)

// LevelHintKey is the field Warn attaches to its log lines.
const LevelHintKey = "level_hint"

// LogFields holds structured key/value pairs attached to a log line.
type LogFields map[string]any

// Merge returns a new LogFields holding f overlaid with other.
func (f LogFields) Merge(other LogFields) LogFields {
	out := make(LogFields, len(f)+len(other))
	maps.Copy(out, f)
	maps.Copy(out, other)
	return out
}

// ServiceLogger has the same shape as watermill.LoggerAdapter with p4flow's
// field type, so one logger serves the router and the sinks.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// Warn logs at Info with level_hint=warn. ServiceLogger has no warn level.
func Warn(log ServiceLogger, msg string, fields LogFields) {
	if log == nil {
		return
	}
	log.Info(msg, fields.Merge(LogFields{LevelHintKey: "warn"}))
}

// Nop returns a ServiceLogger that discards everything.
func Nop() ServiceLogger {
	return wmLogger{inner: watermill.NopLogger{}}
}

// OrNop returns log, or Nop when log is nil.
func OrNop(log ServiceLogger) ServiceLogger {
	if log == nil {
		return Nop()
	}
	return log
}

// slogLevels keeps Watermill's trace level below debug so per-message router
// traces stay out of debug output.
var slogLevels = map[slog.Level]slog.Level{
	slog.LevelDebug: slog.LevelDebug,
	slog.LevelInfo:  slog.LevelInfo,
	slog.LevelWarn:  slog.LevelWarn,
	slog.LevelError: slog.LevelError,
}

func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("p4flow: slog logger cannot be nil")
	}
	return wmLogger{inner: watermill.NewSlogLoggerWithLevelMapping(log, slogLevels)}
}

func NewWatermillServiceLogger(logger watermill.LoggerAdapter) ServiceLogger {
	if logger == nil {
		panic("p4flow: watermill logger cannot be nil")
	}
	return wmLogger{inner: logger}
}

// NewWatermillAdapter exposes log as a watermill.LoggerAdapter for the
// router and sink constructors.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic("p4flow: ServiceLogger cannot be nil")
	}
	if w, ok := log.(wmLogger); ok {
		return w.inner
	}
	return adapter{log: log}
}
