package logging

import (
	"maps"
	"slices"

	"github.com/ThreeDotsLabs/watermill"
)

// wmLogger serves ServiceLogger from a Watermill adapter.
type wmLogger struct {
	inner watermill.LoggerAdapter
}

func (w wmLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return w
	}
	return wmLogger{inner: w.inner.With(watermill.LogFields(fields))}
}

func (w wmLogger) Debug(msg string, fields LogFields) { w.inner.Debug(msg, wmFields(fields)) }
func (w wmLogger) Info(msg string, fields LogFields)  { w.inner.Info(msg, wmFields(fields)) }
func (w wmLogger) Trace(msg string, fields LogFields) { w.inner.Trace(msg, wmFields(fields)) }

func (w wmLogger) Error(msg string, err error, fields LogFields) {
	w.inner.Error(msg, err, wmFields(fields))
}

func wmFields(fields LogFields) watermill.LogFields {
	if len(fields) == 0 {
		return nil
	}
	return watermill.LogFields(fields)
}

// adapter serves watermill.LoggerAdapter from any ServiceLogger.
type adapter struct {
	log ServiceLogger
}

func (a adapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return adapter{log: a.log.With(LogFields(fields))}
}

func (a adapter) Debug(msg string, fields watermill.LogFields) { a.log.Debug(msg, LogFields(fields)) }
func (a adapter) Info(msg string, fields watermill.LogFields)  { a.log.Info(msg, LogFields(fields)) }
func (a adapter) Trace(msg string, fields watermill.LogFields) { a.log.Trace(msg, LogFields(fields)) }

func (a adapter) Error(msg string, err error, fields watermill.LogFields) {
	a.log.Error(msg, err, LogFields(fields))
}

// EntryLoggerAdapter is the method set of logrus.Entry-like loggers. The
// type parameter is the entry's own type, returned by its With* methods.
type EntryLoggerAdapter[T any] interface {
	Error(args ...any)
	Info(args ...any)
	Debug(args ...any)
	Trace(args ...any)
	WithError(err error) T
	WithField(key string, value any) T
}

// EntryLogger is EntryLoggerAdapter closed over itself, for entries whose
// With* methods return an interface.
type EntryLogger interface {
	EntryLoggerAdapter[EntryLogger]
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	if any(entry) == nil {
		panic("p4flow: entry logger cannot be nil")
	}
	return entryLogger[T]{entry: entry}
}

type entryLogger[T EntryLoggerAdapter[T]] struct {
	entry T
}

// with applies fields in key order so entry loggers that keep insertion
// order print stable lines.
func (e entryLogger[T]) with(fields LogFields) T {
	out := e.entry
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		out = out.WithField(k, fields[k])
	}
	return out
}

func (e entryLogger[T]) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return e
	}
	return entryLogger[T]{entry: e.with(fields)}
}

func (e entryLogger[T]) Debug(msg string, fields LogFields) { e.with(fields).Debug(msg) }
func (e entryLogger[T]) Info(msg string, fields LogFields)  { e.with(fields).Info(msg) }
func (e entryLogger[T]) Trace(msg string, fields LogFields) { e.with(fields).Trace(msg) }

func (e entryLogger[T]) Error(msg string, err error, fields LogFields) {
	entry := e.with(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}
