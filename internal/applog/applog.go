// Package applog provides the storage core's structured logger. It keeps
// this codebase's existing debuglog shape — a bounded channel drained by
// one goroutine so logging calls on network/ingress paths never block —
// but backs it with zap for structured fields instead of raw stderr
// writes.
package applog

import (
	"sync"

	"go.uber.org/zap"
)

const queueSize = 2048

type entry struct {
	level  logLevel
	msg    string
	fields []zap.Field
}

// logLevel avoids importing zapcore just for the Level type; a plain int
// keeps this file's import list minimal.
type logLevel int8

const (
	levelDebug logLevel = iota
	levelWarn
	levelError
)

// Logger is a non-blocking wrapper around a *zap.Logger.
type Logger struct {
	base *zap.Logger
	once sync.Once
	ch   chan entry
}

var global *Logger
var globalOnce sync.Once

// New builds a Logger around base. Passing nil uses zap.NewNop(), which
// is useful for tests that don't want log output.
func New(base *zap.Logger) *Logger {
	if base == nil {
		base = zap.NewNop()
	}
	l := &Logger{base: base}
	l.start()
	return l
}

// Global returns a process-wide production logger, building one on first
// use.
func Global() *Logger {
	globalOnce.Do(func() {
		z, err := zap.NewProduction()
		if err != nil {
			z = zap.NewNop()
		}
		global = New(z)
	})
	return global
}

func (l *Logger) start() {
	l.once.Do(func() {
		l.ch = make(chan entry, queueSize)
		go func() {
			for e := range l.ch {
				switch e.level {
				case levelWarn:
					l.base.Warn(e.msg, e.fields...)
				case levelError:
					l.base.Error(e.msg, e.fields...)
				default:
					l.base.Debug(e.msg, e.fields...)
				}
			}
		}()
	})
}

func (l *Logger) enqueue(level logLevel, msg string, fields ...zap.Field) {
	select {
	case l.ch <- entry{level: level, msg: msg, fields: fields}:
	default:
		// Drop when saturated to keep ingress goroutines non-blocking.
	}
}

// Debug logs a debug-level event. Silent-drop rejections (bad signature,
// sequence regression, add-once revocation, expired-on-arrival, filter
// rejection) log no higher than debug.
func (l *Logger) Debug(msg string, fields ...zap.Field) { l.enqueue(levelDebug, msg, fields...) }

// Warn logs a warn-level event, reserved for hash-size mismatches and
// date-tolerance failures during append-only ingest.
func (l *Logger) Warn(msg string, fields ...zap.Field) { l.enqueue(levelWarn, msg, fields...) }

// Error logs an error-level event, for ambient failures (persistence I/O,
// key load) outside the ingress rejection paths.
func (l *Logger) Error(msg string, fields ...zap.Field) { l.enqueue(levelError, msg, fields...) }

// Sync flushes the underlying zap core. Tests that assert on captured
// output should call this before inspecting it.
func (l *Logger) Sync() error { return l.base.Sync() }
