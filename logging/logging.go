// Package logging provides the leveled, named logger handed to every part of the acquisition
// core. Loggers write through zap cores; subloggers share those cores but keep their own level.
package logging

import (
	"os"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// Logger is the logging interface handed to every component.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// Sublogger returns a child logger named "<parent>.<subname>" starting at the parent's level.
	Sublogger(subname string) Logger
	SetLevel(level Level)
	Level() Level
	Sync() error
}

// NewLogger returns a logger writing Info and above to stdout with UTC timestamps.
func NewLogger(name string) Logger {
	return newZapLogger(name, INFO, consoleCore(zapcore.Lock(os.Stdout), true))
}

// NewDebugLogger is NewLogger starting at Debug.
func NewDebugLogger(name string) Logger {
	return newZapLogger(name, DEBUG, consoleCore(zapcore.Lock(os.Stdout), true))
}

// NewBlankLogger returns a logger that discards everything.
func NewBlankLogger(name string) Logger {
	return newZapLogger(name, DEBUG)
}

// NewTestLogger returns a Debug logger writing to the test's log in local time.
func NewTestLogger(tb testing.TB) Logger {
	logger, _ := NewObservedTestLogger(tb)
	return logger
}

// NewObservedTestLogger is NewTestLogger that also records every entry for assertions.
func NewObservedTestLogger(tb testing.TB) (Logger, *observer.ObservedLogs) {
	observed, logs := observer.New(zapcore.DebugLevel)
	return newZapLogger("", DEBUG, consoleCore(testWriter{tb}, false), observed), logs
}
