package logging

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const timeFormat = "2006-01-02T15:04:05.000Z0700"

type zapLogger struct {
	*zap.SugaredLogger
	name  string
	level zap.AtomicLevel
	cores []zapcore.Core
}

func newZapLogger(name string, level Level, cores ...zapcore.Core) *zapLogger {
	atom := zap.NewAtomicLevelAt(level)
	core := leveledCore{Core: zapcore.NewTee(cores...), level: atom}
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Named(name)
	return &zapLogger{SugaredLogger: base.Sugar(), name: name, level: atom, cores: cores}
}

func (l *zapLogger) Sublogger(subname string) Logger {
	name := subname
	if l.name != "" {
		name = l.name + "." + subname
	}
	return newZapLogger(name, l.level.Level(), l.cores...)
}

func (l *zapLogger) SetLevel(level Level) {
	l.level.SetLevel(level)
}

func (l *zapLogger) Level() Level {
	return l.level.Level()
}

// The embedded sugar methods are wrapped so the caller skip is the same for every call site.

func (l *zapLogger) Debug(args ...interface{}) { l.SugaredLogger.Debug(args...) }

func (l *zapLogger) Debugf(template string, args ...interface{}) {
	l.SugaredLogger.Debugf(template, args...)
}

func (l *zapLogger) Debugw(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Debugw(msg, keysAndValues...)
}

func (l *zapLogger) Info(args ...interface{}) { l.SugaredLogger.Info(args...) }

func (l *zapLogger) Infof(template string, args ...interface{}) {
	l.SugaredLogger.Infof(template, args...)
}

func (l *zapLogger) Infow(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Infow(msg, keysAndValues...)
}

func (l *zapLogger) Warn(args ...interface{}) { l.SugaredLogger.Warn(args...) }

func (l *zapLogger) Warnf(template string, args ...interface{}) {
	l.SugaredLogger.Warnf(template, args...)
}

func (l *zapLogger) Warnw(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Warnw(msg, keysAndValues...)
}

func (l *zapLogger) Error(args ...interface{}) { l.SugaredLogger.Error(args...) }

func (l *zapLogger) Errorf(template string, args ...interface{}) {
	l.SugaredLogger.Errorf(template, args...)
}

func (l *zapLogger) Errorw(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, keysAndValues...)
}

// leveledCore gates a shared core with the owning logger's level, so SetLevel on a sublogger
// does not affect its parent.
type leveledCore struct {
	zapcore.Core
	level zap.AtomicLevel
}

func (c leveledCore) Enabled(level zapcore.Level) bool {
	return c.level.Enabled(level) && c.Core.Enabled(level)
}

func (c leveledCore) With(fields []zapcore.Field) zapcore.Core {
	return leveledCore{Core: c.Core.With(fields), level: c.level}
}

func (c leveledCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.level.Enabled(entry.Level) {
		return checked
	}
	return c.Core.Check(entry, checked)
}

// consoleCore writes tab separated lines: time, level, logger name, caller, message and the
// fields as JSON. The core itself passes everything; levels are applied by leveledCore.
func consoleCore(out zapcore.WriteSyncer, utc bool) zapcore.Core {
	encodeTime := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		if utc {
			t = t.UTC()
		}
		enc.AppendString(t.Format(timeFormat))
	}
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "ts",
		LevelKey:         "level",
		NameKey:          "logger",
		CallerKey:        "caller",
		MessageKey:       "msg",
		StacktraceKey:    zapcore.OmitKey,
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       encodeTime,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		ConsoleSeparator: "\t",
	})
	return zapcore.NewCore(enc, out, zapcore.DebugLevel)
}

// testWriter sends each encoded line to the test log so it is attributed to the running test.
type testWriter struct {
	tb testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.tb.Helper()
	w.tb.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func (testWriter) Sync() error {
	return nil
}
