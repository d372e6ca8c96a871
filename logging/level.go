package logging

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
)

// Level is a log level. Only the four below are used.
type Level = zapcore.Level

// The supported levels.
const (
	DEBUG = zapcore.DebugLevel
	INFO  = zapcore.InfoLevel
	WARN  = zapcore.WarnLevel
	ERROR = zapcore.ErrorLevel
)

// LevelFromString parses debug, info, warn (or warning) and error in any case.
func LevelFromString(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "warning" {
		name = "warn"
	}
	var level Level
	if err := level.UnmarshalText([]byte(name)); err != nil || level > ERROR {
		return INFO, errors.Errorf("unknown log level: %q", s)
	}
	return level, nil
}
