package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

func TestObservedLevels(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.SetLevel(WARN)
	test.That(t, logger.Level(), test.ShouldEqual, WARN)

	logger.Debug("dropped")
	logger.Infow("dropped", "sensor", "SCALE")
	logger.Warnw("kept", "sensor", "SCALE", "attempt", 2)
	logger.Errorf("kept %d", 2)

	entries := logs.All()
	test.That(t, entries, test.ShouldHaveLength, 2)
	test.That(t, entries[0].Level, test.ShouldEqual, zapcore.WarnLevel)
	test.That(t, entries[0].ContextMap()["sensor"], test.ShouldEqual, "SCALE")
	test.That(t, entries[0].ContextMap()["attempt"], test.ShouldEqual, int64(2))
	test.That(t, entries[0].Caller.Defined, test.ShouldBeTrue)
	test.That(t, entries[0].Caller.File, test.ShouldEndWith, "logger_test.go")
	test.That(t, entries[1].Message, test.ShouldEqual, "kept 2")
}

func TestSubloggerLevels(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	sub := logger.Sublogger("aim").Sublogger("hx711")
	sub.Info("hello")

	entries := logs.FilterMessage("hello").All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "aim.hx711")

	// a quiet sublogger leaves its parent alone
	sub.SetLevel(ERROR)
	sub.Warn("from child")
	logger.Warn("from parent")
	test.That(t, logs.FilterMessage("from child").Len(), test.ShouldEqual, 0)
	test.That(t, logs.FilterMessage("from parent").Len(), test.ShouldEqual, 1)

	// and a sublogger starts at its parent's level
	logger.SetLevel(WARN)
	logger.Sublogger("dht").Info("hidden")
	test.That(t, logs.FilterMessage("hidden").Len(), test.ShouldEqual, 0)
}

func TestUnpairedKey(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Infow("odd", "lonely")

	test.That(t, logs.FilterMessage("odd").Len(), test.ShouldEqual, 1)
	ignored := logs.FilterMessageSnippet("without a value").All()
	test.That(t, ignored, test.ShouldHaveLength, 1)
	test.That(t, ignored[0].ContextMap()["ignored"], test.ShouldEqual, "lonely")
}

func TestBlankLogger(t *testing.T) {
	logger := NewBlankLogger("sensor")
	logger.Errorw("nowhere", "sensor", "SCALE")
	test.That(t, logger.Sync(), test.ShouldBeNil)
	test.That(t, logger.Sublogger("child").Level(), test.ShouldEqual, DEBUG)
}

func TestLevelFromString(t *testing.T) {
	for _, tc := range []struct {
		in       string
		expected Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warning", WARN},
		{" error ", ERROR},
	} {
		level, err := LevelFromString(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.expected)
	}

	for _, bad := range []string{"loud", "fatal"} {
		_, err := LevelFromString(bad)
		test.That(t, err, test.ShouldNotBeNil)
	}
}
