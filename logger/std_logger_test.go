package logger

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/gaestalt/lockd/testutil"
)

func captureOutput(fn func()) string {
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(prev)
	fn()
	return buf.String()
}

func TestStdLoggerLevelFiltering(t *testing.T) {
	l := NewStdLogger("warn")

	out := captureOutput(func() {
		l.Debugw("debug message")
		l.Infow("info message")
		l.Warnw("warn message")
		l.Errorw("error message")
	})

	testutil.AssertFalse(t, strings.Contains(out, "debug message"))
	testutil.AssertFalse(t, strings.Contains(out, "info message"))
	testutil.AssertTrue(t, strings.Contains(out, "warn message"))
	testutil.AssertTrue(t, strings.Contains(out, "error message"))
}

func TestStdLoggerContext(t *testing.T) {
	l := NewStdLogger("info").WithNodeID("n1").WithComponent("election")

	out := captureOutput(func() {
		l.Infow("started", "term", 3)
	})

	testutil.AssertTrue(t, strings.Contains(out, "node=n1"))
	testutil.AssertTrue(t, strings.Contains(out, "component=election"))
	testutil.AssertTrue(t, strings.Contains(out, "term=3"))
}

func TestStdLoggerIgnoresDanglingKey(t *testing.T) {
	l := NewStdLogger("info")
	out := captureOutput(func() {
		l.Infow("msg", "key1", "val1", "dangling")
	})
	testutil.AssertTrue(t, strings.Contains(out, "key1=val1"))
	testutil.AssertFalse(t, strings.Contains(out, "dangling"))
}

func TestParseLogLevelDefaultsToInfo(t *testing.T) {
	testutil.AssertEqual(t, LevelInfo, parseLogLevel("unknown"))
	testutil.AssertEqual(t, LevelDebug, parseLogLevel("DEBUG"))
	testutil.AssertEqual(t, LevelWarn, parseLogLevel("warning"))
}
