package log

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTimeTermFormat(t *testing.T) {
	b := bytes.NewBufferString("")
	writeTimeTermFormat(b, time.Date(2026, 5, 16, 20, 58, 45, 7e6, time.UTC))
	assert.Equal(t, "05-16|20:58:45.007", b.String())
}

func TestTerminalHandler(t *testing.T) {
	out := new(bytes.Buffer)
	l := NewLogger(NewTerminalHandler(out, false))
	l.Info("woke sleeper", "id", 3, "deadline", 110)

	line := out.String()
	assert.True(t, strings.HasPrefix(line, "INFO ["), line)
	assert.Contains(t, line, "woke sleeper")
	assert.Contains(t, line, "id=3")
	assert.Contains(t, line, "deadline=110")
}

func TestTerminalHandlerLevel(t *testing.T) {
	out := new(bytes.Buffer)
	l := NewLogger(NewTerminalHandlerWithLevel(out, LevelWarn, false))
	l.Info("dropped")
	assert.Empty(t, out.String())
	l.Warn("kept")
	assert.Contains(t, out.String(), "kept")
}

func TestGlogVerbosity(t *testing.T) {
	out := new(bytes.Buffer)
	glog := NewGlogHandler(NewTerminalHandler(out, false))
	glog.Verbosity(LevelInfo)
	l := NewLogger(glog)

	l.Debug("hidden")
	assert.Empty(t, out.String())
	l.Info("shown")
	assert.Contains(t, out.String(), "shown")
}

func TestGlogVmodule(t *testing.T) {
	out := new(bytes.Buffer)
	glog := NewGlogHandler(NewTerminalHandler(out, false))
	glog.Verbosity(LevelCrit)
	require.NoError(t, glog.Vmodule("logger_test.go=5"))
	l := NewLogger(glog)

	l.Debug("from this file")
	assert.Contains(t, out.String(), "from this file")

	assert.ErrorIs(t, glog.Vmodule("nolevel"), errVmoduleSyntax)
	assert.ErrorIs(t, glog.Vmodule("a=b"), errVmoduleSyntax)
}

func TestGlogVmoduleByModule(t *testing.T) {
	out := new(bytes.Buffer)
	glog := NewGlogHandler(NewTerminalHandler(out, false))
	glog.Verbosity(LevelWarn)
	require.NoError(t, glog.Vmodule("timer=5"))

	root := NewLogger(glog)
	timer := root.With("module", "timer")
	thread := root.With("module", "thread")

	timer.Debug("timer detail")
	thread.Debug("thread detail")
	root.Debug("root detail")
	assert.Contains(t, out.String(), "timer detail")
	assert.NotContains(t, out.String(), "thread detail")
	assert.NotContains(t, out.String(), "root detail")

	// Path rules never match by module name.
	out.Reset()
	require.NoError(t, glog.Vmodule("kernel/timer=5"))
	root.With("module", "timer").Debug("path only")
	assert.Empty(t, out.String())
}

func TestFormatSlogValue(t *testing.T) {
	tests := []struct {
		v    slog.Value
		want string
	}{
		{slog.Int64Value(42), "42"},
		{slog.Int64Value(-1234567), "-1,234,567"},
		{slog.Uint64Value(100000), "100,000"},
		{slog.StringValue("with space"), `"with space"`},
		{slog.BoolValue(true), "true"},
		{slog.AnyValue(errors.New("boom")), "boom"},
		{slog.AnyValue(nil), "<nil>"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, string(FormatSlogValue(tt.v, nil)), "value %v", tt.v)
	}
}

func TestLogfmtHandler(t *testing.T) {
	out := new(bytes.Buffer)
	l := NewLogger(LogfmtHandler(out))
	l.Info("tick", "n", 7)
	assert.Contains(t, out.String(), "lvl=info")
	assert.Contains(t, out.String(), "n=7")
}
