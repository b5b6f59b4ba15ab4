package debug

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/tickos/log"
	"github.com/urfave/cli/v2"
)

func newContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	app := cli.NewApp()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range Flags {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(app, set, nil)
}

func TestSetupLogFile(t *testing.T) {
	defer log.SetDefault(log.NewLogger(log.DiscardHandler()))

	file := filepath.Join(t.TempDir(), "logs", "tickos.log")
	ctx := newContext(t, "--log.file", file, "--log.format", "logfmt", "--verbosity", "4")
	require.NoError(t, Setup(ctx))
	defer Exit()

	log.Debug("Woke sleeper", "id", 3)
	logOutputFile.Close()
	logOutputFile = nil

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Woke sleeper")
	assert.Contains(t, string(data), "id=3")
}

func TestSetupRejectsUnknownFormat(t *testing.T) {
	ctx := newContext(t, "--log.format", "xml")
	err := Setup(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log format")
}

func TestSetupRejectsBadVmodule(t *testing.T) {
	defer log.SetDefault(log.NewLogger(log.DiscardHandler()))
	ctx := newContext(t, "--log.vmodule", "timer.go")
	assert.Error(t, Setup(ctx))
}

func TestStacksFilter(t *testing.T) {
	all := Handler.Stacks("")
	assert.Contains(t, all, "TestStacksFilter")

	mine := Handler.Stacks("TestStacksFilter")
	assert.True(t, strings.Contains(mine, "TestStacksFilter"))
	assert.Empty(t, Handler.Stacks("no goroutine has this frame"))
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	if home == "" {
		t.Skip("no home directory")
	}
	os.Setenv("HOME", home)
	assert.Equal(t, filepath.Join(home, "cpu.prof"), expandHome("~/cpu.prof"))
	assert.Equal(t, "/tmp/a", expandHome("/tmp/b/../a"))
}
