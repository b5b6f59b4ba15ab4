package flags

import (
	"flag"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathExpansion(t *testing.T) {
	home := HomeDir()
	os.Setenv("TICKOS_TEST_DIR", "/var/lib/tickos")
	defer os.Unsetenv("TICKOS_TEST_DIR")

	tests := map[string]string{
		"/home/someuser/tmp":      "/home/someuser/tmp",
		"~/tmp":                   home + "/tmp",
		"~thisOtherUser/b/":       "~thisOtherUser/b",
		"$TICKOS_TEST_DIR/a.toml": "/var/lib/tickos/a.toml",
		"/a/b/../c/./d":           "/a/c/d",
		"":                        "",
	}
	for test, expected := range tests {
		assert.Equal(t, expected, expandPath(test), "input %q", test)
	}
}

func TestPathFlagApply(t *testing.T) {
	os.Setenv("TICKOS_TEST_CONFIG", "/etc/tickos/../tickos.toml")
	defer os.Unsetenv("TICKOS_TEST_CONFIG")

	f := &PathFlag{Name: "config", Aliases: []string{"c"}, EnvVars: []string{"TICKOS_TEST_CONFIG"}}
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	require.NoError(t, f.Apply(set))
	assert.True(t, f.IsSet())
	assert.Equal(t, "/etc/tickos.toml", f.GetValue())

	require.NoError(t, set.Parse([]string{"-c", "/tmp/x/../y.toml"}))
	assert.Equal(t, "/tmp/y.toml", f.GetValue())
	assert.Equal(t, []string{"config", "c"}, f.Names())
}
