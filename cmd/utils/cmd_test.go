package utils

import (
	"bytes"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFatalf(t *testing.T) {
	if os.Getenv("TICKOS_TEST_FATALF") == "1" {
		Fatalf("invalid --%s: %d", TimerFrequencyFlag.Name, 5)
		return
	}
	cmd := exec.Command(os.Args[0], "-test.run=^TestFatalf$")
	cmd.Env = append(os.Environ(), "TICKOS_TEST_FATALF=1")
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitCode())
	assert.Contains(t, stdout.String()+stderr.String(), "Fatal: invalid --timer.freq: 5")
}
