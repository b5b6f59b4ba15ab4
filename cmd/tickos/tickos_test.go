package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/tickos/cmd/utils"
	"github.com/sunyihoo/tickos/kernel"
	"github.com/sunyihoo/tickos/kernel/timer"
)

const testConfig = `
[Kernel]
Simulated = true

[Kernel.Timer]
Frequency = 250

[Kernel.Thread]
TimeSlice = 2

[[Scenario.Threads]]
Name = "a"
Ticks = 10

[[Scenario.Threads]]
Name = "b"
Ticks = 5
Repeat = 2
`

func TestLoadConfig(t *testing.T) {
	file := filepath.Join(t.TempDir(), "tickos.toml")
	require.NoError(t, os.WriteFile(file, []byte(testConfig), 0644))

	cfg := tickosConfig{Kernel: kernel.Defaults}
	require.NoError(t, loadConfig(file, &cfg))

	assert.True(t, cfg.Kernel.Simulated)
	assert.Equal(t, 250, cfg.Kernel.Timer.Frequency)
	assert.Equal(t, 2, cfg.Kernel.Thread.TimeSlice)
	assert.Equal(t, []utils.SleepSpec{
		{Name: "a", Ticks: 10},
		{Name: "b", Ticks: 5, Repeat: 2},
	}, cfg.Scenario.Threads)
}

func TestLoadConfigUnknownField(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(file, []byte("[Kernel.Timer]\nHz = 100\n"), 0644))

	cfg := tickosConfig{Kernel: kernel.Defaults}
	err := loadConfig(file, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.toml")
	assert.Contains(t, err.Error(), "Hz")
}

func TestDumpConfigRoundTrip(t *testing.T) {
	cfg := tickosConfig{
		Kernel: kernel.Defaults,
		Scenario: scenarioConfig{
			Threads: []utils.SleepSpec{{Name: "worker", Ticks: 7, Repeat: 3}},
		},
	}
	out, err := tomlSettings.Marshal(&cfg)
	require.NoError(t, err)

	file := filepath.Join(t.TempDir(), "dump.toml")
	require.NoError(t, os.WriteFile(file, out, 0644))

	var loaded tickosConfig
	require.NoError(t, loadConfig(file, &loaded))
	assert.Equal(t, cfg, loaded)
}

func TestSortTimeline(t *testing.T) {
	events := []timer.SleepEvent{
		{Name: "a", Woke: 10},
		{Name: "b", Woke: 5},
		{Name: "c", Woke: 10},
		{Name: "d", Woke: 1},
	}
	sortTimeline(events)

	var names []string
	for _, ev := range events {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{"d", "b", "a", "c"}, names)
}

func TestExecuteSimulated(t *testing.T) {
	cfg := tickosConfig{Kernel: kernel.Defaults}
	cfg.Kernel.Simulated = true
	cfg.Scenario.Threads = []utils.SleepSpec{
		{Name: "a", Ticks: 10, Repeat: 1},
		{Name: "b", Ticks: 5, Repeat: 2},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out bytes.Buffer
	require.NoError(t, execute(ctx, cfg, &out))

	report := out.String()
	assert.Contains(t, report, "DEADLINE")
	assert.Contains(t, report, "Wakeups")
	assert.Contains(t, report, "100 Hz")

	// Three sleeps, reported in wake order.
	lines := strings.Split(report, "\n")
	var rows []string
	for _, line := range lines {
		fields := strings.Fields(strings.ReplaceAll(line, "|", " "))
		if len(fields) == 6 && (fields[0] == "a" || fields[0] == "b") {
			rows = append(rows, fields[0]+"@"+fields[4])
		}
	}
	assert.Equal(t, []string{"b@5", "a@10", "b@10"}, rows)
}

func TestExecuteNoThreads(t *testing.T) {
	cfg := tickosConfig{Kernel: kernel.Defaults}
	assert.ErrorIs(t, execute(context.Background(), cfg, new(bytes.Buffer)), errNoThreads)
}
