package utils

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/tickos/kernel"
	"github.com/urfave/cli/v2"
)

func TestParseSleep(t *testing.T) {
	tests := []struct {
		in   string
		want SleepSpec
		err  bool
	}{
		{in: "a=10", want: SleepSpec{Name: "a", Ticks: 10, Repeat: 1}},
		{in: " worker = 5x3", want: SleepSpec{Name: "worker", Ticks: 5, Repeat: 3}},
		{in: "zero=0", want: SleepSpec{Name: "zero", Ticks: 0, Repeat: 1}},
		{in: "noequals", err: true},
		{in: "=4", err: true},
		{in: "a=ten", err: true},
		{in: "a=4x0", err: true},
		{in: "a=4x", err: true},
	}
	for _, tt := range tests {
		spec, err := ParseSleep(tt.in)
		if tt.err {
			assert.ErrorIs(t, err, errSleepSyntax, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, spec)
	}
}

func TestSetKernelConfig(t *testing.T) {
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range append(KernelFlags, SleepFlag) {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse([]string{"--timer.freq", "250", "--sim", "--sleep", "a=3", "--sleep", "b=1x2"}))
	ctx := cli.NewContext(cli.NewApp(), set, nil)

	cfg := kernel.Defaults
	SetKernelConfig(ctx, &cfg)
	assert.Equal(t, 250, cfg.Timer.Frequency)
	assert.True(t, cfg.Simulated)
	assert.Equal(t, kernel.Defaults.Thread.TimeSlice, cfg.Thread.TimeSlice, "unset flags keep the config value")

	specs, err := SleepSpecs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []SleepSpec{{"a", 3, 1}, {"b", 1, 2}}, specs)
}
