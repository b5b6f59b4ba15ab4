// Copyright 2026 The tickos Authors
// This file is part of the tickos library.
//
// The tickos library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The tickos library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the tickos library. If not, see <http://www.gnu.org/licenses/>.

// Package utils contains internal helper functions for tickos commands.
package utils

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sunyihoo/tickos/internal/flags"
	"github.com/sunyihoo/tickos/kernel"
	"github.com/urfave/cli/v2"
)

// These are all the command line flags we support.
// If you add to this list, please remember to include the
// flag in the appropriate command definition.
//
// The flags are defined here so their names and help texts
// are the same for all commands.

var (
	// Timer settings
	TimerFrequencyFlag = &cli.IntFlag{
		Name:     "timer.freq",
		Usage:    "Timer interrupts per second (19-1000)",
		Value:    kernel.Defaults.Timer.Frequency,
		Category: flags.TimerCategory,
	}
	SimulatedFlag = &cli.BoolFlag{
		Name:     "sim",
		Usage:    "Drive the timer from a virtual clock that jumps to the next deadline when the CPU idles",
		Category: flags.TimerCategory,
	}

	// Scheduler settings
	TimeSliceFlag = &cli.IntFlag{
		Name:     "thread.timeslice",
		Usage:    "Timer ticks a thread may run before it is preempted",
		Value:    kernel.Defaults.Thread.TimeSlice,
		Category: flags.SchedulerCategory,
	}

	// Scenario settings
	SleepFlag = &cli.StringSliceFlag{
		Name:     "sleep",
		Usage:    "Spawn a thread that sleeps, as NAME=TICKS or NAME=TICKSxREPEAT (repeatable)",
		Category: flags.ScenarioCategory,
	}
)

// KernelFlags are the flags that configure the simulated machine.
var KernelFlags = []cli.Flag{
	TimerFrequencyFlag,
	SimulatedFlag,
	TimeSliceFlag,
}

// SetKernelConfig applies kernel-related command line flags to the config.
func SetKernelConfig(ctx *cli.Context, cfg *kernel.Config) {
	if ctx.IsSet(TimerFrequencyFlag.Name) {
		cfg.Timer.Frequency = ctx.Int(TimerFrequencyFlag.Name)
	}
	if ctx.IsSet(SimulatedFlag.Name) {
		cfg.Simulated = ctx.Bool(SimulatedFlag.Name)
	}
	if ctx.IsSet(TimeSliceFlag.Name) {
		cfg.Thread.TimeSlice = ctx.Int(TimeSliceFlag.Name)
	}
}

var errSleepSyntax = errors.New("expect NAME=TICKS or NAME=TICKSxREPEAT")

// SleepSpec describes one sleeping thread of a scenario.
type SleepSpec struct {
	Name   string
	Ticks  int64
	Repeat int `toml:",omitempty"`
}

// ParseSleep parses a --sleep value.
func ParseSleep(s string) (SleepSpec, error) {
	name, rest, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return SleepSpec{}, fmt.Errorf("%w: %q", errSleepSyntax, s)
	}
	spec := SleepSpec{Name: name, Repeat: 1}

	ticks, repeat, hasRepeat := strings.Cut(strings.TrimSpace(rest), "x")
	n, err := strconv.ParseInt(ticks, 10, 64)
	if err != nil {
		return SleepSpec{}, fmt.Errorf("%w: %q", errSleepSyntax, s)
	}
	spec.Ticks = n
	if hasRepeat {
		r, err := strconv.Atoi(repeat)
		if err != nil || r <= 0 {
			return SleepSpec{}, fmt.Errorf("%w: bad repeat count in %q", errSleepSyntax, s)
		}
		spec.Repeat = r
	}
	return spec, nil
}

// SleepSpecs parses every --sleep flag.
func SleepSpecs(ctx *cli.Context) ([]SleepSpec, error) {
	var specs []SleepSpec
	for _, s := range ctx.StringSlice(SleepFlag.Name) {
		spec, err := ParseSleep(s)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
