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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/shirou/gopsutil/cpu"
	"github.com/sunyihoo/tickos/cmd/utils"
	"github.com/sunyihoo/tickos/internal/debug"
	"github.com/sunyihoo/tickos/kernel"
	"github.com/sunyihoo/tickos/kernel/thread"
	"github.com/sunyihoo/tickos/kernel/timer"
	"github.com/sunyihoo/tickos/log"
	"github.com/sunyihoo/tickos/metrics/exp"
	"github.com/urfave/cli/v2"
)

var (
	runFlags = append([]cli.Flag{configFileFlag, utils.SleepFlag}, utils.KernelFlags...)

	runCommand = &cli.Command{
		Action:    runScenario,
		Name:      "run",
		Usage:     "Boot the kernel and run a sleep scenario",
		ArgsUsage: "",
		Flags:     runFlags,
		Description: `
The run command boots a kernel, spawns one thread per --sleep flag (or per
[[Scenario.Threads]] entry of the config file) and runs until every thread has
finished. Each thread calls timer sleep REPEAT times for TICKS ticks.

    tickos run --sim --sleep a=10 --sleep b=5x3

When it is done, the wake timeline and the device statistics are printed.`,
	}

	calibrateCommand = &cli.Command{
		Action: calibrate,
		Name:   "calibrate",
		Usage:  "Measure the busy-wait loops per timer tick",
		Flags:  append([]cli.Flag{configFileFlag}, utils.KernelFlags...),
		Description: `
The calibrate command runs the timer against the wall clock and reports how
many busy-wait iterations fit in one tick. Sub-tick sleeps rely on this value.`,
	}
)

var errNoThreads = errors.New("no threads to run, use --sleep or a config file")

// runScenario is the default action and the run command.
func runScenario(ctx *cli.Context) error {
	if args := ctx.Args().Slice(); len(args) > 0 {
		return fmt.Errorf("invalid command: %q", args[0])
	}
	cfg, err := loadBaseConfig(ctx)
	if err != nil {
		return err
	}
	sigctx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return execute(sigctx, cfg, os.Stdout)
}

// execute boots a kernel configured by cfg, runs the scenario to completion
// and writes the report to out.
func execute(ctx context.Context, cfg tickosConfig, out io.Writer) error {
	if len(cfg.Scenario.Threads) == 0 {
		return errNoThreads
	}
	k, err := kernel.New(cfg.Kernel)
	if err != nil {
		return err
	}
	if err := k.Boot(); err != nil {
		return err
	}

	var (
		events    = make(chan timer.SleepEvent, 64)
		sub       = k.Timer().SubscribeSleeps(events)
		timeline  []timer.SleepEvent
		collected = make(chan struct{})
	)
	go func() {
		defer close(collected)
		for {
			select {
			case ev := <-events:
				timeline = append(timeline, ev)
			case <-sub.Err():
				for {
					select {
					case ev := <-events:
						timeline = append(timeline, ev)
					default:
						return
					}
				}
			}
		}
	}()

	exp.Register("kernel", k.Metrics)
	defer exp.Unregister("kernel")

	spawnScenario(k, cfg.Scenario.Threads)
	runErr := k.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		log.Warn("Scenario interrupted", "live", k.Scheduler().Live())
		runErr = nil
	}
	k.Shutdown()
	<-collected

	writeTimeline(out, timeline)
	writeStats(out, k)
	return runErr
}

// spawnScenario starts one kernel thread per sleep spec.
func spawnScenario(k *kernel.Kernel, specs []utils.SleepSpec) []*thread.Thread {
	tm := k.Timer()
	threads := make([]*thread.Thread, 0, len(specs))
	for _, spec := range specs {
		spec := spec
		th := k.Spawn(spec.Name, func(self *thread.Thread) {
			defer func() {
				if r := recover(); r != nil {
					debug.LoudPanic(r)
				}
			}()
			for i := 0; i < spec.Repeat; i++ {
				tm.Sleep(self, spec.Ticks)
			}
		})
		threads = append(threads, th)
	}
	return threads
}

// calibrate is the calibrate command.
func calibrate(ctx *cli.Context) error {
	cfg, err := loadBaseConfig(ctx)
	if err != nil {
		return err
	}
	// Calibration needs real time.
	cfg.Kernel.Simulated = false

	k, err := kernel.New(cfg.Kernel)
	if err != nil {
		return err
	}
	if err := k.Boot(); err != nil {
		return err
	}
	defer k.Shutdown()

	loops, err := k.Calibrate(ctx.Context)
	if err != nil {
		return err
	}
	fmt.Printf("%d loops/tick (%d loops/s at %d Hz)\n", loops, loops*uint64(cfg.Kernel.Timer.Frequency), cfg.Kernel.Timer.Frequency)
	if host := hostCPU(); host != "" {
		fmt.Printf("host: %s\n", host)
	}
	return nil
}

// hostCPU describes the processor the busy-wait factor was measured on.
func hostCPU() string {
	infos, err := cpu.Info()
	if err != nil || len(infos) == 0 {
		log.Debug("Failed to retrieve CPU info", "err", err)
		return ""
	}
	logical, _ := cpu.Counts(true)
	return fmt.Sprintf("%s, %d logical cores, %.0f MHz", infos[0].ModelName, logical, infos[0].Mhz)
}
