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

// Package kernel assembles the simulated uniprocessor: interrupt controller,
// tick counter, scheduler and interval timer.
package kernel

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sunyihoo/tickos/common/mclock"
	"github.com/sunyihoo/tickos/kernel/intr"
	"github.com/sunyihoo/tickos/kernel/thread"
	"github.com/sunyihoo/tickos/kernel/timer"
	"github.com/sunyihoo/tickos/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	errNotBooted     = errors.New("kernel: not booted")
	errAlreadyBooted = errors.New("kernel: already booted")
)

// Config are the kernel settings.
type Config struct {
	Timer  timer.Config
	Thread thread.Config

	// Simulated drives the timer from a virtual clock. Whenever the CPU goes
	// idle with sleepers pending, time jumps straight to the next deadline.
	Simulated bool `toml:",omitempty"`
}

// Defaults contains the default kernel settings.
var Defaults = Config{
	Timer:  timer.Defaults,
	Thread: thread.Defaults,
}

// Kernel is one simulated machine.
type Kernel struct {
	cfg    Config
	ic     *intr.Controller
	clock  *mclock.Counter
	sched  *thread.Scheduler
	timer  *timer.Timer
	source mclock.Source
	sim    *mclock.Simulated // nil unless simulated
	log    log.Logger

	booted  atomic.Bool
	dropped atomic.Uint64
	dropLog rate.Sometimes // throttles the warning in fire
}

// New creates a kernel from the given configuration.
func New(cfg Config) (*Kernel, error) {
	if err := cfg.Thread.Sanitize(); err != nil {
		return nil, err
	}
	k := &Kernel{
		cfg:   cfg,
		ic:    intr.New(),
		clock: new(mclock.Counter),
		log:   log.New("module", "kernel"),
	}
	k.dropLog.First = 1
	k.dropLog.Interval = 5 * time.Second
	k.sched = thread.NewScheduler(cfg.Thread, k.ic)

	tm, err := timer.New(cfg.Timer, k.ic, k.sched, k.clock)
	if err != nil {
		return nil, err
	}
	k.timer = tm

	if cfg.Simulated {
		k.sim = new(mclock.Simulated)
		k.source = k.sim
	} else {
		k.source = mclock.System{Hz: cfg.Timer.Frequency}
	}
	return k, nil
}

// Boot brings up the devices. It must be called once, before Run.
func (k *Kernel) Boot() error {
	if !k.booted.CompareAndSwap(false, true) {
		return errAlreadyBooted
	}
	k.log.Info("Booting kernel", "freq", k.cfg.Timer.Frequency, "timeslice", k.cfg.Thread.TimeSlice, "simulated", k.cfg.Simulated)
	k.timer.Init()
	log.SetUptime(k.clock)
	return nil
}

// Config returns the kernel configuration.
func (k *Kernel) Config() Config { return k.cfg }

// Timer returns the interval timer.
func (k *Kernel) Timer() *timer.Timer { return k.timer }

// Scheduler returns the thread scheduler.
func (k *Kernel) Scheduler() *thread.Scheduler { return k.sched }

// Interrupts returns the interrupt controller.
func (k *Kernel) Interrupts() *intr.Controller { return k.ic }

// Spawn starts a kernel thread.
func (k *Kernel) Spawn(name string, fn func(*thread.Thread)) *thread.Thread {
	return k.sched.Spawn(name, fn)
}

// Interrupt raises one timer interrupt and delivers it on the calling path,
// which must own the CPU. It stands in for the hardware when the kernel is
// stepped by hand.
func (k *Kernel) Interrupt() error {
	if err := k.ic.Raise(timer.Vector); err != nil {
		return err
	}
	k.ic.Poll()
	return nil
}

// fire is the interrupt line of the tick source.
func (k *Kernel) fire() {
	if err := k.ic.Raise(timer.Vector); err != nil {
		n := k.dropped.Add(1)
		k.dropLog.Do(func() {
			k.log.Warn("Dropped timer interrupt", "err", err, "dropped", n)
		})
	}
}

// Run runs the CPU until every spawned thread has exited or ctx is cancelled.
// The tick source runs alongside the CPU loop and is stopped when it ends.
func (k *Kernel) Run(ctx context.Context) error {
	if !k.booted.Load() {
		return errNotBooted
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return k.source.Run(gctx, k.fire)
	})
	g.Go(func() error {
		defer cancel()

		var idle func(context.Context) error
		if k.sim != nil {
			idle = k.fastForward
		}
		return k.sched.Run(gctx, idle)
	})
	err := g.Wait()
	k.log.Debug("CPU halted", "ticks", k.timer.Ticks(), "live", k.sched.Live(), "err", err)
	return err
}

// fastForward is the idle loop of a simulated machine. It advances the virtual
// clock to the earliest pending deadline, or waits for an interrupt if nothing
// sleeps.
func (k *Kernel) fastForward(ctx context.Context) error {
	deadline, ok := k.timer.NextDeadline()
	if !ok {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-k.ic.Kick():
			return nil
		}
	}
	n := deadline.Sub(k.clock.Now())
	if n < 1 {
		n = 1
	}
	return k.sim.Advance(ctx, int(n))
}

// Calibrate measures the busy-wait factor of the timer against the wall clock.
// It must not be called while Run is active.
func (k *Kernel) Calibrate(ctx context.Context) (uint64, error) {
	if !k.booted.Load() {
		return 0, errNotBooted
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		return mclock.System{Hz: k.cfg.Timer.Frequency}.Run(ctx, k.fire)
	})
	loops := k.timer.Calibrate()
	cancel()
	return loops, g.Wait()
}

// Metrics returns the device counters keyed by name.
func (k *Kernel) Metrics() map[string]int64 {
	var (
		ts = k.timer.Stats()
		ss = k.sched.Stats()
	)
	return map[string]int64{
		"timer/ticks":        int64(ts.Ticks),
		"timer/sleeps":       int64(ts.Sleeps),
		"timer/wakeups":      int64(ts.Wakeups),
		"timer/unlinked":     int64(ts.Unlinked),
		"timer/loopspertick": int64(ts.LoopsPerTick),
		"timer/sleepers":     int64(len(k.timer.Pending())),
		"thread/live":        int64(k.sched.Live()),
		"thread/idleticks":   int64(ss.IdleTicks),
		"thread/kernelticks": int64(ss.KernelTicks),
		"thread/switches":    int64(ss.Switches),
		"intr/dropped":       int64(k.dropped.Load()),
	}
}

// Shutdown ends all subscriptions and prints the device statistics.
func (k *Kernel) Shutdown() {
	defer log.SetUptime(nil)

	k.timer.Close()
	k.timer.PrintStats()

	st := k.sched.Stats()
	k.log.Info("Thread statistics", "idle", st.IdleTicks, "kernel", st.KernelTicks, "switches", st.Switches)
}
