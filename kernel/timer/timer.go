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

// Package timer implements the programmable interval timer of the kernel: the
// tick counter, timed sleeps and the wake-up path that runs on every timer
// interrupt.
package timer

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/sunyihoo/tickos/common/mclock"
	"github.com/sunyihoo/tickos/event"
	"github.com/sunyihoo/tickos/kernel/intr"
	"github.com/sunyihoo/tickos/kernel/thread"
	"github.com/sunyihoo/tickos/log"
)

const (
	Vector     = 0x20         // External interrupt vector of the timer.
	VectorName = "8254 Timer" // Name the timer registers its vector under.

	MinFrequency = 19   // The 8254 cannot divide its input clock below this rate.
	MaxFrequency = 1000 // Highest recommended rate.

	pitInput = 1193180 // 8254 input frequency in Hz
)

var (
	ErrFrequencyTooLow  = errors.New("timer: frequency below 19 Hz")
	ErrFrequencyTooHigh = errors.New("timer: frequency above 1000 Hz")
)

// Config are the timer settings.
type Config struct {
	Frequency int // Timer interrupts per second.
}

// Defaults contains the default timer settings.
var Defaults = Config{
	Frequency: 100,
}

// Sanitize checks the configured frequency.
func (c Config) Sanitize() error {
	switch {
	case c.Frequency < MinFrequency:
		return fmt.Errorf("%w (have %d)", ErrFrequencyTooLow, c.Frequency)
	case c.Frequency > MaxFrequency:
		return fmt.Errorf("%w (have %d)", ErrFrequencyTooHigh, c.Frequency)
	}
	return nil
}

// Divisor returns the 8254 counter value programmed for the frequency, rounded
// to nearest.
func (c Config) Divisor() uint16 {
	return uint16((pitInput + c.Frequency/2) / c.Frequency)
}

// SleepEvent is posted once a sleeping thread has been woken and runs again.
type SleepEvent struct {
	Thread   thread.ID
	Name     string
	Start    mclock.Tick // tick the sleep was requested at
	Deadline mclock.Tick
	Woke     mclock.Tick // tick the thread observed after resuming
}

// Stats are the timer counters.
type Stats struct {
	Ticks        mclock.Tick
	Sleeps       uint64 // Sleeps that actually blocked.
	Wakeups      uint64 // Threads woken by the interrupt handler.
	Unlinked     uint64 // Pending sleeps dropped because their thread was destroyed.
	LoopsPerTick uint64
}

// Timer is the timer device. All sleeps go through one Timer, which owns the
// registry of sleeping threads.
type Timer struct {
	cfg   Config
	ic    *intr.Controller
	sched *thread.Scheduler
	clock *mclock.Counter
	log   log.Logger

	sleepers *Registry[*thread.Thread] // domain
	now      mclock.Tick               // domain, tick being handled

	// Pre-bound callbacks so the interrupt path does not allocate.
	due  func(Entry[*thread.Thread]) bool
	wake func(Entry[*thread.Thread])

	loopsPerTick atomic.Uint64
	sleeps       atomic.Uint64
	wakeups      atomic.Uint64
	unlinked     atomic.Uint64

	feed  event.FeedOf[SleepEvent]
	scope event.SubscriptionScope
}

// New creates the timer device. Init must be called before the first tick.
func New(cfg Config, ic *intr.Controller, sched *thread.Scheduler, clock *mclock.Counter) (*Timer, error) {
	if err := cfg.Sanitize(); err != nil {
		return nil, err
	}
	t := &Timer{
		cfg:      cfg,
		ic:       ic,
		sched:    sched,
		clock:    clock,
		log:      log.New("module", "timer"),
		sleepers: NewRegistry[*thread.Thread](),
	}
	t.due = t.isDue
	t.wake = t.wakeEntry
	return t, nil
}

// Init programs the interval timer and registers its interrupt and the
// thread-destroy hook.
func (t *Timer) Init() {
	t.ic.Register(Vector, VectorName, t.interrupt)
	t.sched.OnDestroy(t.unlink)
	t.log.Info("Initialized interval timer", "freq", t.cfg.Frequency, "divisor", t.cfg.Divisor())
}

// Close ends all sleep event subscriptions.
func (t *Timer) Close() {
	t.scope.Close()
}

// Frequency returns the number of ticks per second.
func (t *Timer) Frequency() int { return t.cfg.Frequency }

// Ticks returns the number of timer ticks since boot.
func (t *Timer) Ticks() mclock.Tick {
	return t.clock.Now()
}

// Elapsed returns the number of ticks elapsed since then, which should be a
// value once returned by Ticks.
func (t *Timer) Elapsed(then mclock.Tick) int64 {
	return t.clock.Elapsed(then)
}

// Sleep suspends the running thread th for approximately ticks timer ticks.
// Sleeping for zero or fewer ticks returns immediately. Durations past the end
// of the tick range sleep until the last tick.
func (t *Timer) Sleep(th *thread.Thread, ticks int64) {
	start := t.Ticks()
	deadline := start.Add(ticks)
	if ticks > 0 && ticks > math.MaxInt64-int64(start) {
		deadline = mclock.Tick(math.MaxInt64)
	}
	t.SleepUntil(th, deadline)
}

// SleepUntil suspends the running thread th until the tick counter reaches
// deadline. It returns immediately if the deadline is not in the future.
//
// It must be called by the running thread th, from thread context with
// interrupts on, and never by the idle thread.
// 必须在线程上下文中、中断开启时调用，且调用者不能是 idle 线程。
func (t *Timer) SleepUntil(th *thread.Thread, deadline mclock.Tick) {
	switch {
	case t.ic.Context():
		panic("timer: sleep in interrupt context")
	case t.ic.Get() != intr.On:
		panic("timer: sleep with interrupts off")
	case t.sched.IsIdle(th):
		panic("timer: idle thread cannot sleep")
	case t.sched.Current() != th:
		panic(fmt.Sprintf("timer: %v is not the running thread", th))
	}
	old := t.ic.Disable()
	start := t.clock.Now()
	if deadline <= start {
		t.ic.SetLevel(old)
		return
	}
	t.sleepers.InsertSorted(deadline, th)
	t.sleeps.Add(1)
	t.sched.Block(th)
	t.ic.SetLevel(old)

	t.feed.Send(SleepEvent{
		Thread:   th.ID(),
		Name:     th.Name(),
		Start:    start,
		Deadline: deadline,
		Woke:     t.Ticks(),
	})
}

// interrupt is the timer interrupt handler.
func (t *Timer) interrupt() {
	t.now = t.clock.Advance()
	t.sched.Tick()
	t.sleepers.PopFrontWhile(t.due, t.wake)
}

func (t *Timer) isDue(e Entry[*thread.Thread]) bool {
	return e.Deadline <= t.now
}

func (t *Timer) wakeEntry(e Entry[*thread.Thread]) {
	if st := e.Handle.Status(); st != thread.Blocked {
		panic(fmt.Sprintf("timer: sleeper %v woken in state %v", e.Handle, st))
	}
	t.sched.Unblock(e.Handle)
	t.wakeups.Add(1)
}

// unlink drops the pending sleep of a thread that is being destroyed. It runs
// as a scheduler destroy hook, with interrupts off.
func (t *Timer) unlink(th *thread.Thread) {
	if t.sleepers.Remove(th) {
		t.unlinked.Add(1)
		t.log.Debug("Dropped pending sleep of destroyed thread", "id", th.ID(), "name", th.Name())
	}
}

// Pending returns a snapshot of the sleeping threads in wake order. It must not
// be called with interrupts off.
func (t *Timer) Pending() []Entry[*thread.Thread] {
	var entries []Entry[*thread.Thread]
	t.ic.Atomically(func() {
		entries = t.sleepers.Entries()
	})
	return entries
}

// NextDeadline returns the earliest pending deadline, if any thread sleeps. It
// must not be called with interrupts off.
func (t *Timer) NextDeadline() (mclock.Tick, bool) {
	var (
		e  Entry[*thread.Thread]
		ok bool
	)
	t.ic.Atomically(func() {
		e, ok = t.sleepers.Front()
	})
	return e.Deadline, ok
}

// SubscribeSleeps registers a subscription for completed sleeps.
func (t *Timer) SubscribeSleeps(ch chan<- SleepEvent) event.Subscription {
	return t.scope.Track(t.feed.Subscribe(ch))
}

// Stats returns a snapshot of the timer counters.
func (t *Timer) Stats() Stats {
	return Stats{
		Ticks:        t.Ticks(),
		Sleeps:       t.sleeps.Load(),
		Wakeups:      t.wakeups.Load(),
		Unlinked:     t.unlinked.Load(),
		LoopsPerTick: t.loopsPerTick.Load(),
	}
}

// PrintStats logs the timer statistics.
func (t *Timer) PrintStats() {
	t.log.Info(fmt.Sprintf("Timer: %d ticks", int64(t.Ticks())), "sleeps", t.sleeps.Load(), "wakeups", t.wakeups.Load())
}
