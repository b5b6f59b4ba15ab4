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

package thread

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sunyihoo/tickos/kernel/intr"
	"github.com/sunyihoo/tickos/log"
)

// Config are the scheduler settings.
type Config struct {
	TimeSlice int // Timer ticks a thread may run before it is asked to yield.
}

// Defaults contains the default scheduler settings.
var Defaults = Config{
	TimeSlice: 4,
}

var errBadTimeSlice = errors.New("thread: time slice must be positive")

// Sanitize checks the configuration.
func (c Config) Sanitize() error {
	if c.TimeSlice <= 0 {
		return fmt.Errorf("%w (have %d)", errBadTimeSlice, c.TimeSlice)
	}
	return nil
}

// Stats are the scheduler counters.
type Stats struct {
	IdleTicks   uint64 // Timer ticks spent in the idle thread.
	KernelTicks uint64 // Timer ticks spent in kernel threads.
	Switches    uint64 // Number of dispatches.
}

// Scheduler runs threads one at a time on the simulated CPU.
//
// Fields marked "domain" may only be touched with interrupts off.
// 标记为 "domain" 的字段只能在关闭中断的情况下访问。
type Scheduler struct {
	cfg Config
	ic  *intr.Controller
	log log.Logger

	ready   queue                  // domain
	hooks   []func(*Thread)        // domain
	slice   int                    // domain
	current atomic.Pointer[Thread] // written in the domain, read anywhere
	all     mapset.Set[*Thread]    // live threads, excluding idle
	idle    *Thread
	nextID  atomic.Int64
	parked  chan struct{} // signalled when the running thread gives up the CPU

	idleTicks   atomic.Uint64
	kernelTicks atomic.Uint64
	switches    atomic.Uint64
}

// NewScheduler creates a scheduler bound to the interrupt controller ic.
func NewScheduler(cfg Config, ic *intr.Controller) *Scheduler {
	s := &Scheduler{
		cfg:    cfg,
		ic:     ic,
		log:    log.New("module", "thread"),
		all:    mapset.NewSet[*Thread](),
		idle:   &Thread{id: 0, name: "idle"},
		parked: make(chan struct{}),
	}
	s.idle.setStatus(Running)
	return s
}

// Idle returns the idle thread. It stands for the CPU when no kernel thread is
// running and must never block.
func (s *Scheduler) Idle() *Thread { return s.idle }

// IsIdle reports whether t is the idle thread.
func (s *Scheduler) IsIdle(t *Thread) bool { return t == s.idle }

// Current returns the running thread, or the idle thread if none is.
func (s *Scheduler) Current() *Thread {
	if t := s.current.Load(); t != nil {
		return t
	}
	return s.idle
}

// Live returns the number of threads that have been spawned and not yet
// destroyed.
func (s *Scheduler) Live() int { return s.all.Cardinality() }

// Threads returns the live threads ordered by ID.
func (s *Scheduler) Threads() []*Thread {
	list := s.all.ToSlice()
	slices.SortFunc(list, func(a, b *Thread) int { return int(a.id - b.id) })
	return list
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		IdleTicks:   s.idleTicks.Load(),
		KernelTicks: s.kernelTicks.Load(),
		Switches:    s.switches.Load(),
	}
}

// OnDestroy registers a hook that runs, with interrupts off, right before a
// thread is retired. Subsystems holding references to threads use it to drop
// them.
func (s *Scheduler) OnDestroy(hook func(*Thread)) {
	old := s.ic.Disable()
	s.hooks = append(s.hooks, hook)
	s.ic.SetLevel(old)
}

// Spawn creates a thread running fn and adds it to the ready queue.
func (s *Scheduler) Spawn(name string, fn func(*Thread)) *Thread {
	t := &Thread{
		id:     ID(s.nextID.Add(1)),
		name:   name,
		fn:     fn,
		resume: make(chan struct{}),
	}
	t.setStatus(Blocked)
	s.all.Add(t)
	go s.run(t)

	old := s.ic.Disable()
	s.Unblock(t)
	s.ic.SetLevel(old)

	s.log.Debug("Spawned thread", "id", t.id, "name", name)
	return t
}

func (s *Scheduler) run(t *Thread) {
	if _, ok := <-t.resume; !ok {
		return
	}
	t.fn(t)
	s.exit(t)
}

// Block puts the running thread t to sleep. It will not run again until
// Unblock is called on it.
//
// Must be called from thread context with interrupts off. The interrupt domain
// is released while t is parked and held again when Block returns.
// 必须在线程上下文中关闭中断后调用。线程挂起期间释放中断域，Block 返回时重新持有。
func (s *Scheduler) Block(t *Thread) {
	switch {
	case s.ic.Context():
		panic("thread: block in interrupt context")
	case s.ic.Get() != intr.Off:
		panic("thread: block with interrupts on")
	case s.IsIdle(t):
		panic("thread: idle thread cannot block")
	}
	s.mustBeCurrent(t)

	t.setStatus(Blocked)
	s.switchOut(t)
}

// Unblock transitions a blocked thread t to the ready state. It does not
// preempt the running thread. Must be called with interrupts off; it is safe
// in interrupt context and never allocates.
func (s *Scheduler) Unblock(t *Thread) {
	if s.ic.Get() != intr.Off {
		panic("thread: unblock with interrupts on")
	}
	if st := t.Status(); st != Blocked {
		panic(fmt.Sprintf("thread: unblock %v in state %v", t, st))
	}
	t.setStatus(Ready)
	s.ready.push(t)
}

// Yield gives up the CPU. The running thread t goes to the back of the ready
// queue and may be rescheduled immediately.
func (s *Scheduler) Yield(t *Thread) {
	if s.ic.Context() {
		panic("thread: yield in interrupt context")
	}
	s.mustBeCurrent(t)

	old := s.ic.Disable()
	t.setStatus(Ready)
	s.ready.push(t)
	s.switchOut(t)
	s.ic.SetLevel(old)
}

// Checkpoint is a preemption point for long running thread code: it opens an
// interrupt window and yields if a handler asked for it.
func (s *Scheduler) Checkpoint(t *Thread) {
	s.ic.Poll()
	if s.ic.TakeYield() {
		s.Yield(t)
	}
}

// Tick does the time-slice accounting for one timer tick. Called by the timer
// interrupt handler.
func (s *Scheduler) Tick() {
	if cur := s.current.Load(); cur == nil {
		s.idleTicks.Add(1)
	} else {
		s.kernelTicks.Add(1)
	}
	s.slice++
	if s.slice >= s.cfg.TimeSlice {
		s.ic.YieldOnReturn()
	}
}

// Kill destroys t. A thread blocked anywhere (for instance asleep on the timer)
// is retired through the destroy hooks before its goroutine is released, so no
// subsystem is left holding a dead handle. The running thread cannot be
// killed; it exits by returning from its function.
func (s *Scheduler) Kill(t *Thread) {
	if s.IsIdle(t) {
		panic("thread: cannot kill the idle thread")
	}
	old := s.ic.Disable()
	switch t.Status() {
	case Dying:
		s.ic.SetLevel(old)
		return
	case Running:
		s.ic.SetLevel(old)
		panic(fmt.Sprintf("thread: cannot kill running thread %v", t))
	case Ready:
		s.ready.remove(t)
	}
	s.retire(t)
	close(t.resume)
	s.ic.SetLevel(old)

	s.log.Debug("Killed thread", "id", t.id, "name", t.name)
}

// Step dispatches the next ready thread and waits until it blocks, yields or
// exits. It reports false if no thread was ready. Step must be called by the
// owner of the CPU with interrupts on.
func (s *Scheduler) Step() bool {
	if s.ic.Get() != intr.On || s.ic.Context() {
		panic("thread: dispatch with interrupts off")
	}
	s.ic.Disable()
	next := s.ready.pop()
	if next == nil {
		s.ic.SetLevel(intr.On)
		return false
	}
	next.setStatus(Running)
	s.current.Store(next)
	s.slice = 0
	s.ic.TakeYield()
	s.switches.Add(1)
	s.ic.Release()

	next.resume <- struct{}{}
	<-s.parked

	s.ic.Disable()
	s.current.Store(nil)
	s.ic.SetLevel(intr.On)
	return true
}

// Run keeps the CPU busy until every spawned thread has exited or ctx is
// cancelled. When no thread is ready, idle is invoked if set; otherwise the CPU
// halts until an interrupt is raised.
func (s *Scheduler) Run(ctx context.Context, idle func(context.Context) error) error {
	for {
		s.ic.Poll()
		if s.Step() {
			continue
		}
		if s.Live() == 0 {
			return nil
		}
		if idle != nil {
			if err := idle(ctx); err != nil {
				return err
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ic.Kick():
		}
	}
}

// switchOut hands the CPU back to the dispatcher and parks t until it is
// dispatched again. Called with interrupts off.
func (s *Scheduler) switchOut(t *Thread) {
	s.ic.Release()
	s.parked <- struct{}{}
	if _, ok := <-t.resume; !ok {
		runtime.Goexit()
	}
	s.ic.Disable()
}

func (s *Scheduler) exit(t *Thread) {
	s.log.Debug("Thread exited", "id", t.id, "name", t.name)

	s.ic.Disable()
	s.retire(t)
	s.ic.Release()
	s.parked <- struct{}{}
}

// retire runs the destroy hooks and forgets t. Called with interrupts off.
func (s *Scheduler) retire(t *Thread) {
	for _, hook := range s.hooks {
		hook(t)
	}
	t.setStatus(Dying)
	s.all.Remove(t)
}

func (s *Scheduler) mustBeCurrent(t *Thread) {
	if cur := s.current.Load(); cur != t {
		panic(fmt.Sprintf("thread: %v is not the running thread (running %v)", t, s.Current()))
	}
}
