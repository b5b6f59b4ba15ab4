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

// Package intr implements the interrupt controller of the simulated CPU.
//
// The CPU is a single execution path that is handed from goroutine to goroutine
// by the scheduler. Hardware (a ticker goroutine, or a test) raises an
// interrupt line with Raise, which only marks the vector pending. Pending
// interrupts are delivered on the CPU path at interrupt windows: when
// interrupts are re-enabled, and whenever the path calls Poll while interrupts
// are on. A handler therefore always runs nested inside whatever the CPU was
// doing, exactly as on a uniprocessor.
//
// Disabling interrupts enters a single mutual-exclusion domain. The domain is
// never held across a suspension point: the scheduler releases it when the CPU
// changes hands, and the next owner re-enters it.
package intr

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Level is the interrupt enable state of the CPU.
type Level int32

const (
	Off Level = iota // Interrupts disabled.
	On               // Interrupts enabled.
)

func (l Level) String() string {
	switch l {
	case Off:
		return "off"
	case On:
		return "on"
	default:
		return fmt.Sprintf("Level(%d)", int32(l))
	}
}

// NumVectors is the number of interrupt vectors of the controller.
const NumVectors = 256

// ErrUnhandledVector is returned when raising a vector nobody registered.
var ErrUnhandledVector = errors.New("intr: unexpected interrupt")

// Handler is an external interrupt handler. It runs with interrupts off and
// must not block, sleep or perform I/O.
type Handler func()

type vector struct {
	name    string
	handler Handler
	pending atomic.Int64
	count   atomic.Uint64
}

// Controller is the interrupt controller of one simulated CPU.
type Controller struct {
	mu     sync.Mutex // the interrupt-disable domain, held while level is Off
	level  atomic.Int32
	inIntr atomic.Bool
	yield  atomic.Bool

	vecLock sync.RWMutex
	vectors [NumVectors]*vector
	pending atomic.Int64 // total undelivered interrupts across vectors

	kick chan struct{}
}

// New creates a controller with interrupts enabled.
func New() *Controller {
	c := &Controller{kick: make(chan struct{}, 1)}
	c.level.Store(int32(On))
	return c
}

// Get returns the current interrupt level.
func (c *Controller) Get() Level {
	return Level(c.level.Load())
}

// Disable turns interrupts off and returns the previous level. Disabling while
// already off is a no-op, so callers can nest Disable/SetLevel pairs freely.
// 关闭中断并返回之前的中断级别。在已关闭的情况下再次调用不做任何事情。
func (c *Controller) Disable() Level {
	old := c.Get()
	if old == On {
		c.mu.Lock()
		c.level.Store(int32(Off))
	}
	return old
}

// Enable turns interrupts on, delivers whatever became pending while they were
// off, and returns the previous level. Enabling inside a handler is fatal.
func (c *Controller) Enable() Level {
	if c.inIntr.Load() {
		panic("intr: enabling interrupts inside an interrupt handler")
	}
	old := c.Get()
	if old == Off {
		c.level.Store(int32(On))
		c.mu.Unlock()
	}
	c.Poll()
	return old
}

// SetLevel enables or disables interrupts as indicated by level and returns
// the previous level.
func (c *Controller) SetLevel(level Level) Level {
	if level == On {
		return c.Enable()
	}
	return c.Disable()
}

// Release gives up the interrupt-disable domain without opening an interrupt
// window. The scheduler uses it when the CPU changes hands; the next owner
// re-enters the domain with Disable.
func (c *Controller) Release() {
	if c.Get() != Off {
		panic("intr: release with interrupts on")
	}
	c.level.Store(int32(On))
	c.mu.Unlock()
}

// Context reports whether the CPU is executing an external interrupt handler.
func (c *Controller) Context() bool {
	return c.inIntr.Load()
}

// YieldOnReturn asks the scheduler to preempt the interrupted thread once the
// handler has returned. It may only be called from interrupt context.
// 请求调度器在中断处理程序返回后抢占被中断的线程。只能在中断上下文中调用。
func (c *Controller) YieldOnReturn() {
	if !c.inIntr.Load() {
		panic("intr: yield-on-return outside interrupt context")
	}
	c.yield.Store(true)
}

// TakeYield reports and clears a pending yield-on-return request.
func (c *Controller) TakeYield() bool {
	return c.yield.Swap(false)
}

// Atomically runs fn inside the interrupt-disable domain on behalf of an
// observer that is not the CPU path, such as a diagnostics reader. fn must be
// short and must not call back into the controller.
func (c *Controller) Atomically(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

// Register installs h as the handler of external interrupt vec.
func (c *Controller) Register(vec uint8, name string, h Handler) {
	c.vecLock.Lock()
	defer c.vecLock.Unlock()

	if c.vectors[vec] != nil {
		panic(fmt.Sprintf("intr: vector %#02x already registered by %s", vec, c.vectors[vec].name))
	}
	c.vectors[vec] = &vector{name: name, handler: h}
}

// Name returns the registered name of vec, or "unknown".
func (c *Controller) Name(vec uint8) string {
	c.vecLock.RLock()
	defer c.vecLock.RUnlock()

	if v := c.vectors[vec]; v != nil {
		return v.name
	}
	return "unknown"
}

// Count returns how many times vec has been delivered.
func (c *Controller) Count(vec uint8) uint64 {
	c.vecLock.RLock()
	defer c.vecLock.RUnlock()

	if v := c.vectors[vec]; v != nil {
		return v.count.Load()
	}
	return 0
}

// Raise asserts interrupt line vec. It never blocks and may be called from any
// goroutine; the handler runs later on the CPU path.
func (c *Controller) Raise(vec uint8) error {
	c.vecLock.RLock()
	v := c.vectors[vec]
	c.vecLock.RUnlock()

	if v == nil {
		return fmt.Errorf("%w %#02x", ErrUnhandledVector, vec)
	}
	v.pending.Add(1)
	c.pending.Add(1)

	select {
	case c.kick <- struct{}{}:
	default:
	}
	return nil
}

// Kick returns a channel that receives a value after Raise. An idle CPU waits
// on it before polling.
func (c *Controller) Kick() <-chan struct{} {
	return c.kick
}

// Poll is an interrupt window. If interrupts are on, every pending interrupt is
// delivered on the calling path before Poll returns. It reports whether any
// handler ran. Poll must only be called by the current owner of the CPU.
// Poll 是一个中断窗口。如果中断已开启，所有挂起的中断都会在返回前在调用路径上被处理。
func (c *Controller) Poll() bool {
	if c.pending.Load() == 0 || c.Get() == Off {
		return false
	}
	c.vecLock.RLock()
	vectors := c.vectors
	c.vecLock.RUnlock()

	ran := false
	for c.pending.Load() > 0 {
		for _, v := range vectors {
			if v == nil {
				continue
			}
			for v.pending.Load() > 0 {
				v.pending.Add(-1)
				c.pending.Add(-1)
				c.dispatch(v)
				ran = true
			}
		}
	}
	return ran
}

// dispatch runs one handler with interrupts off, the way the CPU enters an
// external interrupt gate.
func (c *Controller) dispatch(v *vector) {
	c.mu.Lock()
	c.level.Store(int32(Off))
	c.inIntr.Store(true)

	v.count.Add(1)
	v.handler()

	c.inIntr.Store(false)
	c.level.Store(int32(On))
	c.mu.Unlock()
}
