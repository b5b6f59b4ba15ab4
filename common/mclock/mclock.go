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

// Package mclock is the kernel's monotonic tick clock.
package mclock

import (
	"strconv"
	"sync/atomic"
)

// Tick represents one period of the timer interrupt. Tick values taken from
// the same Counter are totally ordered and never decrease.
type Tick int64

// Add returns t + n as absolute tick.
func (t Tick) Add(n int64) Tick {
	return t + Tick(n)
}

// Sub returns t - t2 as a tick count.
func (t Tick) Sub(t2 Tick) int64 {
	return int64(t - t2)
}

func (t Tick) String() string {
	return strconv.FormatInt(int64(t), 10)
}

// The Clock interface makes it possible to replace the kernel tick counter with
// a fake clock in tests.
// Clock 接口使得可以在测试中用假时钟替换内核的 tick 计数器。
type Clock interface {
	Now() Tick
}

// Counter counts timer interrupts since boot. The zero value is a counter at
// tick 0, which is what the kernel starts with.
//
// Reads are single atomic 64-bit loads, so a reader can never observe a torn
// value even on 32-bit platforms. Advance must only be called from the timer
// interrupt handler; it is the sole writer.
// 读操作是一次原子 64 位加载，即使在 32 位平台上也不会读到被撕裂的值。
// Advance 只能由定时器中断处理程序调用，它是唯一的写者。
type Counter struct {
	ticks atomic.Int64
}

// Now returns the number of ticks since boot.
func (c *Counter) Now() Tick {
	return Tick(c.ticks.Load())
}

// Advance bumps the counter by one and returns the new value.
func (c *Counter) Advance() Tick {
	return Tick(c.ticks.Add(1))
}

// Elapsed returns the number of ticks elapsed since then, which should be a
// value once returned by Now.
func (c *Counter) Elapsed(then Tick) int64 {
	return c.Now().Sub(then)
}
