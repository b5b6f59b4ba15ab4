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

package timer

import (
	"github.com/sunyihoo/tickos/kernel/intr"
	"github.com/sunyihoo/tickos/kernel/thread"
)

// Calibrate measures loops per tick, used to implement brief delays. It needs
// interrupts on and a running tick source, and must be called on the CPU path.
//
// loops_per_tick is first approximated as the largest power of two still less
// than one timer tick, then refined by eight more bits.
// 先用 2 的幂近似每个 tick 的循环次数，再细化 8 位精度。
func (t *Timer) Calibrate() uint64 {
	if t.ic.Get() != intr.On {
		panic("timer: calibrate with interrupts off")
	}
	t.log.Info("Calibrating timer...")

	loops := uint64(1) << 10
	for !t.tooManyLoops(loops << 1) {
		loops <<= 1
		if loops == 0 {
			panic("timer: loops per tick overflow")
		}
	}
	high := loops
	for bit := high >> 1; bit != high>>10; bit >>= 1 {
		if !t.tooManyLoops(high | bit) {
			loops |= bit
		}
	}
	t.loopsPerTick.Store(loops)
	t.log.Info("Calibrated timer", "loops/tick", loops, "loops/s", loops*uint64(t.cfg.Frequency))
	return loops
}

// LoopsPerTick returns the calibrated busy-wait factor, zero before Calibrate.
func (t *Timer) LoopsPerTick() uint64 {
	return t.loopsPerTick.Load()
}

// tooManyLoops reports whether loops iterations wait for more than one timer
// tick.
func (t *Timer) tooManyLoops(loops uint64) bool {
	// Wait for a timer tick.
	start := t.clock.Now()
	for t.clock.Now() == start {
		t.ic.Poll()
	}
	// Run loops loops.
	start = t.clock.Now()
	t.busyWait(int64(loops))

	// If the tick count changed, we iterated too long.
	return start != t.clock.Now()
}

// busyWait iterates loops times. Every iteration is an interrupt window, so
// ticks keep arriving while the CPU spins.
func (t *Timer) busyWait(loops int64) {
	for ; loops > 0; loops-- {
		t.ic.Poll()
	}
}

// MSleep suspends th for approximately ms milliseconds.
func (t *Timer) MSleep(th *thread.Thread, ms int64) {
	t.realTimeSleep(th, ms, 1000)
}

// USleep suspends th for approximately us microseconds.
func (t *Timer) USleep(th *thread.Thread, us int64) {
	t.realTimeSleep(th, us, 1000*1000)
}

// NSleep suspends th for approximately ns nanoseconds.
func (t *Timer) NSleep(th *thread.Thread, ns int64) {
	t.realTimeSleep(th, ns, 1000*1000*1000)
}

// realTimeSleep sleeps for approximately num/denom seconds.
//
//	(num / denom) s
//	---------------------- = num * freq / denom ticks.
//	1 s / freq ticks
func (t *Timer) realTimeSleep(th *thread.Thread, num, denom int64) {
	ticks := num * int64(t.cfg.Frequency) / denom

	if t.ic.Get() != intr.On {
		panic("timer: real-time sleep with interrupts off")
	}
	if ticks > 0 {
		// At least one full tick: block so other threads get the CPU.
		t.Sleep(th, ticks)
		return
	}
	// Sub-tick delay: busy-wait. Numerator and denominator are scaled down by
	// 1000 to avoid overflow.
	if denom%1000 != 0 {
		panic("timer: denominator must be a multiple of 1000")
	}
	loops := int64(t.loopsPerTick.Load())
	t.busyWait(loops * num / 1000 * int64(t.cfg.Frequency) / (denom / 1000))
}
