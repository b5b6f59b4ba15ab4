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

package mclock

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errBadFrequency = errors.New("mclock: source frequency must be positive")

// Source drives the timer interrupt line. Run calls fire once per tick until
// ctx is cancelled.
// Source 驱动定时器中断线。Run 每个 tick 调用一次 fire，直到 ctx 被取消。
type Source interface {
	Run(ctx context.Context, fire func()) error
}

// System implements Source using the system clock, firing Hz times per second.
type System struct {
	Hz int
}

// Run fires on every period of a wall-clock ticker.
func (s System) Run(ctx context.Context, fire func()) error {
	if s.Hz <= 0 {
		return errBadFrequency
	}
	ticker := time.NewTicker(time.Second / time.Duration(s.Hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fire()
		}
	}
}

// Simulated implements a virtual interrupt line that only fires on request.
// It is useful for deterministic runs where time should move exactly when the
// caller says so.
//
// The zero value is ready to use.
// 模拟中断线只在请求时触发，用于确定性的运行。零值即可直接使用。
type Simulated struct {
	once sync.Once
	req  chan simRequest
}

type simRequest struct {
	n    int
	done chan struct{}
}

func (s *Simulated) init() {
	s.req = make(chan simRequest)
}

// Advance fires n ticks through the running source and waits until all of
// them have been delivered.
func (s *Simulated) Advance(ctx context.Context, n int) error {
	s.once.Do(s.init)

	r := simRequest{n: n, done: make(chan struct{})}
	select {
	case s.req <- r:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run serves Advance requests until ctx is cancelled.
func (s *Simulated) Run(ctx context.Context, fire func()) error {
	s.once.Do(s.init)

	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-s.req:
			for i := 0; i < r.n; i++ {
				fire()
			}
			close(r.done)
		}
	}
}
