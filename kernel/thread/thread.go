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

// Package thread implements kernel threads and the round-robin scheduler of the
// simulated uniprocessor.
package thread

import (
	"fmt"
	"sync/atomic"
)

// ID identifies a thread. The idle thread is always ID 0.
type ID int

// Status is the life cycle state of a thread.
type Status int32

const (
	Running Status = iota // Running thread.
	Ready                 // Not running but ready to run.
	Blocked               // Waiting for an event to trigger.
	Dying                 // About to be destroyed.
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Ready:
		return "ready"
	case Blocked:
		return "blocked"
	case Dying:
		return "dying"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// Thread is a kernel thread. Each thread is backed by one goroutine that only
// executes while the scheduler has handed it the CPU.
// 每个内核线程由一个 goroutine 支撑，只有在调度器把 CPU 交给它时才会执行。
type Thread struct {
	id     ID
	name   string
	status atomic.Int32
	fn     func(*Thread)

	next *Thread // ready queue link, guarded by the interrupt domain

	resume chan struct{} // CPU handoff; closed when the thread is killed
}

// ID returns the thread identifier.
func (t *Thread) ID() ID { return t.id }

// Name returns the thread name.
func (t *Thread) Name() string { return t.name }

// Status returns the current life cycle state.
func (t *Thread) Status() Status { return Status(t.status.Load()) }

func (t *Thread) setStatus(s Status) { t.status.Store(int32(s)) }

func (t *Thread) String() string {
	return fmt.Sprintf("%s#%d", t.name, t.id)
}

// queue is an intrusive FIFO of threads. Pushing never allocates, which keeps
// Unblock legal in interrupt context.
type queue struct {
	head, tail *Thread
	n          int
}

func (q *queue) push(t *Thread) {
	t.next = nil
	if q.tail == nil {
		q.head = t
	} else {
		q.tail.next = t
	}
	q.tail = t
	q.n++
}

func (q *queue) pop() *Thread {
	t := q.head
	if t == nil {
		return nil
	}
	q.head = t.next
	if q.head == nil {
		q.tail = nil
	}
	t.next = nil
	q.n--
	return t
}

func (q *queue) remove(t *Thread) bool {
	var prev *Thread
	for cur := q.head; cur != nil; prev, cur = cur, cur.next {
		if cur != t {
			continue
		}
		if prev == nil {
			q.head = cur.next
		} else {
			prev.next = cur.next
		}
		if q.tail == cur {
			q.tail = prev
		}
		cur.next = nil
		q.n--
		return true
	}
	return false
}

func (q *queue) len() int { return q.n }
