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
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sunyihoo/tickos/common/mclock"
)

// Entry is one pending sleep: the handle is woken once the tick counter
// reaches Deadline.
type Entry[H comparable] struct {
	Deadline mclock.Tick
	Handle   H
}

// Registry is an ordered sequence of sleep entries, sorted by deadline
// ascending. Entries with equal deadlines keep their insertion order.
//
// Registry is not safe for concurrent use. Callers serialize access through
// the interrupt-disable domain.
// Registry 不是并发安全的，调用者需要在关闭中断的情况下访问。
type Registry[H comparable] struct {
	entries []Entry[H]
	members mapset.Set[H]
}

// NewRegistry creates an empty registry.
func NewRegistry[H comparable]() *Registry[H] {
	return &Registry[H]{
		members: mapset.NewThreadUnsafeSet[H](),
	}
}

// InsertSorted links h at the upper bound of deadline, after every entry with
// a deadline less than or equal to it. A handle can be registered only once.
func (r *Registry[H]) InsertSorted(deadline mclock.Tick, h H) {
	if r.members.Contains(h) {
		panic(fmt.Sprintf("timer: %v is already asleep", h))
	}
	i := sort.Search(len(r.entries), func(i int) bool {
		return r.entries[i].Deadline > deadline
	})
	r.entries = append(r.entries, Entry[H]{})
	copy(r.entries[i+1:], r.entries[i:])
	r.entries[i] = Entry[H]{Deadline: deadline, Handle: h}
	r.members.Add(h)
}

// PopFrontWhile unlinks the leading entries for which pred holds and passes
// each of them to fn in order. It stops at the first entry failing pred and
// returns the number of entries popped. It does not allocate.
func (r *Registry[H]) PopFrontWhile(pred func(Entry[H]) bool, fn func(Entry[H])) int {
	n := 0
	for n < len(r.entries) && pred(r.entries[n]) {
		n++
	}
	if n == 0 {
		return 0
	}
	for _, e := range r.entries[:n] {
		r.members.Remove(e.Handle)
		fn(e)
	}
	r.cut(0, n)
	return n
}

// Remove unlinks h wherever it sits and reports whether it was present.
func (r *Registry[H]) Remove(h H) bool {
	if !r.members.Contains(h) {
		return false
	}
	for i, e := range r.entries {
		if e.Handle == h {
			r.cut(i, i+1)
			r.members.Remove(h)
			return true
		}
	}
	panic(fmt.Sprintf("timer: %v is a member but not linked", h))
}

// cut deletes entries[from:to] in place.
func (r *Registry[H]) cut(from, to int) {
	n := copy(r.entries[from:], r.entries[to:])
	tail := r.entries[from+n:]
	for i := range tail {
		tail[i] = Entry[H]{}
	}
	r.entries = r.entries[:from+n]
}

// Front returns the earliest entry, if any.
func (r *Registry[H]) Front() (Entry[H], bool) {
	if len(r.entries) == 0 {
		return Entry[H]{}, false
	}
	return r.entries[0], true
}

// Len returns the number of pending entries.
func (r *Registry[H]) Len() int { return len(r.entries) }

// Contains reports whether h is registered.
func (r *Registry[H]) Contains(h H) bool { return r.members.Contains(h) }

// Entries returns a copy of the pending entries in wake order.
func (r *Registry[H]) Entries() []Entry[H] {
	out := make([]Entry[H], len(r.entries))
	copy(out, r.entries)
	return out
}

// Sorted checks the ordering invariant: for all adjacent entries the earlier
// deadline is not greater than the later one.
func (r *Registry[H]) Sorted() bool {
	return sort.SliceIsSorted(r.entries, func(i, j int) bool {
		return r.entries[i].Deadline < r.entries[j].Deadline
	})
}
