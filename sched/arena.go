/*
 * Copyright 2025 Pipit Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sched

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/tmineno/pipeit/ring"
)

// ErrMemBudget is returned when registering a buffer would exceed the
// shared-memory pool configured by the compiled schedule's mem option.
var ErrMemBudget = errors.New("sched: shared-memory budget exceeded")

// Handle identifies a shared buffer inside an Arena. Tasks hold handles, not
// buffer pointers, so the task/edge/buffer graph stays cycle-free.
type Handle int

// BufferStat is one buffer's line in the statistics output.
type BufferStat struct {
	Name   string
	Tokens uint64
	Bytes  uint64
}

type arenaEntry struct {
	name    string
	bytes   uint64
	written func() uint64
	buf     any
}

// Arena owns every shared ring buffer of a program, keyed by integer
// handles, and enforces the total memory budget. All registration happens
// at startup, before any task thread runs; afterwards the arena is
// read-only.
type Arena struct {
	budget  uint64 // bytes; 0 means unlimited
	used    uint64
	entries []arenaEntry
}

// NewArena creates an arena with the given byte budget (0 = unlimited).
func NewArena(budgetBytes uint64) *Arena {
	return &Arena{budget: budgetBytes}
}

// Attach allocates a shared buffer in the arena and returns it together with
// its handle. The capacity must be a power of two >= 2.
func Attach[T any](a *Arena, name string, capacity, readers int) (*ring.Ring[T], Handle, error) {
	var zero T
	bytes := uint64(capacity) * uint64(unsafe.Sizeof(zero))
	if a.budget > 0 && a.used+bytes > a.budget {
		return nil, 0, fmt.Errorf("%w: buffer %q needs %dB, %dB of %dB in use",
			ErrMemBudget, name, bytes, a.used, a.budget)
	}
	r, err := ring.New[T](capacity, readers)
	if err != nil {
		return nil, 0, fmt.Errorf("sched: buffer %q: %w", name, err)
	}
	a.used += bytes
	h := Handle(len(a.entries))
	a.entries = append(a.entries, arenaEntry{
		name:    name,
		bytes:   bytes,
		written: r.Written,
		buf:     r,
	})
	return r, h, nil
}

// Buffer returns the raw buffer registered under the handle. The caller
// asserts it back to its concrete *ring.Ring[T] type.
func (a *Arena) Buffer(h Handle) any {
	return a.entries[h].buf
}

// Used returns the bytes currently allocated from the budget.
func (a *Arena) Used() uint64 { return a.used }

// Stats returns one entry per registered buffer, in registration order.
func (a *Arena) Stats() []BufferStat {
	out := make([]BufferStat, len(a.entries))
	for i, e := range a.entries {
		out[i] = BufferStat{Name: e.name, Tokens: e.written(), Bytes: e.bytes}
	}
	return out
}
