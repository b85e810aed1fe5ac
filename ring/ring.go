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

package ring

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrCapacity is returned by New when capacity is not a power of two >= 2.
	ErrCapacity = errors.New("ring: capacity must be a power of two >= 2")

	// ErrReaders is returned by New when the reader count is < 1.
	ErrReaders = errors.New("ring: reader count must be >= 1")
)

const cacheLineSize = 64

// tail is one reader cursor. Each tail occupies a whole cache line so that
// independent readers never share a line. cachedHead is the reader's last
// observed head; it lives on the same line because only that reader touches it.
type tail struct {
	pos        atomic.Uint64
	cachedHead uint64
	_          [cacheLineSize - 16]byte
}

// Ring is a fixed-capacity single-writer multi-reader FIFO.
//
// The write cursor (head) and every reader cursor (tails[r]) are monotonically
// increasing 64-bit indices; slots are addressed modulo the capacity but the
// raw indices never wrap. Elements in [min(tails), head) are live. A slot is
// reusable only once every reader has advanced past it, so a stalled reader
// holds back the writer.
//
// Exactly one goroutine may call Write/WaitWritable. Each reader index must be
// used by at most one goroutine at a time.
type Ring[T any] struct {
	buf  []T
	mask uint64

	// writer metadata, kept on lines separate from the reader tails below.
	head          atomic.Uint64
	cachedTail    uint64 // writer's last observed min(tails); writer-owned
	_             [cacheLineSize - 16]byte
	writeSlowPath atomic.Uint64
	writeFail     atomic.Uint64
	writersParked atomic.Int32
	readersParked atomic.Int32
	_             [cacheLineSize - 24]byte

	tails []tail
}

// New creates a ring with the given capacity (power of two >= 2) and number
// of attached readers. All readers start at index 0.
func New[T any](capacity, readers int) (*Ring[T], error) {
	if capacity < 2 || capacity&(capacity-1) != 0 {
		return nil, ErrCapacity
	}
	if readers < 1 {
		return nil, ErrReaders
	}
	return &Ring[T]{
		buf:   make([]T, capacity),
		mask:  uint64(capacity - 1),
		tails: make([]tail, readers),
	}, nil
}

// Capacity returns the fixed token capacity.
func (r *Ring[T]) Capacity() int { return len(r.buf) }

// Readers returns the number of attached readers.
func (r *Ring[T]) Readers() int { return len(r.tails) }

// Written returns the total number of tokens ever published.
func (r *Ring[T]) Written() uint64 { return r.head.Load() }

// Len returns the number of tokens currently readable by the given reader.
func (r *Ring[T]) Len(reader int) int {
	return int(r.head.Load() - r.tails[reader].pos.Load())
}

func (r *Ring[T]) minTail() uint64 {
	min := r.tails[0].pos.Load()
	for i := 1; i < len(r.tails); i++ {
		if t := r.tails[i].pos.Load(); t < min {
			min = t
		}
	}
	return min
}

// free returns the writer's view of free slots, refreshing the cached
// min(tails) only when the cached value is not enough.
func (r *Ring[T]) free(head, need uint64) bool {
	if head-r.cachedTail+need <= uint64(len(r.buf)) {
		return true
	}
	r.writeSlowPath.Add(1)
	r.cachedTail = r.minTail()
	return head-r.cachedTail+need <= uint64(len(r.buf))
}

// Write appends all tokens of src as a single transaction. It returns false,
// writing nothing, when fewer than len(src) slots are reusable.
func (r *Ring[T]) Write(src []T) bool {
	n := uint64(len(src))
	if n == 0 {
		return true
	}
	head := r.head.Load()
	if n > uint64(len(r.buf)) || !r.free(head, n) {
		r.writeFail.Add(1)
		return false
	}
	idx := head & r.mask
	copied := copy(r.buf[idx:], src)
	if copied < len(src) {
		copy(r.buf, src[copied:])
	}
	// Publish. The store makes the payload writes above visible to any
	// reader that subsequently loads head.
	r.head.Store(head + n)
	return true
}

// Read copies len(dst) tokens starting at the reader's cursor and advances
// the cursor. It returns false, reading nothing, when fewer than len(dst)
// tokens are available for this reader.
func (r *Ring[T]) Read(reader int, dst []T) bool {
	n := uint64(len(dst))
	if n == 0 {
		return true
	}
	t := &r.tails[reader]
	pos := t.pos.Load()
	if t.cachedHead-pos < n {
		t.cachedHead = r.head.Load()
		if t.cachedHead-pos < n {
			return false
		}
	}
	idx := pos & r.mask
	copied := copy(dst, r.buf[idx:])
	if copied < len(dst) {
		copy(dst[copied:], r.buf)
	}
	// Release the slots back to the writer.
	t.pos.Store(pos + n)
	return true
}

// DebugResetWriteCounters zeroes the benchmark instrumentation counters.
func (r *Ring[T]) DebugResetWriteCounters() {
	r.writeSlowPath.Store(0)
	r.writeFail.Store(0)
}

// DebugWriteSlowPathCount reports how many writes had to refresh min(tails).
func (r *Ring[T]) DebugWriteSlowPathCount() uint64 { return r.writeSlowPath.Load() }

// DebugWriteFailCount reports how many writes were rejected for lack of room.
func (r *Ring[T]) DebugWriteFailCount() uint64 { return r.writeFail.Load() }
