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
	"runtime"
	"sync/atomic"
	"time"
)

// WaitResult is the outcome of a blocking ring wait.
type WaitResult uint8

const (
	// Ready means the requested number of tokens is available.
	Ready WaitResult = iota
	// Timeout means the wait budget elapsed before the predicate held.
	Timeout
	// Stopped means the stop flag was observed set.
	Stopped
)

func (w WaitResult) String() string {
	switch w {
	case Ready:
		return "ready"
	case Timeout:
		return "timeout"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Wait phase budgets. Spin catches wake-ups that arrive within a few
// microseconds, yield hands the core off cooperatively for a while longer,
// and the sleep phase re-checks the predicate between short sleeps so that
// stop and timeout are observed promptly.
const (
	spinBudget     = 5 * time.Microsecond
	yieldBudget    = 200 * time.Microsecond
	sleepStep      = time.Millisecond
	defaultTimeout = 50 * time.Millisecond
)

// WaitReadable suspends until at least n tokens are available for the given
// reader, the stop flag is set, or the timeout elapses. A timeout <= 0 uses
// the 50 ms default.
func (r *Ring[T]) WaitReadable(reader, n int, stop *atomic.Bool, timeout time.Duration) WaitResult {
	return waitCond(func() bool { return r.Len(reader) >= n }, stop, timeout, &r.readersParked)
}

// WaitWritable suspends until at least n slots are reusable, the stop flag is
// set, or the timeout elapses. Only the writer may call it.
func (r *Ring[T]) WaitWritable(n int, stop *atomic.Bool, timeout time.Duration) WaitResult {
	pred := func() bool {
		head := r.head.Load()
		return r.free(head, uint64(n))
	}
	return waitCond(pred, stop, timeout, &r.writersParked)
}

// waitCond cycles through spin, yield and sleep phases, re-examining the stop
// flag and the deadline at every step. Spurious wake-ups resume the current
// phase; Ready is returned only once the predicate holds.
func waitCond(pred func() bool, stop *atomic.Bool, timeout time.Duration, parked *atomic.Int32) WaitResult {
	if pred() {
		return Ready
	}
	if stop != nil && stop.Load() {
		return Stopped
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	deadline := time.Now().Add(timeout)

	for end := time.Now().Add(spinBudget); time.Now().Before(end); {
		if pred() {
			return Ready
		}
		if stop != nil && stop.Load() {
			return Stopped
		}
	}

	for end := time.Now().Add(yieldBudget); time.Now().Before(end); {
		if pred() {
			return Ready
		}
		if stop != nil && stop.Load() {
			return Stopped
		}
		runtime.Gosched()
	}

	parked.Add(1)
	defer parked.Add(-1)
	for {
		if pred() {
			return Ready
		}
		if stop != nil && stop.Load() {
			return Stopped
		}
		now := time.Now()
		if !now.Before(deadline) {
			return Timeout
		}
		step := sleepStep
		if rem := deadline.Sub(now); rem < step {
			step = rem
		}
		time.Sleep(step)
	}
}

// DebugReadersParked reports readers currently in the sleep phase.
func (r *Ring[T]) DebugReadersParked() int { return int(r.readersParked.Load()) }

// DebugWritersParked reports writers currently in the sleep phase.
func (r *Ring[T]) DebugWritersParked() int { return int(r.writersParked.Load()) }
