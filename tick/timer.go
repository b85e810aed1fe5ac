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

// Package tick provides the per-task deadline generator: a periodic timer
// with hybrid sleep/spin waiting, overrun policies, and an adaptive
// EWMA-calibrated spin window.
package tick

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// OverrunPolicy selects how a missed deadline advances the schedule.
type OverrunPolicy uint8

const (
	// Drop skips the missed periods entirely.
	Drop OverrunPolicy = iota
	// Slip re-anchors the next deadline to now + period.
	Slip
	// Backlog keeps the nominal cadence and lets the task loop fire
	// catch-up iterations until the deficit is paid off.
	Backlog
)

func (p OverrunPolicy) String() string {
	switch p {
	case Drop:
		return "drop"
	case Slip:
		return "slip"
	case Backlog:
		return "backlog"
	}
	return "unknown"
}

// ParsePolicy parses the textual policy names used by the compiled schedule.
func ParsePolicy(s string) (OverrunPolicy, error) {
	switch s {
	case "", "drop":
		return Drop, nil
	case "slip":
		return Slip, nil
	case "backlog":
		return Backlog, nil
	}
	return Drop, fmt.Errorf("tick: unknown overrun policy %q", s)
}

// State is the timer's coarse lifecycle state, driven by Wait.
type State uint8

const (
	// Idle is the pre-first-wait state; the deadline is unanchored.
	Idle State = iota
	// Waiting means a Wait call is in its sleep/spin phase.
	Waiting
	// Fired means the last deadline was reached on time.
	Fired
	// OverrunFired means the last deadline was missed.
	OverrunFired
)

// Spin window clamp and EWMA parameters. The update is integer-only so the
// per-tick overhead stays at a few nanoseconds.
const (
	minSpinWindow = 500 * time.Nanosecond
	maxSpinWindow = 100 * time.Microsecond

	// A wake-up latency beyond period << resetShift would overflow the
	// missed-tick accounting; the timer re-anchors instead.
	resetShift = 30
)

var errFrequency = errors.New("tick: frequency must be > 0")

// Option configures a Timer.
type Option func(*Timer)

// WithPolicy sets the overrun policy (default Drop).
func WithPolicy(p OverrunPolicy) Option {
	return func(t *Timer) { t.policy = p }
}

// WithSpinWindow fixes the spin window. A negative value selects the
// adaptive EWMA window; zero disables spinning entirely.
func WithSpinWindow(d time.Duration) Option {
	return func(t *Timer) {
		if d < 0 {
			t.autoSpin = true
			t.spinWindow = int64(minSpinWindow)
			return
		}
		t.autoSpin = false
		t.spinWindow = int64(d)
	}
}

// WithLatencyMeasurement toggles wake-up latency recording (default on).
func WithLatencyMeasurement(on bool) Option {
	return func(t *Timer) { t.measure = on }
}

// WithClock overrides the clock, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(t *Timer) { t.clock = c }
}

// Timer generates periodic deadlines for one task. It is not safe for
// concurrent use; exactly the owning task thread drives it.
type Timer struct {
	clock  clockwork.Clock
	period time.Duration
	policy OverrunPolicy

	deadline    time.Time
	state       State
	measure     bool
	autoSpin    bool
	spinWindow  int64 // ns
	ewma        int64 // ns
	overrun     bool
	lastLatency time.Duration
	missed      int64
	outstanding int64 // backlog periods not yet re-observed
}

// NewTimer creates a timer firing at the given frequency. The default
// configuration is Drop policy, adaptive spin window, latency measurement on.
func NewTimer(freqHz float64, opts ...Option) (*Timer, error) {
	if freqHz <= 0 {
		return nil, errFrequency
	}
	t := &Timer{
		clock:      clockwork.NewRealClock(),
		period:     time.Duration(float64(time.Second) / freqHz),
		measure:    true,
		autoSpin:   true,
		spinWindow: int64(minSpinWindow),
	}
	for _, o := range opts {
		o(t)
	}
	if t.period <= 0 {
		return nil, errFrequency
	}
	return t, nil
}

// Period returns the tick period.
func (t *Timer) Period() time.Duration { return t.period }

// Policy returns the overrun policy.
func (t *Timer) Policy() OverrunPolicy { return t.policy }

// Overrun reports whether the last Wait returned after its deadline.
func (t *Timer) Overrun() bool { return t.overrun }

// MissedCount returns the total number of periods skipped since construction.
func (t *Timer) MissedCount() int64 { return t.missed }

// Backlog returns the catch-up periods still owed under the Backlog policy.
func (t *Timer) Backlog() int64 { return t.outstanding }

// LastLatency returns the wake-up jitter of the last Wait.
func (t *Timer) LastLatency() time.Duration { return t.lastLatency }

// SpinWindow returns the current spin window width.
func (t *Timer) SpinWindow() time.Duration { return time.Duration(t.spinWindow) }

// State returns the timer's lifecycle state.
func (t *Timer) State() State { return t.state }

// ResetPhase reanchors the deadline to "now" at the next Wait, e.g. after a
// long stall. Accumulated missed-tick counts are kept.
func (t *Timer) ResetPhase() {
	t.state = Idle
	t.deadline = time.Time{}
	t.overrun = false
	t.outstanding = 0
}

// Wait blocks until the next scheduled deadline: sleep to within one spin
// window of the deadline, then busy-poll the clock. It never reports errors;
// a clock stepping backward is treated as zero elapsed and the wait retries.
func (t *Timer) Wait() {
	now := t.clock.Now()
	if t.state == Idle {
		t.deadline = now.Add(t.period)
	}
	t.state = Waiting

	spin := time.Duration(t.spinWindow)
	for {
		rem := t.deadline.Sub(now)
		if rem <= spin {
			break
		}
		t.clock.Sleep(rem - spin)
		now = t.clock.Now()
	}
	for now.Before(t.deadline) {
		now = t.clock.Now()
	}

	lat := now.Sub(t.deadline)
	if lat < 0 {
		lat = 0
	}
	if t.measure {
		t.lastLatency = lat
	}
	if t.autoSpin {
		t.updateSpinWindow(int64(lat))
	}

	if t.period > 0 && int64(lat)/int64(t.period) >= 1<<resetShift {
		// Pathological stall; re-anchor instead of overflowing counters.
		t.ResetPhase()
		t.overrun = true
		t.state = OverrunFired
		return
	}

	t.overrun = lat > 0
	if !t.overrun {
		t.deadline = t.deadline.Add(t.period)
		t.state = Fired
		return
	}

	skipped := int64(lat / t.period)
	switch t.policy {
	case Drop:
		t.deadline = t.deadline.Add(time.Duration(skipped+1) * t.period)
		t.missed += skipped
	case Slip:
		t.deadline = now.Add(t.period)
		t.missed++
	case Backlog:
		// Count only periods not already owed, then pay one off by
		// advancing the deadline a single period. The task loop drains
		// the rest through catch-up iterations.
		if newly := skipped - t.outstanding; newly > 0 {
			t.missed += newly
			t.outstanding = skipped
		}
		t.deadline = t.deadline.Add(t.period)
		if t.outstanding > 0 {
			t.outstanding--
		}
	}
	t.state = OverrunFired
}

// updateSpinWindow folds the observed jitter into the EWMA and derives the
// next spin window: ewma = (7*ewma + jitter) / 8, window = clamp(2*ewma).
func (t *Timer) updateSpinWindow(jitterNS int64) {
	t.ewma = (t.ewma*7 + jitterNS) / 8
	w := 2 * t.ewma
	if w < int64(minSpinWindow) {
		w = int64(minSpinWindow)
	} else if w > int64(maxSpinWindow) {
		w = int64(maxSpinWindow)
	}
	t.spinWindow = w
}
