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

// Package sched drives clocked tasks: each task couples one timer with a
// static schedule of actor firings and the ring-buffer endpoints that
// connect it to its peers.
package sched

import (
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tmineno/pipeit/ring"
	"github.com/tmineno/pipeit/tick"
)

// Wait-timeout clamp for ring-buffer waits.
const (
	DefaultWaitTimeout = 50 * time.Millisecond
	minWaitTimeout     = time.Millisecond
	maxWaitTimeout     = 60 * time.Second
)

// Waiter is the blocking surface of a shared buffer, type-erased so one task
// can hold endpoints of buffers with different token types.
type Waiter interface {
	WaitReadable(reader, n int, stop *atomic.Bool, timeout time.Duration) ring.WaitResult
	WaitWritable(n int, stop *atomic.Bool, timeout time.Duration) ring.WaitResult
}

// Firing is one entry of the PASS schedule: a named actor and its typed
// compute closure. The closure is synchronous pure compute over spans; all
// blocking belongs to the task loop, never to the actor.
type Firing struct {
	Actor string
	Fire  func() error
}

// Inbound is a shared-buffer endpoint the task consumes from. Tokens gives
// the per-iteration token need the scheduler waits for; the actual read
// happens inside the consuming actor's closure.
type Inbound struct {
	Buffer string
	W      Waiter
	Reader int
	Tokens int
}

// Outbound is a shared-buffer endpoint the task produces into. Flush pushes
// the iteration's staged tokens and reports whether the buffer took them.
type Outbound struct {
	Buffer string
	W      Waiter
	Tokens int
	Flush  func() bool
}

// Config assembles one task from compiler output.
type Config struct {
	Name string
	// Freq is the task's target frequency in Hz.
	Freq float64
	// TickRate is the global timer wake frequency (default 10 kHz); it
	// determines the K-factor.
	TickRate float64
	Policy   tick.OverrunPolicy
	// SpinWindow < 0 selects the adaptive EWMA window.
	SpinWindow  time.Duration
	WaitTimeout time.Duration
	Schedule    []Firing
	In          []Inbound
	Out         []Outbound
	Params      *Params
	Log         *zap.SugaredLogger
}

// Task is one independently clocked unit of execution. It owns its timer,
// stats, and schedule; it shares ring buffers only through endpoints.
type Task struct {
	name        string
	freq        float64
	k           int
	timer       *tick.Timer
	schedule    []Firing
	in          []Inbound
	out         []Outbound
	params      *Params
	waitTimeout time.Duration
	stop        *atomic.Bool
	log         *zap.SugaredLogger

	stats Stats
	view  paramSet
	acked int64
	err   error
}

// NewTask builds a task from its config. The timer frequency is freq/K so
// that K schedule iterations per tick meet the target rate.
func NewTask(cfg Config, stop *atomic.Bool) (*Task, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("sched: task needs a name")
	}
	if cfg.Freq <= 0 {
		return nil, fmt.Errorf("sched: task %q: frequency must be > 0", cfg.Name)
	}
	tickRate := cfg.TickRate
	if tickRate <= 0 {
		tickRate = 10_000
	}
	k := int(math.Ceil(cfg.Freq / tickRate))
	if k < 1 {
		k = 1
	}
	timer, err := tick.NewTimer(cfg.Freq/float64(k),
		tick.WithPolicy(cfg.Policy),
		tick.WithSpinWindow(cfg.SpinWindow),
	)
	if err != nil {
		return nil, fmt.Errorf("sched: task %q: %w", cfg.Name, err)
	}
	wt := cfg.WaitTimeout
	if wt == 0 {
		wt = DefaultWaitTimeout
	}
	if wt < minWaitTimeout {
		wt = minWaitTimeout
	} else if wt > maxWaitTimeout {
		wt = maxWaitTimeout
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Task{
		name:        cfg.Name,
		freq:        cfg.Freq,
		k:           k,
		timer:       timer,
		schedule:    cfg.Schedule,
		in:          cfg.In,
		out:         cfg.Out,
		params:      cfg.Params,
		waitTimeout: wt,
		stop:        stop,
		log:         log,
	}, nil
}

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// K returns the iterations-per-tick factor.
func (t *Task) K() int { return t.k }

// Timer exposes the task's timer for observability.
func (t *Task) Timer() *tick.Timer { return t.timer }

// Stats returns the task counters. Valid only after the task has stopped.
func (t *Task) Stats() Stats { return t.stats }

// Err returns the fatal error that stopped the task, if any. Valid only
// after the task has stopped.
func (t *Task) Err() error { return t.err }

// Param reads a runtime parameter from the snapshot promoted at the current
// tick boundary. Within one iteration the value is stable.
func (t *Task) Param(name string) float64 {
	return t.view[name]
}

// JoinTimeout is the bounded wait the main thread allows this task at
// shutdown.
func (t *Task) JoinTimeout() time.Duration {
	return 2*t.timer.Period() + t.waitTimeout
}

// fail records a fatal task error and requests cooperative shutdown.
func (t *Task) fail(err error) {
	t.err = err
	t.stop.Store(true)
	t.log.Errorw("task failed", "task", t.name, "error", err)
}

// Run drives the task until the stop flag is set or a fatal condition
// occurs. It is called on a dedicated goroutine which it pins to an OS
// thread for the duration.
func (t *Task) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for !t.stop.Load() {
		// Promote runtime parameters at the iteration boundary; no
		// mid-tick mutation is observable.
		if t.params != nil {
			t.view = t.params.snapshot()
		}

		t.timer.Wait()
		if t.stop.Load() {
			break
		}

		catchup := 0
		if t.timer.Policy() == tick.Backlog {
			if t.timer.MissedCount() > t.acked {
				catchup = 1
			}
		}

		iters := t.k + catchup
		for i := 0; i < iters; i++ {
			if !t.runIteration() {
				return
			}
		}
		t.acked += int64(catchup)

		t.stats.RecordTick(t.timer.LastLatency())
		t.stats.RecordMissed(t.timer.MissedCount())
	}
}

// runIteration executes one pass of the schedule. It returns false when the
// task must exit (stop observed or fatal error recorded).
func (t *Task) runIteration() bool {
	for i := range t.in {
		in := &t.in[i]
		switch in.W.WaitReadable(in.Reader, in.Tokens, t.stop, t.waitTimeout) {
		case ring.Stopped:
			return false
		case ring.Timeout:
			t.fail(fmt.Errorf("sched: task %q: stalled waiting %v for %d tokens on buffer %q",
				t.name, t.waitTimeout, in.Tokens, in.Buffer))
			return false
		}
	}

	for i := range t.schedule {
		f := &t.schedule[i]
		if err := f.Fire(); err != nil {
			t.fail(fmt.Errorf("sched: task %q: actor %q: %w", t.name, f.Actor, err))
			return false
		}
	}

	for i := range t.out {
		out := &t.out[i]
		for !out.Flush() {
			switch out.W.WaitWritable(out.Tokens, t.stop, t.waitTimeout) {
			case ring.Stopped:
				return false
			case ring.Timeout:
				t.fail(fmt.Errorf("sched: task %q: stalled waiting %v for %d slots on buffer %q",
					t.name, t.waitTimeout, out.Tokens, out.Buffer))
				return false
			}
		}
	}
	return true
}
