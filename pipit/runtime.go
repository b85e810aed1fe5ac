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

// Package pipit is the runtime shell for compiled dataflow programs: it owns
// the shared-buffer arena, the task threads, the PPKT receivers, probes,
// runtime parameters, and the process lifecycle (CLI, signals, statistics).
package pipit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tmineno/pipeit/internal/cpupin"
	"github.com/tmineno/pipeit/ppkt"
	"github.com/tmineno/pipeit/sched"
)

// StartupError marks a validation failure detected before any worker thread
// starts; the process exits with code 2.
type StartupError struct {
	Err error
}

func (e *StartupError) Error() string { return e.Err.Error() }
func (e *StartupError) Unwrap() error { return e.Err }

func startupErrorf(format string, args ...any) *StartupError {
	return &StartupError{Err: fmt.Errorf(format, args...)}
}

// Runtime drives one compiled program. Generated code registers buffers,
// tasks, receivers, parameters and probes during Build, then the CLI calls
// Run.
type Runtime struct {
	log    *zap.SugaredLogger
	opts   Normalized
	arena  *sched.Arena
	params *sched.Params
	stop   atomic.Bool

	tasks      []*sched.Task
	receivers  []*ppkt.Receiver
	probes     map[string]*Probe
	probeOrder []string
	probeOut   io.Writer
}

// New creates a runtime from the compiled options.
func New(opts Options, log *zap.SugaredLogger) (*Runtime, error) {
	n, err := opts.Normalize()
	if err != nil {
		return nil, &StartupError{Err: err}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Runtime{
		log:      log,
		opts:     n,
		arena:    sched.NewArena(n.MemBytes),
		params:   sched.NewParams(),
		probes:   make(map[string]*Probe),
		probeOut: os.Stderr,
	}, nil
}

// Arena returns the shared-buffer arena.
func (rt *Runtime) Arena() *sched.Arena { return rt.arena }

// Params returns the runtime parameter table.
func (rt *Runtime) Params() *sched.Params { return rt.params }

// StopFlag returns the global cooperative stop flag.
func (rt *Runtime) StopFlag() *atomic.Bool { return &rt.stop }

// Log returns the runtime logger.
func (rt *Runtime) Log() *zap.SugaredLogger { return rt.log }

// AddTask builds a task from the compiled schedule. The global runtime
// options (tick rate, overrun policy, spin window, wait timeout) override
// the corresponding Config fields.
func (rt *Runtime) AddTask(cfg sched.Config) (*sched.Task, error) {
	cfg.TickRate = rt.opts.TickRate
	cfg.Policy = rt.opts.Policy
	cfg.SpinWindow = rt.opts.SpinWindow
	cfg.WaitTimeout = rt.opts.WaitTimeout
	cfg.Params = rt.params
	cfg.Log = rt.log

	t, err := sched.NewTask(cfg, &rt.stop)
	if err != nil {
		return nil, &StartupError{Err: err}
	}
	rt.tasks = append(rt.tasks, t)
	return t, nil
}

// Tasks returns the registered tasks in registration order.
func (rt *Runtime) Tasks() []*sched.Task { return rt.tasks }

// AddReceiver binds a datagram source and returns the assembler its reader
// tasks snapshot from.
func (rt *Runtime) AddReceiver(addr string, channelBufCap int) (*ppkt.Assembler, error) {
	asm := ppkt.NewAssembler(channelBufCap)
	recv, err := ppkt.NewReceiver(addr, asm, rt.log)
	if err != nil {
		return nil, &StartupError{Err: err}
	}
	rt.receivers = append(rt.receivers, recv)
	return asm, nil
}

// DeclareParam registers a runtime parameter with its default value.
func (rt *Runtime) DeclareParam(name string, def float64) {
	rt.params.Declare(name, def)
}

// SetParam applies a --param override. Unknown names are startup errors.
func (rt *Runtime) SetParam(name string, v float64) error {
	if err := rt.params.Set(name, v); err != nil {
		return &StartupError{Err: err}
	}
	return nil
}

// RegisterProbe declares a named probe; generated taps hold the returned
// handle and Emit into it.
func (rt *Runtime) RegisterProbe(name string) *Probe {
	if p, ok := rt.probes[name]; ok {
		return p
	}
	p := &Probe{name: name, out: rt.probeOut}
	rt.probes[name] = p
	rt.probeOrder = append(rt.probeOrder, name)
	return p
}

// EnableProbe turns on one probe by name. Unknown names are startup errors.
func (rt *Runtime) EnableProbe(name string) error {
	p, ok := rt.probes[name]
	if !ok {
		known := append([]string(nil), rt.probeOrder...)
		sort.Strings(known)
		return startupErrorf("pipit: unknown probe %q (have %v)", name, known)
	}
	p.enabled.Store(true)
	return nil
}

// SetProbeOutput redirects all probe output, e.g. to the --probe-output
// file. Call before Run.
func (rt *Runtime) SetProbeOutput(w io.Writer) {
	rt.probeOut = w
	for _, p := range rt.probes {
		p.mu.Lock()
		p.out = w
		p.mu.Unlock()
	}
}

// joinTimeout bounds how long Run waits for task threads after stop:
// 2 x the slowest task period + the wait timeout.
func (rt *Runtime) joinTimeout() time.Duration {
	max := rt.opts.WaitTimeout
	for _, t := range rt.tasks {
		if jt := t.JoinTimeout(); jt > max {
			max = jt
		}
	}
	return max
}

// Run starts every receiver and task thread, then blocks until the duration
// elapses (Forever blocks indefinitely), the context is cancelled (SIGINT),
// or a fatal task error sets the stop flag. Shutdown is cooperative: the
// flag is set, tasks exit at tick boundaries, and the main thread joins
// them within a bounded wait. The returned error is nil for a normal exit,
// a StartupError when no task is registered, an error when the tasks do not
// exit within the join timeout, and the first fatal task error otherwise.
func (rt *Runtime) Run(ctx context.Context, d time.Duration) error {
	if len(rt.tasks) == 0 {
		return startupErrorf("pipit: program has no tasks")
	}
	pin := cpupin.Enabled()

	for _, r := range rt.receivers {
		r.Start()
	}

	var g errgroup.Group
	for i, t := range rt.tasks {
		g.Go(func() error {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			if pin {
				if err := cpupin.Pin(i); err != nil {
					rt.log.Warnw("cpu pinning failed", "task", t.Name(), "error", err)
				}
			}
			t.Run()
			return t.Err()
		})
	}
	joined := make(chan error, 1)
	go func() { joined <- g.Wait() }()

	var timerC <-chan time.Time
	if d > 0 {
		tm := time.NewTimer(d)
		defer tm.Stop()
		timerC = tm.C
	}

	var joinErr error
	joinedEarly := false
	select {
	case <-ctx.Done():
	case <-timerC:
	case joinErr = <-joined:
		joinedEarly = true
	}

	rt.stop.Store(true)
	for _, r := range rt.receivers {
		r.Stop()
	}

	if !joinedEarly {
		jt := rt.joinTimeout()
		select {
		case joinErr = <-joined:
		case <-time.After(jt):
			rt.log.Warnw("tasks did not exit within the join timeout", "timeout", jt)
			return errors.New("pipit: shutdown join timed out")
		}
	}
	return joinErr
}

// PrintStats emits the per-task and per-buffer statistics lines to w. Call
// only after Run has returned.
func (rt *Runtime) PrintStats(w io.Writer) {
	for _, t := range rt.tasks {
		s := t.Stats()
		fmt.Fprintf(w, "[stats] task '%s': ticks=%d, missed=%d (%s), max_latency=%dns, avg_latency=%dns\n",
			t.Name(), s.Ticks, s.Missed, t.Timer().Policy(),
			s.MaxLatency.Nanoseconds(), s.AvgLatency().Nanoseconds())
	}
	for _, b := range rt.arena.Stats() {
		fmt.Fprintf(w, "[stats] shared buffer '%s': %d tokens (%dB)\n",
			b.Name, b.Tokens, b.Bytes)
	}
}
