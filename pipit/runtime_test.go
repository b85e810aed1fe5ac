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

package pipit

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmineno/pipeit/sched"
)

// tickerProgram registers one self-stopping task that counts firings.
func tickerProgram(fired *int, stopAfter int) Program {
	return Program{
		Name:    "ticker",
		Options: Options{TickRate: 1000},
		Build: func(rt *Runtime) error {
			rt.DeclareParam("gain", 1.0)
			rt.RegisterProbe("out")
			_, err := rt.AddTask(sched.Config{
				Name: "count", Freq: 500,
				Schedule: []sched.Firing{{
					Actor: "count",
					Fire: func() error {
						*fired++
						if stopAfter > 0 && *fired >= stopAfter {
							rt.StopFlag().Store(true)
						}
						return nil
					},
				}},
			})
			return err
		},
	}
}

func TestRuntimeDurationElapses(t *testing.T) {
	rt, err := New(Options{TickRate: 1000}, nil)
	require.NoError(t, err)

	fired := 0
	_, err = rt.AddTask(sched.Config{
		Name: "noop", Freq: 500,
		Schedule: []sched.Firing{{Actor: "noop", Fire: func() error { fired++; return nil }}},
	})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, rt.Run(context.Background(), 100*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Greater(t, fired, 10)
}

func TestRuntimeContextCancel(t *testing.T) {
	rt, err := New(Options{TickRate: 1000}, nil)
	require.NoError(t, err)
	_, err = rt.AddTask(sched.Config{
		Name: "noop", Freq: 100,
		Schedule: []sched.Firing{{Actor: "noop", Fire: func() error { return nil }}},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, rt.Run(ctx, Forever))
}

func TestRuntimeActorErrorPropagates(t *testing.T) {
	rt, err := New(Options{TickRate: 1000}, nil)
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = rt.AddTask(sched.Config{
		Name: "bad", Freq: 500,
		Schedule: []sched.Firing{{Actor: "explode", Fire: func() error { return boom }}},
	})
	require.NoError(t, err)

	err = rt.Run(context.Background(), Forever)
	require.ErrorIs(t, err, boom)
	var se *StartupError
	assert.False(t, errors.As(err, &se), "actor errors are runtime errors, not startup errors")
}

func TestRuntimeNoTasks(t *testing.T) {
	rt, err := New(Options{}, nil)
	require.NoError(t, err)
	err = rt.Run(context.Background(), time.Millisecond)
	var se *StartupError
	assert.ErrorAs(t, err, &se)
}

func TestRuntimeUnknownProbeAndParam(t *testing.T) {
	rt, err := New(Options{}, nil)
	require.NoError(t, err)
	rt.RegisterProbe("known")
	rt.DeclareParam("gain", 1.0)

	var se *StartupError
	assert.ErrorAs(t, rt.EnableProbe("bogus"), &se)
	assert.ErrorAs(t, rt.SetParam("bogus", 2), &se)
	assert.NoError(t, rt.EnableProbe("known"))
	assert.NoError(t, rt.SetParam("gain", 2))
}

func TestProbeEmit(t *testing.T) {
	rt, err := New(Options{}, nil)
	require.NoError(t, err)
	p := rt.RegisterProbe("sink")

	var buf bytes.Buffer
	rt.SetProbeOutput(&buf)

	p.Emit(1, 2.5)
	assert.Empty(t, buf.String(), "disabled probes are no-ops")

	require.NoError(t, rt.EnableProbe("sink"))
	p.Emit(1, 2.5)
	p.Emit(-3)
	assert.Equal(t, "[probe] sink: 1 2.5\n[probe] sink: -3\n", buf.String())
}

func TestPrintStatsFormat(t *testing.T) {
	fired := 0
	p := tickerProgram(&fired, 5)

	rt, err := New(p.Options, nil)
	require.NoError(t, err)
	require.NoError(t, p.Build(rt))
	require.NoError(t, rt.Run(context.Background(), Forever))

	var buf bytes.Buffer
	rt.PrintStats(&buf)
	out := buf.String()
	assert.Contains(t, out, "[stats] task 'count': ticks=")
	assert.Contains(t, out, "(drop)")
	assert.Contains(t, out, "max_latency=")
	assert.Contains(t, out, "avg_latency=")
}

func TestPrintStatsBufferLine(t *testing.T) {
	rt, err := New(Options{}, nil)
	require.NoError(t, err)
	_, _, err = sched.Attach[float32](rt.Arena(), "edge", 1024, 1)
	require.NoError(t, err)

	var buf bytes.Buffer
	rt.PrintStats(&buf)
	assert.Contains(t, buf.String(), "[stats] shared buffer 'edge': 0 tokens (4096B)")
}

func TestExecuteExitCodes(t *testing.T) {
	var diag bytes.Buffer

	fired := 0
	code := Execute(tickerProgram(&fired, 3), []string{"--duration", "5s"}, &diag)
	assert.Equal(t, ExitOK, code)
	assert.Greater(t, fired, 0)

	// Unknown probe name: startup error, exit 2.
	fired = 0
	diag.Reset()
	code = Execute(tickerProgram(&fired, 1), []string{"--probe", "nope"}, &diag)
	assert.Equal(t, ExitStartup, code)
	assert.Contains(t, diag.String(), "unknown probe")
	assert.Zero(t, fired, "no worker thread may start on a startup error")

	// Unknown parameter: exit 2.
	fired = 0
	code = Execute(tickerProgram(&fired, 1), []string{"--param", "nope=1"}, &diag)
	assert.Equal(t, ExitStartup, code)

	// Malformed param syntax: exit 2.
	code = Execute(tickerProgram(&fired, 1), []string{"--param", "gain"}, &diag)
	assert.Equal(t, ExitStartup, code)

	// Malformed duration: exit 2.
	code = Execute(tickerProgram(&fired, 1), []string{"--duration", "soon"}, &diag)
	assert.Equal(t, ExitStartup, code)

	// Unknown flag: exit 2.
	code = Execute(tickerProgram(&fired, 1), []string{"--bogus"}, &diag)
	assert.Equal(t, ExitStartup, code)
}

func TestExecuteRuntimeError(t *testing.T) {
	var diag bytes.Buffer
	p := Program{
		Name:    "bad",
		Options: Options{TickRate: 1000},
		Build: func(rt *Runtime) error {
			_, err := rt.AddTask(sched.Config{
				Name: "bad", Freq: 500,
				Schedule: []sched.Firing{{
					Actor: "explode",
					Fire:  func() error { return errors.New("boom") },
				}},
			})
			return err
		},
	}
	code := Execute(p, []string{"--stats"}, &diag)
	assert.Equal(t, ExitRuntime, code)
	assert.Contains(t, diag.String(), "boom")
	// --stats still emits statistics after an error.
	assert.Contains(t, diag.String(), "[stats] task 'bad'")
}

func TestExecuteParamOverride(t *testing.T) {
	var diag bytes.Buffer
	var seen float64
	p := Program{
		Name:    "params",
		Options: Options{TickRate: 1000},
		Build: func(rt *Runtime) error {
			rt.DeclareParam("gain", 1.0)
			var task *sched.Task
			task, err := rt.AddTask(sched.Config{
				Name: "watch", Freq: 500,
				Schedule: []sched.Firing{{
					Actor: "watch",
					Fire: func() error {
						seen = task.Param("gain")
						rt.StopFlag().Store(true)
						return nil
					},
				}},
			})
			return err
		},
	}
	code := Execute(p, []string{"--param", "gain=4.5"}, &diag)
	assert.Equal(t, ExitOK, code)
	assert.Equal(t, 4.5, seen)
}

func TestExecuteProbeOutputFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/probe.txt"

	var diag bytes.Buffer
	p := Program{
		Name:    "probed",
		Options: Options{TickRate: 1000},
		Build: func(rt *Runtime) error {
			probe := rt.RegisterProbe("sink")
			_, err := rt.AddTask(sched.Config{
				Name: "emit", Freq: 500,
				Schedule: []sched.Firing{{
					Actor: "emit",
					Fire: func() error {
						probe.Emit(7)
						rt.StopFlag().Store(true)
						return nil
					},
				}},
			})
			return err
		},
	}
	code := Execute(p, []string{"--probe", "sink", "--probe-output", path}, &diag)
	require.Equal(t, ExitOK, code)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "[probe] sink: 7\n"))

	// Unwritable probe output path: startup error.
	code = Execute(p, []string{"--probe-output", dir + "/missing/probe.txt"}, &diag)
	assert.Equal(t, ExitStartup, code)
}
