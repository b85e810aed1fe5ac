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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/tmineno/pipeit/internal/logging"
)

// Exit codes of generated executables.
const (
	ExitOK      = 0
	ExitRuntime = 1
	ExitStartup = 2
)

// Program is what the code generator emits: compiled options plus the Build
// hook that registers buffers, tasks, receivers, parameters and probes.
type Program struct {
	Name    string
	Options Options
	Build   func(rt *Runtime) error
}

// Main runs the program and exits the process with the appropriate code.
// Generated main functions are one line: pipit.Main(program).
func Main(p Program) {
	os.Exit(Execute(p, os.Args[1:], os.Stderr))
}

// Execute runs the program against the given CLI arguments and returns the
// process exit code: 0 for a normal exit (duration elapsed or SIGINT),
// 1 for a runtime actor error or stall, 2 for startup/validation errors.
func Execute(p Program, args []string, diag io.Writer) int {
	var (
		durationStr string
		paramArgs   []string
		statsFlag   bool
		probeArgs   []string
		probeOutput string
		threads     int
	)

	cmd := &cobra.Command{
		Use:           p.Name,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().StringVar(&durationStr, "duration", "inf", "run duration (e.g. 10s, 1m, bare seconds, or inf)")
	cmd.Flags().StringArrayVar(&paramArgs, "param", nil, "override a runtime parameter, name=value")
	cmd.Flags().BoolVar(&statsFlag, "stats", false, "print per-task and per-buffer statistics at exit")
	cmd.Flags().StringArrayVar(&probeArgs, "probe", nil, "enable a named probe")
	cmd.Flags().StringVar(&probeOutput, "probe-output", "", "redirect probe output to a file")
	cmd.Flags().IntVar(&threads, "threads", 0, "advisory thread hint")

	var rt *Runtime
	var probeFile *os.File

	cmd.RunE = func(cmd *cobra.Command, posArgs []string) error {
		if len(posArgs) > 0 {
			return startupErrorf("pipit: unexpected argument %q", posArgs[0])
		}
		d, err := ParseDuration(durationStr)
		if err != nil {
			return &StartupError{Err: err}
		}

		log, err := logging.Init(zapcore.InfoLevel)
		if err != nil {
			return &StartupError{Err: err}
		}
		defer func() { _ = log.Sync() }()

		rt, err = New(p.Options, log)
		if err != nil {
			return err
		}
		if p.Build != nil {
			if err := p.Build(rt); err != nil {
				var se *StartupError
				if errors.As(err, &se) {
					return err
				}
				return &StartupError{Err: err}
			}
		}

		for _, kv := range paramArgs {
			name, value, ok := strings.Cut(kv, "=")
			if !ok {
				return startupErrorf("pipit: malformed --param %q, want name=value", kv)
			}
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return startupErrorf("pipit: malformed --param value %q: %v", kv, err)
			}
			if err := rt.SetParam(name, v); err != nil {
				return err
			}
		}

		if probeOutput != "" {
			probeFile, err = os.Create(probeOutput)
			if err != nil {
				return startupErrorf("pipit: open probe output: %v", err)
			}
			rt.SetProbeOutput(probeFile)
		}
		for _, name := range probeArgs {
			if err := rt.EnableProbe(name); err != nil {
				return err
			}
		}

		if threads > 0 {
			if threads < len(rt.Tasks()) {
				log.Warnw("thread hint below task count",
					"threads", threads, "tasks", len(rt.Tasks()))
			}
			runtime.GOMAXPROCS(threads)
		}

		ctx, cancel := signal.NotifyContext(context.Background(),
			os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return rt.Run(ctx, d)
	}

	cmd.SetArgs(args)
	cmd.SetOut(diag)
	cmd.SetErr(diag)
	err := cmd.Execute()

	if statsFlag && rt != nil {
		rt.PrintStats(diag)
	}
	if probeFile != nil {
		_ = probeFile.Close()
	}

	if err == nil {
		return ExitOK
	}
	fmt.Fprintf(diag, "%s: error: %v\n", p.Name, err)
	var se *StartupError
	if errors.As(err, &se) {
		return ExitStartup
	}
	// cobra's own flag-parsing failures happen before any worker starts.
	if rt == nil {
		return ExitStartup
	}
	return ExitRuntime
}
