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
	"fmt"
	"strconv"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/tmineno/pipeit/sched"
	"github.com/tmineno/pipeit/tick"
)

// Options carries the runtime options encoded in the compiled schedule.
// The zero value means "all defaults".
type Options struct {
	// Mem is the maximum total shared-memory pool, e.g. "64MB".
	// Empty means unlimited.
	Mem string `yaml:"mem"`
	// Overrun is one of drop (default), slip, backlog.
	Overrun string `yaml:"overrun"`
	// TickRate is the base timer wake frequency in Hz (default 10 kHz).
	TickRate float64 `yaml:"tick_rate"`
	// TimerSpin is a nanosecond integer or the sentinel "auto".
	TimerSpin string `yaml:"timer_spin"`
	// WaitTimeoutMS is the ring-buffer wait timeout in milliseconds
	// (default 50, range 1-60000).
	WaitTimeoutMS int `yaml:"wait_timeout"`
}

// Normalized is the validated, unit-carrying form of Options.
type Normalized struct {
	MemBytes    uint64
	Policy      tick.OverrunPolicy
	TickRate    float64
	SpinWindow  time.Duration // < 0 selects the adaptive window
	WaitTimeout time.Duration
}

// Normalize validates the option strings and applies defaults and clamps.
func (o Options) Normalize() (Normalized, error) {
	n := Normalized{
		TickRate:    10_000,
		SpinWindow:  -1,
		WaitTimeout: sched.DefaultWaitTimeout,
	}

	if o.Mem != "" {
		var sz datasize.ByteSize
		if err := sz.UnmarshalText([]byte(o.Mem)); err != nil {
			return n, fmt.Errorf("pipit: option mem: %w", err)
		}
		n.MemBytes = sz.Bytes()
	}

	policy, err := tick.ParsePolicy(o.Overrun)
	if err != nil {
		return n, fmt.Errorf("pipit: option overrun: %w", err)
	}
	n.Policy = policy

	if o.TickRate != 0 {
		if o.TickRate < 0 {
			return n, fmt.Errorf("pipit: option tick_rate: must be > 0")
		}
		n.TickRate = o.TickRate
	}

	switch o.TimerSpin {
	case "", "auto":
		n.SpinWindow = -1
	default:
		ns, err := strconv.ParseInt(o.TimerSpin, 10, 64)
		if err != nil || ns < 0 {
			return n, fmt.Errorf("pipit: option timer_spin: want nanoseconds or \"auto\", got %q", o.TimerSpin)
		}
		n.SpinWindow = time.Duration(ns)
	}

	if o.WaitTimeoutMS != 0 {
		ms := o.WaitTimeoutMS
		if ms < 1 {
			ms = 1
		} else if ms > 60_000 {
			ms = 60_000
		}
		n.WaitTimeout = time.Duration(ms) * time.Millisecond
	}
	return n, nil
}

// ParseOptions decodes the YAML options blob emitted alongside the compiled
// schedule.
func ParseOptions(blob []byte) (Options, error) {
	var o Options
	if err := yaml.Unmarshal(blob, &o); err != nil {
		return o, fmt.Errorf("pipit: options: %w", err)
	}
	return o, nil
}
