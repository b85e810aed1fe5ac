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

// pipitdemo is the wiring shape the code generator emits: an 8 kHz source
// task writing a 440 Hz sine into a shared buffer, a mixer task probing the signal's RMS, and a
// datagram-fed task snapshotting PPKT channel 0.
//
// Try: pipitdemo --duration 2s --stats --probe rms
package main

import (
	"errors"
	"math"

	"github.com/tmineno/pipeit/pipit"
	"github.com/tmineno/pipeit/sched"
)

func main() {
	pipit.Main(pipit.Program{
		Name: "pipitdemo",
		Options: pipit.Options{
			Mem:           "16MB",
			Overrun:       "drop",
			TickRate:      10_000,
			TimerSpin:     "auto",
			WaitTimeoutMS: 50,
		},
		Build: build,
	})
}

func build(rt *pipit.Runtime) error {
	rt.DeclareParam("gain", 1.0)
	rms := rt.RegisterProbe("rms")
	netProbe := rt.RegisterProbe("net")

	samples, _, err := sched.Attach[float32](rt.Arena(), "samples", 4096, 1)
	if err != nil {
		return err
	}

	// osc @ 8 kHz produces 4 tokens per iteration (32 ktok/s).
	phase := 0.0
	staged := make([]float32, 4)
	var osc *sched.Task
	osc, err = rt.AddTask(sched.Config{
		Name: "osc", Freq: 8000,
		Schedule: []sched.Firing{{
			Actor: "sine",
			Fire: func() error {
				gain := osc.Param("gain")
				for i := range staged {
					staged[i] = float32(gain * math.Sin(2*math.Pi*440*phase))
					phase += 1.0 / 32000
				}
				return nil
			},
		}},
		Out: []sched.Outbound{{
			Buffer: "samples", W: samples, Tokens: len(staged),
			Flush: func() bool { return samples.Write(staged) },
		}},
	})
	if err != nil {
		return err
	}

	// mix @ 1 kHz consumes 32 tokens per iteration and probes the RMS.
	window := make([]float32, 32)
	_, err = rt.AddTask(sched.Config{
		Name: "mix", Freq: 1000,
		In: []sched.Inbound{{
			Buffer: "samples", W: samples, Reader: 0, Tokens: len(window),
		}},
		Schedule: []sched.Firing{{
			Actor: "rms",
			Fire: func() error {
				if !samples.Read(0, window) {
					return errors.New("samples underrun")
				}
				var acc float64
				for _, v := range window {
					acc += float64(v) * float64(v)
				}
				rms.Emit(float32(math.Sqrt(acc / float64(len(window)))))
				return nil
			},
		}},
	})
	if err != nil {
		return err
	}

	// net @ 100 Hz snapshots PPKT channel 0 from a loopback receiver.
	asm, err := rt.AddReceiver("127.0.0.1:0", 8192)
	if err != nil {
		return err
	}
	_, err = rt.AddTask(sched.Config{
		Name: "net", Freq: 100,
		Schedule: []sched.Firing{{
			Actor: "tap",
			Fire: func() error {
				if snap := asm.Snapshot(0, 16); len(snap) > 0 {
					netProbe.Emit(snap...)
				}
				return nil
			},
		}},
	})
	return err
}
