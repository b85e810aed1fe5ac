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

//go:build linux

package cpupin

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// Pin binds the calling thread to one CPU, round-robin by worker index
// modulo hardware concurrency. Call it from a goroutine already locked to
// its OS thread.
func Pin(index int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(index % runtime.NumCPU())
	return unix.SchedSetaffinity(0, &set)
}
