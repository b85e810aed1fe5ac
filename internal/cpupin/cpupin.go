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

// Package cpupin implements the optional round-robin CPU pinning controlled
// by the PIPIT_BENCH_PIN environment variable.
package cpupin

import "os"

// EnvVar is the environment variable that Enabled reads.
const EnvVar = "PIPIT_BENCH_PIN"

// Enabled reports whether pinning was requested for this process.
func Enabled() bool {
	return os.Getenv(EnvVar) == "1"
}
