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

package sched

import "time"

// Stats holds the per-task tick counters. It is written only by the owning
// task thread; other threads read it only after the task has been joined.
type Stats struct {
	Ticks       int64
	Missed      int64
	LastLatency time.Duration
	MaxLatency  time.Duration

	avgNS int64
}

// RecordTick accounts one completed tick and its wake-up latency.
func (s *Stats) RecordTick(lat time.Duration) {
	s.Ticks++
	s.LastLatency = lat
	if lat > s.MaxLatency {
		s.MaxLatency = lat
	}
	s.avgNS = (s.avgNS*7 + int64(lat)) / 8
}

// RecordMissed sets the running missed-tick total, as reported by the timer.
func (s *Stats) RecordMissed(n int64) {
	s.Missed = n
}

// AvgLatency returns the exponential moving average of wake-up latency.
func (s *Stats) AvgLatency() time.Duration {
	return time.Duration(s.avgNS)
}
