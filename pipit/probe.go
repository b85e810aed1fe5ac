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
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/bytedance/gopkg/lang/mcache"
)

// Probe is a named observation sink. Disabled probes cost one atomic load
// per tap; enabled probes copy the tapped tokens as a text line to the probe
// writer, in FIFO order of the edge they observe.
type Probe struct {
	name    string
	enabled atomic.Bool

	mu  sync.Mutex
	out io.Writer
}

// Name returns the probe's declared name.
func (p *Probe) Name() string { return p.name }

// Enabled reports whether --probe selected this probe.
func (p *Probe) Enabled() bool { return p.enabled.Load() }

// Emit writes one line of tapped tokens. It is a no-op unless the probe is
// enabled.
func (p *Probe) Emit(tokens ...float32) {
	if !p.enabled.Load() {
		return
	}
	buf := mcache.Malloc(0, 64+16*len(tokens))
	buf = append(buf, "[probe] "...)
	buf = append(buf, p.name...)
	buf = append(buf, ':')
	for _, v := range tokens {
		buf = append(buf, ' ')
		buf = strconv.AppendFloat(buf, float64(v), 'g', -1, 32)
	}
	buf = append(buf, '\n')

	p.mu.Lock()
	_, _ = p.out.Write(buf)
	p.mu.Unlock()
	mcache.Free(buf)
}
