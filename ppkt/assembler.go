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

package ppkt

import (
	"sort"
	"sync"
	"sync/atomic"
)

// FrameStats is the per-channel integrity accounting: accepted frames plus
// drops broken out by cause. Failures are counted, never raised.
type FrameStats struct {
	Accepted       uint64
	SeqGaps        uint64
	IterGaps       uint64
	Boundary       uint64
	MetaMismatch   uint64
	InterFrameGaps uint64
}

// ChannelStats is a point-in-time copy of one channel's state.
type ChannelStats struct {
	SampleRate   float64
	LastSequence uint32
	Packets      uint64
	Buffered     int
	Frames       FrameStats
}

// channelState is the consumer-visible per-channel record, guarded by the
// assembler mutex.
type channelState struct {
	rate    float64
	lastSeq uint32
	packets uint64
	samples *SampleBuffer
	stats   FrameStats
}

// pending is the receive-thread-local frame accumulator.
type pending struct {
	active    bool
	expectSeq uint32
	startTS   uint64
	nextIter  uint64
	dtype     DType
	rate      float64
	staging   []float32
}

func (p *pending) reset() {
	p.active = false
	p.staging = p.staging[:0]
}

// recvState is the receive-thread-local per-channel record: the frame
// accumulator plus inter-frame iteration tracking. It is never shared.
type recvState struct {
	pending       pending
	trackIter     bool
	nextFrameIter uint64
}

// Assembler reconstructs frames from PPKT datagrams into per-channel sample
// buffers. Ingest must be called from exactly one goroutine (the receive
// thread); snapshot and stats accessors are safe from any goroutine.
type Assembler struct {
	mu        sync.Mutex
	channels  map[uint16]*channelState
	bufCap    int
	malformed atomic.Uint64
	resetReq  atomic.Bool

	// recv is owned by the Ingest caller; no lock covers it.
	recv map[uint16]*recvState
}

// NewAssembler creates an assembler whose channels buffer up to
// channelBufCap samples each.
func NewAssembler(channelBufCap int) *Assembler {
	return &Assembler{
		channels: make(map[uint16]*channelState),
		recv:     make(map[uint16]*recvState),
		bufCap:   channelBufCap,
	}
}

// Reset schedules a full reset: the shared channel map is cleared
// immediately under the mutex, and the receive thread clears its local
// accumulators when it next observes the flag.
func (a *Assembler) Reset() {
	a.mu.Lock()
	a.channels = make(map[uint16]*channelState)
	a.mu.Unlock()
	a.resetReq.Store(true)
}

// Malformed returns the count of datagrams dropped before channel lookup
// (bad magic, version, size, dtype).
func (a *Assembler) Malformed() uint64 { return a.malformed.Load() }

// Snapshot returns a point-in-time copy of the most recent min(maxN, len)
// samples of a channel, oldest first. Unknown channels yield nil.
func (a *Assembler) Snapshot(channel uint16, maxN int) []float32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	cs := a.channels[channel]
	if cs == nil {
		return nil
	}
	return cs.samples.Snapshot(maxN)
}

// Stats returns a copy of one channel's counters.
func (a *Assembler) Stats(channel uint16) (ChannelStats, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cs := a.channels[channel]
	if cs == nil {
		return ChannelStats{}, false
	}
	return ChannelStats{
		SampleRate:   cs.rate,
		LastSequence: cs.lastSeq,
		Packets:      cs.packets,
		Buffered:     cs.samples.Len(),
		Frames:       cs.stats,
	}, true
}

// Channels returns the known channel ids, sorted.
func (a *Assembler) Channels() []uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]uint16, 0, len(a.channels))
	for id := range a.channels {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// channelLocked returns the shared state for id, creating it lazily on the
// first valid packet. Caller must hold the mutex.
func (a *Assembler) channelLocked(id uint16) *channelState {
	cs := a.channels[id]
	if cs == nil {
		cs = &channelState{samples: NewSampleBuffer(a.bufCap)}
		a.channels[id] = cs
	}
	return cs
}

// Ingest runs one datagram through the frame state machine. Integrity
// failures are recorded as drop counts and the packet is discarded; Ingest
// never fails.
func (a *Assembler) Ingest(datagram []byte) {
	if a.resetReq.CompareAndSwap(true, false) {
		a.recv = make(map[uint16]*recvState)
	}

	h, payload, err := DecodeHeader(datagram)
	if err != nil {
		a.malformed.Add(1)
		return
	}

	rs := a.recv[h.Channel]
	if rs == nil {
		rs = &recvState{}
		a.recv[h.Channel] = rs
	}
	p := &rs.pending

	var (
		dropSeqGap    bool
		dropIterGap   bool
		dropBoundary  bool
		dropMeta      bool
		interFrameGap bool
		commit        bool
	)

	switch {
	case h.Flags&FlagFrameStart != 0:
		if p.active {
			dropBoundary = true
			p.reset()
		}
		if h.Flags&FlagFirstFrame != 0 {
			rs.trackIter = false
		}
		if rs.trackIter && h.Iteration != rs.nextFrameIter {
			interFrameGap = true
		}
		p.active = true
		p.expectSeq = h.Sequence + 1
		p.startTS = h.TimestampNS
		p.nextIter = h.Iteration + uint64(h.SampleCount)
		p.dtype = h.DType
		p.rate = h.SampleRate
		p.staging = AppendSamples(p.staging[:0], payload, h.DType, int(h.SampleCount))

	case !p.active:
		dropBoundary = true

	default:
		switch {
		case h.Sequence != p.expectSeq:
			dropSeqGap = true
			p.reset()
		case h.Iteration != p.nextIter:
			dropIterGap = true
			p.reset()
		case h.DType != p.dtype || h.TimestampNS != p.startTS || h.SampleRate != p.rate:
			dropMeta = true
			p.reset()
		default:
			p.expectSeq = h.Sequence + 1
			p.nextIter = h.Iteration + uint64(h.SampleCount)
			p.staging = AppendSamples(p.staging, payload, h.DType, int(h.SampleCount))
		}
	}

	if p.active && h.Flags&FlagFrameEnd != 0 {
		commit = true
	}

	a.mu.Lock()
	cs := a.channelLocked(h.Channel)
	if interFrameGap {
		cs.samples.Clear()
		cs.stats.InterFrameGaps++
	}
	if dropBoundary {
		cs.stats.Boundary++
	}
	if dropSeqGap {
		cs.stats.SeqGaps++
	}
	if dropIterGap {
		cs.stats.IterGaps++
	}
	if dropMeta {
		cs.stats.MetaMismatch++
	}
	if commit {
		cs.samples.Push(p.staging)
		cs.stats.Accepted++
	}
	cs.packets++
	cs.lastSeq = h.Sequence
	cs.rate = h.SampleRate
	a.mu.Unlock()

	if commit {
		rs.trackIter = true
		rs.nextFrameIter = h.Iteration + uint64(h.SampleCount)
		p.reset()
	}
}
