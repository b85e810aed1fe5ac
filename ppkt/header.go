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

// Package ppkt reconstructs per-channel sample streams from framed datagrams:
// header codec, dtype-specific payload decode, per-channel circular sample
// buffers, and the frame assembler with integrity accounting.
package ppkt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

/*
 *	PPKT datagram header (56 bytes, little-endian)
 *	+--------4B--------+----1B----+----1B----+--------2B--------+
 *	|       MAGIC      | VERSION  |  DTYPE   |      FLAGS       |
 *	+--------2B--------+--------2B--------+--------4B----------+
 *	|    CHANNEL ID    |     RESERVED     |      SEQUENCE      |
 *	+--------4B--------+--------4B--------+
 *	|   SAMPLE COUNT   |   PAYLOAD BYTES  |
 *	+-----------------8B-----------------+
 *	|          ITERATION INDEX           |
 *	+-----------------8B-----------------+
 *	|            TIMESTAMP NS            |
 *	+-----------------8B-----------------+
 *	|          SAMPLE RATE (f64)         |
 *	+-----------------8B-----------------+
 *	|              RESERVED              |
 *	+------------------------------------+
 *	Payload immediately follows.
 */

const (
	// HeaderSize is the fixed encoded header length.
	HeaderSize = 56

	// Magic identifies a PPKT datagram ("PPKT").
	Magic uint32 = 0x50504B54

	// Version is the only wire version this decoder accepts.
	Version uint8 = 1

	// MaxDatagram is the largest accepted datagram; bigger ones are
	// discarded.
	MaxDatagram = 65536
)

// Flags is the header flag bitfield.
type Flags uint16

const (
	// FlagFrameStart marks the first chunk of a frame.
	FlagFrameStart Flags = 1 << 0
	// FlagFrameEnd marks the last chunk of a frame.
	FlagFrameEnd Flags = 1 << 1
	// FlagFirstFrame marks the first frame of a stream; it resets
	// inter-frame iteration tracking.
	FlagFirstFrame Flags = 1 << 2
)

// DType enumerates the payload sample encodings.
type DType uint8

const (
	DTypeI8 DType = iota
	DTypeI16
	DTypeI32
	DTypeF32
	DTypeF64
	DTypeCF32
	DTypeCF64

	dtypeCount
)

// SampleBytes returns the wire size of one sample.
func (d DType) SampleBytes() int {
	switch d {
	case DTypeI8:
		return 1
	case DTypeI16:
		return 2
	case DTypeI32, DTypeF32:
		return 4
	case DTypeF64, DTypeCF32:
		return 8
	case DTypeCF64:
		return 16
	}
	return 0
}

func (d DType) String() string {
	switch d {
	case DTypeI8:
		return "i8"
	case DTypeI16:
		return "i16"
	case DTypeI32:
		return "i32"
	case DTypeF32:
		return "f32"
	case DTypeF64:
		return "f64"
	case DTypeCF32:
		return "cf32"
	case DTypeCF64:
		return "cf64"
	}
	return "unknown"
}

var (
	// ErrTruncated means the datagram is shorter than its header claims, or
	// the header's sample count and payload byte count disagree.
	ErrTruncated = errors.New("ppkt: truncated datagram")
	// ErrMagic means the magic field did not match.
	ErrMagic = errors.New("ppkt: bad magic")
	// ErrVersion means the wire version is unsupported.
	ErrVersion = errors.New("ppkt: unsupported version")
	// ErrDType means the dtype byte is out of range.
	ErrDType = errors.New("ppkt: invalid dtype")
	// ErrOversize means the datagram exceeds MaxDatagram.
	ErrOversize = errors.New("ppkt: datagram too large")
)

// Header is the decoded PPKT datagram header.
type Header struct {
	DType        DType
	Flags        Flags
	Channel      uint16
	Sequence     uint32
	SampleCount  uint32
	PayloadBytes uint32
	Iteration    uint64
	TimestampNS  uint64
	SampleRate   float64
}

// DecodeHeader validates and decodes the header of one datagram, returning
// the header and the payload slice aliasing b.
func DecodeHeader(b []byte) (Header, []byte, error) {
	var h Header
	if len(b) > MaxDatagram {
		return h, nil, ErrOversize
	}
	if len(b) < HeaderSize {
		return h, nil, ErrTruncated
	}
	if binary.LittleEndian.Uint32(b[0:4]) != Magic {
		return h, nil, ErrMagic
	}
	if b[4] != Version {
		return h, nil, fmt.Errorf("%w: %d", ErrVersion, b[4])
	}
	if DType(b[5]) >= dtypeCount {
		return h, nil, fmt.Errorf("%w: %d", ErrDType, b[5])
	}
	h.DType = DType(b[5])
	h.Flags = Flags(binary.LittleEndian.Uint16(b[6:8]))
	h.Channel = binary.LittleEndian.Uint16(b[8:10])
	h.Sequence = binary.LittleEndian.Uint32(b[12:16])
	h.SampleCount = binary.LittleEndian.Uint32(b[16:20])
	h.PayloadBytes = binary.LittleEndian.Uint32(b[20:24])
	h.Iteration = binary.LittleEndian.Uint64(b[24:32])
	h.TimestampNS = binary.LittleEndian.Uint64(b[32:40])
	h.SampleRate = math.Float64frombits(binary.LittleEndian.Uint64(b[40:48]))

	if uint32(len(b)-HeaderSize) < h.PayloadBytes {
		return h, nil, ErrTruncated
	}
	want := uint64(h.SampleCount) * uint64(h.DType.SampleBytes())
	if want != uint64(h.PayloadBytes) {
		return h, nil, fmt.Errorf("%w: %d samples of %s need %dB, header says %dB",
			ErrTruncated, h.SampleCount, h.DType, want, h.PayloadBytes)
	}
	return h, b[HeaderSize : HeaderSize+int(h.PayloadBytes)], nil
}

// EncodeHeader writes the 56-byte header into b, which must hold at least
// HeaderSize bytes. Used by feeders and tests.
func EncodeHeader(b []byte, h Header) {
	_ = b[HeaderSize-1]
	binary.LittleEndian.PutUint32(b[0:4], Magic)
	b[4] = Version
	b[5] = byte(h.DType)
	binary.LittleEndian.PutUint16(b[6:8], uint16(h.Flags))
	binary.LittleEndian.PutUint16(b[8:10], h.Channel)
	binary.LittleEndian.PutUint16(b[10:12], 0)
	binary.LittleEndian.PutUint32(b[12:16], h.Sequence)
	binary.LittleEndian.PutUint32(b[16:20], h.SampleCount)
	binary.LittleEndian.PutUint32(b[20:24], h.PayloadBytes)
	binary.LittleEndian.PutUint64(b[24:32], h.Iteration)
	binary.LittleEndian.PutUint64(b[32:40], h.TimestampNS)
	binary.LittleEndian.PutUint64(b[40:48], math.Float64bits(h.SampleRate))
	binary.LittleEndian.PutUint64(b[48:56], 0)
}
