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
	"encoding/binary"
	"math"

	"github.com/tmineno/pipeit/internal/hack"
)

// AppendSamples converts a payload to float32 samples and appends them to
// dst: identity for f32, widening for the integer types, narrowing for f64,
// magnitude for the complex types. It is a pure function of its inputs; at
// most maxSamples are appended.
func AppendSamples(dst []float32, payload []byte, dt DType, maxSamples int) []float32 {
	sb := dt.SampleBytes()
	if sb == 0 {
		return dst
	}
	n := len(payload) / sb
	if n > maxSamples {
		n = maxSamples
	}
	switch dt {
	case DTypeF32:
		return append(dst, hack.Float32Slice(payload)[:n]...)
	case DTypeI8:
		for i := 0; i < n; i++ {
			dst = append(dst, float32(int8(payload[i])))
		}
	case DTypeI16:
		for i := 0; i < n; i++ {
			dst = append(dst, float32(int16(binary.LittleEndian.Uint16(payload[2*i:]))))
		}
	case DTypeI32:
		for i := 0; i < n; i++ {
			dst = append(dst, float32(int32(binary.LittleEndian.Uint32(payload[4*i:]))))
		}
	case DTypeF64:
		src := hack.Float64Slice(payload)
		for i := 0; i < n; i++ {
			dst = append(dst, float32(src[i]))
		}
	case DTypeCF32:
		src := hack.Float32Slice(payload)
		for i := 0; i < n; i++ {
			re := float64(src[2*i])
			im := float64(src[2*i+1])
			dst = append(dst, float32(math.Sqrt(re*re+im*im)))
		}
	case DTypeCF64:
		src := hack.Float64Slice(payload)
		for i := 0; i < n; i++ {
			re := src[2*i]
			im := src[2*i+1]
			dst = append(dst, float32(math.Sqrt(re*re+im*im)))
		}
	}
	return dst
}
