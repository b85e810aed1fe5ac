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

// Package hack holds unsafe reinterpretation helpers for the sample decode
// hot path. Callers are responsible for alignment: the PPKT header is a
// multiple of 8 bytes, so payloads sliced off a datagram keep the base
// buffer's alignment.
package hack

import "unsafe"

// Float32Slice reinterprets b as a []float32 of len(b)/4 elements, no copy.
func Float32Slice(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// Float64Slice reinterprets b as a []float64 of len(b)/8 elements, no copy.
func Float64Slice(b []byte) []float64 {
	if len(b) < 8 {
		return nil
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(&b[0])), len(b)/8)
}
