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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSampleBufferRoundtrip(t *testing.T) {
	s := NewSampleBuffer(8)
	assert.Equal(t, 8, s.Cap())
	assert.Equal(t, 0, s.Len())

	in := []float32{1, 2, 3}
	s.Push(in)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, in, s.Snapshot(3))
	assert.Equal(t, in, s.Snapshot(100))
	assert.Equal(t, []float32{2, 3}, s.Snapshot(2), "snapshot keeps the most recent samples")
}

func TestSampleBufferWrap(t *testing.T) {
	s := NewSampleBuffer(4)
	s.Push([]float32{1, 2, 3})
	s.Push([]float32{4, 5})
	assert.Equal(t, 4, s.Len())
	assert.Equal(t, []float32{2, 3, 4, 5}, s.Snapshot(4))
}

func TestSampleBufferBigPush(t *testing.T) {
	s := NewSampleBuffer(4)
	s.Push([]float32{9})
	// n >= capacity retains only the last capacity samples.
	s.Push([]float32{1, 2, 3, 4, 5, 6})
	assert.Equal(t, 4, s.Len())
	assert.Equal(t, []float32{3, 4, 5, 6}, s.Snapshot(4))

	s.Push([]float32{7, 8, 9, 10})
	assert.Equal(t, []float32{7, 8, 9, 10}, s.Snapshot(4))
}

func TestSampleBufferClear(t *testing.T) {
	s := NewSampleBuffer(4)
	s.Push([]float32{1, 2})
	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.Snapshot(4))

	s.Push([]float32{5})
	assert.Equal(t, []float32{5}, s.Snapshot(4))
}

func TestSampleBufferEmpty(t *testing.T) {
	s := NewSampleBuffer(4)
	s.Push(nil)
	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.Snapshot(0))
	assert.Nil(t, s.Snapshot(-1))
}
