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

package ring

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitReadableImmediate(t *testing.T) {
	r, err := New[int32](8, 1)
	require.NoError(t, err)
	require.True(t, r.Write([]int32{1, 2}))

	var stop atomic.Bool
	assert.Equal(t, Ready, r.WaitReadable(0, 2, &stop, time.Second))
}

func TestWaitReadableTimeout(t *testing.T) {
	r, err := New[int32](8, 1)
	require.NoError(t, err)

	var stop atomic.Bool
	start := time.Now()
	assert.Equal(t, Timeout, r.WaitReadable(0, 1, &stop, 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWaitReadableStopped(t *testing.T) {
	r, err := New[int32](8, 1)
	require.NoError(t, err)

	var stop atomic.Bool
	done := make(chan WaitResult, 1)
	go func() {
		done <- r.WaitReadable(0, 1, &stop, 10*time.Second)
	}()
	time.Sleep(5 * time.Millisecond)
	stop.Store(true)
	select {
	case res := <-done:
		assert.Equal(t, Stopped, res)
	case <-time.After(time.Second):
		t.Fatal("wait did not observe the stop flag")
	}
}

func TestWaitReadableWokenByWriter(t *testing.T) {
	r, err := New[int32](8, 1)
	require.NoError(t, err)

	var stop atomic.Bool
	done := make(chan WaitResult, 1)
	go func() {
		done <- r.WaitReadable(0, 4, &stop, 5*time.Second)
	}()
	time.Sleep(2 * time.Millisecond)
	require.True(t, r.Write([]int32{1, 2, 3, 4}))
	select {
	case res := <-done:
		assert.Equal(t, Ready, res)
	case <-time.After(time.Second):
		t.Fatal("reader was not woken by the write")
	}
}

func TestWaitWritableBackpressure(t *testing.T) {
	r, err := New[int32](4, 1)
	require.NoError(t, err)
	require.True(t, r.Write([]int32{1, 2, 3, 4}))

	var stop atomic.Bool
	assert.Equal(t, Timeout, r.WaitWritable(1, &stop, 10*time.Millisecond))

	done := make(chan WaitResult, 1)
	go func() {
		done <- r.WaitWritable(2, &stop, 5*time.Second)
	}()
	time.Sleep(2 * time.Millisecond)
	dst := make([]int32, 2)
	require.True(t, r.Read(0, dst))
	select {
	case res := <-done:
		assert.Equal(t, Ready, res)
	case <-time.After(time.Second):
		t.Fatal("writer was not woken by the read")
	}
}

func TestWaitDefaultTimeout(t *testing.T) {
	r, err := New[int32](8, 1)
	require.NoError(t, err)

	var stop atomic.Bool
	start := time.Now()
	assert.Equal(t, Timeout, r.WaitReadable(0, 1, &stop, 0))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, defaultTimeout)
	assert.Less(t, elapsed, 5*defaultTimeout)
}

func TestWaitResultString(t *testing.T) {
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "timeout", Timeout.String())
	assert.Equal(t, "stopped", Stopped.String())
}
