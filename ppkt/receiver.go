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
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/bytedance/gopkg/util/gopool"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const (
	// pollInterval bounds how long the receive loop blocks before
	// re-checking its run flag.
	pollInterval = time.Millisecond

	// recvBatch caps how many datagrams one wake drains.
	recvBatch = 64

	// bindRetryWindow bounds startup retries on transient bind errors.
	bindRetryWindow = 2 * time.Second
)

// Receiver owns one datagram socket and the background goroutine that
// drains it into an Assembler. A fatal socket error ends the loop without
// stopping tasks; snapshots of absent channels simply come back empty.
type Receiver struct {
	asm  *Assembler
	conn *net.UDPConn
	log  *zap.SugaredLogger
	stop chan struct{}
	done chan struct{}
}

// NewReceiver binds addr (e.g. "127.0.0.1:9750") and prepares a receiver
// feeding asm. Transient bind failures are retried with exponential backoff
// for a short window.
func NewReceiver(addr string, asm *Assembler, log *zap.SugaredLogger) (*Receiver, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("ppkt: resolve %q: %w", addr, err)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	conn, err := backoff.Retry(context.Background(),
		func() (*net.UDPConn, error) { return net.ListenUDP("udp", udpAddr) },
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(bindRetryWindow),
	)
	if err != nil {
		return nil, fmt.Errorf("ppkt: bind %q: %w", addr, err)
	}
	return &Receiver{
		asm:  asm,
		conn: conn,
		log:  log,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}, nil
}

// Addr returns the bound local address.
func (r *Receiver) Addr() net.Addr { return r.conn.LocalAddr() }

// Start launches the receive loop in the background.
func (r *Receiver) Start() {
	gopool.Go(r.loop)
}

// Stop ends the receive loop and waits for it to exit.
func (r *Receiver) Stop() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	_ = r.conn.Close()
	<-r.done
}

func (r *Receiver) loop() {
	defer close(r.done)
	buf := dirtmake.Bytes(MaxDatagram, MaxDatagram)
	for {
		select {
		case <-r.stop:
			return
		default:
		}
		// Bounded block, then drain a batch non-blockingly; the
		// deadline covers the whole batch so a quiet socket costs one
		// wake per poll interval.
		_ = r.conn.SetReadDeadline(time.Now().Add(pollInterval))
		for i := 0; i < recvBatch; i++ {
			n, _, err := r.conn.ReadFromUDP(buf)
			if err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					break
				}
				select {
				case <-r.stop:
				default:
					r.log.Errorw("ppkt receiver socket error", "error", err)
				}
				return
			}
			r.asm.Ingest(buf[:n])
		}
	}
}
