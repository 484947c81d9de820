// Copyright 2025 The stompd Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"bufio"
	"io"
	"log/slog"
	"sync"

	"github.com/turtacn/stompd/pkg/frame"
)

const outboundDepth = 256

// Writer is a connection's outbound path: a dedicated goroutine drains a
// buffered channel and writes encoded frames to the socket, so writes to one
// socket are serialized no matter which worker produced them and a broadcast
// never blocks on a slow peer. Frames queued before Close is called are
// flushed before the socket is closed.
type Writer struct {
	ch   chan []byte
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// NewWriter starts the writer goroutine for conn. When buffered is true,
// small frames are coalesced through a bufio.Writer before hitting the
// socket; pass false for transports that frame each Write themselves.
func NewWriter(conn io.WriteCloser, buffered bool) *Writer {
	w := &Writer{
		ch:   make(chan []byte, outboundDepth),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.run(conn, buffered)
	return w
}

// Send queues one frame for delivery. It implements registry.Sink. Frames
// queued after Close are dropped.
func (w *Writer) Send(text string) {
	select {
	case w.ch <- frame.Encode(text):
	case <-w.quit:
	}
}

// Close flushes the queued frames, closes the socket, and waits for the
// writer goroutine to exit. Safe to call more than once and from any
// goroutine.
func (w *Writer) Close() {
	w.once.Do(func() { close(w.quit) })
	<-w.done
}

func (w *Writer) run(conn io.WriteCloser, buffered bool) {
	defer close(w.done)

	var out io.Writer = conn
	var bw *bufio.Writer
	if buffered {
		bw = bufio.NewWriter(conn)
		out = bw
	}
	flush := func() {
		if bw != nil {
			_ = bw.Flush()
		}
	}

	write := func(b []byte) bool {
		if _, err := out.Write(b); err != nil {
			// Reported, not retried: the read side will notice the broken
			// socket and tear the connection down.
			slog.Debug("outbound write failed", "error", err)
			return false
		}
		return true
	}

	for {
		select {
		case b := <-w.ch:
			ok := write(b)
			// Drain whatever queued up before flushing, coalescing small
			// frames into fewer syscalls.
			for ok {
				select {
				case b := <-w.ch:
					ok = write(b)
				default:
					flush()
					ok = false
				}
			}
		case <-w.quit:
			for {
				select {
				case b := <-w.ch:
					write(b)
				default:
					flush()
					_ = conn.Close()
					return
				}
			}
		}
	}
}
