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
	"errors"
	"io"
	"log/slog"
	"net"
	"runtime"
	"sync"

	"github.com/turtacn/stompd/pkg/engine"
	"github.com/turtacn/stompd/pkg/frame"
	"github.com/turtacn/stompd/pkg/metrics"
)

// Reactor is the pooled driver: a fixed-size pool of workers services many
// connections. Received byte chunks are queued per connection, and a
// connection is handed to the pool only while it has pending input and no
// worker already holds it — so at most one worker drives a given
// connection's engine at a time and per-connection frame order is identical
// to the thread-per-client driver.
type Reactor struct {
	broker   Broker
	workers  int
	ready    chan *rconn
	quit     chan struct{}
	listener net.Listener
	wg       sync.WaitGroup

	mu     sync.Mutex
	active map[*rconn]struct{}
}

// rconn is one multiplexed connection: its socket, codec, engine, writer,
// and the pending-input queue with its scheduling flag.
type rconn struct {
	id     int64
	conn   net.Conn
	writer *Writer
	eng    *engine.Engine
	dec    frame.Decoder

	mu        sync.Mutex
	queue     [][]byte
	scheduled bool
	finished  bool
}

// eofChunk marks the end of a connection's input in its queue, so teardown
// runs on the pool after all pending chunks, never before.
var eofChunk []byte

// NewReactor creates a pooled driver with the given number of workers;
// workers <= 0 means runtime.NumCPU().
func NewReactor(b Broker, workers int) *Reactor {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Reactor{
		broker:  b,
		workers: workers,
		ready:   make(chan *rconn, 1024),
		quit:    make(chan struct{}),
		active:  make(map[*rconn]struct{}),
	}
}

// Start begins listening on addr and spins up the worker pool.
func (r *Reactor) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	r.listener = ln

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	r.wg.Add(1)
	go r.acceptLoop()

	slog.Info("tcp server started", "addr", ln.Addr().String(), "mode", "reactor", "workers", r.workers)
	return nil
}

// Stop closes the listener and every active connection and waits for the
// pool and all readers to finish.
func (r *Reactor) Stop() {
	close(r.quit)
	if r.listener != nil {
		_ = r.listener.Close()
	}
	r.mu.Lock()
	remaining := make([]*rconn, 0, len(r.active))
	for rc := range r.active {
		remaining = append(remaining, rc)
		_ = rc.conn.Close()
	}
	r.mu.Unlock()
	r.wg.Wait()
	for _, rc := range remaining {
		r.finish(rc)
	}
	slog.Info("tcp server stopped")
}

// Addr returns the listen address, or nil before Start.
func (r *Reactor) Addr() net.Addr {
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

func (r *Reactor) acceptLoop() {
	defer r.wg.Done()
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.quit:
				return
			default:
				slog.Error("accept failed", "error", err)
			}
			continue
		}
		r.attach(conn)
	}
}

func (r *Reactor) attach(conn net.Conn) {
	metrics.ConnectionsTotal.Inc()
	id := r.broker.NextConnID()
	w := NewWriter(conn, true)
	rc := &rconn{id: id, conn: conn, writer: w, eng: r.broker.Attach(id, w)}
	slog.Debug("connection accepted", "conn", id, "remote", conn.RemoteAddr().String())

	r.mu.Lock()
	r.active[rc] = struct{}{}
	r.mu.Unlock()

	r.wg.Add(1)
	go r.readLoop(rc)
}

// readLoop is the readiness side: it blocks on the socket and only moves
// bytes into the connection's queue. All protocol work happens on the pool.
func (r *Reactor) readLoop(rc *rconn) {
	defer r.wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := rc.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			r.submit(rc, chunk)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Debug("read failed", "conn", rc.id, "error", err)
			}
			r.submit(rc, eofChunk)
			return
		}
	}
}

// submit queues a chunk and schedules the connection onto the pool if no
// worker currently holds it. The ready send happens outside the lock so a
// full ready queue can never deadlock against a draining worker.
func (r *Reactor) submit(rc *rconn, chunk []byte) {
	rc.mu.Lock()
	rc.queue = append(rc.queue, chunk)
	schedule := !rc.scheduled
	if schedule {
		rc.scheduled = true
	}
	rc.mu.Unlock()

	if schedule {
		select {
		case r.ready <- rc:
		case <-r.quit:
			r.finish(rc)
		}
	}
}

func (r *Reactor) worker() {
	defer r.wg.Done()
	for {
		select {
		case rc := <-r.ready:
			r.drain(rc)
		case <-r.quit:
			return
		}
	}
}

// drain processes the connection's pending chunks until the queue is empty,
// then releases the connection back to the readers.
func (r *Reactor) drain(rc *rconn) {
	for {
		rc.mu.Lock()
		if len(rc.queue) == 0 {
			rc.scheduled = false
			rc.mu.Unlock()
			return
		}
		chunk := rc.queue[0]
		rc.queue = rc.queue[1:]
		rc.mu.Unlock()

		if chunk == nil {
			r.finish(rc)
			continue
		}
		if rc.eng.ShouldTerminate() {
			// Chunks queued behind a terminal frame are dead input; only the
			// reader's end-of-input marker still matters.
			continue
		}
		for _, text := range rc.dec.Decode(chunk) {
			rc.eng.Process(text)
			if rc.eng.ShouldTerminate() {
				// Flush the engine's last frames and close the socket; the
				// reader's EOF marker then completes the teardown.
				rc.writer.Close()
				break
			}
		}
	}
}

// finish tears one connection down exactly once.
func (r *Reactor) finish(rc *rconn) {
	rc.mu.Lock()
	done := rc.finished
	rc.finished = true
	rc.mu.Unlock()
	if done {
		return
	}

	rc.eng.Shutdown()
	rc.writer.Close()
	r.mu.Lock()
	delete(r.active, rc)
	r.mu.Unlock()
	slog.Debug("connection closed", "conn", rc.id)
}
