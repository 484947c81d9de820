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

// Package transport owns the sockets. It provides the two interchangeable
// connection drivers — a dedicated goroutine per connection, and a
// fixed-size reactor pool multiplexing many connections — plus a WebSocket
// listener. All of them drive the same codec and protocol engine, and all of
// them serialize outbound writes per connection through a Writer.
package transport

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/turtacn/stompd/pkg/engine"
	"github.com/turtacn/stompd/pkg/frame"
	"github.com/turtacn/stompd/pkg/metrics"
	"github.com/turtacn/stompd/pkg/registry"
)

// Broker is the engine factory the drivers attach connections to. It is
// implemented by broker.Broker.
type Broker interface {
	// NextConnID allocates a process-unique connection id.
	NextConnID() int64
	// Attach registers the connection's outbound sink and returns the
	// protocol engine that will consume its frames.
	Attach(id int64, sink registry.Sink) *engine.Engine
}

// Server is the thread-per-client driver: one goroutine owns one socket for
// its whole lifetime, blocking on reads and running the engine synchronously
// as frames complete.
type Server struct {
	broker   Broker
	listener net.Listener
	quit     chan struct{}
	wg       sync.WaitGroup

	mu     sync.Mutex
	active map[net.Conn]struct{}
}

// NewServer creates a thread-per-client server attached to b.
func NewServer(b Broker) *Server {
	return &Server{
		broker: b,
		quit:   make(chan struct{}),
		active: make(map[net.Conn]struct{}),
	}
}

// Start begins listening on addr and accepts connections until Stop.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	slog.Info("tcp server started", "addr", ln.Addr().String(), "mode", "tpc")
	return nil
}

// Stop closes the listener and every active connection, then waits for all
// connection goroutines to finish.
func (s *Server) Stop() {
	close(s.quit)
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.active {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	slog.Info("tcp server stopped")
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				slog.Error("accept failed", "error", err)
			}
			continue
		}
		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.active[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.active, conn)
	s.mu.Unlock()
}

// handleConnection runs the decode→process→encode loop for one socket. The
// connection is always deregistered and the socket closed on exit, whether
// the engine terminated, the peer closed the stream, or an I/O error hit.
func (s *Server) handleConnection(conn net.Conn) {
	metrics.ConnectionsTotal.Inc()
	id := s.broker.NextConnID()
	slog.Debug("connection accepted", "conn", id, "remote", conn.RemoteAddr().String())

	w := NewWriter(conn, true)
	eng := s.broker.Attach(id, w)
	defer w.Close()
	defer eng.Shutdown()

	reader := bufio.NewReader(conn)
	var dec frame.Decoder
	for !eng.ShouldTerminate() {
		b, err := reader.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Debug("read failed", "conn", id, "error", err)
			}
			break
		}
		if text, ok := dec.DecodeByte(b); ok {
			eng.Process(text)
		}
	}
	slog.Debug("connection closed", "conn", id)
}
