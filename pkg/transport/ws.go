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
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/turtacn/stompd/pkg/frame"
	"github.com/turtacn/stompd/pkg/metrics"
)

// WSServer exposes the same protocol over WebSocket. The payload of each
// received message is fed through the ordinary codec, so clients keep the
// NUL-terminated frame grammar; each outbound frame is sent as one binary
// message. One goroutine per WebSocket connection, like the tpc driver.
type WSServer struct {
	broker   Broker
	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup

	mu     sync.Mutex
	active map[*websocket.Conn]struct{}
}

// NewWSServer creates a WebSocket listener attached to b.
func NewWSServer(b Broker) *WSServer {
	return &WSServer{
		broker: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		active: make(map[*websocket.Conn]struct{}),
	}
}

// Start serves WebSocket upgrades on addr under the root path.
func (s *WSServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.server = &http.Server{Handler: mux}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("websocket server failed", "error", err)
		}
	}()

	slog.Info("websocket server started", "addr", ln.Addr().String())
	return nil
}

// Stop closes the listener and every active WebSocket connection.
func (s *WSServer) Stop() {
	if s.server != nil {
		_ = s.server.Close()
	}
	s.mu.Lock()
	for conn := range s.active {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	slog.Info("websocket server stopped")
}

// Addr returns the listen address, or nil before Start.
func (s *WSServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *WSServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.mu.Lock()
	s.active[ws] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, ws)
			s.mu.Unlock()
		}()
		s.handleConnection(ws)
	}()
}

// wsWriteCloser adapts a WebSocket connection to the Writer's io.WriteCloser:
// every Write becomes one binary message.
type wsWriteCloser struct {
	ws *websocket.Conn
}

func (w wsWriteCloser) Write(p []byte) (int, error) {
	if err := w.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w wsWriteCloser) Close() error {
	return w.ws.Close()
}

func (s *WSServer) handleConnection(ws *websocket.Conn) {
	metrics.ConnectionsTotal.Inc()
	id := s.broker.NextConnID()
	slog.Debug("websocket connection accepted", "conn", id, "remote", ws.RemoteAddr().String())

	w := NewWriter(wsWriteCloser{ws}, false)
	eng := s.broker.Attach(id, w)
	defer w.Close()
	defer eng.Shutdown()

	var dec frame.Decoder
	for !eng.ShouldTerminate() {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		for _, text := range dec.Decode(data) {
			eng.Process(text)
			if eng.ShouldTerminate() {
				break
			}
		}
	}
	slog.Debug("websocket connection closed", "conn", id)
}
