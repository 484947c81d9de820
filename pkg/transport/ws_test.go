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
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/", nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func wsSend(t *testing.T, ws *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, append([]byte(text), 0)))
}

func wsRecv(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	return strings.TrimSuffix(string(data), "\x00")
}

func TestWebSocketConnect(t *testing.T) {
	s := NewWSServer(newTestBroker())
	require.NoError(t, s.Start("127.0.0.1:0"))
	defer s.Stop()

	ws := dialWS(t, s.Addr().String())
	wsSend(t, ws, "CONNECT\naccept-version:1.2\nhost:stomp.cs.bgu.ac.il\nlogin:a\npasscode:b\n\n")
	assert.Equal(t, "CONNECTED\nversion:1.2\n\n", wsRecv(t, ws))
}

// WebSocket and raw TCP clients share the broker state, so messages cross
// listeners.
func TestWebSocketAndTCPInterop(t *testing.T) {
	b := newTestBroker()

	tcp := NewServer(b)
	require.NoError(t, tcp.Start("127.0.0.1:0"))
	defer tcp.Stop()

	wss := NewWSServer(b)
	require.NoError(t, wss.Start("127.0.0.1:0"))
	defer wss.Stop()

	ws := dialWS(t, wss.Addr().String())
	wsSend(t, ws, "CONNECT\naccept-version:1.2\nhost:stomp.cs.bgu.ac.il\nlogin:wsuser\npasscode:pw\n\n")
	assert.Equal(t, "CONNECTED\nversion:1.2\n\n", wsRecv(t, ws))
	wsSend(t, ws, "SUBSCRIBE\ndestination:news\nid:1\nreceipt:r1\n\n")
	assert.Equal(t, "RECEIPT\nreceipt-id:r1\n\n", wsRecv(t, ws))

	conn, err := net.Dial("tcp", tcp.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	sendFrame(t, conn, "CONNECT\naccept-version:1.2\nhost:stomp.cs.bgu.ac.il\nlogin:tcpuser\npasscode:pw\n\n")
	assert.Equal(t, "CONNECTED\nversion:1.2\n\n", recvFrame(t, r, conn))
	sendFrame(t, conn, "SUBSCRIBE\ndestination:news\nid:2\n\n")
	sendFrame(t, conn, "SEND\ndestination:news\n\nover the wire\n")

	assert.Equal(t, "MESSAGE\nsubscription:2\nmessage-id:1\ndestination:news\n\nover the wire\n", recvFrame(t, r, conn))
	assert.Equal(t, "MESSAGE\nsubscription:1\nmessage-id:1\ndestination:news\n\nover the wire\n", wsRecv(t, ws))
}

func TestWebSocketErrorClosesConnection(t *testing.T) {
	s := NewWSServer(newTestBroker())
	require.NoError(t, s.Start("127.0.0.1:0"))
	defer s.Stop()

	ws := dialWS(t, s.Addr().String())
	wsSend(t, ws, "SEND\ndestination:news\n\nnot logged in\n")

	reply := wsRecv(t, ws)
	assert.True(t, strings.HasPrefix(reply, "ERROR\nmessage:Not logged in\n"), "got %q", reply)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
}
