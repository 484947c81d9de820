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

package metrics

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistered(t *testing.T) {
	assert.NotNil(t, ConnectionsTotal)
	assert.NotNil(t, FramesTotal)
	assert.NotNil(t, MessagesRoutedTotal)
	assert.NotNil(t, ProtocolErrorsTotal)
}

func TestServe(t *testing.T) {
	// Use our own listener so the port is known and the server can be shut
	// down.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()

	originalLogFatal := logFatal
	defer func() { logFatal = originalLogFatal }()

	serverErrChan := make(chan error, 1)
	logFatal = func(msg string, args ...any) {
		serverErrChan <- fmt.Errorf("%s %v", msg, args)
	}

	go func() {
		server := &http.Server{}
		http.DefaultServeMux = http.NewServeMux() // Reset handler to avoid test pollution
		http.Handle("/metrics", promhttp.Handler())
		_ = server.Serve(listener)
	}()

	time.Sleep(100 * time.Millisecond)

	ConnectionsTotal.Inc()
	FramesTotal.WithLabelValues("CONNECT").Inc()
	ProtocolErrorsTotal.WithLabelValues("Malformed Frame").Inc()

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "stompd_connections_total")
	assert.Contains(t, string(body), "stompd_frames_total")
	assert.Contains(t, string(body), "stompd_protocol_errors_total")

	require.NoError(t, listener.Close())

	select {
	case err := <-serverErrChan:
		if err != nil && !strings.Contains(err.Error(), "use of closed network connection") {
			t.Fatalf("server failed unexpectedly: %v", err)
		}
	case <-time.After(1 * time.Second):
	}
}
