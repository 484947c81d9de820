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

// package metrics provides Prometheus metrics for the broker.
package metrics

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal counts every accepted client connection.
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stompd_connections_total",
		Help: "The total number of client connections accepted by the broker.",
	})

	// FramesTotal counts processed client frames by command.
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stompd_frames_total",
		Help: "The total number of client frames processed, by command.",
	},
		[]string{"command"},
	)

	// MessagesRoutedTotal counts MESSAGE deliveries handed to subscriber sinks.
	MessagesRoutedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stompd_messages_routed_total",
		Help: "The total number of MESSAGE frames routed to subscribers.",
	})

	// ProtocolErrorsTotal counts ERROR frames sent, by short message.
	ProtocolErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stompd_protocol_errors_total",
		Help: "The total number of protocol errors that terminated a connection.",
	},
		[]string{"reason"},
	)
)

// Serve starts an HTTP server to expose the Prometheus metrics.
func Serve(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	slog.Info("metrics server listening", "addr", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		logFatal("metrics server failed", "error", err)
	}
}

// logFatal can be replaced by tests to prevent process exit.
var logFatal = func(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}
