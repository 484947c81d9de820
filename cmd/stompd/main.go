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

// package main is the entrypoint for the stompd broker.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/lmittmann/tint"

	"github.com/turtacn/stompd/pkg/broker"
	"github.com/turtacn/stompd/pkg/config"
	"github.com/turtacn/stompd/pkg/console"
	"github.com/turtacn/stompd/pkg/metrics"
	"github.com/turtacn/stompd/pkg/store"
	"github.com/turtacn/stompd/pkg/transport"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] <port> <tpc|reactor>\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(1)
}

// driver is the common surface of the two connection drivers.
type driver interface {
	Start(addr string) error
	Stop()
	Addr() net.Addr
}

func main() {
	configPath := flag.String("config", "", "path to a yaml or json config file")
	flag.Usage = usage
	flag.Parse()

	// The port and driver are positional and mandatory; nothing is bound
	// before they validate.
	args := flag.Args()
	if len(args) != 2 {
		usage()
	}
	port, err := strconv.Atoi(args[0])
	if err != nil || port < 1 || port > 65535 {
		fmt.Fprintf(os.Stderr, "invalid port %q\n", args[0])
		usage()
	}
	mode := args[1]
	if mode != "tpc" && mode != "reactor" {
		fmt.Fprintf(os.Stderr, "invalid driver %q\n", mode)
		usage()
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg.Server.Listen = fmt.Sprintf(":%d", port)
	cfg.Server.Mode = mode

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: cfg.LogLevel(),
	})))

	repo, err := openStore(cfg)
	if err != nil {
		slog.Error("store setup failed", "error", err)
		os.Exit(1)
	}

	b := broker.New(repo)

	var d driver
	if mode == "reactor" {
		d = transport.NewReactor(b, cfg.Server.ReactorWorkers)
	} else {
		d = transport.NewServer(b)
	}
	if err := d.Start(cfg.Server.Listen); err != nil {
		slog.Error("listen failed", "addr", cfg.Server.Listen, "error", err)
		os.Exit(1)
	}
	defer d.Stop()

	var ws *transport.WSServer
	if cfg.Server.WebSocketListen != "" {
		ws = transport.NewWSServer(b)
		if err := ws.Start(cfg.Server.WebSocketListen); err != nil {
			slog.Error("websocket listen failed", "addr", cfg.Server.WebSocketListen, "error", err)
			os.Exit(1)
		}
		defer ws.Stop()
	}

	if cfg.Server.MetricsListen != "" {
		go metrics.Serve(cfg.Server.MetricsListen)
	}

	if cfg.Server.Console {
		go console.New(b.Store(), os.Stdin, os.Stdout).Run()
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)
	<-shutdownChan

	slog.Info("shutdown signal received")
}

func openStore(cfg *config.Config) (store.Repository, error) {
	switch cfg.Store.Backend {
	case "sqlrpc":
		return store.NewSQLRPC(cfg.Store.Addr), nil
	case "postgres":
		return store.OpenPostgres(cfg.Store.DSN)
	default:
		return store.NewMemory(), nil
	}
}
