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

// Package config provides configuration management for stompd: listener
// addresses, the connection driver, and the persistence backend.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// StoreConfig selects the persistence backend and its address.
type StoreConfig struct {
	// Backend is one of "memory", "sqlrpc", or "postgres".
	Backend string `yaml:"backend" json:"backend"`
	// Addr is the host:port of the SQL-over-TCP service (sqlrpc backend).
	Addr string `yaml:"addr" json:"addr"`
	// DSN is the connection string for the postgres backend.
	DSN string `yaml:"dsn" json:"dsn"`
}

// ServerConfig holds the listener and driver settings.
type ServerConfig struct {
	// Listen is the TCP listen address for the frame protocol.
	Listen string `yaml:"listen" json:"listen"`
	// Mode selects the connection driver: "tpc" or "reactor".
	Mode string `yaml:"mode" json:"mode"`
	// ReactorWorkers sizes the reactor pool; 0 means one per CPU.
	ReactorWorkers int `yaml:"reactor_workers" json:"reactor_workers"`
	// WebSocketListen enables the WebSocket listener when non-empty.
	WebSocketListen string `yaml:"websocket_listen" json:"websocket_listen"`
	// MetricsListen is the Prometheus /metrics address; empty disables it.
	MetricsListen string `yaml:"metrics_listen" json:"metrics_listen"`
	// Console enables the interactive stdin console.
	Console bool `yaml:"console" json:"console"`
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// Config holds the complete configuration.
type Config struct {
	Server ServerConfig `yaml:"server" json:"server"`
	Store  StoreConfig  `yaml:"store" json:"store"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:        ":7777",
			Mode:          "tpc",
			MetricsListen: ":8082",
			Console:       true,
			LogLevel:      "info",
		},
		Store: StoreConfig{
			Backend: "memory",
		},
	}
}

// LoadConfig loads configuration from a file. An empty path yields the
// defaults.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	ext := strings.ToLower(filepath.Ext(configPath))
	switch ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	slog.Info("configuration loaded", "path", configPath)
	return cfg, nil
}

// SaveConfig writes the configuration to a file, format chosen by extension.
func SaveConfig(cfg *Config, configPath string) error {
	var data []byte
	var err error

	ext := strings.ToLower(filepath.Ext(configPath))
	switch ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", configPath, err)
	}
	return nil
}

// LogLevel translates the configured level name to a slog level.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Server.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen cannot be empty")
	}

	switch cfg.Server.Mode {
	case "tpc", "reactor":
	default:
		return fmt.Errorf("unsupported server.mode: %s (supported: tpc, reactor)", cfg.Server.Mode)
	}

	if cfg.Server.ReactorWorkers < 0 {
		return fmt.Errorf("server.reactor_workers cannot be negative")
	}

	switch cfg.Store.Backend {
	case "memory":
	case "sqlrpc":
		if cfg.Store.Addr == "" {
			return fmt.Errorf("store.addr is required for the sqlrpc backend")
		}
	case "postgres":
		if cfg.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unsupported store.backend: %s (supported: memory, sqlrpc, postgres)", cfg.Store.Backend)
	}

	return nil
}
