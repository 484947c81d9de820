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

package store

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

// SQLRPC talks to the remote SQL server. Each call opens one connection,
// writes a single SQL string terminated by a NUL byte, and reads a
// NUL-terminated reply:
//
//	SUCCESS
//	SUCCESS|row1|row2|...   (rows are comma-separated columns)
//	ERROR|message
//
// Schema on the remote side: users(username, password),
// sessions(id, username, login_time, logout_time),
// file_logs(id, username, filename, game_channel, upload_time).
type SQLRPC struct {
	addr    string
	timeout time.Duration
}

// NewSQLRPC creates a client for the SQL server at addr (host:port).
func NewSQLRPC(addr string) *SQLRPC {
	return &SQLRPC{addr: addr, timeout: 5 * time.Second}
}

// exec performs one request/response exchange and returns the raw reply.
func (c *SQLRPC) exec(sql string) (string, error) {
	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return "", fmt.Errorf("dial sql server %s: %w", c.addr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if _, err := conn.Write(append([]byte(sql), 0)); err != nil {
		return "", fmt.Errorf("write to sql server: %w", err)
	}

	reply, err := bufio.NewReader(conn).ReadString(0)
	if err != nil {
		return "", fmt.Errorf("read from sql server: %w", err)
	}
	return strings.TrimSuffix(reply, "\x00"), nil
}

// query runs sql and parses the reply rows. A transport failure or an
// ERROR reply surfaces as ErrUnavailable.
func (c *SQLRPC) query(sql string) ([][]string, error) {
	reply, err := c.exec(sql)
	if err != nil {
		slog.Warn("sql rpc failed", "error", err)
		return nil, ErrUnavailable
	}
	if !strings.HasPrefix(reply, "SUCCESS") {
		slog.Warn("sql rpc rejected", "reply", reply)
		return nil, ErrUnavailable
	}
	parts := strings.Split(reply, "|")
	var rows [][]string
	for _, row := range parts[1:] {
		if row == "" {
			continue
		}
		rows = append(rows, strings.Split(row, ","))
	}
	return rows, nil
}

// esc doubles single quotes for embedding in a SQL literal.
func esc(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// GetPassword implements Repository.
func (c *SQLRPC) GetPassword(username string) (string, bool, error) {
	rows, err := c.query("SELECT password FROM users WHERE username='" + esc(username) + "'")
	if err != nil {
		return "", false, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return "", false, nil
	}
	return rows[0][0], true, nil
}

// RegisterUser implements Repository.
func (c *SQLRPC) RegisterUser(username, password string) error {
	_, err := c.query("INSERT INTO users(username,password) VALUES('" +
		esc(username) + "','" + esc(password) + "')")
	return err
}

// LogLogin implements Repository.
func (c *SQLRPC) LogLogin(username string) {
	_, _ = c.query("INSERT INTO sessions(username,login_time,logout_time) VALUES('" +
		esc(username) + "','" + esc(now()) + "',NULL)")
}

// LogLogout implements Repository.
func (c *SQLRPC) LogLogout(username string) {
	u := esc(username)
	_, _ = c.query("UPDATE sessions SET logout_time='" + esc(now()) +
		"' WHERE id=(SELECT id FROM sessions WHERE username='" + u +
		"' AND logout_time IS NULL ORDER BY id DESC LIMIT 1)")
}

// TrackFileUpload implements Repository.
func (c *SQLRPC) TrackFileUpload(username, filename, topic string) {
	_, _ = c.query("INSERT INTO file_logs(username,filename,game_channel,upload_time) VALUES('" +
		esc(username) + "','" + esc(filename) + "','" + esc(topic) + "','" + esc(now()) + "')")
}

// Users implements Repository.
func (c *SQLRPC) Users() ([]string, error) {
	rows, err := c.query("SELECT username FROM users ORDER BY username")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) > 0 {
			names = append(names, row[0])
		}
	}
	return names, nil
}

// SessionsOf implements Repository.
func (c *SQLRPC) SessionsOf(username string) ([]SessionRecord, error) {
	rows, err := c.query("SELECT login_time, COALESCE(logout_time,'') FROM sessions WHERE username='" +
		esc(username) + "' ORDER BY id")
	if err != nil {
		return nil, err
	}
	recs := make([]SessionRecord, 0, len(rows))
	for _, row := range rows {
		rec := SessionRecord{}
		if len(row) > 0 {
			rec.LoginTime = row[0]
		}
		if len(row) > 1 {
			rec.LogoutTime = row[1]
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// UploadsOf implements Repository.
func (c *SQLRPC) UploadsOf(username string) ([]UploadRecord, error) {
	rows, err := c.query("SELECT filename, COALESCE(game_channel,''), upload_time FROM file_logs WHERE username='" +
		esc(username) + "' ORDER BY id")
	if err != nil {
		return nil, err
	}
	recs := make([]UploadRecord, 0, len(rows))
	for _, row := range rows {
		rec := UploadRecord{}
		if len(row) > 0 {
			rec.Filename = row[0]
		}
		if len(row) > 1 {
			rec.Topic = row[1]
		}
		if len(row) > 2 {
			rec.UploadTime = row[2]
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
