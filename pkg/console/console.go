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

// Package console is the interactive operator console read from stdin. Its
// one substantial command, report, prints every registered user with their
// login history and tracked file uploads, straight from the persistence
// facade.
package console

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fatih/color"

	"github.com/turtacn/stompd/pkg/store"
)

// Console reads operator commands from in and writes results to out.
type Console struct {
	repo store.Repository
	in   io.Reader
	out  io.Writer

	header *color.Color
	user   *color.Color
	warn   *color.Color
}

// New creates a console over the given streams.
func New(repo store.Repository, in io.Reader, out io.Writer) *Console {
	return &Console{
		repo:   repo,
		in:     in,
		out:    out,
		header: color.New(color.FgCyan, color.Bold),
		user:   color.New(color.FgGreen),
		warn:   color.New(color.FgYellow),
	}
}

// Run consumes commands until the input stream ends. It blocks, so callers
// run it on its own goroutine.
func (c *Console) Run() {
	scanner := bufio.NewScanner(c.in)
	c.prompt()
	for scanner.Scan() {
		switch cmd := strings.TrimSpace(scanner.Text()); cmd {
		case "":
		case "report":
			c.Report()
		case "help":
			fmt.Fprintln(c.out, "commands: report, help, exit")
		case "exit", "quit":
			return
		default:
			c.warn.Fprintf(c.out, "unknown command %q, try help\n", cmd)
		}
		c.prompt()
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("console input failed", "error", err)
	}
}

func (c *Console) prompt() {
	fmt.Fprint(c.out, "> ")
}

// Report prints every registered user with their session history and file
// uploads.
func (c *Console) Report() {
	users, err := c.repo.Users()
	if err != nil {
		c.warn.Fprintln(c.out, "report unavailable: store cannot be reached")
		return
	}
	if len(users) == 0 {
		fmt.Fprintln(c.out, "no registered users")
		return
	}

	for _, username := range users {
		c.user.Fprintf(c.out, "%s:\n", username)
		c.reportSessions(username)
		c.reportUploads(username)
	}
}

func (c *Console) reportSessions(username string) {
	c.header.Fprintln(c.out, "  sessions:")
	sessions, err := c.repo.SessionsOf(username)
	if err != nil {
		c.warn.Fprintln(c.out, "    unavailable")
		return
	}
	for _, s := range sessions {
		if s.LogoutTime == "" {
			fmt.Fprintf(c.out, "    %s - (still logged in)\n", s.LoginTime)
		} else {
			fmt.Fprintf(c.out, "    %s - %s\n", s.LoginTime, s.LogoutTime)
		}
	}
}

func (c *Console) reportUploads(username string) {
	uploads, err := c.repo.UploadsOf(username)
	if err != nil {
		c.warn.Fprintln(c.out, "  uploads: unavailable")
		return
	}
	if len(uploads) == 0 {
		return
	}
	c.header.Fprintln(c.out, "  uploads:")
	for _, u := range uploads {
		fmt.Fprintf(c.out, "    file='%s' channel='%s' time=%s\n", u.Filename, u.Topic, u.UploadTime)
	}
}
