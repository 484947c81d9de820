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

// Package engine implements the per-connection protocol state machine. One
// Engine instance consumes the decoded frames of one connection, validates
// them against session and subscription state, mutates the shared directory
// and registry, and emits reply and broadcast frames through the registry's
// sinks. Every protocol violation is terminal for the offending connection
// and never affects any other connection.
package engine

import (
	"log/slog"
	"sync/atomic"

	"github.com/turtacn/stompd/pkg/frame"
	"github.com/turtacn/stompd/pkg/metrics"
	"github.com/turtacn/stompd/pkg/registry"
	"github.com/turtacn/stompd/pkg/session"
	"github.com/turtacn/stompd/pkg/store"
)

// State is the engine's position in the connection lifecycle.
type State int

const (
	// StateUnauthenticated is the initial state; only CONNECT is accepted.
	StateUnauthenticated State = iota
	// StateAuthenticated is entered after a successful CONNECT.
	StateAuthenticated
	// StateTerminated is terminal: the driver must stop reading and close
	// the socket.
	StateTerminated
)

// Engine drives one connection's protocol session. It is used by exactly one
// connection worker at a time; the shared structures it touches are
// internally synchronized.
type Engine struct {
	connID  int64
	state   State
	sess    *session.Session
	dir     *session.Directory
	reg     *registry.Registry
	repo    store.Repository
	counter *atomic.Uint64
	uploads *UploadLog
}

// New creates the engine for one connection. counter is the process-wide
// message-id source shared by every engine; uploads is the shared
// file-upload dedup log.
func New(connID int64, dir *session.Directory, reg *registry.Registry,
	repo store.Repository, counter *atomic.Uint64, uploads *UploadLog) *Engine {
	return &Engine{
		connID:  connID,
		dir:     dir,
		reg:     reg,
		repo:    repo,
		counter: counter,
		uploads: uploads,
	}
}

// State returns the engine's current state.
func (e *Engine) State() State {
	return e.state
}

// ShouldTerminate reports whether the driver must stop reading and close the
// connection.
func (e *Engine) ShouldTerminate() bool {
	return e.state == StateTerminated
}

// Process consumes one decoded frame. raw is the frame text exactly as it
// arrived, kept for verbatim echo inside ERROR frames. Frames arriving after
// the engine terminated are discarded: teardown has already run and the
// session is gone.
func (e *Engine) Process(raw string) {
	if e.state == StateTerminated {
		return
	}

	f := frame.Parse(raw)
	metrics.FramesTotal.WithLabelValues(f.Command).Inc()

	if e.state == StateUnauthenticated && f.Command != frame.CmdConnect {
		e.fail("Not logged in", "You must log in first", f, raw)
		return
	}

	switch f.Command {
	case frame.CmdConnect:
		e.handleConnect(f, raw)
	case frame.CmdSubscribe:
		e.handleSubscribe(f, raw)
	case frame.CmdUnsubscribe:
		e.handleUnsubscribe(f, raw)
	case frame.CmdSend:
		e.handleSend(f, raw)
	case frame.CmdDisconnect:
		e.handleDisconnect(f)
	default:
		e.fail("Unknown Command", "Command not recognized", f, raw)
	}
}

func (e *Engine) handleConnect(f frame.Frame, raw string) {
	if e.state == StateAuthenticated {
		e.fail("Already connected", "A session is already open on this connection", f, raw)
		return
	}

	login, hasLogin := f.Header("login")
	passcode, hasPasscode := f.Header("passcode")
	if !hasLogin || !hasPasscode {
		e.fail("Malformed Frame", "Missing login or passcode", f, raw)
		return
	}

	sess, status := e.dir.Connect(login, passcode, e.connID)
	switch status {
	case session.StatusOK, session.StatusCreated:
		e.sess = sess
		e.state = StateAuthenticated
		slog.Info("client logged in", "user", login, "conn", e.connID,
			"created", status == session.StatusCreated)
		e.reg.SendTo(e.connID, frame.Connected())
		e.receipt(f)
	case session.StatusWrongPassword:
		e.fail("Wrong password", "Password does not match", f, raw)
	case session.StatusAlreadyLoggedIn:
		e.fail("User already logged in", "User is already logged in", f, raw)
	default:
		e.fail("Registration failed", "Could not register user", f, raw)
	}
}

func (e *Engine) handleSubscribe(f frame.Frame, raw string) {
	topic, hasTopic := f.Header("destination")
	subID, hasID := f.Header("id")
	if !hasTopic || !hasID {
		e.fail("Malformed Frame", "Missing destination or id header", f, raw)
		return
	}

	e.sess.AddSubscription(topic, subID)
	e.reg.Subscribe(topic, e.connID)
	slog.Debug("subscribed", "user", e.sess.Username, "topic", topic, "id", subID)
	e.receipt(f)
}

func (e *Engine) handleUnsubscribe(f frame.Frame, raw string) {
	subID, hasID := f.Header("id")
	if !hasID {
		e.fail("Malformed Frame", "Missing id header", f, raw)
		return
	}

	topic, ok := e.sess.RemoveSubscription(subID)
	if !ok {
		e.fail("Unknown subscription", "No subscription with that id", f, raw)
		return
	}
	e.reg.Unsubscribe(topic, e.connID)
	slog.Debug("unsubscribed", "user", e.sess.Username, "topic", topic, "id", subID)
	e.receipt(f)
}

func (e *Engine) handleSend(f frame.Frame, raw string) {
	topic, hasTopic := f.Header("destination")
	if !hasTopic {
		e.fail("Malformed Frame", "Missing destination", f, raw)
		return
	}
	if _, ok := e.sess.SubscriptionFor(topic); !ok {
		e.fail("Permission denied", "Not subscribed to topic", f, raw)
		return
	}

	messageID := e.counter.Add(1)
	sent := e.reg.Broadcast(topic, func(conn int64) (string, bool) {
		target, ok := e.dir.ActiveForConnection(conn)
		if !ok {
			return "", false
		}
		subID, ok := target.SubscriptionFor(topic)
		if !ok {
			return "", false
		}
		return frame.Message(subID, messageID, topic, f.Body), true
	})
	metrics.MessagesRoutedTotal.Add(float64(sent))

	if file, ok := f.Header("file"); ok {
		if e.uploads.FirstReport(e.sess.Username, file, topic) {
			e.repo.TrackFileUpload(e.sess.Username, file, topic)
		}
	}
	e.receipt(f)
}

func (e *Engine) handleDisconnect(f frame.Frame) {
	e.receipt(f)
	slog.Info("client disconnected", "user", e.sess.Username, "conn", e.connID)
	e.state = StateTerminated
	e.teardown()
}

// Shutdown tears the connection's shared state down when the driver exits
// for any reason: explicit DISCONNECT, fatal protocol error, peer close, or
// an I/O failure. It is idempotent.
func (e *Engine) Shutdown() {
	e.state = StateTerminated
	e.teardown()
}

// teardown logs the session out, records the logout, and removes the
// connection from every shared structure so no future broadcast targets it.
func (e *Engine) teardown() {
	if e.sess != nil {
		for _, sub := range e.sess.Subscriptions() {
			e.reg.Unsubscribe(sub.Topic, e.connID)
		}
		e.dir.Logout(e.sess)
		e.repo.LogLogout(e.sess.Username)
		e.sess = nil
	}
	e.reg.RemoveConnection(e.connID)
}

// receipt acknowledges the frame when it carries a receipt header.
func (e *Engine) receipt(f frame.Frame) {
	if id, ok := f.Header("receipt"); ok {
		e.reg.SendTo(e.connID, frame.Receipt(id))
	}
}

// fail emits the single terminal ERROR frame for this connection and tears
// it down. The offending frame is echoed verbatim so the client can see what
// was rejected.
func (e *Engine) fail(short, detail string, f frame.Frame, raw string) {
	metrics.ProtocolErrorsTotal.WithLabelValues(short).Inc()
	slog.Warn("protocol error", "conn", e.connID, "reason", short, "command", f.Command)

	receiptID, _ := f.Header("receipt")
	e.reg.SendTo(e.connID, frame.Error(short, receiptID, raw, detail))
	e.state = StateTerminated
	e.teardown()
}
