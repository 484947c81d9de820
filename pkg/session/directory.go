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

package session

import (
	"log/slog"
	"sync"

	"github.com/turtacn/stompd/pkg/store"
)

// ConnectStatus is the outcome of a CONNECT check-and-set.
type ConnectStatus int

const (
	// StatusOK means an existing user logged in with the right password.
	StatusOK ConnectStatus = iota
	// StatusCreated means a never-seen username was registered and logged in.
	StatusCreated
	// StatusWrongPassword means the password did not match the stored one.
	StatusWrongPassword
	// StatusAlreadyLoggedIn means the username is bound to another live
	// connection.
	StatusAlreadyLoggedIn
	// StatusRegistrationFailed means the persistence facade rejected or could
	// not complete the registration of a new user.
	StatusRegistrationFailed
)

// Directory is the shared registry of Sessions, keyed by username and, while
// logged in, by connection id. Session records are never removed: a returning
// user reuses their record. All operations are safe for concurrent use from
// many connection workers.
type Directory struct {
	mu        sync.Mutex
	repo      store.Repository
	byName    map[string]*Session
	byConn    map[int64]*Session
	resolving map[string]chan struct{}
}

// NewDirectory creates an empty directory backed by repo for credential
// lookup and registration.
func NewDirectory(repo store.Repository) *Directory {
	return &Directory{
		repo:      repo,
		byName:    make(map[string]*Session),
		byConn:    make(map[int64]*Session),
		resolving: make(map[string]chan struct{}),
	}
}

// Connect performs the CONNECT check-and-set: find or create the session for
// username, compare the password, check the login flag, and bind the session
// to connID. The check and the bind happen in one critical section, so two
// concurrent CONNECTs for the same username can never both win and only the
// registering CONNECT is ever reported as created.
//
// Store calls run outside the directory lock: a slow or unreachable store
// may stall the connections waiting on that one username, but never SEND
// fan-out or CONNECTs for other users. A username unknown to this process is
// resolved at most once at a time, behind a per-username gate; later
// CONNECTs for the same name wait for that resolution instead of racing the
// store. Stored users are adopted with their stored password, truly new
// usernames are registered, and a facade failure is reported as
// StatusRegistrationFailed.
func (d *Directory) Connect(username, password string, connID int64) (*Session, ConnectStatus) {
	for {
		d.mu.Lock()
		if s, ok := d.byName[username]; ok {
			status := d.bindLocked(s, password, connID)
			d.mu.Unlock()
			if status != StatusOK {
				return nil, status
			}
			d.repo.LogLogin(username)
			return s, StatusOK
		}
		if gate, ok := d.resolving[username]; ok {
			d.mu.Unlock()
			<-gate
			continue
		}
		gate := make(chan struct{})
		d.resolving[username] = gate
		d.mu.Unlock()

		s, created := d.adopt(username, password)

		d.mu.Lock()
		status := StatusRegistrationFailed
		if s != nil {
			d.byName[username] = s
			status = d.bindLocked(s, password, connID)
		}
		delete(d.resolving, username)
		close(gate)
		d.mu.Unlock()

		if status != StatusOK {
			return nil, status
		}
		d.repo.LogLogin(username)
		if created {
			return s, StatusCreated
		}
		return s, StatusOK
	}
}

// adopt resolves a username unknown to this process against the store. It is
// called without the directory lock held; the resolving gate guarantees at
// most one adopt per username at a time.
func (d *Directory) adopt(username, password string) (*Session, bool) {
	stored, known, err := d.repo.GetPassword(username)
	switch {
	case err != nil:
		return nil, false
	case known:
		return newSession(username, stored), false
	}
	if err := d.repo.RegisterUser(username, password); err != nil {
		slog.Warn("user registration failed", "user", username, "error", err)
		return nil, false
	}
	return newSession(username, password), true
}

// bindLocked validates the password and login flag and binds the session to
// connID. Callers hold d.mu.
func (d *Directory) bindLocked(s *Session, password string, connID int64) ConnectStatus {
	if s.Password != password {
		return StatusWrongPassword
	}
	if s.LoggedIn() {
		return StatusAlreadyLoggedIn
	}
	s.login(connID)
	d.byConn[connID] = s
	return StatusOK
}

// Logout clears the session's login flag and subscription table and unbinds
// it from its connection. The session record itself stays in the directory.
func (d *Directory) Logout(s *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.byConn, s.ConnectionID())
	s.logout()
}

// ActiveForConnection resolves a connection id to its logged-in session.
// Used to pick each recipient's own subscription id during SEND fan-out; a
// connection without a resolvable session (teardown race) yields false.
func (d *Directory) ActiveForConnection(connID int64) (*Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.byConn[connID]
	if !ok || !s.LoggedIn() {
		return nil, false
	}
	return s, true
}

// ActiveForUsername resolves a username to its session if currently logged in.
func (d *Directory) ActiveForUsername(username string) (*Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.byName[username]
	if !ok || !s.LoggedIn() {
		return nil, false
	}
	return s, true
}
