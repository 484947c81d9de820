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

// Package store is the persistence facade of the broker. It records
// credentials, login/logout timestamps and file-upload audit rows, and serves
// the report queries used by the operator console. Three backends implement
// the same Repository interface: an in-memory store (the default, also the
// test substitute), a client for the remote SQL server spoken to over a
// NUL-terminated request/response exchange, and a direct PostgreSQL store.
//
// Every failure inside a backend degrades to "operation failed" — a store
// outage must never take down the protocol engine.
package store

import (
	"errors"
	"time"
)

// ErrUnavailable is returned when the backing store cannot be reached or
// rejects an operation.
var ErrUnavailable = errors.New("store unavailable")

// SessionRecord is one login/logout row for a user. LogoutTime is empty while
// the session is still open.
type SessionRecord struct {
	LoginTime  string
	LogoutTime string
}

// UploadRecord is one tracked file upload.
type UploadRecord struct {
	Filename   string
	Topic      string
	UploadTime string
}

// Repository is the contract between the broker and its persistence backend.
// GetPassword and RegisterUser gate CONNECT success; the Log* and Track*
// calls are fire-and-forget from the engine's perspective. The report
// queries feed the operator console.
type Repository interface {
	// GetPassword returns the stored password for username. The boolean is
	// false when the user is unknown.
	GetPassword(username string) (string, bool, error)
	// RegisterUser stores a new user. Registering an already-known username
	// is an error.
	RegisterUser(username, password string) error
	// LogLogin records a login timestamp for username.
	LogLogin(username string)
	// LogLogout closes the most recent open session row for username.
	LogLogout(username string)
	// TrackFileUpload records that username published filename into topic.
	TrackFileUpload(username, filename, topic string)

	// Users lists all registered usernames, sorted.
	Users() ([]string, error)
	// SessionsOf lists username's login history, oldest first.
	SessionsOf(username string) ([]SessionRecord, error)
	// UploadsOf lists username's tracked uploads, oldest first.
	UploadsOf(username string) ([]UploadRecord, error)
}

const timestampLayout = "2006-01-02 15:04:05"

func now() string {
	return time.Now().Format(timestampLayout)
}
