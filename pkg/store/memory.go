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
	"fmt"
	"sort"
	"sync"
)

// Memory is the in-memory Repository. It is the default backend when no
// remote store is configured and the substitute used throughout the tests.
type Memory struct {
	mu       sync.Mutex
	users    map[string]string
	sessions map[string][]SessionRecord
	uploads  map[string][]UploadRecord
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]string),
		sessions: make(map[string][]SessionRecord),
		uploads:  make(map[string][]UploadRecord),
	}
}

// GetPassword implements Repository.
func (m *Memory) GetPassword(username string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pw, ok := m.users[username]
	return pw, ok, nil
}

// RegisterUser implements Repository.
func (m *Memory) RegisterUser(username, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		return fmt.Errorf("register %q: user exists", username)
	}
	m.users[username] = password
	return nil
}

// LogLogin implements Repository.
func (m *Memory) LogLogin(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[username] = append(m.sessions[username], SessionRecord{LoginTime: now()})
}

// LogLogout implements Repository. It closes the most recent open session
// row, matching the remote store's UPDATE semantics.
func (m *Memory) LogLogout(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.sessions[username]
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].LogoutTime == "" {
			rows[i].LogoutTime = now()
			return
		}
	}
}

// TrackFileUpload implements Repository.
func (m *Memory) TrackFileUpload(username, filename, topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads[username] = append(m.uploads[username], UploadRecord{
		Filename:   filename,
		Topic:      topic,
		UploadTime: now(),
	})
}

// Users implements Repository.
func (m *Memory) Users() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.users))
	for name := range m.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// SessionsOf implements Repository.
func (m *Memory) SessionsOf(username string) ([]SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SessionRecord(nil), m.sessions[username]...), nil
}

// UploadsOf implements Repository.
func (m *Memory) UploadsOf(username string) ([]UploadRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]UploadRecord(nil), m.uploads[username]...), nil
}
