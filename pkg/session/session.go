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

// Package session tracks the broker's known identities and their topic
// subscriptions. A Session is the durable record for one username: it
// survives reconnects for the life of the process, while its login flag is
// true for at most one live connection at a time. The Directory owns every
// Session and provides the atomic CONNECT check-and-set.
package session

import "sync"

// Subscription is one row of a session's subscription table: the
// client-chosen id, the topic it correlates to, and the owning username.
type Subscription struct {
	ID    string
	Topic string
	Owner string
}

// Session is the durable identity record for one username. The subscription
// table is authoritative; the by-id and by-topic indices are derived from it
// and rebuilt after every mutation so they cannot drift.
type Session struct {
	Username string
	Password string

	mu       sync.Mutex
	loggedIn bool
	connID   int64
	subs     []Subscription
	byID     map[string]int
	byTopic  map[string]int
}

func newSession(username, password string) *Session {
	return &Session{Username: username, Password: password}
}

// reindex rebuilds the lookup indices from the table. Callers hold mu.
func (s *Session) reindex() {
	s.byID = make(map[string]int, len(s.subs))
	s.byTopic = make(map[string]int, len(s.subs))
	for i, sub := range s.subs {
		s.byID[sub.ID] = i
		s.byTopic[sub.Topic] = i
	}
}

// AddSubscription records that this session subscribed to topic under id.
// Ids are unique within a session and a topic maps to at most one id, so any
// existing row with the same id or the same topic is replaced.
func (s *Session) AddSubscription(topic, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.subs[:0]
	for _, sub := range s.subs {
		if sub.ID != id && sub.Topic != topic {
			kept = append(kept, sub)
		}
	}
	s.subs = append(kept, Subscription{ID: id, Topic: topic, Owner: s.Username})
	s.reindex()
}

// RemoveSubscription deletes the row with the given id and returns its topic.
func (s *Session) RemoveSubscription(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[id]
	if !ok {
		return "", false
	}
	topic := s.subs[i].Topic
	s.subs = append(s.subs[:i], s.subs[i+1:]...)
	s.reindex()
	return topic, true
}

// TopicFor resolves a subscription id to its topic.
func (s *Session) TopicFor(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[id]
	if !ok {
		return "", false
	}
	return s.subs[i].Topic, true
}

// SubscriptionFor resolves a topic to this session's subscription id.
func (s *Session) SubscriptionFor(topic string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byTopic[topic]
	if !ok {
		return "", false
	}
	return s.subs[i].ID, true
}

// Subscriptions returns a copy of the subscription table.
func (s *Session) Subscriptions() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Subscription(nil), s.subs...)
}

// ClearSubscriptions empties the subscription table.
func (s *Session) ClearSubscriptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = nil
	s.reindex()
}

// LoggedIn reports whether the session is bound to a live connection.
func (s *Session) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

// ConnectionID returns the connection the session is bound to. Meaningful
// only while LoggedIn.
func (s *Session) ConnectionID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connID
}

func (s *Session) login(connID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = true
	s.connID = connID
}

func (s *Session) logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = false
	s.subs = nil
	s.reindex()
}
