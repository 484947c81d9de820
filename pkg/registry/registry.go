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

// Package registry is the shared map from connection ids to outbound sinks
// and from topic names to the connection ids currently subscribed. It is
// what makes pub/sub possible across many concurrent connections: every
// connection worker reads and writes it, so all operations are internally
// synchronized.
package registry

import "sync"

// Sink is a connection's outbound path. Implementations serialize writes to
// the underlying socket; Send never blocks on a dead peer.
type Sink interface {
	Send(frame string)
}

// Registry maps connection id -> sink and topic -> subscriber set. Entries
// reference connections, never own them: the connection driver registers on
// attach and deregisters on teardown.
type Registry struct {
	mu     sync.RWMutex
	conns  map[int64]Sink
	topics map[string]map[int64]struct{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		conns:  make(map[int64]Sink),
		topics: make(map[string]map[int64]struct{}),
	}
}

// AddConnection registers the unicast send target for a connection.
func (r *Registry) AddConnection(id int64, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = sink
}

// RemoveConnection deregisters a connection and strips its id from every
// topic's subscriber set, so no stale entry survives a disconnect.
func (r *Registry) RemoveConnection(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	for topic, subs := range r.topics {
		delete(subs, id)
		if len(subs) == 0 {
			delete(r.topics, topic)
		}
	}
}

// Subscribe adds the connection to the topic's subscriber set. Subscribing
// twice is a no-op.
func (r *Registry) Subscribe(topic string, id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.topics[topic]
	if !ok {
		subs = make(map[int64]struct{})
		r.topics[topic] = subs
	}
	subs[id] = struct{}{}
}

// Unsubscribe removes the connection from the topic's subscriber set.
// Unsubscribing a connection that is not subscribed is a no-op.
func (r *Registry) Unsubscribe(topic string, id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.topics[topic]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(r.topics, topic)
	}
}

// SubscribersOf returns a snapshot of the connection ids subscribed to
// topic. The snapshot is safe to iterate while other connections subscribe
// and unsubscribe concurrently.
func (r *Registry) SubscribersOf(topic string) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.topics[topic]
	ids := make([]int64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	return ids
}

// SendTo hands frame to the connection's sink. It is a no-op when the
// connection is already gone and reports whether the sink was found.
func (r *Registry) SendTo(id int64, frame string) bool {
	r.mu.RLock()
	sink, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	sink.Send(frame)
	return true
}

// Broadcast delivers to every connection currently subscribed to topic.
// frameFor supplies the per-recipient frame (each recipient carries its own
// subscription id); returning false skips that recipient. The number of
// deliveries handed to sinks is returned.
func (r *Registry) Broadcast(topic string, frameFor func(id int64) (string, bool)) int {
	sent := 0
	for _, id := range r.SubscribersOf(topic) {
		frame, ok := frameFor(id)
		if !ok {
			continue
		}
		if r.SendTo(id, frame) {
			sent++
		}
	}
	return sent
}
