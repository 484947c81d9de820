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

// Package broker assembles the shared server state: the session directory,
// the subscriber registry, the persistence facade, the message-id counter,
// and the file-upload dedup log. Connection drivers attach sockets to it and
// get back a protocol engine wired into that shared state.
package broker

import (
	"sync/atomic"

	"github.com/turtacn/stompd/pkg/engine"
	"github.com/turtacn/stompd/pkg/registry"
	"github.com/turtacn/stompd/pkg/session"
	"github.com/turtacn/stompd/pkg/store"
)

// Broker is the state shared by every connection, regardless of which driver
// accepted it. One Broker serves all listeners of the process.
type Broker struct {
	dir      *session.Directory
	reg      *registry.Registry
	repo     store.Repository
	counter  atomic.Uint64
	uploads  *engine.UploadLog
	nextConn atomic.Int64
}

// New creates a broker backed by repo.
func New(repo store.Repository) *Broker {
	return &Broker{
		dir:     session.NewDirectory(repo),
		reg:     registry.New(),
		repo:    repo,
		uploads: engine.NewUploadLog(),
	}
}

// NextConnID allocates a process-unique connection id.
func (b *Broker) NextConnID() int64 {
	return b.nextConn.Add(1)
}

// Attach registers the connection's outbound sink and returns the engine
// that will consume its frames.
func (b *Broker) Attach(id int64, sink registry.Sink) *engine.Engine {
	b.reg.AddConnection(id, sink)
	return engine.New(id, b.dir, b.reg, b.repo, &b.counter, b.uploads)
}

// Store returns the persistence facade the broker was built with. The
// console reads report data through it.
func (b *Broker) Store() store.Repository {
	return b.repo
}
