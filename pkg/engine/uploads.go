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

package engine

import "sync"

type uploadKey struct {
	username string
	filename string
	topic    string
}

// UploadLog is the process-wide dedup set for file-upload audit calls: a
// (user, file, topic) triple is forwarded to the persistence facade exactly
// once, no matter how many SENDs repeat it.
type UploadLog struct {
	mu   sync.Mutex
	seen map[uploadKey]struct{}
}

// NewUploadLog creates an empty dedup log.
func NewUploadLog() *UploadLog {
	return &UploadLog{seen: make(map[uploadKey]struct{})}
}

// FirstReport records the triple and reports whether this was its first
// occurrence. The check and the insert are one atomic step.
func (l *UploadLog) FirstReport(username, filename, topic string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := uploadKey{username, filename, topic}
	if _, dup := l.seen[key]; dup {
		return false
	}
	l.seen[key] = struct{}{}
	return true
}
