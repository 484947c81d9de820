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
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/stompd/pkg/store"
)

func TestConnectNewUser(t *testing.T) {
	repo := store.NewMemory()
	d := NewDirectory(repo)

	s, status := d.Connect("alice", "pw", 1)
	require.Equal(t, StatusCreated, status)
	require.NotNil(t, s)
	assert.True(t, s.LoggedIn())
	assert.EqualValues(t, 1, s.ConnectionID())

	// Registration went through the facade.
	pw, ok, err := repo.GetPassword("alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pw", pw)

	// And a login row was recorded.
	recs, err := repo.SessionsOf("alice")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestConnectWrongPassword(t *testing.T) {
	d := NewDirectory(store.NewMemory())
	_, status := d.Connect("alice", "pw", 1)
	require.Equal(t, StatusCreated, status)
	d.Logout(mustActive(t, d, "alice"))

	s, status := d.Connect("alice", "nope", 2)
	assert.Equal(t, StatusWrongPassword, status)
	assert.Nil(t, s)
}

func TestConnectAlreadyLoggedIn(t *testing.T) {
	d := NewDirectory(store.NewMemory())
	_, status := d.Connect("alice", "pw", 1)
	require.Equal(t, StatusCreated, status)

	s, status := d.Connect("alice", "pw", 2)
	assert.Equal(t, StatusAlreadyLoggedIn, status)
	assert.Nil(t, s)
}

func TestConnectReusesSessionAfterLogout(t *testing.T) {
	d := NewDirectory(store.NewMemory())
	s1, _ := d.Connect("alice", "pw", 1)
	s1.AddSubscription("/topic/news", "0")
	d.Logout(s1)

	assert.False(t, s1.LoggedIn())
	_, ok := d.ActiveForConnection(1)
	assert.False(t, ok)

	s2, status := d.Connect("alice", "pw", 7)
	assert.Equal(t, StatusOK, status, "record persists, no second registration")
	assert.Same(t, s1, s2)
	_, ok = s2.SubscriptionFor("/topic/news")
	assert.False(t, ok, "logout clears subscriptions")
}

func TestConnectAdoptsUserFromStore(t *testing.T) {
	repo := store.NewMemory()
	require.NoError(t, repo.RegisterUser("alice", "stored-pw"))
	d := NewDirectory(repo)

	_, status := d.Connect("alice", "wrong", 1)
	assert.Equal(t, StatusWrongPassword, status)

	s, status := d.Connect("alice", "stored-pw", 1)
	assert.Equal(t, StatusOK, status)
	require.NotNil(t, s)
}

type failingRepo struct{ *store.Memory }

func (f failingRepo) RegisterUser(string, string) error {
	return errors.New("store down")
}

func TestConnectRegistrationFailure(t *testing.T) {
	d := NewDirectory(failingRepo{store.NewMemory()})

	s, status := d.Connect("alice", "pw", 1)
	assert.Equal(t, StatusRegistrationFailed, status)
	assert.Nil(t, s)

	// The failed attempt must not leave a half-created record behind.
	_, ok := d.ActiveForUsername("alice")
	assert.False(t, ok)
}

func TestConcurrentConnectSameNewUsername(t *testing.T) {
	d := NewDirectory(store.NewMemory())

	const n = 16
	statuses := make([]ConnectStatus, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, statuses[i] = d.Connect("alice", "pw", int64(i+1))
		}(i)
	}
	wg.Wait()

	created, rejected := 0, 0
	for _, st := range statuses {
		switch st {
		case StatusCreated:
			created++
		case StatusAlreadyLoggedIn:
			rejected++
		default:
			t.Fatalf("unexpected status %v", st)
		}
	}
	assert.Equal(t, 1, created, "exactly one CONNECT may be reported as newly created")
	assert.Equal(t, n-1, rejected)
}

// blockingRepo parks GetPassword for one username until released, standing
// in for an unreachable SQL server mid-CONNECT.
type blockingRepo struct {
	*store.Memory
	entered chan struct{}
	release chan struct{}
}

func (r *blockingRepo) GetPassword(username string) (string, bool, error) {
	if username == "slow" {
		close(r.entered)
		<-r.release
	}
	return r.Memory.GetPassword(username)
}

func TestConnectSlowStoreDoesNotBlockDirectory(t *testing.T) {
	repo := &blockingRepo{
		Memory:  store.NewMemory(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	d := NewDirectory(repo)

	done := make(chan ConnectStatus, 1)
	go func() {
		_, status := d.Connect("slow", "pw", 1)
		done <- status
	}()
	<-repo.entered

	// With the store call for "slow" parked, every other directory operation
	// must still go through.
	s, status := d.Connect("other", "pw", 2)
	require.Equal(t, StatusCreated, status)
	require.NotNil(t, s)

	got, ok := d.ActiveForConnection(2)
	require.True(t, ok)
	assert.Same(t, s, got)
	d.Logout(s)
	_, ok = d.ActiveForConnection(2)
	assert.False(t, ok)

	close(repo.release)
	assert.Equal(t, StatusCreated, <-done)
}

func TestSubscriptionIndex(t *testing.T) {
	s := newSession("alice", "pw")

	s.AddSubscription("/topic/news", "0")
	s.AddSubscription("/topic/sports", "1")

	topic, ok := s.TopicFor("1")
	require.True(t, ok)
	assert.Equal(t, "/topic/sports", topic)
	id, ok := s.SubscriptionFor("/topic/news")
	require.True(t, ok)
	assert.Equal(t, "0", id)

	// Re-subscribing the same topic under a new id replaces the old row
	// entirely; the stale id must not resolve.
	s.AddSubscription("/topic/news", "2")
	_, ok = s.TopicFor("0")
	assert.False(t, ok)
	id, _ = s.SubscriptionFor("/topic/news")
	assert.Equal(t, "2", id)
	assert.Len(t, s.Subscriptions(), 2)

	topic, ok = s.RemoveSubscription("2")
	require.True(t, ok)
	assert.Equal(t, "/topic/news", topic)
	_, ok = s.RemoveSubscription("2")
	assert.False(t, ok)
}

func mustActive(t *testing.T, d *Directory, username string) *Session {
	t.Helper()
	s, ok := d.ActiveForUsername(username)
	require.True(t, ok)
	return s
}
