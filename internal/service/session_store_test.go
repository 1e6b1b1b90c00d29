package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/tremiti/admin-console/internal/domain/auth"
)

func TestSessionStore_StartsUnknown(t *testing.T) {
	s := NewSessionStore()
	defer s.Close()

	snap := s.Snapshot()
	assert.Equal(t, domainauth.StateUnknown, snap.State)
	assert.Zero(t, snap.Version)
	assert.False(t, snap.Authenticated())
}

func TestSessionStore_PublishBumpsVersionAndCopies(t *testing.T) {
	s := NewSessionStore()
	defer s.Close()

	sess := &domainauth.Session{UID: "u1", Role: domainauth.RoleAdmin}
	notice := &domainauth.Notice{Code: "x"}
	snap := s.Publish(domainauth.StateAuthorized, sess, notice)

	assert.Equal(t, uint64(1), snap.Version)
	assert.True(t, snap.Authenticated())

	sess.UID = "mutated"
	notice.Code = "mutated"
	assert.Equal(t, "u1", s.Snapshot().Session.UID)
	assert.Equal(t, "x", s.Snapshot().Notice.Code)
}

func TestSessionStore_SessionOnlyWhenAuthorized(t *testing.T) {
	s := NewSessionStore()
	defer s.Close()

	for _, st := range []domainauth.State{domainauth.StateResolving, domainauth.StateUnauthorized, domainauth.StateSignedOut} {
		snap := s.Publish(st, &domainauth.Session{UID: "u1"}, nil)
		assert.Nil(t, snap.Session, st.String())
	}
}

func TestSessionStore_SubscribersSeeEveryVersionInOrder(t *testing.T) {
	s := NewSessionStore()

	var mu sync.Mutex
	var a, b []uint64
	s.Subscribe(func(snap domainauth.Snapshot) {
		mu.Lock()
		a = append(a, snap.Version)
		mu.Unlock()
	})
	for range 50 {
		s.Publish(domainauth.StateResolving, nil, nil)
	}
	s.Subscribe(func(snap domainauth.Snapshot) {
		mu.Lock()
		b = append(b, snap.Version)
		mu.Unlock()
	})
	s.Publish(domainauth.StateSignedOut, nil, nil)
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, a, 52)
	for i, v := range a {
		assert.Equal(t, uint64(i), v)
	}
	// A late subscriber starts from the value current when it subscribed.
	assert.Equal(t, []uint64{50, 51}, b)
}

func TestSessionStore_Unsubscribe(t *testing.T) {
	s := NewSessionStore()

	var mu sync.Mutex
	calls := 0
	unsub := s.Subscribe(func(domainauth.Snapshot) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	s.Close()
	unsub()
	unsub()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestSessionStore_Await(t *testing.T) {
	s := NewSessionStore()
	defer s.Close()

	before := s.Snapshot().Version
	done := make(chan domainauth.Snapshot, 1)
	go func() {
		snap, err := s.Await(context.Background(), Settled(before))
		assert.NoError(t, err)
		done <- snap
	}()

	s.Publish(domainauth.StateResolving, nil, nil)
	s.Publish(domainauth.StateAuthorized, &domainauth.Session{UID: "u1"}, nil)

	select {
	case snap := <-done:
		assert.Equal(t, domainauth.StateAuthorized, snap.State)
		assert.Equal(t, uint64(2), snap.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("Await did not return")
	}
}

func TestSessionStore_AwaitImmediate(t *testing.T) {
	s := NewSessionStore()
	defer s.Close()
	s.Publish(domainauth.StateSignedOut, nil, nil)

	snap, err := s.Await(context.Background(), func(s domainauth.Snapshot) bool { return s.State.Settled() })
	require.NoError(t, err)
	assert.Equal(t, domainauth.StateSignedOut, snap.State)
}

func TestSessionStore_AwaitCancelled(t *testing.T) {
	s := NewSessionStore()
	defer s.Close()
	s.Publish(domainauth.StateResolving, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	snap, err := s.Await(ctx, Settled(0))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domainauth.StateResolving, snap.State)
}
