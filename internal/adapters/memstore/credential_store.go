// Package memstore keeps identity provider credentials in process memory.
// It backs the console when Redis is disabled: sign-ins survive idle client
// reaping but not a restart.
package memstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tremiti/admin-console/internal/ports"
)

type entry struct {
	creds   ports.Credentials
	expires time.Time
}

// CredentialStore is a TTL-bounded in-memory credential store. Expired
// entries are dropped lazily on Get and by Prune.
type CredentialStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

var _ ports.CredentialStore = (*CredentialStore)(nil)

// NewCredentialStore returns an empty store. A non-positive ttl keeps entries until deleted.
func NewCredentialStore(ttl time.Duration) *CredentialStore {
	return &CredentialStore{ttl: ttl, now: time.Now, entries: make(map[string]entry)}
}

func (s *CredentialStore) Save(_ context.Context, clientID string, creds ports.Credentials) error {
	if clientID == "" {
		return errors.New("client ID cannot be empty")
	}
	if creds.UID == "" || creds.RefreshToken == "" {
		return errors.New("credentials require uid and refresh token")
	}
	e := entry{creds: creds}
	if s.ttl > 0 {
		e.expires = s.now().Add(s.ttl)
	}
	s.mu.Lock()
	s.entries[clientID] = e
	s.mu.Unlock()
	return nil
}

func (s *CredentialStore) Get(_ context.Context, clientID string) (ports.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[clientID]
	if !ok {
		return ports.Credentials{}, ports.ErrCredentialsNotFound
	}
	if s.expired(e) {
		delete(s.entries, clientID)
		return ports.Credentials{}, ports.ErrCredentialsNotFound
	}
	return e.creds, nil
}

func (s *CredentialStore) Delete(_ context.Context, clientID string) error {
	s.mu.Lock()
	delete(s.entries, clientID)
	s.mu.Unlock()
	return nil
}

// Prune drops expired entries and reports how many went.
func (s *CredentialStore) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

// Len reports the number of stored entries, expired or not.
func (s *CredentialStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *CredentialStore) expired(e entry) bool {
	return !e.expires.IsZero() && !s.now().Before(e.expires)
}
