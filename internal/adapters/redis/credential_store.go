package redis

// Package redis provides Redis-backed adapters for the admin console.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tremiti/admin-console/internal/ports"
)

// DefaultCredentialTTL bounds how long an idle client's credentials survive.
const DefaultCredentialTTL = 30 * 24 * time.Hour

// CredentialStore persists identity provider credentials per browser client.
// Every Save resets the key's TTL.
type CredentialStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// CredentialStoreOptions configures a CredentialStore.
type CredentialStoreOptions struct {
	Prefix string        // key prefix; defaults to "credentials:"
	TTL    time.Duration // defaults to DefaultCredentialTTL
}

// NewCredentialStore creates a Redis-backed credential store.
func NewCredentialStore(client redis.UniversalClient, opts CredentialStoreOptions) *CredentialStore {
	if opts.Prefix == "" {
		opts.Prefix = "credentials:"
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultCredentialTTL
	}
	return &CredentialStore{client: client, prefix: opts.Prefix, ttl: opts.TTL}
}

var _ ports.CredentialStore = (*CredentialStore)(nil)

func (s *CredentialStore) Save(ctx context.Context, clientID string, creds ports.Credentials) error {
	if clientID == "" {
		return errors.New("client ID cannot be empty")
	}
	if creds.UID == "" || creds.RefreshToken == "" {
		return errors.New("credentials require uid and refresh token")
	}

	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	return s.client.Set(ctx, s.prefix+clientID, data, s.ttl).Err()
}

func (s *CredentialStore) Get(ctx context.Context, clientID string) (ports.Credentials, error) {
	if clientID == "" {
		return ports.Credentials{}, ports.ErrCredentialsNotFound
	}

	data, err := s.client.Get(ctx, s.prefix+clientID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ports.Credentials{}, ports.ErrCredentialsNotFound
		}
		return ports.Credentials{}, fmt.Errorf("redis get: %w", err)
	}

	var creds ports.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return ports.Credentials{}, fmt.Errorf("unmarshal credentials: %w", err)
	}
	if creds.UID == "" || creds.RefreshToken == "" {
		// Unusable record; drop it so the client starts signed out.
		if delErr := s.Delete(ctx, clientID); delErr != nil {
			return ports.Credentials{}, fmt.Errorf("cleanup invalid credentials: %w", delErr)
		}
		return ports.Credentials{}, ports.ErrCredentialsNotFound
	}
	return creds, nil
}

func (s *CredentialStore) Delete(ctx context.Context, clientID string) error {
	if clientID == "" {
		return nil
	}
	return s.client.Del(ctx, s.prefix+clientID).Err()
}

// Touch extends the TTL of a client's credentials without rewriting them.
func (s *CredentialStore) Touch(ctx context.Context, clientID string) error {
	if clientID == "" {
		return nil
	}
	return s.client.Expire(ctx, s.prefix+clientID, s.ttl).Err()
}
