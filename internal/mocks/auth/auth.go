package auth

// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"errors"
	"sync"
	"time"

	domainauth "github.com/tremiti/admin-console/internal/domain/auth"
	"github.com/tremiti/admin-console/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.RestorableProvider = (*MockIdentityProvider)(nil)
	_ ports.CredentialStore    = (*MemoryCredentialStore)(nil)
	_ ports.ProfileResolver    = (*StaticProfileResolver)(nil)
	_ ports.TokenSource        = StaticTokenSource("")
)

// MockIdentityProvider simulates a single principal's identity provider.
// Events are delivered synchronously on the goroutine that causes them.
type MockIdentityProvider struct {
	SignInFunc        func(ctx context.Context, email, secret string) (domainauth.Identity, error)
	TokenFunc         func(ctx context.Context) (string, error)
	PasswordResetFunc func(ctx context.Context, email string) error

	// Tokens maps uid to the bearer token returned by Token.
	Tokens map[string]string
	// Restored is emitted by Restore; nil emits NoIdentity.
	Restored *domainauth.Identity

	mu           sync.Mutex
	current      *domainauth.Identity
	listeners    map[int]func(ports.IdentityEvent)
	nextID       int
	signOutCalls int
	resetEmails  []string
	closed       bool
}

// NewMockIdentityProvider creates a provider with nobody signed in.
func NewMockIdentityProvider() *MockIdentityProvider {
	return &MockIdentityProvider{Tokens: map[string]string{}}
}

// Subscribe registers fn.
func (m *MockIdentityProvider) Subscribe(fn func(ports.IdentityEvent)) func() {
	m.mu.Lock()
	if m.listeners == nil {
		m.listeners = map[int]func(ports.IdentityEvent){}
	}
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Emit sets the current identity and notifies subscribers.
func (m *MockIdentityProvider) Emit(id *domainauth.Identity) {
	m.mu.Lock()
	if id != nil {
		cp := *id
		m.current = &cp
	} else {
		m.current = nil
	}
	fns := make([]func(ports.IdentityEvent), 0, len(m.listeners))
	for i := 0; i < m.nextID; i++ {
		if fn, ok := m.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	var ev ports.IdentityEvent
	if id != nil {
		cp := *id
		ev.Identity = &cp
	}
	for _, fn := range fns {
		fn(ev)
	}
}

// Restore emits Restored.
func (m *MockIdentityProvider) Restore(context.Context) error {
	m.Emit(m.Restored)
	return nil
}

// SignIn returns SignInFunc's result, defaulting to a fixed operator identity, and emits it.
func (m *MockIdentityProvider) SignIn(ctx context.Context, email, secret string) (domainauth.Identity, error) {
	var id domainauth.Identity
	if m.SignInFunc != nil {
		var err error
		id, err = m.SignInFunc(ctx, email, secret)
		if err != nil {
			return domainauth.Identity{}, err
		}
	} else {
		id = domainauth.Identity{UID: "mock-uid-1", Email: email, ExpiresAt: time.Now().Add(time.Hour)}
	}
	m.Emit(&id)
	return id, nil
}

// SignOut records the call and emits NoIdentity when someone was signed in.
func (m *MockIdentityProvider) SignOut(context.Context) error {
	m.mu.Lock()
	m.signOutCalls++
	signedIn := m.current != nil
	m.mu.Unlock()
	if signedIn {
		m.Emit(nil)
	}
	return nil
}

// SignOutCalls reports how many times SignOut ran.
func (m *MockIdentityProvider) SignOutCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signOutCalls
}

// Token returns the configured token for the current identity.
func (m *MockIdentityProvider) Token(ctx context.Context) (string, error) {
	if m.TokenFunc != nil {
		return m.TokenFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return "", ports.ErrNoIdentity
	}
	tok, ok := m.Tokens[m.current.UID]
	if !ok {
		return "", errors.New("no token configured")
	}
	return tok, nil
}

// SetToken configures the token returned for uid.
func (m *MockIdentityProvider) SetToken(uid, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Tokens == nil {
		m.Tokens = map[string]string{}
	}
	m.Tokens[uid] = token
}

// SendPasswordReset records the email.
func (m *MockIdentityProvider) SendPasswordReset(ctx context.Context, email string) error {
	if m.PasswordResetFunc != nil {
		return m.PasswordResetFunc(ctx, email)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetEmails = append(m.resetEmails, email)
	return nil
}

// ResetEmails lists emails passed to SendPasswordReset.
func (m *MockIdentityProvider) ResetEmails() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.resetEmails...)
}

// Close marks the provider closed.
func (m *MockIdentityProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close ran.
func (m *MockIdentityProvider) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MemoryCredentialStore is an in-memory credential store.
type MemoryCredentialStore struct {
	mu    sync.Mutex
	creds map[string]ports.Credentials
}

// NewMemoryCredentialStore creates an empty store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: make(map[string]ports.Credentials)}
}

func (m *MemoryCredentialStore) Save(_ context.Context, clientID string, c ports.Credentials) error {
	if clientID == "" {
		return errors.New("client ID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[clientID] = c
	return nil
}

func (m *MemoryCredentialStore) Get(_ context.Context, clientID string) (ports.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[clientID]
	if !ok || clientID == "" {
		return ports.Credentials{}, ports.ErrCredentialsNotFound
	}
	return c, nil
}

func (m *MemoryCredentialStore) Delete(_ context.Context, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, clientID)
	return nil
}

// StaticProfileResolver serves profiles from a map and counts lookups.
type StaticProfileResolver struct {
	mu       sync.Mutex
	profiles map[string]domainauth.Profile
	calls    int
}

// NewStaticProfileResolver creates a resolver over profiles keyed by uid.
func NewStaticProfileResolver(profiles map[string]domainauth.Profile) *StaticProfileResolver {
	if profiles == nil {
		profiles = map[string]domainauth.Profile{}
	}
	return &StaticProfileResolver{profiles: profiles}
}

func (s *StaticProfileResolver) Resolve(_ context.Context, uid string) (domainauth.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	p, ok := s.profiles[uid]
	return p, ok
}

// Set replaces the profile for uid.
func (s *StaticProfileResolver) Set(uid string, p domainauth.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[uid] = p
}

// Calls reports how many lookups ran.
func (s *StaticProfileResolver) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// StaticTokenSource always returns itself as the token; empty means no identity.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) {
	if s == "" {
		return "", ports.ErrNoIdentity
	}
	return string(s), nil
}
