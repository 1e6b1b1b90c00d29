package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	domainauth "github.com/tremiti/admin-console/internal/domain/auth"
	apperrors "github.com/tremiti/admin-console/internal/errors"
	"github.com/tremiti/admin-console/internal/observability/metrics"
	"github.com/tremiti/admin-console/internal/observability/statsd"
	"github.com/tremiti/admin-console/internal/ports"
)

const defaultSettleTimeout = 10 * time.Second

// ErrClientNotFound is returned for client ids with no live registry entry.
var ErrClientNotFound = errors.New("client not found")

// ProviderFactory builds the identity provider for one browser client.
type ProviderFactory interface {
	NewProvider(clientID string) (ports.RestorableProvider, error)
}

// ProviderFactoryFunc adapts a function to ProviderFactory.
type ProviderFactoryFunc func(clientID string) (ports.RestorableProvider, error)

// NewProvider calls f.
func (f ProviderFactoryFunc) NewProvider(clientID string) (ports.RestorableProvider, error) {
	return f(clientID)
}

// ProfileResolverFactory binds a profile resolver to one client's token source,
// so lookups run with that client's own bearer token.
type ProfileResolverFactory func(tokens ports.TokenSource) ports.ProfileResolver

// SharedProfiles uses r for every client regardless of its token.
func SharedProfiles(r ports.ProfileResolver) ProfileResolverFactory {
	return func(ports.TokenSource) ports.ProfileResolver { return r }
}

// AuthServiceDeps are shared by every client's session manager.
type AuthServiceDeps struct {
	Providers ProviderFactory        // Required
	Profiles  ProfileResolverFactory // Required
	Roles     ports.RoleMapper       // Required
	Verifier  ports.TokenVerifier    // Optional
}

// AuthServiceConfig tunes per-client sessions.
type AuthServiceConfig struct {
	Session       SessionManagerConfig
	SettleTimeout time.Duration // how long Login and Status wait for resolution; default 10s
}

// AuthServiceOptions groups dependencies for AuthService.
type AuthServiceOptions struct {
	Deps    AuthServiceDeps
	Config  AuthServiceConfig
	Logger  *slog.Logger // Optional
	Metrics statsd.Sink  // Optional
}

// Client is one browser client's identity provider, session store and manager.
type Client struct {
	ID       string
	provider ports.RestorableProvider
	store    *SessionStore
	manager  *SessionManager
	now      func() time.Time
	lastSeen atomic.Int64
	watchers atomic.Int32 // live Subscribe registrations; pins the client against Sweep

	done      chan struct{}
	closeOnce sync.Once
}

// Snapshot returns the client's current session snapshot.
func (c *Client) Snapshot() domainauth.Snapshot { return c.store.Snapshot() }

// Subscribe observes the client's snapshots, starting from the current one.
// A subscribed client is never swept; its idle time restarts on unsubscribe.
func (c *Client) Subscribe(fn func(domainauth.Snapshot)) func() {
	c.watchers.Add(1)
	unsub := c.store.Subscribe(fn)
	var once sync.Once
	return func() {
		once.Do(func() {
			unsub()
			c.lastSeen.Store(c.now().UnixNano())
			c.watchers.Add(-1)
		})
	}
}

// Done is closed once the client is dropped, swept or shut down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Tokens is the client's bearer token source for data API calls.
func (c *Client) Tokens() ports.TokenSource { return c.provider }

// LastSeen reports when the client was last looked up.
func (c *Client) LastSeen() time.Time { return time.Unix(0, c.lastSeen.Load()) }

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.manager.Close()
		c.store.Close()
		_ = c.provider.Close()
	})
}

// AuthService is the registry of live clients and the entry point for auth flows.
type AuthService struct {
	deps    AuthServiceDeps
	cfg     AuthServiceConfig
	logger  *slog.Logger
	metrics statsd.Sink
	now     func() time.Time

	creating singleflight.Group

	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool
}

// NewAuthService validates dependencies and returns an empty registry.
func NewAuthService(opts AuthServiceOptions) (*AuthService, error) {
	d := opts.Deps
	if d.Providers == nil {
		return nil, errors.New("provider factory is required")
	}
	if d.Profiles == nil {
		return nil, errors.New("profile resolver is required")
	}
	if d.Roles == nil {
		return nil, errors.New("role mapper is required")
	}
	cfg := opts.Config
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = defaultSettleTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		deps:    d,
		cfg:     cfg,
		logger:  logger.With("component", "auth_service"),
		metrics: opts.Metrics,
		now:     time.Now,
		clients: make(map[string]*Client),
	}, nil
}

// Client returns the live client for id, creating and restoring it on first use.
func (s *AuthService) Client(ctx context.Context, id string) (*Client, error) {
	if id == "" {
		return nil, apperrors.Validation("client id is required")
	}
	if c, ok := s.Lookup(id); ok {
		return c, nil
	}

	v, err, _ := s.creating.Do(id, func() (any, error) {
		if c, ok := s.Lookup(id); ok {
			return c, nil
		}
		return s.create(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

// Lookup returns the live client for id without creating one.
func (s *AuthService) Lookup(id string) (*Client, bool) {
	s.mu.RLock()
	c, ok := s.clients[id]
	s.mu.RUnlock()
	if ok {
		c.lastSeen.Store(s.now().UnixNano())
	}
	return c, ok
}

func (s *AuthService) create(ctx context.Context, id string) (*Client, error) {
	provider, err := s.deps.Providers.NewProvider(id)
	if err != nil {
		return nil, fmt.Errorf("create identity provider: %w", err)
	}
	store := NewSessionStore()
	manager, err := NewSessionManager(SessionManagerOptions{
		Deps: SessionManagerDeps{
			Provider: provider,
			Profiles: s.deps.Profiles(provider),
			Roles:    s.deps.Roles,
			Verifier: s.deps.Verifier,
			Store:    store,
		},
		Config:  s.cfg.Session,
		Logger:  s.logger.With("client_id", id),
		Metrics: s.metrics,
	})
	if err != nil {
		store.Close()
		_ = provider.Close()
		return nil, fmt.Errorf("create session manager: %w", err)
	}

	c := &Client{ID: id, provider: provider, store: store, manager: manager, now: s.now, done: make(chan struct{})}
	c.lastSeen.Store(s.now().UnixNano())
	manager.Start()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.close()
		return nil, apperrors.New(apperrors.ErrCodeUnavailable, "auth service is shutting down")
	}
	s.clients[id] = c
	s.mu.Unlock()

	// Restore emits the first identity event even when it fails.
	if err := provider.Restore(ctx); err != nil {
		s.logger.WarnContext(ctx, "restore credentials failed", "client_id", id, "error", err)
	}
	return c, nil
}

// Login signs the client in and waits for its session to settle. Credential
// rejection is an unauthorized error; an identity rejected by policy is
// reported through the returned snapshot's state and notice.
func (s *AuthService) Login(ctx context.Context, id, email, secret string) (domainauth.Snapshot, error) {
	c, err := s.Client(ctx, id)
	if err != nil {
		return domainauth.Snapshot{}, err
	}
	// Let a restore in progress settle first so its result is not mistaken for ours.
	current, _ := s.settle(ctx, c, func(snap domainauth.Snapshot) bool { return snap.State.Settled() })
	before := current.Version

	if err := c.manager.Login(ctx, email, secret); err != nil {
		metrics.EmitLogin(s.metrics, metrics.ResultDenied)
		return c.store.Snapshot(), loginError(err)
	}

	snap, err := s.settle(ctx, c, Settled(before))
	if err != nil {
		metrics.EmitLogin(s.metrics, metrics.ResultError)
		return snap, err
	}
	result := metrics.ResultSuccess
	if !snap.Authenticated() {
		result = metrics.ResultDenied
	}
	metrics.EmitLogin(s.metrics, result)
	return snap, nil
}

func loginError(err error) error {
	switch {
	case errors.Is(err, ports.ErrInvalidCredentials):
		return apperrors.Wrap(err, apperrors.ErrCodeUnauthorized, "invalid email or password")
	case errors.Is(err, ports.ErrAccountDisabled):
		return apperrors.Wrap(err, apperrors.ErrCodeForbidden, "this account is disabled")
	case errors.Is(err, ports.ErrRateLimited):
		return apperrors.Wrap(err, apperrors.ErrCodeRateLimited, "too many attempts, try again later")
	default:
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "sign-in is temporarily unavailable")
	}
}

// Logout signs the client out and waits for SignedOut. Unknown clients are already signed out.
func (s *AuthService) Logout(ctx context.Context, id string) (domainauth.Snapshot, error) {
	c, ok := s.Lookup(id)
	if !ok {
		return domainauth.Snapshot{State: domainauth.StateSignedOut}, nil
	}
	if err := c.manager.Logout(ctx); err != nil {
		return c.store.Snapshot(), apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "sign-out failed")
	}
	return s.settle(ctx, c, func(snap domainauth.Snapshot) bool {
		return snap.State == domainauth.StateSignedOut
	})
}

// Status returns the client's snapshot once any pending resolution settles.
// If resolution outlasts the settle timeout, the unsettled snapshot is returned.
func (s *AuthService) Status(ctx context.Context, id string) (domainauth.Snapshot, error) {
	c, err := s.Client(ctx, id)
	if err != nil {
		return domainauth.Snapshot{}, err
	}
	snap, err := s.settle(ctx, c, func(snap domainauth.Snapshot) bool { return snap.State.Settled() })
	if err != nil && ctx.Err() == nil {
		return snap, nil
	}
	return snap, err
}

// SendPasswordReset requests a reset email. Unknown accounts succeed silently
// so the endpoint cannot be used to enumerate accounts.
func (s *AuthService) SendPasswordReset(ctx context.Context, id, email string) error {
	c, err := s.Client(ctx, id)
	if err != nil {
		return err
	}
	err = c.provider.SendPasswordReset(ctx, email)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ports.ErrAccountNotFound), errors.Is(err, ports.ErrInvalidCredentials):
		s.logger.InfoContext(ctx, "password reset for unknown account ignored", "client_id", id)
		return nil
	case errors.Is(err, ports.ErrRateLimited):
		return apperrors.Wrap(err, apperrors.ErrCodeRateLimited, "too many attempts, try again later")
	default:
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "password reset is temporarily unavailable")
	}
}

func (s *AuthService) settle(ctx context.Context, c *Client, pred func(domainauth.Snapshot) bool) (domainauth.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SettleTimeout)
	defer cancel()
	snap, err := c.store.Await(ctx, pred)
	if err != nil {
		return snap, apperrors.Wrap(err, apperrors.ErrCodeTimeout, "session did not settle in time")
	}
	return snap, nil
}

// Drop closes and forgets a client. Persisted credentials are kept, so the
// client is restored signed in on its next request.
func (s *AuthService) Drop(id string) error {
	s.mu.Lock()
	c, ok := s.clients[id]
	delete(s.clients, id)
	s.mu.Unlock()
	if !ok {
		return ErrClientNotFound
	}
	c.close()
	return nil
}

// Sweep drops clients not looked up since now-idle and reports how many went.
// Clients with live subscribers stay.
func (s *AuthService) Sweep(now time.Time, idle time.Duration) int {
	cutoff := now.Add(-idle).UnixNano()

	s.mu.Lock()
	var stale []*Client
	for id, c := range s.clients {
		if c.watchers.Load() > 0 {
			continue
		}
		if c.lastSeen.Load() < cutoff {
			stale = append(stale, c)
			delete(s.clients, id)
		}
	}
	s.mu.Unlock()

	for _, c := range stale {
		c.close()
	}
	return len(stale)
}

// Len reports the number of live clients.
func (s *AuthService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close drops every client and refuses new ones.
func (s *AuthService) Close() {
	s.mu.Lock()
	s.closed = true
	clients := s.clients
	s.clients = make(map[string]*Client)
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
