package ports

// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters; orchestration in internal/service.

import (
	"context"
	"errors"

	domainauth "github.com/tremiti/admin-console/internal/domain/auth"
)

// ErrNoIdentity is returned by token sources when nobody is signed in.
var ErrNoIdentity = errors.New("no identity signed in")

// ErrInvalidCredentials is returned by SignIn when the provider rejects email or password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Provider account errors.
var (
	ErrAccountDisabled = errors.New("account disabled")
	ErrAccountNotFound = errors.New("account not found")
	ErrRateLimited     = errors.New("too many attempts, try later")
)

// IdentityEvent is delivered on every identity change.
// A nil Identity means NoIdentity.
type IdentityEvent struct {
	Identity *domainauth.Identity
}

// SignedIn reports whether the event carries an identity.
func (e IdentityEvent) SignedIn() bool { return e.Identity != nil }

// TokenSource yields the current identity's bearer token, refreshing it when needed.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// IdentityProvider is one principal's view of the external identity provider.
type IdentityProvider interface {
	TokenSource

	// SignIn authenticates with email and secret. On success the identity is
	// also delivered to subscribers.
	SignIn(ctx context.Context, email, secret string) (domainauth.Identity, error)

	// SignOut clears the current identity; subscribers receive a NoIdentity event.
	SignOut(ctx context.Context) error

	// Subscribe registers fn for identity events, delivered in emission order.
	// The returned function unregisters it.
	Subscribe(fn func(IdentityEvent)) (unsubscribe func())

	// SendPasswordReset asks the provider to email a password reset link.
	SendPasswordReset(ctx context.Context, email string) error
}

// RestorableProvider can reload persisted credentials and emit the first event.
type RestorableProvider interface {
	IdentityProvider
	Restore(ctx context.Context) error
	Close() error
}

// ProfileResolver fetches the application profile for an identity uid.
// Absence and failures both report found=false.
type ProfileResolver interface {
	Resolve(ctx context.Context, uid string) (profile domainauth.Profile, found bool)
}

// TokenVerifier checks a bearer token's signature and standard claims.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) error
}

// RoleMapper narrows a raw claims role to an allowed application role.
type RoleMapper interface {
	Map(raw string) (domainauth.Role, bool)
}

// Credentials is what a provider needs to resume a signed-in identity.
type Credentials struct {
	UID          string `json:"uid"`
	Email        string `json:"email,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
	PhotoURL     string `json:"photo_url,omitempty"`
	RefreshToken string `json:"refresh_token"`
}

// CredentialStore persists provider credentials per client id.
type CredentialStore interface {
	Save(ctx context.Context, clientID string, creds Credentials) error
	Get(ctx context.Context, clientID string) (Credentials, error)
	Delete(ctx context.Context, clientID string) error
}

// ErrCredentialsNotFound is returned by CredentialStore.Get for unknown ids.
var ErrCredentialsNotFound = errors.New("credentials not found")
