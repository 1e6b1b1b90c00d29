package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/tremiti/admin-console/internal/domain/auth"
	"github.com/tremiti/admin-console/internal/ports"
)

func TestMockIdentityProvider_SignInAndOut(t *testing.T) {
	p := NewMockIdentityProvider()
	var events []ports.IdentityEvent
	unsubscribe := p.Subscribe(func(ev ports.IdentityEvent) { events = append(events, ev) })

	id, err := p.SignIn(context.Background(), "a@b.it", "pw")
	require.NoError(t, err)
	assert.Equal(t, "mock-uid-1", id.UID)

	p.SetToken(id.UID, "tok")
	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)

	require.NoError(t, p.SignOut(context.Background()))
	require.NoError(t, p.SignOut(context.Background()))
	assert.Equal(t, 2, p.SignOutCalls())

	unsubscribe()
	p.Emit(&domainauth.Identity{UID: "ignored"})

	require.Len(t, events, 2)
	assert.True(t, events[0].SignedIn())
	assert.False(t, events[1].SignedIn())

	_, err = p.Token(context.Background())
	assert.Error(t, err, "no token configured for the ignored identity")
}

func TestMockIdentityProvider_TokenWithoutIdentity(t *testing.T) {
	p := NewMockIdentityProvider()
	_, err := p.Token(context.Background())
	assert.ErrorIs(t, err, ports.ErrNoIdentity)
}

func TestMemoryCredentialStore(t *testing.T) {
	s := NewMemoryCredentialStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "c1")
	require.ErrorIs(t, err, ports.ErrCredentialsNotFound)

	require.Error(t, s.Save(ctx, "", ports.Credentials{}))
	require.NoError(t, s.Save(ctx, "c1", ports.Credentials{UID: "u1", RefreshToken: "r"}))

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UID)

	require.NoError(t, s.Delete(ctx, "c1"))
	_, err = s.Get(ctx, "c1")
	assert.ErrorIs(t, err, ports.ErrCredentialsNotFound)
}

func TestStaticProfileResolver(t *testing.T) {
	r := NewStaticProfileResolver(nil)
	_, found := r.Resolve(context.Background(), "u1")
	assert.False(t, found)

	r.Set("u1", domainauth.Profile{ID: 3})
	p, found := r.Resolve(context.Background(), "u1")
	assert.True(t, found)
	assert.Equal(t, int64(3), p.ID)
	assert.Equal(t, 2, r.Calls())
}

func TestStaticTokenSource(t *testing.T) {
	_, err := StaticTokenSource("").Token(context.Background())
	assert.ErrorIs(t, err, ports.ErrNoIdentity)
	tok, err := StaticTokenSource("x").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", tok)
}
