package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/tremiti/admin-console/internal/adapters/authroles"
	domainauth "github.com/tremiti/admin-console/internal/domain/auth"
	"github.com/tremiti/admin-console/internal/mocks"
	authmocks "github.com/tremiti/admin-console/internal/mocks/auth"
	"github.com/tremiti/admin-console/internal/ports"
)

func unsignedToken(claims map[string]any) string {
	payload, _ := json.Marshal(claims)
	return "eyJhbGciOiJub25lIn0." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

func hasuraToken(uid, role string) string {
	return unsignedToken(map[string]any{
		"sub": uid,
		"exp": time.Now().Add(time.Hour).Unix(),
		"https://hasura.io/jwt/claims": map[string]any{
			"x-hasura-default-role":  role,
			"x-hasura-allowed-roles": []string{role},
		},
	})
}

// snapshotRecorder collects every snapshot a store delivers.
type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []domainauth.Snapshot
}

func record(store *SessionStore) *snapshotRecorder {
	r := &snapshotRecorder{}
	store.Subscribe(func(s domainauth.Snapshot) {
		r.mu.Lock()
		r.snaps = append(r.snaps, s)
		r.mu.Unlock()
	})
	return r
}

func (r *snapshotRecorder) states() []domainauth.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domainauth.State, 0, len(r.snaps))
	for _, s := range r.snaps {
		out = append(out, s.State)
	}
	return out
}

type managerFixture struct {
	provider *authmocks.MockIdentityProvider
	profiles *authmocks.StaticProfileResolver
	store    *SessionStore
	manager  *SessionManager
}

type fixtureOption func(*SessionManagerOptions)

func withConfig(cfg SessionManagerConfig) fixtureOption {
	return func(o *SessionManagerOptions) { o.Config = cfg }
}

func withVerifier(v ports.TokenVerifier) fixtureOption {
	return func(o *SessionManagerOptions) { o.Deps.Verifier = v }
}

func withProfiles(p ports.ProfileResolver) fixtureOption {
	return func(o *SessionManagerOptions) { o.Deps.Profiles = p }
}

func newManagerFixture(t *testing.T, opts ...fixtureOption) *managerFixture {
	t.Helper()
	f := &managerFixture{
		provider: authmocks.NewMockIdentityProvider(),
		profiles: authmocks.NewStaticProfileResolver(nil),
		store:    NewSessionStore(),
	}
	o := SessionManagerOptions{
		Deps: SessionManagerDeps{
			Provider: f.provider,
			Profiles: f.profiles,
			Roles:    authroles.DefaultAllowList(),
			Store:    f.store,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	m, err := NewSessionManager(o)
	require.NoError(t, err)
	m.Start()
	t.Cleanup(func() {
		m.Close()
		f.store.Close()
	})
	f.manager = m
	return f
}

func (f *managerFixture) await(t *testing.T, pred func(domainauth.Snapshot) bool) domainauth.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := f.store.Await(ctx, pred)
	require.NoError(t, err, "last snapshot: %+v", snap)
	return snap
}

func inState(st domainauth.State) func(domainauth.Snapshot) bool {
	return func(s domainauth.Snapshot) bool { return s.State == st }
}

// settle waits for the manager's background resolutions to finish.
func (f *managerFixture) settle() {
	f.manager.wg.Wait()
}

func identity(uid string) *domainauth.Identity {
	return &domainauth.Identity{UID: uid, Email: uid + "@comune.it", ExpiresAt: time.Now().Add(time.Hour)}
}

func TestSessionManager_AuthorizesAllowedRoles(t *testing.T) {
	for _, role := range []domainauth.Role{domainauth.RoleAdmin, domainauth.RoleOperator} {
		t.Run(string(role), func(t *testing.T) {
			f := newManagerFixture(t)
			f.provider.SetToken("uid-1", hasuraToken("uid-1", string(role)))
			f.profiles.Set("uid-1", domainauth.Profile{ID: 3, FirstName: "Anna", LastName: "Rossi", Status: domainauth.StatusActive, Role: "user"})

			f.provider.Emit(identity("uid-1"))
			snap := f.await(t, inState(domainauth.StateAuthorized))

			require.NotNil(t, snap.Session)
			assert.Equal(t, role, snap.Session.Role)
			assert.Equal(t, "user", snap.Session.ProfileRole)
			assert.Equal(t, "Anna Rossi", snap.Session.DisplayName)
			assert.True(t, snap.Session.HasProfile)
			assert.Nil(t, snap.Notice)
			assert.Zero(t, f.provider.SignOutCalls())
		})
	}
}

func TestSessionManager_PublishesResolvingFirst(t *testing.T) {
	f := newManagerFixture(t)
	rec := record(f.store)
	f.provider.SetToken("uid-1", hasuraToken("uid-1", "admin"))

	f.provider.Emit(identity("uid-1"))
	f.await(t, inState(domainauth.StateAuthorized))
	f.store.Close()

	assert.Equal(t, []domainauth.State{
		domainauth.StateUnknown,
		domainauth.StateResolving,
		domainauth.StateAuthorized,
	}, rec.states())
}

func TestSessionManager_RejectsAndSignsOutOnce(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		notice string
	}{
		{"guest role", hasuraToken("uid-1", "guest"), domainauth.NoticeRoleNotAllowed},
		{"user role", hasuraToken("uid-1", "user"), domainauth.NoticeRoleNotAllowed},
		{"empty role", hasuraToken("uid-1", ""), domainauth.NoticeRoleNotAllowed},
		{"missing namespace", unsignedToken(map[string]any{"sub": "uid-1"}), domainauth.NoticeRoleNotAllowed},
		{"non-string role", unsignedToken(map[string]any{
			"https://hasura.io/jwt/claims": map[string]any{"x-hasura-default-role": 7},
		}), domainauth.NoticeRoleNotAllowed},
		{"malformed base64", "header.%%%.sig", domainauth.NoticeInvalidToken},
		{"malformed json", "h." + base64.RawURLEncoding.EncodeToString([]byte("{nope")) + ".s", domainauth.NoticeInvalidToken},
		{"single segment", "opaque", domainauth.NoticeInvalidToken},
		{"foreign subject", hasuraToken("someone-else", "admin"), domainauth.NoticeInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newManagerFixture(t)
			f.provider.SetToken("uid-1", tt.token)

			f.provider.Emit(identity("uid-1"))
			f.settle()
			snap := f.await(t, inState(domainauth.StateSignedOut))

			assert.Nil(t, snap.Session)
			require.NotNil(t, snap.Notice)
			assert.Equal(t, tt.notice, snap.Notice.Code)
			assert.Equal(t, domainauth.NoticeError, snap.Notice.Level)
			assert.Equal(t, 1, f.provider.SignOutCalls())
			assert.Zero(t, f.profiles.Calls(), "profile must not be fetched for rejected identities")
		})
	}
}

// queuedSignOut delivers NoIdentity on another goroutine once released, the
// way a provider with an event queue does.
type queuedSignOut struct {
	*authmocks.MockIdentityProvider
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func (p *queuedSignOut) SignOut(context.Context) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	go func() {
		<-p.release
		p.Emit(nil)
	}()
	return nil
}

func (p *queuedSignOut) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestSessionManager_RepeatedRejectedEventsSignOutOnce(t *testing.T) {
	queued := &queuedSignOut{release: make(chan struct{})}
	f := newManagerFixture(t, func(o *SessionManagerOptions) {
		queued.MockIdentityProvider = o.Deps.Provider.(*authmocks.MockIdentityProvider)
		o.Deps.Provider = queued
	})
	f.provider.SetToken("uid-1", hasuraToken("uid-1", "guest"))
	rec := record(f.store)

	// A restore followed by a token refresh delivers the same uid twice.
	f.provider.Emit(identity("uid-1"))
	f.provider.Emit(identity("uid-1"))
	f.await(t, inState(domainauth.StateUnauthorized))
	f.settle()
	assert.Equal(t, 1, queued.Calls())

	close(queued.release)
	snap := f.await(t, inState(domainauth.StateSignedOut))
	require.NotNil(t, snap.Notice)
	assert.Equal(t, domainauth.NoticeRoleNotAllowed, snap.Notice.Code)

	f.settle()
	assert.Equal(t, 1, queued.Calls())

	f.store.Close()
	assert.Equal(t, []domainauth.State{
		domainauth.StateUnknown,
		domainauth.StateResolving,
		domainauth.StateUnauthorized,
		domainauth.StateSignedOut,
	}, rec.states())
}

func TestSessionManager_TokenUnavailable(t *testing.T) {
	f := newManagerFixture(t)
	f.provider.TokenFunc = func(context.Context) (string, error) {
		return "", errors.New("securetoken unreachable")
	}

	f.provider.Emit(identity("uid-1"))
	f.settle()
	snap := f.await(t, inState(domainauth.StateSignedOut))

	require.NotNil(t, snap.Notice)
	assert.Equal(t, domainauth.NoticeTokenUnavailable, snap.Notice.Code)
	assert.Equal(t, 1, f.provider.SignOutCalls())
}

func TestSessionManager_VerifierRejection(t *testing.T) {
	ctrl := gomock.NewController(t)
	verifier := mocks.NewMockTokenVerifier(ctrl)
	tok := hasuraToken("uid-1", "admin")
	verifier.EXPECT().Verify(gomock.Any(), tok).Return(errors.New("bad signature"))

	f := newManagerFixture(t, withVerifier(verifier))
	f.provider.SetToken("uid-1", tok)

	f.provider.Emit(identity("uid-1"))
	f.settle()
	snap := f.await(t, inState(domainauth.StateSignedOut))

	require.NotNil(t, snap.Notice)
	assert.Equal(t, domainauth.NoticeTokenRejected, snap.Notice.Code)
	assert.Equal(t, 1, f.provider.SignOutCalls())
}

func TestSessionManager_VerifierAccepts(t *testing.T) {
	ctrl := gomock.NewController(t)
	verifier := mocks.NewMockTokenVerifier(ctrl)
	resolver := mocks.NewMockProfileResolver(ctrl)
	tok := hasuraToken("uid-1", "operator")
	verifier.EXPECT().Verify(gomock.Any(), tok).Return(nil)
	resolver.EXPECT().Resolve(gomock.Any(), "uid-1").Return(domainauth.Profile{ID: 9, Status: domainauth.StatusActive}, true)

	f := newManagerFixture(t, withVerifier(verifier), withProfiles(resolver))
	f.provider.SetToken("uid-1", tok)

	f.provider.Emit(identity("uid-1"))
	snap := f.await(t, inState(domainauth.StateAuthorized))
	assert.Equal(t, int64(9), snap.Session.ProfileID)
}

func TestSessionManager_ProfileMissingDegrades(t *testing.T) {
	f := newManagerFixture(t)
	f.provider.SetToken("uid-1", hasuraToken("uid-1", "operator"))

	f.provider.Emit(identity("uid-1"))
	snap := f.await(t, inState(domainauth.StateAuthorized))

	assert.False(t, snap.Session.HasProfile)
	assert.False(t, snap.Session.Disabled)
	assert.Equal(t, "uid-1@comune.it", snap.Session.DisplayName)
	require.NotNil(t, snap.Notice)
	assert.Equal(t, domainauth.NoticeProfileMissing, snap.Notice.Code)
	assert.Equal(t, domainauth.NoticeInfo, snap.Notice.Level)
}

func TestSessionManager_RequireProfile(t *testing.T) {
	f := newManagerFixture(t, withConfig(SessionManagerConfig{RequireProfile: true}))
	f.provider.SetToken("uid-1", hasuraToken("uid-1", "admin"))

	f.provider.Emit(identity("uid-1"))
	f.settle()
	snap := f.await(t, inState(domainauth.StateSignedOut))

	require.NotNil(t, snap.Notice)
	assert.Equal(t, domainauth.NoticeProfileMissing, snap.Notice.Code)
	assert.Equal(t, 1, f.provider.SignOutCalls())
}

func TestSessionManager_DisabledProfileWarns(t *testing.T) {
	f := newManagerFixture(t)
	f.provider.SetToken("uid-1", hasuraToken("uid-1", "admin"))
	f.profiles.Set("uid-1", domainauth.Profile{ID: 1, Status: domainauth.StatusDisabled})

	f.provider.Emit(identity("uid-1"))
	snap := f.await(t, inState(domainauth.StateAuthorized))

	assert.True(t, snap.Session.Disabled)
	require.NotNil(t, snap.Notice)
	assert.Equal(t, domainauth.NoticeAccountDisabled, snap.Notice.Code)
	assert.Equal(t, domainauth.NoticeWarning, snap.Notice.Level)
}

func TestSessionManager_RefreshRecomputesDisabled(t *testing.T) {
	f := newManagerFixture(t)
	f.provider.SetToken("uid-1", hasuraToken("uid-1", "operator"))

	f.provider.Emit(identity("uid-1"))
	first := f.await(t, inState(domainauth.StateAuthorized))
	require.False(t, first.Session.Disabled)
	require.False(t, first.Session.HasProfile)

	rec := record(f.store)
	f.profiles.Set("uid-1", domainauth.Profile{ID: 4, Status: domainauth.StatusDisabled})
	f.provider.Emit(identity("uid-1"))
	second := f.await(t, func(s domainauth.Snapshot) bool {
		return s.Version > first.Version && s.State == domainauth.StateAuthorized
	})

	assert.True(t, second.Session.HasProfile)
	assert.True(t, second.Session.Disabled)
	f.store.Close()
	for _, st := range rec.states() {
		assert.Equal(t, domainauth.StateAuthorized, st, "a refresh must not pass through Resolving")
	}
}

func TestSessionManager_SignOutPublishesSignedOut(t *testing.T) {
	f := newManagerFixture(t)
	f.provider.SetToken("mock-uid-1", hasuraToken("mock-uid-1", "admin"))

	require.NoError(t, f.manager.Login(context.Background(), "a@b.it", "pw"))
	f.await(t, inState(domainauth.StateAuthorized))

	require.NoError(t, f.manager.Logout(context.Background()))
	snap := f.await(t, inState(domainauth.StateSignedOut))
	assert.Nil(t, snap.Session)
	assert.Nil(t, snap.Notice)
}

func TestSessionManager_LoginSurfacesCredentialErrors(t *testing.T) {
	f := newManagerFixture(t)
	f.provider.SignInFunc = func(context.Context, string, string) (domainauth.Identity, error) {
		return domainauth.Identity{}, ports.ErrInvalidCredentials
	}

	err := f.manager.Login(context.Background(), "a@b.it", "bad")
	require.ErrorIs(t, err, ports.ErrInvalidCredentials)
	assert.Equal(t, domainauth.StateUnknown, f.store.Snapshot().State)
}

// gatedResolver blocks lookups for a uid until its gate is released.
type gatedResolver struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	calls map[string]int
	found map[string]domainauth.Profile
}

func newGatedResolver() *gatedResolver {
	return &gatedResolver{
		gates: map[string]chan struct{}{},
		calls: map[string]int{},
		found: map[string]domainauth.Profile{},
	}
}

func (g *gatedResolver) gate(uid string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan struct{})
	g.gates[uid] = ch
	return ch
}

func (g *gatedResolver) Resolve(ctx context.Context, uid string) (domainauth.Profile, bool) {
	g.mu.Lock()
	g.calls[uid]++
	ch := g.gates[uid]
	p, ok := g.found[uid]
	g.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return domainauth.Profile{}, false
		}
	}
	return p, ok
}

func (g *gatedResolver) Calls(uid string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[uid]
}

func TestSessionManager_StaleResolutionNeverOverwritesFresh(t *testing.T) {
	resolver := newGatedResolver()
	f := newManagerFixture(t, withProfiles(resolver))
	f.provider.SetToken("uid-a", hasuraToken("uid-a", "admin"))
	f.provider.SetToken("uid-b", hasuraToken("uid-b", "operator"))

	releaseA := resolver.gate("uid-a")
	f.provider.Emit(identity("uid-a"))
	require.Eventually(t, func() bool { return resolver.Calls("uid-a") == 1 }, time.Second, time.Millisecond)

	// uid-b's token is fetched after uid-a's resolution is already blocked.
	f.provider.Emit(identity("uid-b"))
	snap := f.await(t, inState(domainauth.StateAuthorized))
	require.Equal(t, "uid-b", snap.Session.UID)

	close(releaseA)
	f.settle()

	final := f.store.Snapshot()
	assert.Equal(t, domainauth.StateAuthorized, final.State)
	assert.Equal(t, "uid-b", final.Session.UID)
	assert.Equal(t, snap.Version, final.Version)
}

func TestSessionManager_StaleResolutionAfterSignOut(t *testing.T) {
	resolver := newGatedResolver()
	f := newManagerFixture(t, withProfiles(resolver))
	f.provider.SetToken("uid-a", hasuraToken("uid-a", "admin"))

	release := resolver.gate("uid-a")
	f.provider.Emit(identity("uid-a"))
	require.Eventually(t, func() bool { return resolver.Calls("uid-a") == 1 }, time.Second, time.Millisecond)

	f.provider.Emit(nil)
	f.await(t, inState(domainauth.StateSignedOut))

	close(release)
	f.settle()
	assert.Equal(t, domainauth.StateSignedOut, f.store.Snapshot().State)
}

func TestSessionManager_CollapsesConcurrentLookups(t *testing.T) {
	resolver := newGatedResolver()
	f := newManagerFixture(t, withProfiles(resolver))
	f.provider.SetToken("uid-1", hasuraToken("uid-1", "admin"))

	release := resolver.gate("uid-1")
	for range 3 {
		f.provider.Emit(identity("uid-1"))
	}
	require.Eventually(t, func() bool { return resolver.Calls("uid-1") == 1 }, time.Second, time.Millisecond)
	// Give the other resolutions time to join the in-flight lookup.
	time.Sleep(50 * time.Millisecond)
	close(release)
	f.settle()

	assert.Equal(t, 1, resolver.Calls("uid-1"))
	assert.Equal(t, domainauth.StateAuthorized, f.store.Snapshot().State)
}

func TestSessionManager_CollapsedLookupOutlivesFirstCaller(t *testing.T) {
	resolver := newGatedResolver()
	resolver.found["uid-1"] = domainauth.Profile{ID: 9, Status: domainauth.StatusActive}
	f := newManagerFixture(t, withProfiles(resolver))
	release := resolver.gate("uid-1")

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan bool, 1)
	go func() {
		_, ok := f.manager.lookupProfile(firstCtx, "uid-1")
		first <- ok
	}()
	require.Eventually(t, func() bool { return resolver.Calls("uid-1") == 1 }, time.Second, time.Millisecond)

	second := make(chan domainauth.Profile, 1)
	go func() {
		p, _ := f.manager.lookupProfile(context.Background(), "uid-1")
		second <- p
	}()
	// Give the second caller time to join the in-flight lookup.
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	assert.False(t, <-first)

	close(release)
	select {
	case p := <-second:
		assert.EqualValues(t, 9, p.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("second lookup never returned")
	}
	assert.Equal(t, 1, resolver.Calls("uid-1"))
}

func TestSessionManager_RestoredIdentityThenSignedOut(t *testing.T) {
	f := newManagerFixture(t)
	require.NoError(t, f.provider.Restore(context.Background()))
	snap := f.await(t, inState(domainauth.StateSignedOut))
	assert.Nil(t, snap.Notice)
}

func TestSessionManager_CloseStopsPublishing(t *testing.T) {
	resolver := newGatedResolver()
	f := newManagerFixture(t, withProfiles(resolver))
	f.provider.SetToken("uid-1", hasuraToken("uid-1", "admin"))

	resolver.gate("uid-1")
	f.provider.Emit(identity("uid-1"))
	f.await(t, inState(domainauth.StateResolving))
	require.Eventually(t, func() bool { return resolver.Calls("uid-1") == 1 }, time.Second, time.Millisecond)

	// Close cancels the blocked lookup and waits for it.
	f.manager.Close()
	version := f.store.Snapshot().Version

	f.provider.Emit(nil)
	assert.Equal(t, version, f.store.Snapshot().Version)
	assert.Equal(t, domainauth.StateResolving, f.store.Snapshot().State)
	assert.Zero(t, f.provider.SignOutCalls())
}

func TestNewSessionManager_Validation(t *testing.T) {
	provider := authmocks.NewMockIdentityProvider()
	profiles := authmocks.NewStaticProfileResolver(nil)
	store := NewSessionStore()
	defer store.Close()

	full := SessionManagerDeps{Provider: provider, Profiles: profiles, Roles: authroles.DefaultAllowList(), Store: store}
	tests := []struct {
		name string
		mut  func(*SessionManagerDeps)
	}{
		{"provider", func(d *SessionManagerDeps) { d.Provider = nil }},
		{"profiles", func(d *SessionManagerDeps) { d.Profiles = nil }},
		{"roles", func(d *SessionManagerDeps) { d.Roles = nil }},
		{"store", func(d *SessionManagerDeps) { d.Store = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full
			tt.mut(&deps)
			_, err := NewSessionManager(SessionManagerOptions{Deps: deps})
			assert.Error(t, err)
		})
	}
}
