package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	domainauth "github.com/tremiti/admin-console/internal/domain/auth"
	"github.com/tremiti/admin-console/internal/observability/metrics"
	"github.com/tremiti/admin-console/internal/observability/statsd"
	"github.com/tremiti/admin-console/internal/ports"
	"github.com/tremiti/admin-console/internal/tokens"
)

const defaultResolveTimeout = 15 * time.Second

// SessionManagerDeps are the collaborators a SessionManager drives.
type SessionManagerDeps struct {
	Provider ports.IdentityProvider // Required
	Profiles ports.ProfileResolver  // Required
	Roles    ports.RoleMapper       // Required: allow-list of console roles
	Verifier ports.TokenVerifier    // Optional: signature check before trusting claims
	Store    Publisher              // Required: write side of the client's SessionStore
}

// SessionManagerConfig tunes resolution policy.
type SessionManagerConfig struct {
	Claims         *tokens.RoleExtractor // nil selects the Hasura default role path
	RequireProfile bool                  // reject identities without a profile row
	ResolveTimeout time.Duration         // bound on one identity resolution; default 15s
}

// SessionManagerOptions groups dependencies for SessionManager.
type SessionManagerOptions struct {
	Deps    SessionManagerDeps
	Config  SessionManagerConfig
	Logger  *slog.Logger // Optional
	Metrics statsd.Sink  // Optional
}

// SessionManager turns identity provider events into published session snapshots.
//
// Every event gets a sequence number. A resolution publishes only if no newer
// event has published since, so a slow resolution never overwrites a fresher
// snapshot.
type SessionManager struct {
	provider ports.IdentityProvider
	profiles ports.ProfileResolver
	roles    ports.RoleMapper
	verifier ports.TokenVerifier
	store    Publisher
	claims   *tokens.RoleExtractor
	cfg      SessionManagerConfig
	logger   *slog.Logger
	metrics  statsd.Sink

	lookups singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	seq           uint64
	lastPublished uint64
	state         domainauth.State
	uid           string
	pendingNotice *domainauth.Notice
	rejecting     string // uid whose sign-out is in flight; cleared by NoIdentity
	unsubscribe   func()
	closed        bool
}

// NewSessionManager validates dependencies. Call Start to begin consuming events.
func NewSessionManager(opts SessionManagerOptions) (*SessionManager, error) {
	d := opts.Deps
	if d.Provider == nil {
		return nil, errors.New("identity provider is required")
	}
	if d.Profiles == nil {
		return nil, errors.New("profile resolver is required")
	}
	if d.Roles == nil {
		return nil, errors.New("role mapper is required")
	}
	if d.Store == nil {
		return nil, errors.New("session publisher is required")
	}

	claims := opts.Config.Claims
	if claims == nil {
		var err error
		if claims, err = tokens.NewRoleExtractor(""); err != nil {
			return nil, fmt.Errorf("default role extractor: %w", err)
		}
	}
	cfg := opts.Config
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = defaultResolveTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		provider: d.Provider,
		profiles: d.Profiles,
		roles:    d.Roles,
		verifier: d.Verifier,
		store:    d.Store,
		claims:   claims,
		cfg:      cfg,
		logger:   logger.With("component", "session_manager"),
		metrics:  opts.Metrics,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start subscribes to identity events. It is a no-op after the first call.
func (m *SessionManager) Start() {
	m.mu.Lock()
	if m.unsubscribe != nil || m.closed {
		m.mu.Unlock()
		return
	}
	// Placeholder so concurrent Start calls don't double-subscribe.
	m.unsubscribe = func() {}
	m.mu.Unlock()

	unsub := m.provider.Subscribe(m.handle)

	m.mu.Lock()
	m.unsubscribe = unsub
	m.mu.Unlock()
}

// Login delegates to the provider. It reports only immediate credential
// failures; the resulting session arrives through the event subscription.
func (m *SessionManager) Login(ctx context.Context, email, secret string) error {
	if _, err := m.provider.SignIn(ctx, email, secret); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

// Logout delegates to the provider; the NoIdentity event publishes SignedOut.
func (m *SessionManager) Logout(ctx context.Context) error {
	if err := m.provider.SignOut(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Close stops consuming events and waits for in-flight resolutions.
func (m *SessionManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	unsub := m.unsubscribe
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	m.cancel()
	m.wg.Wait()
}

func (m *SessionManager) handle(ev ports.IdentityEvent) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if ev.SignedIn() && m.rejecting != "" && ev.Identity.UID == m.rejecting {
		// Already being signed out; its NoIdentity event publishes next.
		m.mu.Unlock()
		return
	}
	m.seq++
	seq := m.seq

	if !ev.SignedIn() {
		notice := m.pendingNotice
		m.pendingNotice = nil
		m.rejecting = ""
		m.mu.Unlock()
		m.publish(seq, publication{state: domainauth.StateSignedOut, notice: notice})
		return
	}

	id := *ev.Identity
	// Token refreshes re-deliver the same uid; keep the current snapshot while re-resolving.
	quiet := id.UID == m.uid && (m.state == domainauth.StateAuthorized || m.state == domainauth.StateResolving)
	if !quiet {
		m.pendingNotice = nil
	}
	m.wg.Add(1)
	m.mu.Unlock()

	if !quiet {
		m.publish(seq, publication{state: domainauth.StateResolving, uid: id.UID})
	}
	go func() {
		defer m.wg.Done()
		m.resolve(seq, id)
	}()
}

// rejection is a fail-closed outcome: the provider is signed out and the
// snapshot carries notice.
type rejection struct {
	notice domainauth.Notice
	err    error
}

func (r *rejection) Error() string { return r.notice.Code + ": " + r.err.Error() }
func (r *rejection) Unwrap() error { return r.err }

func reject(code, message string, err error) *rejection {
	return &rejection{
		notice: domainauth.Notice{Level: domainauth.NoticeError, Code: code, Message: message},
		err:    err,
	}
}

// errSuperseded means the identity vanished mid-resolution; its NoIdentity event publishes instead.
var errSuperseded = errors.New("identity superseded")

func (m *SessionManager) resolve(seq uint64, id domainauth.Identity) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.ResolveTimeout)
	defer cancel()

	sess, notice, err := m.authorize(ctx, id)
	if m.ctx.Err() != nil {
		// Closed mid-resolution: publish nothing and leave the provider signed in.
		return
	}
	var rej *rejection
	switch {
	case err == nil:
		m.publish(seq, publication{
			state:    domainauth.StateAuthorized,
			uid:      id.UID,
			session:  &sess,
			notice:   notice,
			duration: time.Since(start),
		})
	case errors.As(err, &rej):
		m.logger.WarnContext(ctx, "identity rejected",
			"uid", id.UID, "reason", rej.notice.Code, "error", rej.err)
		m.fail(ctx, seq, id.UID, rej.notice, time.Since(start))
	case errors.Is(err, errSuperseded):
		m.logger.DebugContext(ctx, "resolution abandoned", "uid", id.UID, "error", err)
	default:
		m.logger.ErrorContext(ctx, "identity resolution failed", "uid", id.UID, "error", err)
		m.fail(ctx, seq, id.UID, domainauth.Notice{
			Level:   domainauth.NoticeError,
			Code:    domainauth.NoticeTokenUnavailable,
			Message: "Could not verify your session. Please sign in again.",
		}, time.Since(start))
	}
}

func (m *SessionManager) authorize(ctx context.Context, id domainauth.Identity) (domainauth.Session, *domainauth.Notice, error) {
	raw, err := m.provider.Token(ctx)
	if errors.Is(err, ports.ErrNoIdentity) {
		return domainauth.Session{}, nil, errSuperseded
	}
	if err != nil {
		return domainauth.Session{}, nil, reject(domainauth.NoticeTokenUnavailable,
			"Could not obtain an access token. Please sign in again.", err)
	}

	claims, err := tokens.Decode(raw)
	if err != nil {
		return domainauth.Session{}, nil, reject(domainauth.NoticeInvalidToken,
			"Your access token is malformed. Please sign in again.", err)
	}
	if m.verifier != nil {
		if err := m.verifier.Verify(ctx, raw); err != nil {
			return domainauth.Session{}, nil, reject(domainauth.NoticeTokenRejected,
				"Your access token could not be verified.", err)
		}
	}
	if sub := claims.Subject(); sub != "" && sub != id.UID {
		return domainauth.Session{}, nil, reject(domainauth.NoticeInvalidToken,
			"Your access token belongs to a different account.", fmt.Errorf("token subject %q does not match uid", sub))
	}

	rawRole, ok := m.claims.Role(claims)
	if !ok {
		return domainauth.Session{}, nil, reject(domainauth.NoticeRoleNotAllowed,
			"This account has no role for the admin console.", errors.New("role claim absent"))
	}
	role, ok := m.roles.Map(rawRole)
	if !ok {
		return domainauth.Session{}, nil, reject(domainauth.NoticeRoleNotAllowed,
			"This account is not allowed to use the admin console.", fmt.Errorf("role %q not allowed", rawRole))
	}

	profile, found := m.lookupProfile(ctx, id.UID)
	if !found && m.cfg.RequireProfile {
		return domainauth.Session{}, nil, reject(domainauth.NoticeProfileMissing,
			"No user profile exists for this account.", errors.New("profile not found"))
	}

	var p *domainauth.Profile
	if found {
		p = &profile
	}
	sess := domainauth.NewSession(id, role, p)

	var notice *domainauth.Notice
	switch {
	case sess.Disabled:
		notice = &domainauth.Notice{
			Level:   domainauth.NoticeWarning,
			Code:    domainauth.NoticeAccountDisabled,
			Message: "This account is disabled.",
		}
	case !found:
		notice = &domainauth.Notice{
			Level:   domainauth.NoticeInfo,
			Code:    domainauth.NoticeProfileMissing,
			Message: "No user profile was found; showing account details only.",
		}
	}
	return sess, notice, nil
}

// lookupProfile collapses concurrent lookups for the same uid into one call.
// The shared lookup runs on the manager's context with its own timeout, so a
// caller giving up does not fail the others waiting on it.
func (m *SessionManager) lookupProfile(ctx context.Context, uid string) (domainauth.Profile, bool) {
	type result struct {
		profile domainauth.Profile
		found   bool
	}
	ch := m.lookups.DoChan(uid, func() (any, error) {
		lctx, cancel := context.WithTimeout(m.ctx, m.cfg.ResolveTimeout)
		defer cancel()
		p, ok := m.profiles.Resolve(lctx, uid)
		return result{profile: p, found: ok}, nil
	})
	select {
	case res := <-ch:
		r := res.Val.(result)
		return r.profile, r.found
	case <-ctx.Done():
		return domainauth.Profile{}, false
	}
}

// fail signs the provider out before publishing Unauthorized. The notice is
// carried over to the SignedOut snapshot the provider's NoIdentity event
// produces, which supersedes the Unauthorized one. Sign-out runs once per
// rejected identity however many of its events fail.
func (m *SessionManager) fail(ctx context.Context, seq uint64, uid string, notice domainauth.Notice, d time.Duration) {
	m.mu.Lock()
	if seq < m.lastPublished {
		// A newer event already published on top of this one.
		m.mu.Unlock()
		return
	}
	if m.rejecting == uid {
		m.mu.Unlock()
		return
	}
	m.rejecting = uid
	n := notice
	m.pendingNotice = &n
	m.mu.Unlock()

	if err := m.provider.SignOut(context.WithoutCancel(ctx)); err != nil {
		m.logger.ErrorContext(ctx, "sign out after rejection failed", "uid", uid, "error", err)
		// No NoIdentity is coming; let the next event retry.
		m.mu.Lock()
		if m.rejecting == uid {
			m.rejecting = ""
		}
		m.mu.Unlock()
	}
	m.publish(seq, publication{
		state:    domainauth.StateUnauthorized,
		uid:      uid,
		notice:   &notice,
		duration: d,
	})
}

type publication struct {
	state    domainauth.State
	uid      string
	session  *domainauth.Session
	notice   *domainauth.Notice
	duration time.Duration
}

func (m *SessionManager) publish(seq uint64, p publication) bool {
	m.mu.Lock()
	if m.closed || seq < m.lastPublished {
		m.mu.Unlock()
		m.logger.Debug("dropping stale session publication", "state", p.state.String(), "seq", seq)
		return false
	}
	m.lastPublished = seq
	m.state = p.state
	m.uid = p.uid
	snap := m.store.Publish(p.state, p.session, p.notice)
	m.mu.Unlock()

	reason := ""
	if p.notice != nil {
		reason = p.notice.Code
	}
	m.logger.Info("session published",
		"state", snap.State.String(), "version", snap.Version, "uid", p.uid, "reason", reason)
	metrics.EmitSessionTransition(m.metrics, metrics.SessionTransition{
		State:    p.state.String(),
		Reason:   reason,
		Duration: p.duration,
	})
	return true
}
