package firebase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	domainauth "github.com/tremiti/admin-console/internal/domain/auth"
	"github.com/tremiti/admin-console/internal/ports"
	"github.com/tremiti/admin-console/internal/tokens"
	"github.com/tremiti/admin-console/internal/util"
)

// defaultRefreshMargin renews ID tokens this long before they expire.
const defaultRefreshMargin = 5 * time.Minute

// AuthOptions configures one client's Auth instance.
type AuthOptions struct {
	ClientID      string
	Accounts      Accounts
	Refresher     Refresher
	Credentials   ports.CredentialStore // optional; nil keeps identities in memory only
	Logger        *slog.Logger
	RefreshMargin time.Duration
	Now           func() time.Time
}

type currentUser struct {
	identity     domainauth.Identity
	idToken      string
	refreshToken string
}

// Auth is one principal's Firebase session: the current user, its tokens and
// the listeners observing it. Events reach listeners in emission order on a
// dedicated goroutine.
type Auth struct {
	clientID  string
	accounts  Accounts
	refresher Refresher
	creds     ports.CredentialStore
	logger    *slog.Logger
	margin    time.Duration
	now       func() time.Time

	mu        sync.Mutex
	user      *currentUser
	listeners map[int]func(ports.IdentityEvent)
	nextID    int

	refreshMu sync.Mutex
	events    *util.SerialQueue[ports.IdentityEvent]
}

var _ ports.RestorableProvider = (*Auth)(nil)

// NewAuth builds an Auth with no signed-in user. Call Restore to load persisted credentials.
func NewAuth(opts AuthOptions) (*Auth, error) {
	if opts.Accounts == nil {
		return nil, errors.New("firebase accounts client is required")
	}
	if opts.Refresher == nil {
		return nil, errors.New("firebase token refresher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	margin := opts.RefreshMargin
	if margin <= 0 {
		margin = defaultRefreshMargin
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	a := &Auth{
		clientID:  opts.ClientID,
		accounts:  opts.Accounts,
		refresher: opts.Refresher,
		creds:     opts.Credentials,
		logger:    logger.With("component", "firebase_auth"),
		margin:    margin,
		now:       now,
		listeners: make(map[int]func(ports.IdentityEvent)),
	}
	a.events = util.NewSerialQueue(a.deliver)
	return a, nil
}

// Subscribe registers fn for identity events.
func (a *Auth) Subscribe(fn func(ports.IdentityEvent)) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.listeners, id)
			a.mu.Unlock()
		})
	}
}

// Restore loads persisted credentials and emits the first event: the restored
// identity, or NoIdentity when nothing was persisted.
func (a *Auth) Restore(ctx context.Context) error {
	if a.creds == nil || a.clientID == "" {
		a.emit(nil)
		return nil
	}
	c, err := a.creds.Get(ctx, a.clientID)
	if errors.Is(err, ports.ErrCredentialsNotFound) {
		a.emit(nil)
		return nil
	}
	if err != nil {
		a.emit(nil)
		return fmt.Errorf("restore credentials: %w", err)
	}

	id := domainauth.Identity{UID: c.UID, Email: c.Email, DisplayName: c.DisplayName, PhotoURL: c.PhotoURL}
	a.mu.Lock()
	a.user = &currentUser{identity: id, refreshToken: c.RefreshToken}
	a.mu.Unlock()
	a.emit(&id)
	return nil
}

// SignIn verifies the password with Firebase and makes the result the current user.
func (a *Auth) SignIn(ctx context.Context, email, secret string) (domainauth.Identity, error) {
	email = strings.TrimSpace(email)
	if email == "" || secret == "" {
		return domainauth.Identity{}, fmt.Errorf("sign in: %w", ports.ErrInvalidCredentials)
	}
	res, err := a.accounts.SignInWithPassword(ctx, email, secret)
	if err != nil {
		return domainauth.Identity{}, fmt.Errorf("sign in: %w", err)
	}

	id := domainauth.Identity{
		UID:         res.UID,
		Email:       res.Email,
		DisplayName: res.DisplayName,
		PhotoURL:    res.PhotoURL,
		ExpiresAt:   a.expiryOf(res.IDToken),
	}
	a.mu.Lock()
	a.user = &currentUser{identity: id, idToken: res.IDToken, refreshToken: res.RefreshToken}
	a.mu.Unlock()

	a.persist(ctx, id, res.RefreshToken)
	a.emit(&id)
	return id, nil
}

// SignOut forgets the current user. Subscribers get NoIdentity if someone was signed in.
func (a *Auth) SignOut(ctx context.Context) error {
	a.mu.Lock()
	wasSignedIn := a.user != nil
	a.user = nil
	a.mu.Unlock()

	var err error
	if a.creds != nil && a.clientID != "" {
		if delErr := a.creds.Delete(ctx, a.clientID); delErr != nil {
			err = fmt.Errorf("delete credentials: %w", delErr)
		}
	}
	if wasSignedIn {
		a.emit(nil)
	}
	return err
}

// Token returns the current ID token, refreshing it when it is within the
// refresh margin of expiry. A rejected refresh signs the user out.
func (a *Auth) Token(ctx context.Context) (string, error) {
	if tok, ok, err := a.cachedToken(); err != nil || ok {
		return tok, err
	}

	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	if tok, ok, err := a.cachedToken(); err != nil || ok {
		return tok, err
	}

	a.mu.Lock()
	u := a.user
	a.mu.Unlock()
	if u == nil {
		return "", ports.ErrNoIdentity
	}

	fresh, err := a.refresher.Refresh(ctx, u.refreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshRejected) {
			a.logger.WarnContext(ctx, "refresh token rejected, signing out", "uid", u.identity.UID)
			_ = a.SignOut(ctx)
			return "", fmt.Errorf("%w: %w", ports.ErrNoIdentity, err)
		}
		return "", err
	}

	a.mu.Lock()
	if a.user != u {
		// Signed out or replaced during the refresh.
		a.mu.Unlock()
		return "", ports.ErrNoIdentity
	}
	id := u.identity
	id.ExpiresAt = fresh.Expiry
	a.user = &currentUser{identity: id, idToken: fresh.IDToken, refreshToken: fresh.RefreshToken}
	a.mu.Unlock()

	if fresh.RefreshToken != u.refreshToken {
		a.persist(ctx, id, fresh.RefreshToken)
	}
	a.emit(&id)
	return fresh.IDToken, nil
}

// SendPasswordReset delegates to the account API. It does not touch the current user.
func (a *Auth) SendPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return errors.New("send password reset: email is required")
	}
	return a.accounts.SendPasswordReset(ctx, email)
}

// Current returns the signed-in identity, if any.
func (a *Auth) Current() (domainauth.Identity, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.user == nil {
		return domainauth.Identity{}, false
	}
	return a.user.identity, true
}

// Close stops event delivery after flushing queued events.
func (a *Auth) Close() error {
	a.events.Close()
	return nil
}

func (a *Auth) cachedToken() (string, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.user == nil {
		return "", false, ports.ErrNoIdentity
	}
	u := a.user
	if u.idToken != "" && a.now().Add(a.margin).Before(u.identity.ExpiresAt) {
		return u.idToken, true, nil
	}
	return "", false, nil
}

func (a *Auth) expiryOf(idToken string) time.Time {
	if claims, err := tokens.Decode(idToken); err == nil {
		if exp := claims.Expiry(); !exp.IsZero() {
			return exp
		}
	}
	return a.now().Add(time.Hour)
}

func (a *Auth) persist(ctx context.Context, id domainauth.Identity, refreshToken string) {
	if a.creds == nil || a.clientID == "" || refreshToken == "" {
		return
	}
	err := a.creds.Save(ctx, a.clientID, ports.Credentials{
		UID:          id.UID,
		Email:        id.Email,
		DisplayName:  id.DisplayName,
		PhotoURL:     id.PhotoURL,
		RefreshToken: refreshToken,
	})
	if err != nil {
		a.logger.WarnContext(ctx, "persist credentials failed", "uid", id.UID, "error", err)
	}
}

func (a *Auth) emit(id *domainauth.Identity) {
	var ev ports.IdentityEvent
	if id != nil {
		cp := *id
		ev.Identity = &cp
	}
	a.events.Post(ev)
}

func (a *Auth) deliver(ev ports.IdentityEvent) {
	a.mu.Lock()
	fns := make([]func(ports.IdentityEvent), 0, len(a.listeners))
	for id := 0; id < a.nextID; id++ {
		if fn, ok := a.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
