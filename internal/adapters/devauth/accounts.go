package devauth

// Package devauth provides a config-driven account backend for local development.
// It plugs into firebase.Auth in place of the Identity Toolkit and securetoken APIs.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/tremiti/admin-console/internal/adapters/firebase"
	"github.com/tremiti/admin-console/internal/ports"
)

// HasuraClaimsNamespace is the claim carrying Hasura session variables.
const HasuraClaimsNamespace = "https://hasura.io/jwt/claims"

const (
	defaultIssuer   = "tremiti-devauth"
	defaultTokenTTL = time.Hour
	refreshUse      = "refresh"
)

// User is one configured development account.
type User struct {
	UID         string
	Email       string
	Password    string
	DisplayName string
	Role        string // x-hasura-default-role; may be any string to exercise rejection
}

// Config controls the dev account backend.
type Config struct {
	Users    []User
	Secret   []byte        // HS256 key; must be at least 32 bytes
	Issuer   string        // defaults to "tremiti-devauth"
	TokenTTL time.Duration // defaults to 1h
	Logger   *slog.Logger
	Now      func() time.Time
}

// Accounts authenticates against the configured users and mints HS256 ID tokens
// with the Hasura claims namespace, so a dev Hasura configured with the same
// secret accepts them.
type Accounts struct {
	byEmail map[string]User
	byUID   map[string]User
	secret  []byte
	issuer  string
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

var (
	_ firebase.Accounts  = (*Accounts)(nil)
	_ firebase.Refresher = (*Accounts)(nil)
)

// NewAccounts validates cfg and builds the backend.
func NewAccounts(cfg Config) (*Accounts, error) {
	if len(cfg.Users) == 0 {
		return nil, errors.New("dev auth: at least one user is required")
	}
	if len(cfg.Secret) < 32 {
		return nil, errors.New("dev auth: secret must be at least 32 bytes")
	}
	a := &Accounts{
		byEmail: make(map[string]User, len(cfg.Users)),
		byUID:   make(map[string]User, len(cfg.Users)),
		secret:  append([]byte(nil), cfg.Secret...),
		issuer:  cfg.Issuer,
		ttl:     cfg.TokenTTL,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
	if a.issuer == "" {
		a.issuer = defaultIssuer
	}
	if a.ttl <= 0 {
		a.ttl = defaultTokenTTL
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.now == nil {
		a.now = time.Now
	}
	for i, u := range cfg.Users {
		email := normalizeEmail(u.Email)
		if email == "" || u.Password == "" {
			return nil, fmt.Errorf("dev auth: user %d requires email and password", i)
		}
		if u.UID == "" {
			u.UID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("devauth:"+email)).String()
		}
		u.Email = email
		if _, dup := a.byEmail[email]; dup {
			return nil, fmt.Errorf("dev auth: duplicate user %q", email)
		}
		a.byEmail[email] = u
		a.byUID[u.UID] = u
	}
	return a, nil
}

// ParseUsers reads "email:password:role[:display name]" entries separated by commas.
func ParseUsers(raw string) ([]User, error) {
	var users []User
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 4)
		if len(parts) < 3 {
			return nil, fmt.Errorf("dev auth: invalid user entry %q", entry)
		}
		u := User{Email: parts[0], Password: parts[1], Role: parts[2]}
		if len(parts) == 4 {
			u.DisplayName = parts[3]
		}
		users = append(users, u)
	}
	return users, nil
}

func (a *Accounts) SignInWithPassword(_ context.Context, email, password string) (firebase.SignInResult, error) {
	u, ok := a.byEmail[normalizeEmail(email)]
	if !ok || u.Password != password {
		return firebase.SignInResult{}, ports.ErrInvalidCredentials
	}
	idToken, err := a.mintIDToken(u)
	if err != nil {
		return firebase.SignInResult{}, err
	}
	refresh, err := a.mintRefreshToken(u)
	if err != nil {
		return firebase.SignInResult{}, err
	}
	return firebase.SignInResult{
		UID:          u.UID,
		Email:        u.Email,
		DisplayName:  u.DisplayName,
		IDToken:      idToken,
		RefreshToken: refresh,
	}, nil
}

func (a *Accounts) SendPasswordReset(ctx context.Context, email string) error {
	if _, ok := a.byEmail[normalizeEmail(email)]; !ok {
		return firebase.ErrEmailNotFound
	}
	a.logger.InfoContext(ctx, "dev auth: password reset requested")
	return nil
}

// Refresh verifies a refresh token minted by this backend and issues a new ID token.
func (a *Accounts) Refresh(_ context.Context, refreshToken string) (firebase.RefreshedToken, error) {
	tok, err := jwt.Parse([]byte(refreshToken),
		jwt.WithKey(jwa.HS256, a.secret),
		jwt.WithIssuer(a.issuer),
		jwt.WithClaimValue("use", refreshUse),
		jwt.WithClock(jwt.ClockFunc(a.now)),
	)
	if err != nil {
		return firebase.RefreshedToken{}, fmt.Errorf("%w: %v", firebase.ErrRefreshRejected, err)
	}
	u, ok := a.byUID[tok.Subject()]
	if !ok {
		return firebase.RefreshedToken{}, fmt.Errorf("%w: unknown user", firebase.ErrRefreshRejected)
	}
	idToken, err := a.mintIDToken(u)
	if err != nil {
		return firebase.RefreshedToken{}, err
	}
	return firebase.RefreshedToken{
		IDToken:      idToken,
		RefreshToken: refreshToken,
		Expiry:       a.now().Add(a.ttl).Truncate(time.Second),
	}, nil
}

func (a *Accounts) mintIDToken(u User) (string, error) {
	now := a.now()
	b := jwt.NewBuilder().
		Issuer(a.issuer).
		Subject(u.UID).
		Audience([]string{a.issuer}).
		IssuedAt(now).
		Expiration(now.Add(a.ttl)).
		Claim("email", u.Email)
	if u.DisplayName != "" {
		b = b.Claim("name", u.DisplayName)
	}
	if u.Role != "" {
		b = b.Claim(HasuraClaimsNamespace, map[string]any{
			"x-hasura-default-role":  u.Role,
			"x-hasura-allowed-roles": []string{u.Role},
			"x-hasura-user-id":       u.UID,
		})
	}
	return a.sign(b)
}

func (a *Accounts) mintRefreshToken(u User) (string, error) {
	b := jwt.NewBuilder().
		Issuer(a.issuer).
		Subject(u.UID).
		IssuedAt(a.now()).
		JwtID(uuid.NewString()).
		Claim("use", refreshUse)
	return a.sign(b)
}

func (a *Accounts) sign(b *jwt.Builder) (string, error) {
	tok, err := b.Build()
	if err != nil {
		return "", fmt.Errorf("build token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, a.secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return string(signed), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
