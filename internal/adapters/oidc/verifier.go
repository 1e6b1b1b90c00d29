package oidc

// Package oidc verifies Firebase ID tokens as OpenID Connect tokens.

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"

	"github.com/tremiti/admin-console/internal/ports"
)

const (
	// FirebaseIssuerPrefix is followed by the project id in every Firebase ID token.
	FirebaseIssuerPrefix = "https://securetoken.google.com/"
	// FirebaseJWKSURL serves the keys Firebase signs ID tokens with.
	FirebaseJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
)

// ErrTokenInvalid wraps every verification failure.
var ErrTokenInvalid = errors.New("id token failed verification")

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	ProjectID  string
	Issuer     string // defaults to FirebaseIssuerPrefix + ProjectID
	JWKSURL    string // defaults to FirebaseJWKSURL
	HTTPClient *http.Client
	Now        func() time.Time
}

// Verifier checks signature, issuer, audience and expiry of Firebase ID tokens.
type Verifier struct {
	verifier *gooidc.IDTokenVerifier
	now      func() time.Time
}

var _ ports.TokenVerifier = (*Verifier)(nil)

// NewVerifier builds a verifier against a remote key set. Keys are fetched
// lazily on the first verification, so construction does no network I/O.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("project ID is required")
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = FirebaseIssuerPrefix + cfg.ProjectID
	}
	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = FirebaseJWKSURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	// The key set keeps this context for its background fetches.
	ctx := gooidc.ClientContext(context.Background(), httpClient)
	keys := gooidc.NewRemoteKeySet(ctx, jwksURL)
	v := gooidc.NewVerifier(issuer, keys, &gooidc.Config{
		ClientID: cfg.ProjectID,
		Now:      now,
	})
	return &Verifier{verifier: v, now: now}, nil
}

type firebaseClaims struct {
	AuthTime int64 `json:"auth_time"`
}

// Verify reports nil when rawToken is a valid, unexpired Firebase ID token.
func (v *Verifier) Verify(ctx context.Context, rawToken string) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}
	tok, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if tok.Subject == "" {
		return fmt.Errorf("%w: empty subject", ErrTokenInvalid)
	}
	var c firebaseClaims
	if err := tok.Claims(&c); err != nil {
		return fmt.Errorf("%w: decode claims: %w", ErrTokenInvalid, err)
	}
	// 1 minute of tolerance for clock skew between Google and us
	if c.AuthTime > 0 && time.Unix(c.AuthTime, 0).After(v.now().Add(time.Minute)) {
		return fmt.Errorf("%w: auth_time in the future", ErrTokenInvalid)
	}
	return nil
}
