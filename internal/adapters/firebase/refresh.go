package firebase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/tremiti/admin-console/internal/tokens"
)

// DefaultSecureTokenURL is Firebase's refresh-token exchange endpoint.
const DefaultSecureTokenURL = "https://securetoken.googleapis.com/v1/token"

// ErrRefreshRejected means the refresh token is no longer valid (revoked, expired, user disabled).
var ErrRefreshRejected = errors.New("refresh token rejected")

// RefreshedToken is a renewed ID token.
type RefreshedToken struct {
	IDToken      string
	RefreshToken string
	Expiry       time.Time
}

// Refresher exchanges a refresh token for a new ID token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (RefreshedToken, error)
}

// SecureTokenOptions configures a SecureTokenRefresher.
type SecureTokenOptions struct {
	APIKey     string
	TokenURL   string // defaults to DefaultSecureTokenURL
	HTTPClient *http.Client
}

// SecureTokenRefresher renews ID tokens through the OAuth2 refresh_token grant.
type SecureTokenRefresher struct {
	config     oauth2.Config
	httpClient *http.Client
}

var _ Refresher = (*SecureTokenRefresher)(nil)

// NewSecureTokenRefresher builds a refresher bound to an API key.
func NewSecureTokenRefresher(opts SecureTokenOptions) (*SecureTokenRefresher, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("firebase api key is required")
	}
	base := opts.TokenURL
	if base == "" {
		base = DefaultSecureTokenURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse secure token url: %w", err)
	}
	q := u.Query()
	q.Set("key", opts.APIKey)
	u.RawQuery = q.Encode()

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &SecureTokenRefresher{
		config: oauth2.Config{
			Endpoint: oauth2.Endpoint{TokenURL: u.String(), AuthStyle: oauth2.AuthStyleInParams},
		},
		httpClient: hc,
	}, nil
}

// Refresh performs one refresh_token grant.
func (r *SecureTokenRefresher) Refresh(ctx context.Context, refreshToken string) (RefreshedToken, error) {
	if refreshToken == "" {
		return RefreshedToken{}, fmt.Errorf("refresh id token: %w", ErrRefreshRejected)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	tok, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode >= 400 && re.Response.StatusCode < 500 {
			return RefreshedToken{}, fmt.Errorf("refresh id token: %w: %w", ErrRefreshRejected, err)
		}
		return RefreshedToken{}, fmt.Errorf("refresh id token: %w", err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return RefreshedToken{}, errors.New("refresh id token: missing id_token in response")
	}
	out := RefreshedToken{IDToken: idToken, RefreshToken: tok.RefreshToken, Expiry: tok.Expiry}
	if claims, err := tokens.Decode(idToken); err == nil {
		if exp := claims.Expiry(); !exp.IsZero() {
			out.Expiry = exp
		}
	}
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}
