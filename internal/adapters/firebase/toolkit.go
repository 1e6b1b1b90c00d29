// Package firebase adapts Firebase Authentication (Identity Toolkit and Secure Token APIs)
// to the console's identity provider port.
package firebase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	identitytoolkit "google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"

	"github.com/tremiti/admin-console/internal/ports"
)

var (
	// ErrUserDisabled is returned when the Firebase account is disabled.
	ErrUserDisabled = ports.ErrAccountDisabled
	// ErrTooManyAttempts is returned when Firebase throttles the account.
	ErrTooManyAttempts = ports.ErrRateLimited
	// ErrEmailNotFound is returned by SendPasswordReset for unknown accounts.
	ErrEmailNotFound = ports.ErrAccountNotFound
)

// SignInResult is the outcome of a password sign-in.
type SignInResult struct {
	UID          string
	Email        string
	DisplayName  string
	PhotoURL     string
	IDToken      string
	RefreshToken string
}

// Accounts is the account API a per-client Auth talks to.
type Accounts interface {
	SignInWithPassword(ctx context.Context, email, password string) (SignInResult, error)
	SendPasswordReset(ctx context.Context, email string) error
}

// ToolkitOptions configures the Identity Toolkit client.
type ToolkitOptions struct {
	APIKey string
	// Endpoint overrides the relyingparty base URL (emulator, tests).
	Endpoint string
	// HTTPClient replaces the transport entirely; the API key is then not attached automatically.
	HTTPClient *http.Client
}

// Toolkit calls the Identity Toolkit relyingparty API.
type Toolkit struct {
	svc *identitytoolkit.Service
}

var _ Accounts = (*Toolkit)(nil)

// NewToolkit builds the API client.
func NewToolkit(ctx context.Context, opts ToolkitOptions) (*Toolkit, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("firebase api key is required")
	}
	clientOpts := []option.ClientOption{option.WithAPIKey(opts.APIKey)}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	svc, err := identitytoolkit.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("identitytoolkit new service: %w", err)
	}
	return &Toolkit{svc: svc}, nil
}

// SignInWithPassword verifies email and password and returns fresh tokens.
func (t *Toolkit) SignInWithPassword(ctx context.Context, email, password string) (SignInResult, error) {
	resp, err := t.svc.Relyingparty.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return SignInResult{}, mapToolkitError("verify password", err)
	}
	if resp.IdToken == "" || resp.LocalId == "" {
		return SignInResult{}, errors.New("verify password: response without token")
	}
	return SignInResult{
		UID:          resp.LocalId,
		Email:        resp.Email,
		DisplayName:  resp.DisplayName,
		PhotoURL:     resp.PhotoUrl,
		IDToken:      resp.IdToken,
		RefreshToken: resp.RefreshToken,
	}, nil
}

// SendPasswordReset asks Firebase to email a reset link.
func (t *Toolkit) SendPasswordReset(ctx context.Context, email string) error {
	_, err := t.svc.Relyingparty.GetOobConfirmationCode(&identitytoolkit.Relyingparty{
		RequestType: "PASSWORD_RESET",
		Email:       email,
	}).Context(ctx).Do()
	if err != nil {
		return mapToolkitError("send password reset", err)
	}
	return nil
}

// mapToolkitError turns Firebase error messages into sentinel errors.
// Messages look like "INVALID_PASSWORD" or "TOO_MANY_ATTEMPTS_TRY_LATER : detail".
func mapToolkitError(op string, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	code := strings.TrimSpace(strings.SplitN(gerr.Message, ":", 2)[0])
	switch code {
	case "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "INVALID_EMAIL", "MISSING_PASSWORD":
		return fmt.Errorf("%s: %w", op, ports.ErrInvalidCredentials)
	case "EMAIL_NOT_FOUND":
		if op == "send password reset" {
			return fmt.Errorf("%s: %w", op, ErrEmailNotFound)
		}
		return fmt.Errorf("%s: %w", op, ports.ErrInvalidCredentials)
	case "USER_DISABLED":
		return fmt.Errorf("%s: %w", op, ErrUserDisabled)
	case "TOO_MANY_ATTEMPTS_TRY_LATER":
		return fmt.Errorf("%s: %w", op, ErrTooManyAttempts)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
