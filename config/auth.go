package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AuthMode represents the identity provider backend.
type AuthMode string

const (
	// AuthModeFirebase signs users in against Firebase Authentication.
	AuthModeFirebase AuthMode = "firebase"
	// AuthModeMock uses a local account table and HS256 tokens (for development only).
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "firebase", "mock":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: firebase, mock)", v)
	}
}

// FirebaseConfig contains Firebase Authentication settings.
type FirebaseConfig struct {
	APIKey    string `env:"API_KEY"`
	ProjectID string `env:"PROJECT_ID"`

	// ToolkitEndpoint overrides the Identity Toolkit base URL (emulator).
	ToolkitEndpoint string `env:"TOOLKIT_ENDPOINT"`
	// SecureTokenURL overrides the token refresh endpoint (emulator).
	SecureTokenURL string `env:"SECURE_TOKEN_URL"`

	// VerifyIDTokens checks ID token signatures against Google's keys before trusting claims.
	VerifyIDTokens bool   `env:"VERIFY_ID_TOKENS" envDefault:"false"`
	JWKSURL        string `env:"JWKS_URL"`
}

// DevAuthConfig controls mock authentication.
// Used when AUTH_MODE=mock for development and testing.
type DevAuthConfig struct {
	// Users is a comma-separated list of email:password:role[:display name].
	Users  string `env:"USERS"  envDefault:"admin@tremiti.dev:admin:admin:Admin Dev,operator@tremiti.dev:operator:operator:Operator Dev"`
	Secret string `env:"SECRET" envDefault:"dev-only-secret-change-me-0123456789abcdef"`
	Issuer string `env:"ISSUER" envDefault:"tremiti-devauth"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which identity provider backend to use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"firebase"`

	// Firebase configuration (used when Mode=firebase).
	Firebase FirebaseConfig `envPrefix:"FIREBASE_"`

	// DevAuth configuration (used when Mode=mock).
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`

	// RoleClaimPath is the JMESPath expression selecting the role from ID token claims.
	RoleClaimPath string `env:"AUTH_ROLE_CLAIM_PATH" envDefault:"\"https://hasura.io/jwt/claims\".\"x-hasura-default-role\""`

	// AllowedRoles narrows which console roles may sign in.
	AllowedRoles []string `env:"AUTH_ALLOWED_ROLES" envDefault:"admin,operator" envSeparator:","`

	// RequireProfile rejects identities without a users row instead of degrading.
	RequireProfile bool `env:"AUTH_REQUIRE_PROFILE" envDefault:"false"`

	// SettleTimeout bounds how long login and status wait for session resolution.
	SettleTimeout time.Duration `env:"AUTH_SETTLE_TIMEOUT" envDefault:"10s"`

	// ResolveTimeout bounds one session resolution (token, verification, profile).
	ResolveTimeout time.Duration `env:"AUTH_RESOLVE_TIMEOUT" envDefault:"15s"`

	// RefreshMargin renews ID tokens this long before they expire.
	RefreshMargin time.Duration `env:"AUTH_REFRESH_MARGIN" envDefault:"5m"`

	// CredentialTTL is how long persisted refresh credentials outlive their last use.
	CredentialTTL time.Duration `env:"AUTH_CREDENTIAL_TTL" envDefault:"720h"`
}

// Sanitize applies guardrails to auth configuration values.
func (a *AuthConfig) Sanitize() {
	a.Firebase.APIKey = strings.TrimSpace(a.Firebase.APIKey)
	a.Firebase.ProjectID = strings.TrimSpace(a.Firebase.ProjectID)
	if strings.TrimSpace(a.RoleClaimPath) == "" {
		a.RoleClaimPath = `"https://hasura.io/jwt/claims"."x-hasura-default-role"`
	}
	if a.SettleTimeout <= 0 {
		a.SettleTimeout = 10 * time.Second
	}
	if a.ResolveTimeout <= 0 {
		a.ResolveTimeout = 15 * time.Second
	}
	if a.RefreshMargin < time.Minute {
		a.RefreshMargin = time.Minute
	}
	if a.RefreshMargin > 30*time.Minute {
		a.RefreshMargin = 30 * time.Minute
	}
	if a.CredentialTTL < time.Hour {
		a.CredentialTTL = time.Hour
	}
}

// Validate checks the settings the selected mode needs.
func (a *AuthConfig) Validate() error {
	switch a.Mode {
	case AuthModeFirebase:
		if a.Firebase.APIKey == "" {
			return errors.New("FIREBASE_API_KEY is required when AUTH_MODE=firebase")
		}
		if a.Firebase.VerifyIDTokens && a.Firebase.ProjectID == "" {
			return errors.New("FIREBASE_PROJECT_ID is required when FIREBASE_VERIFY_ID_TOKENS=true")
		}
	case AuthModeMock:
		if len(a.DevAuth.Secret) < 32 {
			return errors.New("DEV_AUTH_SECRET must be at least 32 bytes")
		}
	default:
		return fmt.Errorf("unsupported auth mode %q", a.Mode)
	}
	return nil
}
