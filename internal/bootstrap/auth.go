package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/tremiti/admin-console/config"
	"github.com/tremiti/admin-console/internal/adapters/authroles"
	"github.com/tremiti/admin-console/internal/adapters/devauth"
	"github.com/tremiti/admin-console/internal/adapters/firebase"
	"github.com/tremiti/admin-console/internal/adapters/hasura"
	"github.com/tremiti/admin-console/internal/adapters/memstore"
	"github.com/tremiti/admin-console/internal/adapters/oidc"
	redisadapter "github.com/tremiti/admin-console/internal/adapters/redis"
	"github.com/tremiti/admin-console/internal/observability/statsd"
	"github.com/tremiti/admin-console/internal/ports"
	"github.com/tremiti/admin-console/internal/service"
	"github.com/tremiti/admin-console/internal/tokens"
)

// AuthConfig contains configuration for auth service.
type AuthConfig struct {
	Auth        config.AuthConfig
	Redis       config.RedisConfig
	RedisClient redis.UniversalClient // Optional: nil keeps credentials in memory
	Credentials ports.CredentialStore // Optional: overrides the store derived from RedisClient
	GraphQL     *hasura.Client        // Required: profile lookups
	Logger      *slog.Logger
	Metrics     statsd.Sink
}

// identityBackend is what every client's provider talks to.
type identityBackend struct {
	accounts  firebase.Accounts
	refresher firebase.Refresher
}

// BuildAuthService creates the client registry for the configured auth mode.
func BuildAuthService(ctx context.Context, cfg AuthConfig) (*service.AuthService, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GraphQL == nil {
		return nil, errors.New("graphql client is required")
	}

	backend, err := buildIdentityBackend(ctx, cfg.Auth, logger)
	if err != nil {
		return nil, err
	}

	roles, err := authroles.NewAllowList(cfg.Auth.AllowedRoles)
	if err != nil {
		return nil, fmt.Errorf("allowed roles: %w", err)
	}
	claims, err := tokens.NewRoleExtractor(cfg.Auth.RoleClaimPath)
	if err != nil {
		return nil, fmt.Errorf("role claim path: %w", err)
	}
	verifier, err := buildVerifier(cfg.Auth)
	if err != nil {
		return nil, err
	}

	creds := cfg.Credentials
	if creds == nil {
		creds = BuildCredentialStore(cfg, logger)
	}

	deps := service.AuthServiceDeps{
		Providers: newProviderFactory(backend, creds, cfg.Auth, logger),
		Profiles:  newProfileResolvers(cfg.GraphQL, logger),
		Roles:     roles,
	}
	if verifier != nil {
		deps.Verifier = verifier
	}

	logger.Info("auth service configured",
		"mode", cfg.Auth.Mode,
		"allowed_roles", cfg.Auth.AllowedRoles,
		"verify_id_tokens", verifier != nil,
		"require_profile", cfg.Auth.RequireProfile,
	)
	return service.NewAuthService(service.AuthServiceOptions{
		Deps: deps,
		Config: service.AuthServiceConfig{
			Session: service.SessionManagerConfig{
				Claims:         claims,
				RequireProfile: cfg.Auth.RequireProfile,
				ResolveTimeout: cfg.Auth.ResolveTimeout,
			},
			SettleTimeout: cfg.Auth.SettleTimeout,
		},
		Logger:  logger,
		Metrics: cfg.Metrics,
	})
}

func buildIdentityBackend(ctx context.Context, cfg config.AuthConfig, logger *slog.Logger) (identityBackend, error) {
	switch cfg.Mode {
	case config.AuthModeMock:
		users, err := devauth.ParseUsers(cfg.DevAuth.Users)
		if err != nil {
			return identityBackend{}, fmt.Errorf("dev auth users: %w", err)
		}
		accounts, err := devauth.NewAccounts(devauth.Config{
			Users:  users,
			Secret: []byte(cfg.DevAuth.Secret),
			Issuer: cfg.DevAuth.Issuer,
			Logger: logger,
		})
		if err != nil {
			return identityBackend{}, err
		}
		logger.Warn("using development accounts; never enable AUTH_MODE=mock in production", "users", len(users))
		return identityBackend{accounts: accounts, refresher: accounts}, nil

	case config.AuthModeFirebase:
		toolkit, err := firebase.NewToolkit(ctx, firebase.ToolkitOptions{
			APIKey:   cfg.Firebase.APIKey,
			Endpoint: cfg.Firebase.ToolkitEndpoint,
		})
		if err != nil {
			return identityBackend{}, err
		}
		refresher, err := firebase.NewSecureTokenRefresher(firebase.SecureTokenOptions{
			APIKey:   cfg.Firebase.APIKey,
			TokenURL: cfg.Firebase.SecureTokenURL,
		})
		if err != nil {
			return identityBackend{}, err
		}
		return identityBackend{accounts: toolkit, refresher: refresher}, nil

	default:
		return identityBackend{}, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}
}

// buildVerifier returns nil when ID token signatures are not checked.
func buildVerifier(cfg config.AuthConfig) (*oidc.Verifier, error) {
	if cfg.Mode != config.AuthModeFirebase || !cfg.Firebase.VerifyIDTokens {
		return nil, nil
	}
	v, err := oidc.NewVerifier(oidc.VerifierConfig{
		ProjectID: cfg.Firebase.ProjectID,
		JWKSURL:   cfg.Firebase.JWKSURL,
	})
	if err != nil {
		return nil, fmt.Errorf("id token verifier: %w", err)
	}
	return v, nil
}

// BuildCredentialStore persists provider credentials in Redis, or in process
// memory when no Redis client is configured.
//
//nolint:ireturn // callers only need the port.
func BuildCredentialStore(cfg AuthConfig, logger *slog.Logger) ports.CredentialStore {
	if cfg.RedisClient != nil {
		return redisadapter.NewCredentialStore(cfg.RedisClient, redisadapter.CredentialStoreOptions{
			Prefix: cfg.Redis.KeyPrefix,
			TTL:    cfg.Auth.CredentialTTL,
		})
	}
	if logger != nil {
		logger.Warn("redis disabled: sign-ins will not survive a restart")
	}
	return memstore.NewCredentialStore(cfg.Auth.CredentialTTL)
}

func newProviderFactory(backend identityBackend, creds ports.CredentialStore, cfg config.AuthConfig, logger *slog.Logger) service.ProviderFactory {
	return service.ProviderFactoryFunc(func(clientID string) (ports.RestorableProvider, error) {
		return firebase.NewAuth(firebase.AuthOptions{
			ClientID:      clientID,
			Accounts:      backend.accounts,
			Refresher:     backend.refresher,
			Credentials:   creds,
			Logger:        logger,
			RefreshMargin: cfg.RefreshMargin,
		})
	})
}

// newProfileResolvers binds profile lookups to each client's own token.
func newProfileResolvers(client *hasura.Client, logger *slog.Logger) service.ProfileResolverFactory {
	return func(src ports.TokenSource) ports.ProfileResolver {
		return hasura.NewProfileResolver(hasura.ProfileResolverOptions{
			Client: client,
			Tokens: src,
			Logger: logger,
		})
	}
}

// BuildGraphQLClient creates the data API client shared by profile lookups and the proxy.
func BuildGraphQLClient(cfg config.GraphQLConfig, logger *slog.Logger) (*hasura.Client, error) {
	return hasura.NewClient(hasura.ClientOptions{
		Endpoint: cfg.Endpoint,
		Timeout:  cfg.Timeout,
		Logger:   logger,
	})
}
