package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tremiti/admin-console/internal/adapters/hasura"
	"github.com/tremiti/admin-console/internal/guard"
	"github.com/tremiti/admin-console/internal/observability/statsd"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Auth    AuthServiceInterface
	Guard   *guard.Guard
	GraphQL hasura.Doer
	Cookies ClientCookies
	// EventsPingInterval paces websocket keepalive pings; default 30s.
	EventsPingInterval time.Duration
	Metrics            statsd.Sink  // Optional
	Logger             *slog.Logger // Optional
}

// NewRouter creates and configures a new HTTP router with browser middleware.
// Health checks bypass the client cookie and CSRF layers.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	app := http.NewServeMux()
	registerAuthRoutes(app, AuthHandlers{Svc: services.Auth, Guard: services.Guard, Logger: logger})
	app.Handle("GET /auth/events", &EventsHandler{
		Svc:          services.Auth,
		Guard:        services.Guard,
		PingInterval: services.EventsPingInterval,
		Logger:       logger,
	})
	app.Handle("POST /api/graphql", RequireSession(services.Auth)(GraphQLHandler{Client: services.GraphQL, Logger: logger}))
	app.Handle("/api/", http.NotFoundHandler())
	app.Handle("/auth/", http.NotFoundHandler())

	// Every other path is a page: the route table decides who may see it.
	app.Handle("/", RouteGuard(services.Auth, services.Guard, services.Metrics)(PageHandler{Guard: services.Guard}))

	clientScoped := ClientID(services.Cookies)(CSRFProtection(CSRFConfig{
		CookieDomain: services.Cookies.Domain,
		Secure:       services.Cookies.Secure,
	})(app))

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("/", clientScoped)

	return BrowserDetection()(mux)
}

func registerAuthRoutes(mux *http.ServeMux, h AuthHandlers) {
	mux.HandleFunc("POST /auth/login", h.Login)
	mux.HandleFunc("POST /auth/logout", h.Logout)
	mux.HandleFunc("GET /auth/status", h.Status)
	mux.HandleFunc("POST /auth/password-reset", h.PasswordReset)
}
