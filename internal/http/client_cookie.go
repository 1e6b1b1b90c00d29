package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ClientCookieName names the cookie holding the browser's opaque client id.
const ClientCookieName = "client_id"

const defaultClientCookieMaxAge = 30 * 24 * time.Hour

// ClientCookies controls the client id cookie.
type ClientCookies struct {
	Domain string
	// Secure forces the Secure attribute; it is also set for TLS or forwarded-https requests.
	Secure bool
	MaxAge time.Duration
}

// ClientID returns a middleware that makes sure every request carries a client
// id, issuing a fresh one when the cookie is missing or not a UUID.
func ClientID(c ClientCookies) func(http.Handler) http.Handler {
	maxAge := c.MaxAge
	if maxAge <= 0 {
		maxAge = defaultClientCookieMaxAge
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if cookie, err := r.Cookie(ClientCookieName); err == nil {
				if parsed, parseErr := uuid.Parse(cookie.Value); parseErr == nil {
					id = parsed.String()
				}
			}
			if id == "" {
				id = uuid.NewString()
			}
			// Refresh on every request so active browsers keep their id.
			http.SetCookie(w, &http.Cookie{
				Name:     ClientCookieName,
				Value:    id,
				Path:     "/",
				Domain:   c.Domain,
				HttpOnly: true,
				Secure:   c.Secure || isSecureRequest(r),
				SameSite: http.SameSiteLaxMode,
				MaxAge:   int(maxAge.Seconds()),
			})
			next.ServeHTTP(w, r.WithContext(WithClientID(r.Context(), id)))
		})
	}
}

// isSecureRequest reports TLS, directly or through a proxy. Handles
// comma-separated X-Forwarded-Proto values such as "https,http".
func isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	for _, proto := range strings.Split(r.Header.Get("X-Forwarded-Proto"), ",") {
		if strings.EqualFold(strings.TrimSpace(proto), "https") {
			return true
		}
	}
	return false
}

// requireClientID returns the request's client id, writing a 400 when the
// ClientID middleware did not run.
func requireClientID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := ClientIDFromContext(r.Context())
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "missing_client_id",
			Err:     errMissingClientID,
		})
	}
	return id, ok
}
