package httpx

import (
	"compress/gzip"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shellBody struct {
	Page string `json:"page"`
	User *struct {
		Role string `json:"role"`
	} `json:"user"`
	Nav    []struct{ Path, Label string }
	Notice *struct {
		Code string `json:"code"`
	} `json:"notice"`
	CSRFToken string `json:"csrf_token"`
}

func TestRouteGuard(t *testing.T) {
	tests := []struct {
		name         string
		signInAs     string
		browser      bool
		path         string
		wantStatus   int
		wantLocation string
		wantError    string
		wantRedirect string
	}{
		{name: "anonymous browser sent to sign-in", browser: true, path: "/dashboard", wantStatus: http.StatusSeeOther, wantLocation: "/login"},
		{name: "anonymous api gets 401", path: "/dashboard", wantStatus: http.StatusUnauthorized, wantError: "sign_in_required", wantRedirect: "/login"},
		{name: "anonymous root", browser: true, path: "/", wantStatus: http.StatusSeeOther, wantLocation: "/login"},
		{name: "anonymous sign-in page", browser: true, path: "/login", wantStatus: http.StatusOK},
		{name: "operator forbidden page", signInAs: "operator@tremiti.it", browser: true, path: "/utenti/4", wantStatus: http.StatusSeeOther, wantLocation: "/operator-dashboard"},
		{name: "operator forbidden api", signInAs: "operator@tremiti.it", path: "/utenti", wantStatus: http.StatusForbidden, wantError: "role_forbidden", wantRedirect: "/operator-dashboard"},
		{name: "operator shared page", signInAs: "operator@tremiti.it", browser: true, path: "/permessi-veicoli", wantStatus: http.StatusOK},
		{name: "admin dashboard", signInAs: "admin@tremiti.it", browser: true, path: "/dashboard", wantStatus: http.StatusOK},
		{name: "signed-in sign-in page goes home", signInAs: "admin@tremiti.it", browser: true, path: "/login", wantStatus: http.StatusSeeOther, wantLocation: "/dashboard"},
		{name: "unknown page goes home", signInAs: "admin@tremiti.it", browser: true, path: "/nowhere", wantStatus: http.StatusSeeOther, wantLocation: "/dashboard"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			c := newAPIClient()
			c.browser = tt.browser
			if tt.signInAs != "" {
				c.login(t, f.handler, tt.signInAs)
			}

			rec := c.get(f.handler, tt.path)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantLocation != "" {
				assert.Equal(t, tt.wantLocation, rec.Header().Get("Location"))
			}
			if tt.wantError != "" {
				body := decodeBody[errorBody](t, rec)
				assert.Equal(t, tt.wantError, body.Error)
				assert.Equal(t, tt.wantRedirect, body.RedirectTo)
			}
		})
	}
}

func TestPageShell(t *testing.T) {
	f := newRouterFixture(t)
	c := newBrowserClient()
	c.login(t, f.handler, "operator@tremiti.it")

	rec := c.get(f.handler, "/tasse-sbarco")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[shellBody](t, rec)
	assert.Equal(t, "/tasse-sbarco", body.Page)
	require.NotNil(t, body.User)
	assert.Equal(t, "operator", body.User.Role)
	paths := make([]string, 0, len(body.Nav))
	for _, n := range body.Nav {
		paths = append(paths, n.Path)
	}
	assert.Equal(t, []string{"/operator-dashboard", "/permessi-veicoli", "/tasse-sbarco"}, paths)
	assert.Equal(t, testCSRFToken, body.CSRFToken)
}

func TestPageShell_SignInNotice(t *testing.T) {
	f := newRouterFixture(t)
	rec := newBrowserClient().get(f.handler, "/login?notice=role_not_allowed")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[shellBody](t, rec)
	assert.Nil(t, body.User)
	require.NotNil(t, body.Notice)
	assert.Equal(t, "role_not_allowed", body.Notice.Code)
}

func TestClientIDCookie(t *testing.T) {
	f := newRouterFixture(t)

	t.Run("issued when missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/status", nil)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		cookie := findCookie(rec.Result().Cookies(), ClientCookieName)
		require.NotNil(t, cookie)
		_, err := uuid.Parse(cookie.Value)
		require.NoError(t, err)
		assert.True(t, cookie.HttpOnly)
		assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	})

	t.Run("kept when valid", func(t *testing.T) {
		c := newAPIClient()
		rec := c.get(f.handler, "/auth/status")
		cookie := findCookie(rec.Result().Cookies(), ClientCookieName)
		require.NotNil(t, cookie)
		assert.Equal(t, c.id, cookie.Value)
	})

	t.Run("replaced when not a uuid", func(t *testing.T) {
		c := testClient{id: "../../etc/passwd"}
		rec := c.get(f.handler, "/auth/status")
		cookie := findCookie(rec.Result().Cookies(), ClientCookieName)
		require.NotNil(t, cookie)
		assert.NotEqual(t, c.id, cookie.Value)
		_, err := uuid.Parse(cookie.Value)
		assert.NoError(t, err)
	})

	t.Run("secure behind tls proxy", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/status", nil)
		req.Header.Set("X-Forwarded-Proto", "https, http")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		cookie := findCookie(rec.Result().Cookies(), ClientCookieName)
		require.NotNil(t, cookie)
		assert.True(t, cookie.Secure)
	})

	t.Run("health check has no cookie", func(t *testing.T) {
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Nil(t, findCookie(rec.Result().Cookies(), ClientCookieName))
	})
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestRequireClientID(t *testing.T) {
	rec := httptest.NewRecorder()
	_, ok := requireClientID(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_client_id")
}

func TestIsBrowserRequest(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   bool
	}{
		{name: "html accept", path: "/dashboard", header: map[string]string{"Accept": "text/html,*/*"}, want: true},
		{name: "no accept", path: "/dashboard", want: true},
		{name: "json accept", path: "/dashboard", header: map[string]string{"Accept": "application/json"}, want: false},
		{name: "api path", path: "/api/graphql", header: map[string]string{"Accept": "text/html"}, want: false},
		{name: "xhr", path: "/dashboard", header: map[string]string{"Accept": "text/html", "X-Requested-With": "XMLHttpRequest"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, IsBrowserRequest(req))

			var seen bool
			BrowserDetection()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				seen = IsBrowserRequest(r)
			})).ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, seen)
		})
	}
}

func TestRecover(t *testing.T) {
	h := Recover(slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCompression(t *testing.T) {
	payload := strings.Repeat(`{"k":"v"}`, 200)
	h := Compression(CompressionConfig{Level: 5})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, payload)
	}))

	tests := []struct {
		name           string
		acceptEncoding string
		upgrade        bool
		wantGzip       bool
	}{
		{name: "gzip accepted", acceptEncoding: "gzip, deflate", wantGzip: true},
		{name: "gzip refused", acceptEncoding: "gzip;q=0", wantGzip: false},
		{name: "no encoding", wantGzip: false},
		{name: "websocket upgrade", acceptEncoding: "gzip", upgrade: true, wantGzip: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/status", nil)
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}
			if tt.upgrade {
				req.Header.Set("Upgrade", "websocket")
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if !tt.wantGzip {
				assert.Empty(t, rec.Header().Get("Content-Encoding"))
				assert.Equal(t, payload, rec.Body.String())
				return
			}
			assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
			zr, err := gzip.NewReader(rec.Body)
			require.NoError(t, err)
			got, err := io.ReadAll(zr)
			require.NoError(t, err)
			assert.Equal(t, payload, string(got))
		})
	}
}

func TestSafeRedirectPath(t *testing.T) {
	tests := map[string]string{
		"":                      "/",
		"/dashboard":            "/dashboard",
		"/posts?page=2":         "/posts?page=2",
		"https://evil.example/": "/",
		"//evil.example":        "/",
		"relative":              "/",
	}
	for in, want := range tests {
		assert.Equal(t, want, safeRedirectPath(in), in)
	}
}
