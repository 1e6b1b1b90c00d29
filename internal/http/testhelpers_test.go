package httpx

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tremiti/admin-console/internal/adapters/authroles"
	"github.com/tremiti/admin-console/internal/adapters/hasura"
	domainauth "github.com/tremiti/admin-console/internal/domain/auth"
	"github.com/tremiti/admin-console/internal/guard"
	authmocks "github.com/tremiti/admin-console/internal/mocks/auth"
	"github.com/tremiti/admin-console/internal/ports"
	"github.com/tremiti/admin-console/internal/service"
)

const (
	testPassword  = "secret"
	testCSRFToken = "test-csrf-token"
)

func unsignedToken(claims map[string]any) string {
	payload, _ := json.Marshal(claims)
	return "eyJhbGciOiJub25lIn0." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

func hasuraToken(uid, role string) string {
	return unsignedToken(map[string]any{
		"sub": uid,
		"exp": time.Now().Add(time.Hour).Unix(),
		"https://hasura.io/jwt/claims": map[string]any{
			"x-hasura-default-role":  role,
			"x-hasura-allowed-roles": []string{role},
		},
	})
}

// testAccounts maps sign-in emails to the role their token carries.
//
//nolint:gochecknoglobals // test fixture
var testAccounts = map[string]string{
	"admin@tremiti.it":    "admin",
	"operator@tremiti.it": "operator",
	"guest@tremiti.it":    "guest",
}

// fakeGraphQL records proxied requests and answers with a canned response.
type fakeGraphQL struct {
	mu       sync.Mutex
	requests []hasura.Request
	tokens   []string
	resp     hasura.Response
}

func (f *fakeGraphQL) Do(ctx context.Context, tokens ports.TokenSource, req hasura.Request) hasura.Response {
	tok, err := tokens.Token(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	f.tokens = append(f.tokens, tok)
	if err != nil {
		return hasura.Response{Errors: []hasura.Error{{Message: err.Error()}}}
	}
	return f.resp
}

func (f *fakeGraphQL) calls() ([]hasura.Request, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hasura.Request(nil), f.requests...), append([]string(nil), f.tokens...)
}

type routerFixture struct {
	svc     *service.AuthService
	guard   *guard.Guard
	graphql *fakeGraphQL
	handler http.Handler

	mu        sync.Mutex
	providers map[string]*authmocks.MockIdentityProvider
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	g, err := guard.New(guard.DefaultTable())
	require.NoError(t, err)

	f := &routerFixture{
		guard:     g,
		graphql:   &fakeGraphQL{resp: hasura.Response{Data: json.RawMessage(`{"ok":true}`)}},
		providers: map[string]*authmocks.MockIdentityProvider{},
	}
	svc, err := service.NewAuthService(service.AuthServiceOptions{
		Deps: service.AuthServiceDeps{
			Providers: service.ProviderFactoryFunc(f.newProvider),
			Profiles:  service.SharedProfiles(authmocks.NewStaticProfileResolver(nil)),
			Roles:     authroles.DefaultAllowList(),
		},
		Config: service.AuthServiceConfig{SettleTimeout: 2 * time.Second},
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	f.svc = svc

	f.handler = NewRouter(RouterServices{
		Auth:               svc,
		Guard:              g,
		GraphQL:            f.graphql,
		EventsPingInterval: time.Second,
	})
	return f
}

func (f *routerFixture) newProvider(id string) (ports.RestorableProvider, error) {
	p := authmocks.NewMockIdentityProvider()
	for email, role := range testAccounts {
		p.SetToken(uidFor(email), hasuraToken(uidFor(email), role))
	}
	p.SignInFunc = func(_ context.Context, email, secret string) (domainauth.Identity, error) {
		if _, ok := testAccounts[email]; !ok || secret != testPassword {
			return domainauth.Identity{}, ports.ErrInvalidCredentials
		}
		return domainauth.Identity{UID: uidFor(email), Email: email, ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	f.mu.Lock()
	f.providers[id] = p
	f.mu.Unlock()
	return p, nil
}

func (f *routerFixture) provider(id string) *authmocks.MockIdentityProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.providers[id]
}

func uidFor(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return "uid-" + local
}

// testClient carries one browser's cookies across requests.
type testClient struct {
	id      string
	browser bool
}

func newAPIClient() testClient     { return testClient{id: uuid.NewString()} }
func newBrowserClient() testClient { return testClient{id: uuid.NewString(), browser: true} }

func (c testClient) request(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.AddCookie(&http.Cookie{Name: ClientCookieName, Value: c.id})
	req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: testCSRFToken})
	if c.browser {
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
	} else {
		req.Header.Set("Accept", "application/json")
		req.Header.Set(CSRFHeaderName, testCSRFToken)
	}
	return req
}

func (c testClient) do(h http.Handler, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := c.request(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func (c testClient) postJSON(h http.Handler, target, body string) *httptest.ResponseRecorder {
	return c.do(h, http.MethodPost, target, strings.NewReader(body), "application/json")
}

func (c testClient) postForm(h http.Handler, target string, form url.Values) *httptest.ResponseRecorder {
	form.Set(csrfFormField, testCSRFToken)
	return c.do(h, http.MethodPost, target, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
}

func (c testClient) get(h http.Handler, target string) *httptest.ResponseRecorder {
	return c.do(h, http.MethodGet, target, nil, "")
}

func (c testClient) login(t *testing.T, h http.Handler, email string) {
	t.Helper()
	rec := newAPIClientWithID(c.id).postJSON(h, "/auth/login",
		`{"email":"`+email+`","password":"`+testPassword+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func newAPIClientWithID(id string) testClient { return testClient{id: id} }

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (c testClient) serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
