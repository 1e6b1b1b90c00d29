package httpx

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tremiti/admin-console/internal/adapters/hasura"
)

func TestGraphQLProxy(t *testing.T) {
	f := newRouterFixture(t)
	c := newAPIClient()
	c.login(t, f.handler, "admin@tremiti.it")

	rec := c.postJSON(f.handler, "/api/graphql",
		`{"query":"query Posts { posts { id } }","variables":{"limit":5},"operationName":"Posts","extensions":{"persisted":false}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"data":{"ok":true}}`, rec.Body.String())

	reqs, tokens := f.graphql.calls()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Posts", reqs[0].OperationName)
	assert.InDelta(t, 5, reqs[0].Variables["limit"], 0)
	// The client's own token is forwarded.
	assert.Equal(t, f.provider(c.id).Tokens["uid-admin"], tokens[0])
}

func TestGraphQLProxy_ErrorsAreOK(t *testing.T) {
	f := newRouterFixture(t)
	f.graphql.resp = hasura.Response{Errors: []hasura.Error{{Message: "field not found"}}}
	c := newAPIClient()
	c.login(t, f.handler, "operator@tremiti.it")

	rec := c.postJSON(f.handler, "/api/graphql", `{"query":"{ nope }"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body hasura.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Errors, 1)
	assert.Equal(t, "field not found", body.Errors[0].Message)
}

func TestGraphQLProxy_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		signIn     bool
		body       string
		wantStatus int
		wantCode   string
	}{
		{name: "no session", body: `{"query":"{ a }"}`, wantStatus: http.StatusUnauthorized, wantCode: "authentication_required"},
		{name: "empty query", signIn: true, body: `{"query":"  "}`, wantStatus: http.StatusBadRequest, wantCode: "missing_query"},
		{name: "invalid json", signIn: true, body: `{"query":`, wantStatus: http.StatusBadRequest, wantCode: "invalid_json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			c := newAPIClient()
			if tt.signIn {
				c.login(t, f.handler, "admin@tremiti.it")
			}
			rec := c.postJSON(f.handler, "/api/graphql", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decodeBody[errorBody](t, rec).Error)

			reqs, _ := f.graphql.calls()
			assert.Empty(t, reqs)
		})
	}
}
