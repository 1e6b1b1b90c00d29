package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tremiti/admin-console/internal/adapters/hasura"
)

// graphqlRequest is the body accepted by the GraphQL proxy.
type graphqlRequest struct {
	Query         string          `json:"query"`
	Variables     map[string]any  `json:"variables,omitempty"`
	OperationName string          `json:"operationName,omitempty"`
	Extensions    json.RawMessage `json:"extensions,omitempty"` // accepted, not forwarded
}

// GraphQLHandler forwards documents to the data API with the client's own bearer token.
// It must sit behind RequireSession.
type GraphQLHandler struct {
	Client hasura.Doer
	Logger *slog.Logger
}

func (h GraphQLHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFromContext(r.Context())
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "authentication_required",
			Err:     errors.New("authentication required"),
		})
		return
	}

	var req graphqlRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "missing_query", Err: errors.New("query is required")})
		return
	}

	resp := h.Client.Do(r.Context(), client.Tokens(), hasura.Request{
		Query:         req.Query,
		Variables:     req.Variables,
		OperationName: req.OperationName,
	})
	if err := resp.Err(); err != nil && !resp.HasData() && h.Logger != nil {
		h.Logger.WarnContext(r.Context(), "graphql request failed",
			"client_id", client.ID, "operation", req.OperationName, "error", err)
	}
	// GraphQL failures travel in the errors array.
	WriteJSON(w, http.StatusOK, resp)
}
