// Package hasura talks to the Hasura GraphQL endpoint on behalf of a signed-in identity.
package hasura

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tremiti/admin-console/internal/ports"
)

// maxErrorBodyBytes bounds how much of a failed response body ends up in the error message.
const maxErrorBodyBytes = 2 * 1024

// Request is a GraphQL document with optional variables.
type Request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

// Error is one entry of a GraphQL errors array.
type Error struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Response carries data and errors side by side. Callers must check both:
// data may be present alongside errors.
type Response struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []Error         `json:"errors,omitempty"`
}

// HasData reports whether the response carries a non-null data object.
func (r Response) HasData() bool {
	return len(r.Data) > 0 && !bytes.Equal(bytes.TrimSpace(r.Data), []byte("null"))
}

// Err joins the error messages, or returns nil when there are none.
func (r Response) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, errors.New(e.Message))
	}
	return fmt.Errorf("graphql: %w", errors.Join(errs...))
}

// Decode unmarshals Data into v.
func (r Response) Decode(v any) error {
	if !r.HasData() {
		return errors.New("graphql response has no data")
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode graphql data: %w", err)
	}
	return nil
}

func errorResponse(format string, args ...any) Response {
	return Response{Errors: []Error{{Message: fmt.Sprintf(format, args...)}}}
}

// ClientOptions configures the GraphQL client.
type ClientOptions struct {
	Endpoint   string
	HTTPClient *http.Client
	Timeout    time.Duration // used when HTTPClient is nil; defaults to 15s
	Logger     *slog.Logger
}

// Client posts GraphQL documents with the caller's bearer token.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

// NewClient validates options and builds a Client.
func NewClient(opts ClientOptions) (*Client, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, errors.New("graphql endpoint is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{endpoint: endpoint, http: hc, logger: logger.With("component", "graphql")}, nil
}

// Do sends req. Transport and application failures come back as entries in
// Response.Errors; Do never returns a Go error and never panics on bad input.
// A nil token source, or one reporting ports.ErrNoIdentity, sends the request
// without an Authorization header.
func (c *Client) Do(ctx context.Context, tokens ports.TokenSource, req Request) Response {
	if strings.TrimSpace(req.Query) == "" {
		return errorResponse("graphql query is empty")
	}

	bearer, resp, ok := c.bearer(ctx, tokens)
	if !ok {
		return resp
	}

	body, err := json.Marshal(req)
	if err != nil {
		return errorResponse("encode graphql request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return errorResponse("build graphql request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.WarnContext(ctx, "graphql request failed", "operation", req.OperationName, "error", err)
		return errorResponse("graphql request failed: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodyBytes))
		c.logger.WarnContext(ctx, "graphql http error", "operation", req.OperationName, "status", res.StatusCode)
		return httpErrorResponse(res.StatusCode, snippet)
	}

	var out Response
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return errorResponse("decode graphql response: %v", err)
	}
	if !out.HasData() {
		out.Data = nil
	}
	if len(out.Errors) > 0 {
		c.logger.WarnContext(ctx, "graphql errors", "operation", req.OperationName, "count", len(out.Errors), "first", out.Errors[0].Message)
	}
	return out
}

// httpErrorResponse reports a non-2xx status. GraphQL errors in the body follow
// the HTTP error; any other body is quoted in its message.
func httpErrorResponse(status int, body []byte) Response {
	var decoded Response
	if err := json.Unmarshal(body, &decoded); err == nil && len(decoded.Errors) > 0 {
		out := errorResponse("HTTP error: %d %s", status, http.StatusText(status))
		out.Errors[0].Extensions = map[string]any{"status": status}
		out.Errors = append(out.Errors, decoded.Errors...)
		return out
	}
	out := errorResponse("HTTP error: %d %s", status, strings.TrimSpace(string(body)))
	out.Errors[0].Extensions = map[string]any{"status": status}
	return out
}

func (c *Client) bearer(ctx context.Context, tokens ports.TokenSource) (string, Response, bool) {
	if tokens == nil {
		return "", Response{}, true
	}
	tok, err := tokens.Token(ctx)
	switch {
	case errors.Is(err, ports.ErrNoIdentity):
		return "", Response{}, true
	case err != nil:
		c.logger.WarnContext(ctx, "bearer token unavailable", "error", err)
		return "", errorResponse("obtain bearer token: %v", err), false
	default:
		return tok, Response{}, true
	}
}
