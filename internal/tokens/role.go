package tokens

import (
	"fmt"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"
)

// DefaultRoleClaimPath locates Hasura's default role in a Firebase ID token.
const DefaultRoleClaimPath = `"https://hasura.io/jwt/claims"."x-hasura-default-role"`

// RoleExtractor pulls the application role out of decoded claims.
// A compiled expression is safe for concurrent use.
type RoleExtractor struct {
	expr  string
	query jmespath.JMESPath
}

// NewRoleExtractor validates a JMESPath expression; an empty one selects DefaultRoleClaimPath.
func NewRoleExtractor(expr string) (*RoleExtractor, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = DefaultRoleClaimPath
	}
	query, err := jmespath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile role claim path %q: %w", expr, err)
	}
	return &RoleExtractor{expr: expr, query: query}, nil
}

// Expression returns the configured JMESPath expression.
func (e *RoleExtractor) Expression() string { return e.expr }

// Role returns the role string, or false when the namespace or key is absent
// or holds anything other than a non-empty string.
func (e *RoleExtractor) Role(claims Claims) (string, bool) {
	if e == nil || e.query == nil || len(claims) == 0 {
		return "", false
	}
	v, err := e.query.Search(claims.Map())
	if err != nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}
