// Package tokens decodes bearer token payloads and extracts application claims.
//
// Nothing here verifies signatures. Decoded claims only gate what the console
// shows; the data API checks the token itself.
package tokens

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedToken wraps every decode failure.
var ErrMalformedToken = errors.New("malformed token")

// Claims is the decoded payload of a bearer token.
type Claims jwt.MapClaims

var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// Decode returns the JSON payload of the token's middle segment.
func Decode(token string) (Claims, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: expected at least 2 segments, got %d", ErrMalformedToken, len(parts))
	}
	if parts[1] == "" {
		return nil, fmt.Errorf("%w: empty payload segment", ErrMalformedToken)
	}

	raw, err := segmentParser.DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: decode payload: %w", ErrMalformedToken, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var claims map[string]any
	if err := dec.Decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: parse payload: %w", ErrMalformedToken, err)
	}
	if claims == nil {
		return nil, fmt.Errorf("%w: payload is not an object", ErrMalformedToken)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after payload", ErrMalformedToken)
	}
	return Claims(claims), nil
}

// Subject returns the "sub" claim.
func (c Claims) Subject() string {
	sub, _ := jwt.MapClaims(c).GetSubject()
	return sub
}

// Expiry returns the "exp" claim, or the zero time when absent or invalid.
func (c Claims) Expiry() time.Time {
	exp, err := jwt.MapClaims(c).GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// Map exposes the claims as a plain map for expression evaluation.
func (c Claims) Map() map[string]any { return map[string]any(c) }
