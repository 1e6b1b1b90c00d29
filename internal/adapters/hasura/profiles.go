package hasura

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	domainauth "github.com/tremiti/admin-console/internal/domain/auth"
	"github.com/tremiti/admin-console/internal/ports"
)

// GetUserByFirebaseID loads the application profile for a Firebase uid.
const GetUserByFirebaseID = `query GetUserByFirebaseId($firebaseId: String!) {
  users(where: {firebaseId: {_eq: $firebaseId}}) {
    id
    firebaseId
    first_name
    last_name
    email
    avatar
    role
    status
    auth_complete
    born
    cover
    notifications_enabled
    phone
    sex
    step
    created_at
  }
}`

// Doer is the part of Client the resolver needs.
type Doer interface {
	Do(ctx context.Context, tokens ports.TokenSource, req Request) Response
}

// ProfileResolverOptions configures a ProfileResolver.
type ProfileResolverOptions struct {
	Client Doer
	Tokens ports.TokenSource
	Logger *slog.Logger
}

// ProfileResolver looks profiles up through the GraphQL API using one identity's token.
type ProfileResolver struct {
	client Doer
	tokens ports.TokenSource
	logger *slog.Logger
}

var _ ports.ProfileResolver = (*ProfileResolver)(nil)

// NewProfileResolver builds a resolver bound to a token source.
func NewProfileResolver(opts ProfileResolverOptions) *ProfileResolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileResolver{client: opts.Client, tokens: opts.Tokens, logger: logger.With("component", "profile_resolver")}
}

// Resolve returns the first users row for uid. Errors are logged and reported as not found.
func (r *ProfileResolver) Resolve(ctx context.Context, uid string) (domainauth.Profile, bool) {
	if uid == "" || r.client == nil {
		return domainauth.Profile{}, false
	}

	resp := r.client.Do(ctx, r.tokens, Request{
		Query:         GetUserByFirebaseID,
		Variables:     map[string]any{"firebaseId": uid},
		OperationName: "GetUserByFirebaseId",
	})
	if err := resp.Err(); err != nil {
		r.logger.WarnContext(ctx, "profile lookup failed", "uid", uid, "error", err)
		return domainauth.Profile{}, false
	}

	var data struct {
		Users []userRow `json:"users"`
	}
	if err := resp.Decode(&data); err != nil {
		r.logger.WarnContext(ctx, "profile lookup returned unexpected data", "uid", uid, "error", err)
		return domainauth.Profile{}, false
	}
	if len(data.Users) == 0 {
		r.logger.InfoContext(ctx, "no profile for identity", "uid", uid)
		return domainauth.Profile{}, false
	}
	if len(data.Users) > 1 {
		r.logger.WarnContext(ctx, "multiple profiles for identity, using first", "uid", uid, "count", len(data.Users))
	}
	return data.Users[0].profile(), true
}

type userRow struct {
	ID                   flexInt64 `json:"id"`
	FirebaseID           *string   `json:"firebaseId"`
	FirstName            *string   `json:"first_name"`
	LastName             *string   `json:"last_name"`
	Email                *string   `json:"email"`
	Avatar               *string   `json:"avatar"`
	Role                 *string   `json:"role"`
	Status               *string   `json:"status"`
	AuthComplete         *bool     `json:"auth_complete"`
	Born                 *string   `json:"born"`
	Cover                *string   `json:"cover"`
	NotificationsEnabled *bool     `json:"notifications_enabled"`
	Phone                *string   `json:"phone"`
	Sex                  *string   `json:"sex"`
	Step                 *int      `json:"step"`
	CreatedAt            *string   `json:"created_at"`
}

func (u userRow) profile() domainauth.Profile {
	p := domainauth.Profile{
		ID:                   int64(u.ID),
		FirebaseID:           str(u.FirebaseID),
		FirstName:            str(u.FirstName),
		LastName:             str(u.LastName),
		Email:                str(u.Email),
		Avatar:               str(u.Avatar),
		Role:                 str(u.Role),
		Status:               str(u.Status),
		AuthComplete:         u.AuthComplete != nil && *u.AuthComplete,
		Born:                 str(u.Born),
		Cover:                str(u.Cover),
		NotificationsEnabled: u.NotificationsEnabled != nil && *u.NotificationsEnabled,
		Phone:                str(u.Phone),
		Sex:                  str(u.Sex),
	}
	if u.Step != nil {
		p.Step = *u.Step
	}
	if ts := str(u.CreatedAt); ts != "" {
		p.CreatedAt = parseTimestamp(ts)
	}
	return p
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// parseTimestamp accepts Postgres timestamptz renderings; unparseable values yield zero time.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05.999999-07", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// flexInt64 decodes a JSON number or a numeric string. Hasura renders bigint ids as strings.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", string(b), err)
	}
	*f = flexInt64(n)
	return nil
}
