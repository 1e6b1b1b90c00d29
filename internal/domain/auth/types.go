package auth

// Package auth contains domain-level types for identities, profiles and sessions.
// It is pure and free of framework/adapter concerns.

import (
	"strings"
	"time"
)

// Role represents an application's authorization role.
// The string form is what the identity provider places in token claims.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

// Valid reports whether r is one of the roles the console grants access to.
func (r Role) Valid() bool { return r == RoleAdmin || r == RoleOperator }

// Profile status values stored in the users table.
const (
	StatusActive   = "ACTIVE"
	StatusDisabled = "DISABLED"
)

// Identity is the identity provider's record of an authenticated principal.
// The bearer token is never part of it; callers ask the provider for one.
type Identity struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
	ExpiresAt   time.Time // expiry of the current ID token
}

// Profile is the application's own user record resolved from the data API.
type Profile struct {
	ID                   int64     `json:"id"`
	FirebaseID           string    `json:"firebase_id"`
	FirstName            string    `json:"first_name,omitempty"`
	LastName             string    `json:"last_name,omitempty"`
	Email                string    `json:"email,omitempty"`
	Avatar               string    `json:"avatar,omitempty"`
	Role                 string    `json:"role,omitempty"`
	Status               string    `json:"status,omitempty"`
	AuthComplete         bool      `json:"auth_complete"`
	Born                 string    `json:"born,omitempty"`
	Cover                string    `json:"cover,omitempty"`
	NotificationsEnabled bool      `json:"notifications_enabled"`
	Phone                string    `json:"phone,omitempty"`
	Sex                  string    `json:"sex,omitempty"`
	Step                 int       `json:"step"`
	CreatedAt            time.Time `json:"created_at"`
}

// FullName joins first and last name, trimming missing parts.
func (p Profile) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
}

// Session is the merged view of Identity, the claims role and the Profile.
// Role always comes from the token claims; ProfileRole is display-only.
type Session struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Avatar      string    `json:"avatar,omitempty"`
	Role        Role      `json:"role"`
	ProfileRole string    `json:"profile_role,omitempty"`
	ProfileID   int64     `json:"profile_id,omitempty"`
	Status      string    `json:"status"`
	Disabled    bool      `json:"disabled"`
	HasProfile  bool      `json:"has_profile"`
	Profile     *Profile  `json:"profile,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// NewSession merges an identity, its claims role and an optional profile.
// A nil profile yields an identity-only session treated as enabled.
func NewSession(id Identity, role Role, profile *Profile) Session {
	s := Session{
		UID:         id.UID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
		Avatar:      id.PhotoURL,
		Role:        role,
		Status:      StatusActive,
		ExpiresAt:   id.ExpiresAt,
	}
	if profile != nil {
		p := *profile
		s.Profile = &p
		s.HasProfile = true
		s.ProfileID = p.ID
		s.ProfileRole = p.Role
		if p.Status != "" {
			s.Status = p.Status
		}
		s.Disabled = p.Status == StatusDisabled
		if name := p.FullName(); name != "" {
			s.DisplayName = name
		}
		if p.Avatar != "" {
			s.Avatar = p.Avatar
		}
		if s.Email == "" {
			s.Email = p.Email
		}
	}
	if s.DisplayName == "" {
		s.DisplayName = s.Email
	}
	return s
}
