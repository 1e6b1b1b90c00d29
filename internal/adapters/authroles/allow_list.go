package authroles

import (
	"fmt"
	"strings"

	domainauth "github.com/tremiti/admin-console/internal/domain/auth"
)

// AllowList accepts a fixed set of claims roles. Matching is exact.
type AllowList struct {
	roles map[domainauth.Role]struct{}
}

// DefaultAllowList admits the two console roles.
func DefaultAllowList() AllowList {
	al, _ := NewAllowList([]string{string(domainauth.RoleAdmin), string(domainauth.RoleOperator)})
	return al
}

// NewAllowList builds an allow-list. Every entry must be a console role, so a
// misconfiguration cannot widen access beyond admin and operator.
func NewAllowList(roles []string) (AllowList, error) {
	al := AllowList{roles: make(map[domainauth.Role]struct{}, len(roles))}
	for _, r := range roles {
		role := domainauth.Role(strings.TrimSpace(r))
		if role == "" {
			continue
		}
		if !role.Valid() {
			return AllowList{}, fmt.Errorf("unsupported role %q", r)
		}
		al.roles[role] = struct{}{}
	}
	if len(al.roles) == 0 {
		return AllowList{}, fmt.Errorf("allow-list is empty")
	}
	return al, nil
}

// Map returns the role when raw is allowed.
func (a AllowList) Map(raw string) (domainauth.Role, bool) {
	role := domainauth.Role(raw)
	if _, ok := a.roles[role]; !ok {
		return "", false
	}
	return role, true
}
