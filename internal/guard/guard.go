package guard

import (
	"fmt"
	"sort"

	domainauth "github.com/tremiti/admin-console/internal/domain/auth"
)

// Redirect reasons reported in decisions.
const (
	ReasonSignInRequired  = "sign_in_required"
	ReasonAlreadySignedIn = "already_signed_in"
	ReasonRoleForbidden   = "role_forbidden"
)

// Decision is the outcome of evaluating a path for a session.
type Decision struct {
	Allowed  bool
	Redirect string
	Reason   string
}

// NavItem is one navigable entry for a role.
type NavItem struct {
	Path  string `json:"path"`
	Label string `json:"label"`
}

// Guard evaluates paths against a validated Table. It is immutable and safe for concurrent use.
type Guard struct {
	table Table
}

// New validates the table and returns a Guard over it.
func New(t Table) (*Guard, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid route table: %w", err)
	}
	return &Guard{table: t}, nil
}

// SignInPath returns the configured sign-in path.
func (g *Guard) SignInPath() string { return g.table.SignInPath }

// Home returns the landing path for role.
func (g *Guard) Home(role domainauth.Role) (string, bool) {
	h, ok := g.table.Home[role]
	return h, ok
}

// Evaluate decides whether the session may view urlPath. A nil session means
// nobody is signed in. Following a redirect and evaluating again is always allowed.
func (g *Guard) Evaluate(urlPath string, sess *domainauth.Session) Decision {
	p := cleanPath(urlPath)

	if matchPrefix(g.table.SignInPath, p) {
		if sess == nil {
			return Decision{Allowed: true}
		}
		if home, ok := g.Home(sess.Role); ok {
			return Decision{Redirect: home, Reason: ReasonAlreadySignedIn}
		}
		return Decision{Allowed: true}
	}

	if g.table.public(p) {
		return Decision{Allowed: true}
	}

	if sess == nil {
		return Decision{Redirect: g.table.SignInPath, Reason: ReasonSignInRequired}
	}

	if g.table.allowed(sess.Role, p) {
		return Decision{Allowed: true}
	}
	home, ok := g.Home(sess.Role)
	if !ok {
		return Decision{Redirect: g.table.SignInPath, Reason: ReasonSignInRequired}
	}
	return Decision{Redirect: home, Reason: ReasonRoleForbidden}
}

// Allowed reports whether role may view urlPath.
func (g *Guard) Allowed(role domainauth.Role, urlPath string) bool {
	return g.table.allowed(role, cleanPath(urlPath))
}

// Paths lists every configured path: the sign-in path, public prefixes and rule prefixes.
func (g *Guard) Paths() []string {
	out := []string{g.table.SignInPath}
	out = append(out, g.table.Public...)
	for _, r := range g.table.Rules {
		out = append(out, r.Prefix)
	}
	sort.Strings(out)
	return out
}

// Rules returns a copy of the rule list.
func (g *Guard) Rules() []Rule {
	out := make([]Rule, len(g.table.Rules))
	copy(out, g.table.Rules)
	return out
}

// NavFor lists the labelled rules role may open, in table order.
func (g *Guard) NavFor(role domainauth.Role) []NavItem {
	var items []NavItem
	for _, r := range g.table.Rules {
		if r.Label == "" || !g.table.allowed(role, r.Prefix) {
			continue
		}
		items = append(items, NavItem{Path: r.Prefix, Label: r.Label})
	}
	return items
}
