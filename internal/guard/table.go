// Package guard holds the route permission table and the rule that decides
// whether a session may view a path.
package guard

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	domainauth "github.com/tremiti/admin-console/internal/domain/auth"
)

// Rule grants a set of roles access to a path prefix and everything below it.
type Rule struct {
	Prefix string            `yaml:"prefix"`
	Roles  []domainauth.Role `yaml:"roles"`
	// Label is the navigation caption; rules without one are not listed in the nav.
	Label string `yaml:"label,omitempty"`
}

// Table is the static route permission table.
type Table struct {
	SignInPath string                     `yaml:"sign_in_path"`
	Public     []string                   `yaml:"public"`
	Rules      []Rule                     `yaml:"rules"`
	Home       map[domainauth.Role]string `yaml:"home"`
}

// DefaultTable is the console's built-in permission table.
func DefaultTable() Table {
	admin := []domainauth.Role{domainauth.RoleAdmin}
	both := []domainauth.Role{domainauth.RoleAdmin, domainauth.RoleOperator}
	return Table{
		SignInPath: "/login",
		Public:     []string{"/auth/", "/healthz", "/static/"},
		Rules: []Rule{
			{Prefix: "/dashboard", Roles: admin, Label: "Dashboard"},
			{Prefix: "/utenti", Roles: admin, Label: "Utenti"},
			{Prefix: "/operatori", Roles: admin, Label: "Operatori"},
			{Prefix: "/posts", Roles: admin, Label: "Post"},
			{Prefix: "/pagine", Roles: admin, Label: "Pagine"},
			{Prefix: "/richieste", Roles: admin, Label: "Richieste"},
			{Prefix: "/operator-dashboard", Roles: []domainauth.Role{domainauth.RoleOperator}, Label: "Dashboard"},
			{Prefix: "/permessi-veicoli", Roles: both, Label: "Permessi veicoli"},
			{Prefix: "/tasse-sbarco", Roles: both, Label: "Tasse di sbarco"},
		},
		Home: map[domainauth.Role]string{
			domainauth.RoleAdmin:    "/dashboard",
			domainauth.RoleOperator: "/operator-dashboard",
		},
	}
}

// LoadTable reads a YAML permission table from file.
func LoadTable(file string) (Table, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return Table{}, fmt.Errorf("read route table: %w", err)
	}
	var t Table
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Table{}, fmt.Errorf("parse route table %s: %w", file, err)
	}
	return t, nil
}

// Validate checks the table can never produce a redirect loop.
func (t Table) Validate() error {
	var errs []error
	if !isAbsolute(t.SignInPath) {
		errs = append(errs, fmt.Errorf("sign-in path %q must be absolute", t.SignInPath))
	}
	for _, p := range t.Public {
		if !isAbsolute(p) {
			errs = append(errs, fmt.Errorf("public path %q must be absolute", p))
		}
	}
	seen := make(map[string]struct{}, len(t.Rules))
	for _, r := range t.Rules {
		if !isAbsolute(r.Prefix) {
			errs = append(errs, fmt.Errorf("rule prefix %q must be absolute", r.Prefix))
			continue
		}
		if _, dup := seen[r.Prefix]; dup {
			errs = append(errs, fmt.Errorf("duplicate rule prefix %q", r.Prefix))
		}
		seen[r.Prefix] = struct{}{}
		if len(r.Roles) == 0 {
			errs = append(errs, fmt.Errorf("rule %q grants no roles", r.Prefix))
		}
		if matchPrefix(r.Prefix, t.SignInPath) || matchPrefix(t.SignInPath, r.Prefix) {
			errs = append(errs, fmt.Errorf("rule %q overlaps the sign-in path", r.Prefix))
		}
	}
	if len(t.Home) == 0 {
		errs = append(errs, errors.New("no home paths configured"))
	}
	for role, home := range t.Home {
		if !role.Valid() {
			errs = append(errs, fmt.Errorf("home configured for unsupported role %q", role))
			continue
		}
		if !t.allowed(role, home) {
			errs = append(errs, fmt.Errorf("home %q is not allowed for role %q", home, role))
		}
	}
	return errors.Join(errs...)
}

func (t Table) allowed(role domainauth.Role, p string) bool {
	r, ok := t.match(p)
	if !ok {
		return false
	}
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// match returns the rule with the longest prefix covering p.
func (t Table) match(p string) (Rule, bool) {
	var best Rule
	found := false
	for _, r := range t.Rules {
		if matchPrefix(r.Prefix, p) && (!found || len(r.Prefix) > len(best.Prefix)) {
			best, found = r, true
		}
	}
	return best, found
}

func (t Table) public(p string) bool {
	for _, pub := range t.Public {
		if matchPrefix(pub, p) {
			return true
		}
	}
	return false
}

// matchPrefix reports whether p equals prefix or lies below it on a segment boundary.
func matchPrefix(prefix, p string) bool {
	if prefix == "/" || prefix == p {
		return true
	}
	if strings.HasSuffix(prefix, "/") {
		return strings.HasPrefix(p, prefix) || p == strings.TrimSuffix(prefix, "/")
	}
	return strings.HasPrefix(p, prefix+"/")
}

func isAbsolute(p string) bool { return strings.HasPrefix(p, "/") }

// cleanPath normalizes request paths before matching.
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
