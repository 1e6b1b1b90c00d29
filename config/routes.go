package config

import "strings"

// RoutesConfig selects the route table.
type RoutesConfig struct {
	// TableFile is a YAML route table; empty uses the built-in dashboard table.
	TableFile string `env:"ROUTE_TABLE_FILE"`
}

// Sanitize trims the table path.
func (r *RoutesConfig) Sanitize() {
	r.TableFile = strings.TrimSpace(r.TableFile)
}
