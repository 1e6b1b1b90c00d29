package config

import (
	"strings"
	"time"
)

// GraphQLConfig points at the Hasura GraphQL endpoint.
type GraphQLConfig struct {
	Endpoint string        `env:"GRAPHQL_ENDPOINT" envDefault:"http://localhost:8081/v1/graphql"`
	Timeout  time.Duration `env:"GRAPHQL_TIMEOUT"  envDefault:"15s"`
}

// Sanitize applies guardrails to GraphQL configuration values.
func (g *GraphQLConfig) Sanitize() {
	g.Endpoint = strings.TrimSpace(g.Endpoint)
	if g.Timeout < time.Second {
		g.Timeout = time.Second
	}
}
