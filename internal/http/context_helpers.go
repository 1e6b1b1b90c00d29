package httpx

import (
	"context"

	domainauth "github.com/tremiti/admin-console/internal/domain/auth"
	"github.com/tremiti/admin-console/internal/service"
)

// Unexported context key types avoid collisions across packages.
// Centralized in this file so all handlers/middleware use the same keys.
type (
	clientIDKey struct{}
	snapshotKey struct{}
	clientKey   struct{}
)

// WithClientID returns a child context carrying the browser's client id.
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientIDKey{}, id)
}

// ClientIDFromContext returns the client id set by the ClientID middleware.
func ClientIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(clientIDKey{}).(string)
	return id, ok && id != ""
}

// SetSnapshotInContext returns a child context that carries the client's settled snapshot.
func SetSnapshotInContext(ctx context.Context, snap domainauth.Snapshot) context.Context {
	return context.WithValue(ctx, snapshotKey{}, snap)
}

// GetSnapshotFromContext returns the snapshot set by RouteGuard or RequireSession.
func GetSnapshotFromContext(ctx context.Context) (domainauth.Snapshot, bool) {
	snap, ok := ctx.Value(snapshotKey{}).(domainauth.Snapshot)
	return snap, ok
}

// GetSessionFromContext returns the authorized session in context, or nil.
func GetSessionFromContext(ctx context.Context) *domainauth.Session {
	if snap, ok := GetSnapshotFromContext(ctx); ok && snap.Authenticated() {
		return snap.Session
	}
	return nil
}

func setClientInContext(ctx context.Context, c *service.Client) context.Context {
	return context.WithValue(ctx, clientKey{}, c)
}

func clientFromContext(ctx context.Context) (*service.Client, bool) {
	c, ok := ctx.Value(clientKey{}).(*service.Client)
	return c, ok && c != nil
}
