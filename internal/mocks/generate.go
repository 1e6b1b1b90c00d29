// Package mocks provides gomock implementations of the auth ports for tests.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	resolver := mocks.NewMockProfileResolver(ctrl)
//	resolver.EXPECT().Resolve(gomock.Any(), "uid-1").Return(profile, true)
package mocks

// MockProfileResolver: Resolve
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=profile_resolver_mock.go github.com/tremiti/admin-console/internal/ports ProfileResolver

// MockTokenVerifier: Verify
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=token_verifier_mock.go github.com/tremiti/admin-console/internal/ports TokenVerifier
