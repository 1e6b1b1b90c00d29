package authroles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/tremiti/admin-console/internal/domain/auth"
)

func TestDefaultAllowList(t *testing.T) {
	al := DefaultAllowList()

	tests := []struct {
		raw  string
		want domainauth.Role
		ok   bool
	}{
		{"admin", domainauth.RoleAdmin, true},
		{"operator", domainauth.RoleOperator, true},
		{"guest", "", false},
		{"user", "", false},
		{"", "", false},
		{"ADMIN", "", false},
		{" admin", "", false},
	}
	for _, tt := range tests {
		role, ok := al.Map(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.want, role, tt.raw)
	}
}

func TestNewAllowList_Narrowed(t *testing.T) {
	al, err := NewAllowList([]string{"admin", " "})
	require.NoError(t, err)

	_, ok := al.Map("operator")
	assert.False(t, ok)
	role, ok := al.Map("admin")
	assert.True(t, ok)
	assert.Equal(t, domainauth.RoleAdmin, role)
}

func TestNewAllowList_Rejects(t *testing.T) {
	_, err := NewAllowList([]string{"admin", "superuser"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "superuser")

	_, err = NewAllowList(nil)
	require.Error(t, err)
}
