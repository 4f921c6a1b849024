package authz

import (
	"testing"

	"github.com/gematik/zero-gate/pkg/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyChecker(t *testing.T) {
	checker, err := LoadPolicyFiles("testdata/policy.yaml")
	require.NoError(t, err)

	user := &identity.User{ID: 1, Username: "alice", Role: identity.RoleUser}
	admin := &identity.User{ID: 2, Username: "root", Role: identity.RoleAdmin}
	nobody := &identity.User{ID: 3, Username: "eve", Role: identity.RoleNone}

	tests := []struct {
		actor    *identity.User
		action   string
		resource string
		want     bool
	}{
		{user, "read", "protected", true},
		{user, "read", "protected/reports", true},
		{user, "write", "protected", false},
		{user, "read", "admin", false},
		{admin, "read", "admin", true},
		{admin, "delete", "admin/users", true},
		{nobody, "read", "protected", false},
		{nil, "read", "protected", false},
	}
	for _, tt := range tests {
		name := "anonymous"
		if tt.actor != nil {
			name = tt.actor.Username
		}
		assert.Equal(t, tt.want, checker.IsAllowed(tt.actor, tt.action, tt.resource), "%s %s %s", name, tt.action, tt.resource)
	}
}

func TestNew(t *testing.T) {
	checker, err := New(nil)
	require.NoError(t, err)
	assert.IsType(t, NoopChecker{}, checker)
	assert.True(t, checker.IsAllowed(nil, "delete", "anything"))

	checker, err = New([]string{"testdata/policy.yaml"})
	require.NoError(t, err)
	assert.IsType(t, &PolicyChecker{}, checker)
}

func TestLoadPolicyFilesErrors(t *testing.T) {
	_, err := LoadPolicyFiles("testdata/missing.yaml")
	assert.Error(t, err)

	_, err = LoadPolicyFiles("testdata/broken.yaml")
	assert.Error(t, err)
}
