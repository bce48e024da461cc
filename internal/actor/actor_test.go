package actor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	for _, r := range []Role{RoleAssignee, RoleAuditor, RoleManager, RoleAdmin} {
		got, err := ParseRole(string(r))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
	_, err := ParseRole("owner")
	require.Error(t, err)
}

func TestActor(t *testing.T) {
	assert.True(t, Actor{Role: RoleManager}.CanEscalate())
	assert.True(t, Actor{Role: RoleAdmin}.CanEscalate())
	assert.False(t, Actor{Role: RoleAuditor}.CanEscalate())

	a := Actor{ID: "alice", Role: RoleAssignee}
	assert.True(t, a.Is("alice"))
	assert.False(t, a.Is("bob"))
	assert.False(t, Actor{}.Is(""), "an empty id never matches")

	require.ErrorIs(t, Deny(a, "cancel"), ErrNotPermitted)
}

func TestContext(t *testing.T) {
	a := Actor{ID: "alice", Role: RoleAssignee}
	ctx := NewContext(context.Background(), a)
	assert.Equal(t, a, FromContext(ctx))
	assert.Equal(t, Actor{}, FromContext(context.Background()))
}
