package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrincipalPermissionChecks(t *testing.T) {
	p := NewPrincipal("u1", "a@example.com", []string{"editor"}, []string{"doc:write"})
	assert.True(t, p.HasRole("editor"))
	assert.False(t, p.HasRole(AdminRole))
	assert.True(t, p.HasPermission("doc:write"))
	assert.False(t, p.HasPermission("doc:delete"))

	admin := NewPrincipal("u2", "b@example.com", []string{AdminRole}, nil)
	assert.True(t, admin.HasPermission("anything:at-all"))

	wildcard := NewPrincipal("u3", "c@example.com", nil, []string{WildcardPermission})
	assert.True(t, wildcard.HasPermission("anything:at-all"))
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	p := NewPrincipal("u1", "a@example.com", []string{"user"}, []string{"user:read"})
	ctx := ContextWithPrincipal(context.Background(), p)

	got, ok := PrincipalFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, got.HasPermission("user:read"))
}
