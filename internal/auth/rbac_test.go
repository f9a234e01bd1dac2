package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authgate.dev/internal/ids"
)

type rbacEnv struct {
	rbac  *RBAC
	store *MemStore
}

func newRBACEnv(t *testing.T) *rbacEnv {
	t.Helper()
	store := NewMemStore()
	rbac, err := NewRBAC(store)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, rbac.EnsureBuiltins(ctx))
	for _, r := range []Role{
		{Name: AdminRole, Description: "Full access", IsSystem: true},
		{Name: DefaultRole, Description: "Standard account", IsSystem: true},
	} {
		role := r
		require.NoError(t, store.Roles().Create(ctx, &role))
	}
	return &rbacEnv{rbac: rbac, store: store}
}

func (e *rbacEnv) user(t *testing.T, email string, roleNames ...string) string {
	t.Helper()
	u := &User{ID: ids.New(), Email: email, IsActive: true}
	require.NoError(t, e.store.Users().Create(context.Background(), u, roleNames))
	return u.ID
}

func (e *rbacEnv) permissionID(t *testing.T, name string) string {
	t.Helper()
	perms, err := e.store.Permissions().List(context.Background())
	require.NoError(t, err)
	for _, p := range perms {
		if p.Name == name {
			return p.ID
		}
	}
	t.Fatalf("permission %q not seeded", name)
	return ""
}

func TestAdminRoleBypassesPermissionChecks(t *testing.T) {
	env := newRBACEnv(t)
	ctx := context.Background()
	adminID := env.user(t, "root@example.com", AdminRole)

	// Admin has everything, even permissions no role was ever granted.
	for _, perm := range []string{"user:read", "role:write", "doc:write", "never:granted"} {
		ok, err := env.rbac.HasPermission(ctx, adminID, perm)
		require.NoError(t, err)
		assert.True(t, ok, "admin should hold %q", perm)
	}
}

func TestWildcardPermissionGrantsEverything(t *testing.T) {
	env := newRBACEnv(t)
	ctx := context.Background()

	super, err := env.rbac.CreateRole(ctx, "superuser", "wildcard holder, not admin by name")
	require.NoError(t, err)
	require.NoError(t, env.rbac.AssignPermission(ctx, super.ID, env.permissionID(t, WildcardPermission)))

	userID := env.user(t, "super@example.com")
	require.NoError(t, env.rbac.AssignRole(ctx, userID, super.ID))

	ok, err := env.rbac.HasPermission(ctx, userID, "anything:at-all")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExactPermissionMatch(t *testing.T) {
	env := newRBACEnv(t)
	ctx := context.Background()

	editor, err := env.rbac.CreateRole(ctx, "editor", "can write docs")
	require.NoError(t, err)
	require.NoError(t, env.store.Permissions().Ensure(ctx, []Permission{
		{Name: "doc:write", Resource: "doc", Action: "write"},
	}))
	require.NoError(t, env.rbac.AssignPermission(ctx, editor.ID, env.permissionID(t, "doc:write")))

	userID := env.user(t, "editor@example.com", DefaultRole)
	require.NoError(t, env.rbac.AssignRole(ctx, userID, editor.ID))

	ok, err := env.rbac.HasPermission(ctx, userID, "doc:write")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.rbac.HasPermission(ctx, userID, "doc:delete")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = env.rbac.HasAnyPermission(ctx, userID, "doc:delete", "doc:write")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnknownPrincipalGetsFalseNotError(t *testing.T) {
	env := newRBACEnv(t)
	ctx := context.Background()

	ok, err := env.rbac.HasPermission(ctx, "no-such-user", "user:read")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = env.rbac.HasRole(ctx, "no-such-user", AdminRole)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSystemRolesAreProtected(t *testing.T) {
	env := newRBACEnv(t)
	ctx := context.Background()

	admin, err := env.store.Roles().FindByName(ctx, AdminRole)
	require.NoError(t, err)

	_, err = env.rbac.UpdateRole(ctx, admin.ID, "root", "")
	assert.ErrorIs(t, err, ErrConflict)

	// Re-describing without renaming is fine.
	updated, err := env.rbac.UpdateRole(ctx, admin.ID, "", "superuser account")
	require.NoError(t, err)
	assert.Equal(t, AdminRole, updated.Name)
	assert.Equal(t, "superuser account", updated.Description)

	err = env.rbac.DeleteRole(ctx, admin.ID)
	assert.ErrorIs(t, err, ErrConflict)

	// Custom roles can be deleted.
	custom, err := env.rbac.CreateRole(ctx, "temp", "")
	require.NoError(t, err)
	require.NoError(t, env.rbac.DeleteRole(ctx, custom.ID))
	_, err = env.store.Roles().Find(ctx, custom.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDuplicateRoleAndAssignmentConflicts(t *testing.T) {
	env := newRBACEnv(t)
	ctx := context.Background()

	_, err := env.rbac.CreateRole(ctx, AdminRole, "")
	assert.ErrorIs(t, err, ErrConflict)

	userID := env.user(t, "alice@example.com")
	role, err := env.store.Roles().FindByName(ctx, DefaultRole)
	require.NoError(t, err)

	require.NoError(t, env.rbac.AssignRole(ctx, userID, role.ID))
	err = env.rbac.AssignRole(ctx, userID, role.ID)
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, env.rbac.RemoveRole(ctx, userID, role.ID))
	err = env.rbac.RemoveRole(ctx, userID, role.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRevocationIsVisibleImmediately(t *testing.T) {
	env := newRBACEnv(t)
	ctx := context.Background()

	editor, err := env.rbac.CreateRole(ctx, "editor", "")
	require.NoError(t, err)
	require.NoError(t, env.store.Permissions().Ensure(ctx, []Permission{
		{Name: "doc:write", Resource: "doc", Action: "write"},
	}))
	permID := env.permissionID(t, "doc:write")
	require.NoError(t, env.rbac.AssignPermission(ctx, editor.ID, permID))

	userID := env.user(t, "e@example.com")
	require.NoError(t, env.rbac.AssignRole(ctx, userID, editor.ID))

	ok, err := env.rbac.HasPermission(ctx, userID, "doc:write")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, env.rbac.RemovePermission(ctx, editor.ID, permID))

	ok, err = env.rbac.HasPermission(ctx, userID, "doc:write")
	require.NoError(t, err)
	assert.False(t, ok, "no caching: revocation must take effect on the next check")
}

func TestEffectivePermissionsUnion(t *testing.T) {
	env := newRBACEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.Permissions().Ensure(ctx, []Permission{
		{Name: "doc:read", Resource: "doc", Action: "read"},
		{Name: "doc:write", Resource: "doc", Action: "write"},
	}))
	reader, err := env.rbac.CreateRole(ctx, "reader", "")
	require.NoError(t, err)
	writer, err := env.rbac.CreateRole(ctx, "writer", "")
	require.NoError(t, err)
	require.NoError(t, env.rbac.AssignPermission(ctx, reader.ID, env.permissionID(t, "doc:read")))
	require.NoError(t, env.rbac.AssignPermission(ctx, writer.ID, env.permissionID(t, "doc:read")))
	require.NoError(t, env.rbac.AssignPermission(ctx, writer.ID, env.permissionID(t, "doc:write")))

	userID := env.user(t, "both@example.com")
	require.NoError(t, env.rbac.AssignRole(ctx, userID, reader.ID))
	require.NoError(t, env.rbac.AssignRole(ctx, userID, writer.ID))

	perms, err := env.rbac.EffectivePermissions(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc:read", "doc:write"}, perms, "union, deduplicated, sorted")
}

func TestGetRoleWithPermissions(t *testing.T) {
	env := newRBACEnv(t)
	ctx := context.Background()

	role, err := env.rbac.CreateRole(ctx, "auditor", "read-only access")
	require.NoError(t, err)
	require.NoError(t, env.rbac.AssignPermission(ctx, role.ID, env.permissionID(t, "user:read")))
	require.NoError(t, env.rbac.AssignPermission(ctx, role.ID, env.permissionID(t, "role:read")))

	got, perms, err := env.rbac.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "auditor", got.Name)
	require.Len(t, perms, 2)
	assert.Equal(t, "role:read", perms[0].Name)
	assert.Equal(t, "user:read", perms[1].Name)
}

func TestEnsureBuiltinsIsIdempotent(t *testing.T) {
	env := newRBACEnv(t)
	ctx := context.Background()

	require.NoError(t, env.rbac.EnsureBuiltins(ctx))
	perms, err := env.rbac.ListPermissions(ctx)
	require.NoError(t, err)
	assert.Len(t, perms, len(BuiltinPermissions))
}
