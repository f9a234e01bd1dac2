package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"authgate.dev/internal/ids"
	"authgate.dev/internal/obs"
)

// BuiltinPermissions seed the catalog. The wildcard row backs the
// permission-level bypass; the admin-role name check in HasPermission is
// intentionally redundant with it, so deleting one does not silently
// disable the other.
var BuiltinPermissions = []Permission{
	{Name: WildcardPermission, Resource: "*", Action: "*", Description: "Universal access"},
	{Name: "user:read", Resource: "user", Action: "read", Description: "Read user accounts"},
	{Name: "user:write", Resource: "user", Action: "write", Description: "Modify user accounts"},
	{Name: "user:delete", Resource: "user", Action: "delete", Description: "Delete user accounts"},
	{Name: "role:read", Resource: "role", Action: "read", Description: "Read roles and permissions"},
	{Name: "role:write", Resource: "role", Action: "write", Description: "Manage roles and permissions"},
}

const rbacComponent = "rbac"

// RBAC resolves effective permissions and manages the role/permission
// catalog. It never caches: every query goes to the store so revocations
// are visible immediately.
type RBAC struct {
	store Store
}

// NewRBAC constructs the resolver.
func NewRBAC(store Store) (*RBAC, error) {
	if store == nil {
		return nil, errors.New("auth: rbac store is required")
	}
	return &RBAC{store: store}, nil
}

// EnsureBuiltins makes sure the seeded permission catalog exists.
func (r *RBAC) EnsureBuiltins(ctx context.Context) error {
	return r.store.Permissions().Ensure(ctx, BuiltinPermissions)
}

// HasPermission reports whether the principal may exercise the named
// capability. Unknown principals get false, not an error: permission
// checks must not leak existence through error channels.
func (r *RBAC) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	roles, err := r.store.Roles().RolesForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	// Named-role bypass first, then the wildcard row. Two tiers on purpose.
	for _, role := range roles {
		if role.Name == AdminRole {
			return true, nil
		}
	}
	names, err := r.store.Permissions().NamesForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	for _, name := range names {
		if name == permission || name == WildcardPermission {
			return true, nil
		}
	}
	return false, nil
}

// HasAnyPermission reports whether the principal holds at least one of the
// named capabilities.
func (r *RBAC) HasAnyPermission(ctx context.Context, userID string, permissions ...string) (bool, error) {
	for _, p := range permissions {
		ok, err := r.HasPermission(ctx, userID, p)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// HasRole reports whether the principal is assigned the named role.
func (r *RBAC) HasRole(ctx context.Context, userID, roleName string) (bool, error) {
	roles, err := r.store.Roles().RolesForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	for _, role := range roles {
		if role.Name == roleName {
			return true, nil
		}
	}
	return false, nil
}

// EffectivePermissions returns the union of permission names across the
// principal's roles.
func (r *RBAC) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	names, err := r.store.Permissions().NamesForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return names, nil
}

// CreateRole adds a role. Duplicate names conflict.
func (r *RBAC) CreateRole(ctx context.Context, name, description string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	role := &Role{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
	}
	if err := r.store.Roles().Create(ctx, role); err != nil {
		return nil, err
	}
	obs.Info(rbacComponent, "role created", map[string]any{"role_id": role.ID, "name": name})
	return role, nil
}

// UpdateRole renames or re-describes a role. Renaming a system role
// conflicts.
func (r *RBAC) UpdateRole(ctx context.Context, id, name, description string) (*Role, error) {
	role, err := r.store.Roles().Find(ctx, id)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name != "" && name != role.Name {
		if role.IsSystem {
			return nil, fmt.Errorf("%w: cannot rename system role", ErrConflict)
		}
		role.Name = name
	}
	if description != "" {
		role.Description = strings.TrimSpace(description)
	}
	if err := r.store.Roles().Update(ctx, role); err != nil {
		return nil, err
	}
	obs.Info(rbacComponent, "role updated", map[string]any{"role_id": id})
	return role, nil
}

// DeleteRole removes a role. System roles cannot be deleted.
func (r *RBAC) DeleteRole(ctx context.Context, id string) error {
	role, err := r.store.Roles().Find(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: cannot delete system role", ErrConflict)
	}
	if err := r.store.Roles().Delete(ctx, id); err != nil {
		return err
	}
	obs.Info(rbacComponent, "role deleted", map[string]any{"role_id": id})
	return nil
}

// GetRole returns a role with its permissions attached.
func (r *RBAC) GetRole(ctx context.Context, id string) (*Role, []Permission, error) {
	role, err := r.store.Roles().Find(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	perms, err := r.store.Permissions().ForRole(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return role, perms, nil
}

// ListRoles returns the full role catalog.
func (r *RBAC) ListRoles(ctx context.Context) ([]*Role, error) {
	return r.store.Roles().List(ctx)
}

// ListPermissions returns the full permission catalog.
func (r *RBAC) ListPermissions(ctx context.Context) ([]Permission, error) {
	return r.store.Permissions().List(ctx)
}

// AssignRole gives the user a role. Assigning twice conflicts.
func (r *RBAC) AssignRole(ctx context.Context, userID, roleID string) error {
	if err := r.store.Roles().Assign(ctx, userID, roleID); err != nil {
		return err
	}
	obs.Info(rbacComponent, "role assigned", map[string]any{"user_id": userID, "role_id": roleID})
	return nil
}

// RemoveRole removes a user-role assignment.
func (r *RBAC) RemoveRole(ctx context.Context, userID, roleID string) error {
	if err := r.store.Roles().Unassign(ctx, userID, roleID); err != nil {
		return err
	}
	obs.Info(rbacComponent, "role removed", map[string]any{"user_id": userID, "role_id": roleID})
	return nil
}

// AssignPermission attaches a permission to a role. Duplicates conflict.
func (r *RBAC) AssignPermission(ctx context.Context, roleID, permissionID string) error {
	if err := r.store.Permissions().AssignToRole(ctx, roleID, permissionID); err != nil {
		return err
	}
	obs.Info(rbacComponent, "permission assigned", map[string]any{"role_id": roleID, "permission_id": permissionID})
	return nil
}

// RemovePermission detaches a permission from a role.
func (r *RBAC) RemovePermission(ctx context.Context, roleID, permissionID string) error {
	if err := r.store.Permissions().RemoveFromRole(ctx, roleID, permissionID); err != nil {
		return err
	}
	obs.Info(rbacComponent, "permission removed", map[string]any{"role_id": roleID, "permission_id": permissionID})
	return nil
}
