package auth

import "context"

// Principal is the immutable identity the authentication gate derives from
// verified claims and hands to downstream handlers. Nothing mutates it
// after construction.
type Principal struct {
	UserID      string
	Email       string
	Roles       []string
	permissions map[string]struct{}
}

// NewPrincipal builds a principal from verified access-token claims.
func NewPrincipal(userID, email string, roles, permissions []string) Principal {
	set := make(map[string]struct{}, len(permissions))
	for _, p := range permissions {
		set[p] = struct{}{}
	}
	return Principal{UserID: userID, Email: email, Roles: roles, permissions: set}
}

// HasRole reports whether the principal carries the named role.
func (p Principal) HasRole(name string) bool {
	for _, r := range p.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// HasPermission mirrors the resolver's two-tier check against the claims
// embedded at token issuance: admin role, then wildcard or exact name.
func (p Principal) HasPermission(name string) bool {
	if p.HasRole(AdminRole) {
		return true
	}
	if _, ok := p.permissions[WildcardPermission]; ok {
		return true
	}
	_, ok := p.permissions[name]
	return ok
}

// Permissions returns the embedded permission names.
func (p Principal) Permissions() []string {
	out := make([]string, 0, len(p.permissions))
	for name := range p.permissions {
		out = append(out, name)
	}
	return out
}

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}
