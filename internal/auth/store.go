package auth

import (
	"context"
	"time"
)

// Store describes the persistence operations the auth subsystem needs.
// Implementations: store/pg (PostgreSQL) and MemStore.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	Permissions() PermissionStore
	RefreshTokens() RefreshTokenStore
	ResetTokens() ResetTokenStore
	LoginAttempts() LoginAttemptStore

	// CompletePasswordReset applies the reset as one all-or-nothing unit:
	// store the new hash, consume the reset token, revoke every refresh
	// token belonging to the user.
	CompletePasswordReset(ctx context.Context, userID, resetTokenID, passwordHash string, at time.Time) error
}

// UserStore manages principals.
type UserStore interface {
	// Create persists the user and assigns the named roles in the same
	// unit of work. Duplicate email yields ErrConflict.
	Create(ctx context.Context, u *User, roleNames []string) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
}

// RoleStore manages roles and user-role assignments.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error // duplicate name -> ErrConflict
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	Update(ctx context.Context, role *Role) error
	Delete(ctx context.Context, id string) error
	Assign(ctx context.Context, userID, roleID string) error // duplicate pair -> ErrConflict
	Unassign(ctx context.Context, userID, roleID string) error
	RolesForUser(ctx context.Context, userID string) ([]*Role, error)
}

// PermissionStore manages the permission catalog and role-permission links.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	List(ctx context.Context) ([]Permission, error)
	Find(ctx context.Context, id string) (*Permission, error)
	AssignToRole(ctx context.Context, roleID, permissionID string) error // duplicate pair -> ErrConflict
	RemoveFromRole(ctx context.Context, roleID, permissionID string) error
	ForRole(ctx context.Context, roleID string) ([]Permission, error)
	// NamesForUser returns the distinct permission names reachable through
	// the user's role assignments.
	NamesForUser(ctx context.Context, userID string) ([]string, error)
}

// RefreshTokenStore manages the rotating refresh-token lineage.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	FindByHash(ctx context.Context, hash string) (*RefreshToken, error)
	// RevokeActive revokes the token iff it is currently active and reports
	// whether this call performed the revocation. This compare-and-set is
	// what makes rotation safe under concurrent replay: exactly one caller
	// observes true.
	RevokeActive(ctx context.Context, hash string, at time.Time) (bool, error)
	// RevokeByHash unconditionally marks the token revoked. Idempotent;
	// unknown hashes are a no-op.
	RevokeByHash(ctx context.Context, hash string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ResetTokenStore manages one-time password-reset tokens.
type ResetTokenStore interface {
	Create(ctx context.Context, tok *PasswordResetToken) error
	FindByHash(ctx context.Context, hash string) (*PasswordResetToken, error)
}

// LoginAttemptStore is append-only; rows are never mutated.
type LoginAttemptStore interface {
	Record(ctx context.Context, attempt *LoginAttempt) error
	CountFailedSince(ctx context.Context, email string, since time.Time) (int, error)
}
