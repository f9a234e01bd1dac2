// Package pg is the Postgres-backed Store. All token values arrive
// pre-hashed; nothing in this package sees plaintext credentials.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"authgate.dev/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

var _ auth.Store = (*Store)(nil)

// Open connects to Postgres and tunes the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing connection. Used by tests and by callers that
// manage the pool themselves.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users() auth.UserStore                 { return (*userStore)(s) }
func (s *Store) Roles() auth.RoleStore                 { return (*roleStore)(s) }
func (s *Store) Permissions() auth.PermissionStore     { return (*permissionStore)(s) }
func (s *Store) RefreshTokens() auth.RefreshTokenStore { return (*refreshTokenStore)(s) }
func (s *Store) ResetTokens() auth.ResetTokenStore     { return (*resetTokenStore)(s) }
func (s *Store) LoginAttempts() auth.LoginAttemptStore { return (*loginAttemptStore)(s) }

// CompletePasswordReset applies the new hash, consumes the reset token and
// revokes every active refresh token in one transaction. Partial effects
// would let a stolen session survive a password reset.
func (s *Store) CompletePasswordReset(ctx context.Context, userID, resetTokenID, passwordHash string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update users set password_hash = $2, updated_at = $3 where id = $1
	`, userID, passwordHash, at)
	if err != nil {
		return err
	}
	if aff, err := res.RowsAffected(); err != nil {
		return err
	} else if aff == 0 {
		return auth.ErrNotFound
	}

	res, err = tx.ExecContext(ctx, `
		update password_reset_tokens set used = true where id = $1 and not used
	`, resetTokenID)
	if err != nil {
		return err
	}
	if aff, err := res.RowsAffected(); err != nil {
		return err
	} else if aff == 0 {
		return auth.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		update refresh_tokens set is_revoked = true, revoked_at = $2
		where user_id = $1 and not is_revoked
	`, userID, at); err != nil {
		return err
	}

	return tx.Commit()
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
