package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"authgate.dev/internal/auth"
)

type userStore Store

const userColumns = `id, email, first_name, last_name, password_hash, is_active, is_verified, email_verified_at, last_login_at, created_at, updated_at`

func (s *userStore) Create(ctx context.Context, u *auth.User, roleNames []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into users (id, email, first_name, last_name, password_hash, is_active, is_verified, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, u.ID, u.Email, nullIfEmpty(u.FirstName), nullIfEmpty(u.LastName), nullIfEmpty(u.PasswordHash),
		u.IsActive, u.IsVerified, u.CreatedAt, u.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return err
	}

	// Role names that are not seeded yet are skipped, same as MemStore.
	for _, name := range roleNames {
		var roleID string
		err := tx.QueryRowContext(ctx, `select id from roles where name = $1`, name).Scan(&roleID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles (user_id, role_id) values ($1, $2)
		`, u.ID, roleID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	return s.one(ctx, `select `+userColumns+` from users where id = $1`, id)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.one(ctx, `select `+userColumns+` from users where email = $1`, email)
}

func (s *userStore) one(ctx context.Context, query string, arg any) (*auth.User, error) {
	var (
		u                          auth.User
		firstName, lastName, hash  sql.NullString
		emailVerifiedAt, lastLogin sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &firstName, &lastName, &hash,
		&u.IsActive, &u.IsVerified, &emailVerifiedAt, &lastLogin,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.FirstName = firstName.String
	u.LastName = lastName.String
	u.PasswordHash = hash.String
	if emailVerifiedAt.Valid {
		t := emailVerifiedAt.Time
		u.EmailVerifiedAt = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		update users set password_hash = $2, updated_at = now() where id = $1
	`, userID, passwordHash)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *userStore) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update users set last_login_at = $2 where id = $1
	`, userID, at)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}
