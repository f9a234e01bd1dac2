package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"authgate.dev/internal/auth"
)

type refreshTokenStore Store

func (s *refreshTokenStore) Create(ctx context.Context, tok *auth.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, device_info, ip_address, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, tok.ID, tok.UserID, tok.TokenHash, nullIfEmpty(tok.DeviceInfo), nullIfEmpty(tok.IPAddress),
		tok.ExpiresAt, tok.CreatedAt)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return auth.ErrConflict
		case pgErrForeignKeyViolation:
			return auth.ErrNotFound
		}
	}
	return err
}

func (s *refreshTokenStore) FindByHash(ctx context.Context, hash string) (*auth.RefreshToken, error) {
	var (
		tok               auth.RefreshToken
		device, ipAddress sql.NullString
		revokedAt         sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, device_info, ip_address, expires_at, created_at, is_revoked, revoked_at
		from refresh_tokens
		where token_hash = $1
	`, hash).Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &device, &ipAddress,
		&tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tok.DeviceInfo = device.String
	tok.IPAddress = ipAddress.String
	if revokedAt.Valid {
		t := revokedAt.Time
		tok.RevokedAt = &t
	}
	return &tok, nil
}

// RevokeActive is the rotation compare-and-set: the WHERE clause only
// matches an active row, so of N concurrent calls for the same hash exactly
// one reports true.
func (s *refreshTokenStore) RevokeActive(ctx context.Context, hash string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens set is_revoked = true, revoked_at = $2
		where token_hash = $1 and not is_revoked
	`, hash, at)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff == 1, nil
}

func (s *refreshTokenStore) RevokeByHash(ctx context.Context, hash string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		update refresh_tokens set is_revoked = true, revoked_at = $2
		where token_hash = $1 and not is_revoked
	`, hash, at)
	return err
}

func (s *refreshTokenStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens set is_revoked = true, revoked_at = $2
		where user_id = $1 and not is_revoked
	`, userID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *refreshTokenStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *refreshTokenStore) DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from refresh_tokens where is_revoked and revoked_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type resetTokenStore Store

func (s *resetTokenStore) Create(ctx context.Context, tok *auth.PasswordResetToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into password_reset_tokens (id, user_id, token_hash, expires_at, created_at)
		values ($1, $2, $3, $4, $5)
	`, tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt, tok.CreatedAt)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return auth.ErrConflict
		case pgErrForeignKeyViolation:
			return auth.ErrNotFound
		}
	}
	return err
}

func (s *resetTokenStore) FindByHash(ctx context.Context, hash string) (*auth.PasswordResetToken, error) {
	var tok auth.PasswordResetToken
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, expires_at, used, created_at
		from password_reset_tokens
		where token_hash = $1
	`, hash).Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.Used, &tok.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}
