package pg

import (
	"context"
	"time"

	"authgate.dev/internal/auth"
)

type loginAttemptStore Store

func (s *loginAttemptStore) Record(ctx context.Context, attempt *auth.LoginAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		insert into login_attempts (id, email, ip_address, successful, failure_reason, attempted_at)
		values ($1, $2, $3, $4, $5, $6)
	`, attempt.ID, attempt.Email, attempt.IPAddress, attempt.Successful,
		nullIfEmpty(attempt.FailureReason), attempt.AttemptedAt)
	return err
}

func (s *loginAttemptStore) CountFailedSince(ctx context.Context, email string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from login_attempts
		where email = $1 and not successful and attempted_at >= $2
	`, email, since).Scan(&count)
	return count, err
}
