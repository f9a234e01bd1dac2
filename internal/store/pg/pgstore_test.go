package pg

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authgate.dev/internal/auth"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return New(db), mock
}

func TestRevokeActiveCompareAndSet(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectExec(`update refresh_tokens set is_revoked = true`).
		WithArgs("hash-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := store.RefreshTokens().RevokeActive(ctx, "hash-1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	// Already revoked: zero rows matched, the caller lost the race.
	mock.ExpectExec(`update refresh_tokens set is_revoked = true`).
		WithArgs("hash-1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = store.RefreshTokens().RevokeActive(ctx, "hash-1", now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindRefreshTokenNotFound(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery(`select (.+) from refresh_tokens`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.RefreshTokens().FindByHash(context.Background(), "missing")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestCreateUserMapsUniqueViolation(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`insert into users`).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectRollback()

	err := store.Users().Create(context.Background(), &auth.User{
		ID: "u1", Email: "a@example.com", PasswordHash: "x",
		IsActive: true, CreatedAt: now, UpdatedAt: now,
	}, nil)
	assert.ErrorIs(t, err, auth.ErrConflict)
}

func TestCreateUserAssignsSeededRoles(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`insert into users`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`select id from roles where name`).
		WithArgs("user").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("role-1"))
	mock.ExpectExec(`insert into user_roles`).
		WithArgs("u1", "role-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Users().Create(context.Background(), &auth.User{
		ID: "u1", Email: "a@example.com", PasswordHash: "x",
		IsActive: true, CreatedAt: now, UpdatedAt: now,
	}, []string{"user"})
	require.NoError(t, err)
}

func TestAssignRoleMapsConstraintViolations(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectExec(`insert into user_roles`).
		WithArgs("u1", "r1").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	assert.ErrorIs(t, store.Roles().Assign(ctx, "u1", "r1"), auth.ErrConflict)

	mock.ExpectExec(`insert into user_roles`).
		WithArgs("u1", "r2").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	assert.ErrorIs(t, store.Roles().Assign(ctx, "u1", "r2"), auth.ErrNotFound)
}

func TestCompletePasswordResetIsOneTransaction(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`update users set password_hash`).
		WithArgs("u1", "new-hash", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`update password_reset_tokens set used = true`).
		WithArgs("rt1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`update refresh_tokens set is_revoked = true`).
		WithArgs("u1", now).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	err := store.CompletePasswordReset(context.Background(), "u1", "rt1", "new-hash", now)
	require.NoError(t, err)
}

func TestCompletePasswordResetRollsBackOnConsumedToken(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`update users set password_hash`).
		WithArgs("u1", "new-hash", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`update password_reset_tokens set used = true`).
		WithArgs("rt1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.CompletePasswordReset(context.Background(), "u1", "rt1", "new-hash", now)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestCountFailedSince(t *testing.T) {
	store, mock := newMock(t)
	since := time.Now().Add(-30 * time.Minute)

	mock.ExpectQuery(`select count\(\*\) from login_attempts`).
		WithArgs("a@example.com", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := store.LoginAttempts().CountFailedSince(context.Background(), "a@example.com", since)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestSweepDeletes(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()
	cutoff := time.Now()

	mock.ExpectExec(`delete from refresh_tokens where expires_at`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))
	n, err := store.RefreshTokens().DeleteExpiredBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	mock.ExpectExec(`delete from refresh_tokens where is_revoked`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))
	n, err = store.RefreshTokens().DeleteRevokedBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestEnsurePermissionsIsIdempotent(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`insert into permissions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`insert into permissions`).
		WillReturnResult(sqlmock.NewResult(0, 0)) // on conflict do nothing
	mock.ExpectCommit()

	err := store.Permissions().Ensure(context.Background(), []auth.Permission{
		{Name: "user:read", Resource: "user", Action: "read"},
		{Name: "user:write", Resource: "user", Action: "write"},
	})
	require.NoError(t, err)
}
