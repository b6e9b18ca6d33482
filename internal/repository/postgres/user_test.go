package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/authservice/internal/domain"
	apperrors "github.com/utafrali/authservice/pkg/errors"
)

func newUserTestFixture(t *testing.T) (*UserRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return NewUserRepository(mock), mock
}

func sampleUser() *domain.User {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.User{
		ID:           "3f0c6a52-8d0e-4f5e-9a43-1d2b7c9e0a11",
		Name:         "Alice",
		Email:        "alice@example.com",
		PasswordHash: "hash-abc",
		Role:         domain.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// userColumnNames matches the column order of userColumns.
func userColumnNames() []string {
	return []string{
		"id", "name", "email", "password_hash", "role",
		"password_reset_token", "password_reset_expires", "created_at", "updated_at",
	}
}

func userRow(u *domain.User) *pgxmock.Rows {
	return addUser(pgxmock.NewRows(userColumnNames()), u)
}

func addUser(rows *pgxmock.Rows, u *domain.User) *pgxmock.Rows {
	var token *string
	if u.PasswordResetToken != "" {
		token = &u.PasswordResetToken
	}
	return rows.AddRow(
		u.ID, u.Name, u.Email, u.PasswordHash, u.Role,
		token, u.PasswordResetExpires, u.CreatedAt, u.UpdatedAt,
	)
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestUserRepository_Create_Success(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	u := sampleUser()

	mock.ExpectExec("INSERT INTO users").
		WithArgs(u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.CreatedAt, u.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.Create(context.Background(), u)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Create_DuplicateEmail(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	u := sampleUser()

	mock.ExpectExec("INSERT INTO users").
		WithArgs(u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.CreatedAt, u.UpdatedAt).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	err := repo.Create(context.Background(), u)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyExists), "expected ErrAlreadyExists, got: %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Create_DBError(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	u := sampleUser()

	mock.ExpectExec("INSERT INTO users").
		WithArgs(u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.CreatedAt, u.UpdatedAt).
		WillReturnError(fmt.Errorf("connection refused"))

	err := repo.Create(context.Background(), u)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert user")
	assert.False(t, errors.Is(err, apperrors.ErrAlreadyExists))
}

// ---------------------------------------------------------------------------
// Lookups
// ---------------------------------------------------------------------------

func TestUserRepository_GetByID_Success(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	u := sampleUser()

	mock.ExpectQuery("SELECT .+ FROM users WHERE id =").
		WithArgs(u.ID).
		WillReturnRows(userRow(u))

	got, err := repo.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, u.Name, got.Name)
	assert.Equal(t, u.Email, got.Email)
	assert.Empty(t, got.PasswordResetToken)
	assert.Nil(t, got.PasswordResetExpires)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM users WHERE id =").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.GetByID(context.Background(), "missing")
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetByID_MalformedID(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM users WHERE id =").
		WithArgs("not-a-uuid").
		WillReturnError(&pgconn.PgError{Code: "22P02"})

	got, err := repo.GetByID(context.Background(), "not-a-uuid")
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestUserRepository_GetByEmail_Success(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	u := sampleUser()

	mock.ExpectQuery("SELECT .+ FROM users WHERE email =").
		WithArgs(u.Email).
		WillReturnRows(userRow(u))

	got, err := repo.GetByEmail(context.Background(), u.Email)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, u.PasswordHash, got.PasswordHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetByEmail_DBError(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM users WHERE email =").
		WithArgs("a@b.com").
		WillReturnError(fmt.Errorf("timeout"))

	_, err := repo.GetByEmail(context.Background(), "a@b.com")
	require.Error(t, err)
	assert.False(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestUserRepository_GetByResetToken(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	expires := now.Add(5 * time.Minute)
	u := sampleUser()
	u.PasswordResetToken = "hash-of-secret"
	u.PasswordResetExpires = &expires

	mock.ExpectQuery("SELECT .+ FROM users WHERE password_reset_token = .+ AND password_reset_expires >").
		WithArgs("hash-of-secret", now).
		WillReturnRows(userRow(u))

	got, err := repo.GetByResetToken(context.Background(), "hash-of-secret", now)
	require.NoError(t, err)
	assert.Equal(t, "hash-of-secret", got.PasswordResetToken)
	require.NotNil(t, got.PasswordResetExpires)
	assert.True(t, got.HasPendingReset(now))

	mock.ExpectQuery("SELECT .+ FROM users WHERE password_reset_token").
		WithArgs("expired", now).
		WillReturnError(pgx.ErrNoRows)

	_, err = repo.GetByResetToken(context.Background(), "expired", now)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func TestUserRepository_List(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	a := sampleUser()
	b := sampleUser()
	b.ID = "5a1e2c3d-0000-4000-8000-000000000002"
	b.Email = "bob@example.com"

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery("SELECT .+ FROM users ORDER BY created_at, id LIMIT").
		WithArgs(2, 10).
		WillReturnRows(addUser(userRow(a), b))

	users, total, err := repo.List(context.Background(), 10, 2)
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	require.Len(t, users, 2)
	assert.Equal(t, "bob@example.com", users[1].Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_List_Empty(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT .+ FROM users ORDER BY").
		WithArgs(20, 0).
		WillReturnRows(pgxmock.NewRows(userColumnNames()))

	users, total, err := repo.List(context.Background(), 0, 20)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.NotNil(t, users)
	assert.Empty(t, users)
}

func TestUserRepository_List_CountError(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT COUNT").WillReturnError(fmt.Errorf("boom"))

	_, _, err := repo.List(context.Background(), 0, 20)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count users")
}

// ---------------------------------------------------------------------------
// UpdateRole
// ---------------------------------------------------------------------------

func TestUserRepository_UpdateRole_Success(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	u := sampleUser()
	u.Role = domain.RoleAdmin

	mock.ExpectQuery("UPDATE users SET role = .+ RETURNING").
		WithArgs(domain.RoleAdmin, pgxmock.AnyArg(), u.ID).
		WillReturnRows(userRow(u))

	got, err := repo.UpdateRole(context.Background(), u.ID, domain.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, got.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_UpdateRole_NotFound(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("UPDATE users SET role").
		WithArgs(domain.RoleAdmin, pgxmock.AnyArg(), "missing").
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.UpdateRole(context.Background(), "missing", domain.RoleAdmin)
	assert.Nil(t, got)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.Equal(t, "User not found", apperrors.PublicMessage(err, ""))
}

// ---------------------------------------------------------------------------
// Password reset
// ---------------------------------------------------------------------------

func TestUserRepository_SetPasswordReset(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	expires := time.Now().Add(10 * time.Minute)

	mock.ExpectExec("UPDATE users SET password_reset_token = .+, password_reset_expires =").
		WithArgs("hash", expires, pgxmock.AnyArg(), "u-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	assert.NoError(t, repo.SetPasswordReset(context.Background(), "u-1", "hash", expires))

	mock.ExpectExec("UPDATE users SET password_reset_token").
		WithArgs("hash", expires, pgxmock.AnyArg(), "gone").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.SetPasswordReset(context.Background(), "gone", "hash", expires)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_ClearPasswordReset(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE users SET password_reset_token = NULL, password_reset_expires = NULL").
		WithArgs(pgxmock.AnyArg(), "u-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	assert.NoError(t, repo.ClearPasswordReset(context.Background(), "u-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_ResetPassword_Success(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET password_hash = .+ WHERE id = .+ AND password_reset_token = .+ AND password_reset_expires >").
		WithArgs("new-hash", now, "u-1", "token-hash", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("DELETE FROM refresh_tokens WHERE user_id =").
		WithArgs("u-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCommit()

	err := repo.ResetPassword(context.Background(), "u-1", "token-hash", "new-hash", now)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_ResetPassword_TokenAlreadyConsumed(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET password_hash").
		WithArgs("new-hash", now, "u-1", "token-hash", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := repo.ResetPassword(context.Background(), "u-1", "token-hash", "new-hash", now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_ResetPassword_RevokeFailsRollsBack(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET password_hash").
		WithArgs("new-hash", now, "u-1", "token-hash", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("DELETE FROM refresh_tokens").
		WithArgs("u-1").
		WillReturnError(fmt.Errorf("deadlock"))
	mock.ExpectRollback()

	err := repo.ResetPassword(context.Background(), "u-1", "token-hash", "new-hash", now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "revoke refresh tokens")
	assert.NoError(t, mock.ExpectationsWereMet())
}
