package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/pkg/database"
	apperrors "github.com/utafrali/authservice/pkg/errors"
)

const userColumns = `id, name, email, password_hash, role, password_reset_token, password_reset_expires, created_at, updated_at`

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db database.DBTX
}

// NewUserRepository creates a new PostgreSQL-backed user repository.
func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user into the database.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (id, name, email, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	ctx, end := database.TraceQuery(ctx, "users.Create", query)
	_, err := r.db.Exec(ctx, query,
		u.ID,
		u.Name,
		u.Email,
		u.PasswordHash,
		u.Role,
		u.CreatedAt,
		u.UpdatedAt,
	)
	end(err)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("user", "email", u.Email)
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by their ID. A malformed ID is reported as not found.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.queryUser(ctx, "users.GetByID", query, id)
}

// GetByEmail retrieves a user by their email address.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.queryUser(ctx, "users.GetByEmail", query, email)
}

// GetByResetToken retrieves the user holding an unexpired reset token hash.
func (r *UserRepository) GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE password_reset_token = $1 AND password_reset_expires > $2`
	return r.queryUser(ctx, "users.GetByResetToken", query, tokenHash, now)
}

// List returns a page of users ordered by creation time and the total count.
func (r *UserRepository) List(ctx context.Context, offset, limit int) ([]domain.User, int, error) {
	countQuery := `SELECT COUNT(*) FROM users`

	cctx, end := database.TraceQuery(ctx, "users.Count", countQuery)
	var total int
	err := r.db.QueryRow(cctx, countQuery).Scan(&total)
	end(err)
	if err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at, id LIMIT $1 OFFSET $2`

	lctx, end := database.TraceQuery(ctx, "users.List", query)
	users, err := r.listUsers(lctx, query, limit, offset)
	end(err)
	if err != nil {
		return nil, 0, err
	}

	return users, total, nil
}

func (r *UserRepository) listUsers(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user rows: %w", err)
	}
	return users, nil
}

// UpdateRole sets the role of a user in a single statement.
func (r *UserRepository) UpdateRole(ctx context.Context, id, role string) (*domain.User, error) {
	query := `
		UPDATE users SET role = $1, updated_at = $2
		WHERE id = $3
		RETURNING ` + userColumns

	u, err := r.queryUser(ctx, "users.UpdateRole", query, role, time.Now().UTC(), id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.NotFound("User not found")
	}
	return u, err
}

// SetPasswordReset stores a reset token hash and its expiry.
func (r *UserRepository) SetPasswordReset(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	query := `
		UPDATE users
		SET password_reset_token = $1, password_reset_expires = $2, updated_at = $3
		WHERE id = $4`

	return r.execOne(ctx, "users.SetPasswordReset", query, tokenHash, expiresAt, time.Now().UTC(), id)
}

// ClearPasswordReset removes a pending reset token.
func (r *UserRepository) ClearPasswordReset(ctx context.Context, id string) error {
	query := `
		UPDATE users
		SET password_reset_token = NULL, password_reset_expires = NULL, updated_at = $1
		WHERE id = $2`

	return r.execOne(ctx, "users.ClearPasswordReset", query, time.Now().UTC(), id)
}

// ResetPassword consumes the reset token, stores the new password hash and
// revokes every refresh token of the user within one transaction. The
// conditional update lets only one of several concurrent resets succeed.
func (r *UserRepository) ResetPassword(ctx context.Context, id, tokenHash, passwordHash string, now time.Time) (err error) {
	ctx, end := database.TraceQuery(ctx, "users.ResetPassword", "reset password transaction")
	defer func() {
		if errors.Is(err, apperrors.ErrNotFound) {
			end(nil)
			return
		}
		end(err)
	}()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE users
		SET password_hash = $1, password_reset_token = NULL, password_reset_expires = NULL, updated_at = $2
		WHERE id = $3 AND password_reset_token = $4 AND password_reset_expires > $5`,
		passwordHash, now.UTC(), id, tokenHash, now,
	)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	if _, err = tx.Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, id); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

func (r *UserRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	ctx, end := database.TraceQuery(ctx, op, query)
	ct, err := r.db.Exec(ctx, query, args...)
	end(err)
	if err != nil {
		if isInvalidText(err) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// queryUser executes a query expected to return a single user row.
func (r *UserRepository) queryUser(ctx context.Context, op, query string, args ...any) (*domain.User, error) {
	ctx, end := database.TraceQuery(ctx, op, query)
	u, err := scanUser(r.db.QueryRow(ctx, query, args...))
	if isInvalidText(err) {
		end(nil)
		return nil, apperrors.ErrNotFound
	}
	end(err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u          domain.User
		resetToken *string
	)
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&u.Role,
		&resetToken,
		&u.PasswordResetExpires,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if resetToken != nil {
		u.PasswordResetToken = *resetToken
	}
	return &u, nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	return hasSQLState(err, "23505")
}

// isInvalidText reports SQLSTATE 22P02, raised when a non-UUID string is
// compared against a UUID column.
func isInvalidText(err error) bool {
	return hasSQLState(err, "22P02")
}

func hasSQLState(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
