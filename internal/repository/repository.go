package repository

import (
	"context"
	"time"

	"github.com/utafrali/authservice/internal/domain"
)

// UserRepository defines the interface for user persistence operations.
type UserRepository interface {
	// Create inserts a new user into the store.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail retrieves a user by their normalized email address.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// List returns one page of users ordered by creation time and the total count.
	List(ctx context.Context, offset, limit int) ([]domain.User, int, error)

	// UpdateRole sets the role of a user and returns the updated record.
	UpdateRole(ctx context.Context, id, role string) (*domain.User, error)

	// SetPasswordReset stores the hash of a reset secret and its expiry.
	SetPasswordReset(ctx context.Context, id, tokenHash string, expiresAt time.Time) error

	// ClearPasswordReset removes any pending reset secret.
	ClearPasswordReset(ctx context.Context, id string) error

	// GetByResetToken finds the user whose reset secret hash matches and
	// has not expired at now.
	GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (*domain.User, error)

	// ResetPassword replaces the password, consumes the reset secret and
	// revokes every refresh token of the user atomically. It fails with
	// ErrNotFound when the secret was already consumed or has expired.
	ResetPassword(ctx context.Context, id, tokenHash, passwordHash string, now time.Time) error
}

// RefreshTokenRepository defines the interface for refresh token persistence.
// Each method is a single atomic statement, so concurrent logins and logouts
// on different devices never overwrite each other.
type RefreshTokenRepository interface {
	// Add appends a token hash to the user's active set.
	Add(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error

	// Exists reports whether the hash is in the user's active, unexpired set.
	Exists(ctx context.Context, userID, tokenHash string) (bool, error)

	// Remove deletes one token hash. Removing an absent hash is not an error.
	Remove(ctx context.Context, userID, tokenHash string) error

	// RemoveAll deletes every token of the user.
	RemoveAll(ctx context.Context, userID string) error

	// ListByUserID returns the user's unexpired tokens, oldest first.
	ListByUserID(ctx context.Context, userID string) ([]domain.RefreshToken, error)
}
