package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/pkg/database"
)

// RefreshTokenRepository implements repository.RefreshTokenRepository using PostgreSQL.
type RefreshTokenRepository struct {
	db database.DBTX
}

// NewRefreshTokenRepository creates a new PostgreSQL-backed refresh token repository.
func NewRefreshTokenRepository(db database.DBTX) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Add stores a refresh token hash for the user.
func (r *RefreshTokenRepository) Add(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	query := `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, token_hash) DO NOTHING`

	ctx, end := database.TraceQuery(ctx, "refresh_tokens.Add", query)
	_, err := r.db.Exec(ctx, query, userID, tokenHash, expiresAt)
	end(err)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// Exists checks whether an unexpired token hash belongs to the user.
func (r *RefreshTokenRepository) Exists(ctx context.Context, userID, tokenHash string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM refresh_tokens WHERE user_id = $1 AND token_hash = $2 AND expires_at > NOW())`

	ctx, end := database.TraceQuery(ctx, "refresh_tokens.Exists", query)
	var exists bool
	err := r.db.QueryRow(ctx, query, userID, tokenHash).Scan(&exists)
	end(err)
	if err != nil {
		return false, fmt.Errorf("check refresh token exists: %w", err)
	}
	return exists, nil
}

// Remove deletes a single token hash of the user.
func (r *RefreshTokenRepository) Remove(ctx context.Context, userID, tokenHash string) error {
	query := `DELETE FROM refresh_tokens WHERE user_id = $1 AND token_hash = $2`

	ctx, end := database.TraceQuery(ctx, "refresh_tokens.Remove", query)
	_, err := r.db.Exec(ctx, query, userID, tokenHash)
	end(err)
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// RemoveAll deletes every token of the user.
func (r *RefreshTokenRepository) RemoveAll(ctx context.Context, userID string) error {
	query := `DELETE FROM refresh_tokens WHERE user_id = $1`

	ctx, end := database.TraceQuery(ctx, "refresh_tokens.RemoveAll", query)
	_, err := r.db.Exec(ctx, query, userID)
	end(err)
	if err != nil {
		return fmt.Errorf("delete refresh tokens: %w", err)
	}
	return nil
}

// ListByUserID returns the user's unexpired tokens, oldest first.
func (r *RefreshTokenRepository) ListByUserID(ctx context.Context, userID string) ([]domain.RefreshToken, error) {
	query := `
		SELECT id, user_id, token_hash, expires_at, created_at
		FROM refresh_tokens
		WHERE user_id = $1 AND expires_at > NOW()
		ORDER BY created_at, id`

	ctx, end := database.TraceQuery(ctx, "refresh_tokens.ListByUserID", query)
	tokens, err := r.list(ctx, query, userID)
	end(err)
	return tokens, err
}

func (r *RefreshTokenRepository) list(ctx context.Context, query string, args ...any) ([]domain.RefreshToken, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list refresh tokens: %w", err)
	}
	defer rows.Close()

	tokens := []domain.RefreshToken{}
	for rows.Next() {
		var t domain.RefreshToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan refresh token: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh token rows: %w", err)
	}
	return tokens, nil
}
