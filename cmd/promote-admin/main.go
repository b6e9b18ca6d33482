// Command promote-admin grants the admin role to an existing user.
//
// Usage:
//
//	promote-admin <email>
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/utafrali/authservice/internal/config"
	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/internal/repository"
	"github.com/utafrali/authservice/internal/repository/postgres"
	"github.com/utafrali/authservice/pkg/database"
	apperrors "github.com/utafrali/authservice/pkg/errors"
	"github.com/utafrali/authservice/pkg/logger"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: promote-admin <email>")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New("promote-admin", cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to postgres: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := promote(ctx, postgres.NewUserRepository(pool), os.Args[1], os.Stdout, log); err != nil {
		fmt.Fprintln(os.Stderr, err)
		pool.Close()
		os.Exit(1)
	}
}

// promote gives the user with email the admin role. A user who already is
// an admin is left unchanged.
func promote(ctx context.Context, users repository.UserRepository, email string, out io.Writer, log *slog.Logger) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return errors.New("email is required")
	}

	user, err := users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("user with email %s not found", email)
		}
		return fmt.Errorf("look up user: %w", err)
	}

	if user.IsAdmin() {
		fmt.Fprintf(out, "User %s is already an admin\n", user.Email)
		return nil
	}

	updated, err := users.UpdateRole(ctx, user.ID, domain.RoleAdmin)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	log.InfoContext(ctx, "user promoted to admin", slog.String("user_id", updated.ID))

	fmt.Fprintln(out, "User promoted to admin successfully")
	fmt.Fprintf(out, "  Name:  %s\n  Email: %s\n  Role:  %s\n", updated.Name, updated.Email, updated.Role)
	return nil
}
