// Package throttle limits how often a password reset can be requested for
// one address.
package throttle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/utafrali/authservice/internal/domain"
)

const keyPrefix = "auth:reset:"

// Throttle decides whether a reset email may be sent for an address.
type Throttle interface {
	// Allow reports whether a new request may proceed and starts the
	// cooldown when it does. On a backend error it returns true together
	// with the error.
	Allow(ctx context.Context, email string) (bool, error)
	// Release ends the cooldown early, e.g. when the email could not be sent.
	Release(ctx context.Context, email string) error
}

// RedisThrottle keeps one expiring key per address. Addresses are hashed so
// that no plain email is stored in Redis.
type RedisThrottle struct {
	client   goredis.Cmdable
	cooldown time.Duration
	logger   *slog.Logger
}

// NewRedisThrottle creates a Redis-backed throttle.
func NewRedisThrottle(client goredis.Cmdable, cooldown time.Duration, logger *slog.Logger) *RedisThrottle {
	return &RedisThrottle{client: client, cooldown: cooldown, logger: logger}
}

// Allow sets the cooldown key with SET NX PX. A key that already exists
// means a request was accepted within the cooldown.
func (t *RedisThrottle) Allow(ctx context.Context, email string) (bool, error) {
	if t.cooldown <= 0 {
		return true, nil
	}

	err := t.client.SetArgs(ctx, Key(email), time.Now().UTC().Format(time.RFC3339), goredis.SetArgs{
		Mode: "NX",
		TTL:  t.cooldown,
	}).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, goredis.Nil):
		t.logger.DebugContext(ctx, "password reset throttled", slog.Duration("cooldown", t.cooldown))
		return false, nil
	default:
		return true, fmt.Errorf("set reset cooldown: %w", err)
	}
}

// Release deletes the cooldown key.
func (t *RedisThrottle) Release(ctx context.Context, email string) error {
	if err := t.client.Del(ctx, Key(email)).Err(); err != nil {
		return fmt.Errorf("release reset cooldown: %w", err)
	}
	return nil
}

// Key returns the Redis key for an address.
func Key(email string) string {
	sum := sha256.Sum256([]byte(domain.NormalizeEmail(email)))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Noop allows every request. It is used when Redis is disabled.
type Noop struct{}

func (Noop) Allow(context.Context, string) (bool, error) { return true, nil }
func (Noop) Release(context.Context, string) error       { return nil }

var (
	_ Throttle = (*RedisThrottle)(nil)
	_ Throttle = Noop{}
)
