package throttle

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestThrottle(t *testing.T, cooldown time.Duration) (*RedisThrottle, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisThrottle(client, cooldown, slog.New(slog.NewTextHandler(io.Discard, nil))), mr
}

func TestRedisThrottle_CooldownPerAddress(t *testing.T) {
	th, mr := setupTestThrottle(t, time.Minute)
	ctx := context.Background()

	ok, err := th.Allow(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = th.Allow(ctx, "  ALICE@example.com ")
	require.NoError(t, err)
	assert.False(t, ok, "same address after normalization is throttled")

	ok, err = th.Allow(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(61 * time.Second)

	ok, err = th.Allow(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, ok, "cooldown elapsed")
}

func TestRedisThrottle_KeyIsHashedAndExpires(t *testing.T) {
	th, mr := setupTestThrottle(t, 30*time.Second)

	_, err := th.Allow(context.Background(), "alice@example.com")
	require.NoError(t, err)

	key := Key("alice@example.com")
	assert.True(t, strings.HasPrefix(key, "auth:reset:"))
	assert.NotContains(t, key, "alice")
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 30*time.Second, mr.TTL(key))
}

func TestRedisThrottle_Release(t *testing.T) {
	th, _ := setupTestThrottle(t, time.Minute)
	ctx := context.Background()

	ok, _ := th.Allow(ctx, "alice@example.com")
	require.True(t, ok)
	require.NoError(t, th.Release(ctx, "alice@example.com"))

	ok, err := th.Allow(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisThrottle_FailsOpen(t *testing.T) {
	th, mr := setupTestThrottle(t, time.Minute)
	mr.Close()

	ok, err := th.Allow(context.Background(), "alice@example.com")
	assert.True(t, ok)
	assert.Error(t, err)
}

func TestRedisThrottle_ZeroCooldownDisables(t *testing.T) {
	th, mr := setupTestThrottle(t, 0)

	for i := 0; i < 3; i++ {
		ok, err := th.Allow(context.Background(), "alice@example.com")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.False(t, mr.Exists(Key("alice@example.com")))
}

func TestNoop(t *testing.T) {
	var th Throttle = Noop{}
	ok, err := th.Allow(context.Background(), "a@b.c")
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.NoError(t, th.Release(context.Background(), "a@b.c"))
}
