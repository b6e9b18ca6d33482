//go:build integration

package session_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/authservice/internal/session"
	apperrors "github.com/utafrali/authservice/pkg/errors"
	"github.com/utafrali/authservice/pkg/pagination"
)

// These tests drive a running auth-service. Set AUTH_API_URL to point them
// elsewhere; they are skipped when the service is unreachable. The suite
// makes more public calls than the default RATE_LIMIT_BURST allows, so run
// the server with a larger burst.

func apiURL() string {
	if u := os.Getenv("AUTH_API_URL"); u != "" {
		return u
	}
	return "http://localhost:5000/api/auth"
}

// healthURL is the liveness endpoint of the server behind apiURL.
func healthURL(t *testing.T) string {
	t.Helper()
	u, err := url.Parse(apiURL())
	require.NoError(t, err)
	u.Path = "/health/live"
	u.RawQuery = ""
	return u.String()
}

func skipIfNotRunning(t *testing.T) {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(healthURL(t))
	if err != nil {
		t.Skipf("auth-service not reachable at %s: %v", apiURL(), err)
	}
	resp.Body.Close()
}

// resume starts a new session from previously issued tokens.
func resume(t *testing.T, tokens session.Tokens) *session.Session {
	t.Helper()
	store := &session.MemoryStore{}
	require.NoError(t, store.Save(tokens))
	sess := session.New(apiURL(), store)
	require.NoError(t, sess.Init(context.Background()))
	return sess
}

// requireRefreshRejected asserts the refresh token of tokens no longer works.
func requireRefreshRejected(t *testing.T, tokens session.Tokens) {
	t.Helper()
	sess := resume(t, tokens)
	err := sess.RefreshAccessToken(context.Background())
	require.Error(t, err)

	var apiErr *session.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func uniqueEmail(prefix string) string {
	return fmt.Sprintf("%s-%d-%d@test.example.com", prefix, time.Now().UnixNano(), rand.Intn(100000))
}

func TestIntegration_AccountLifecycle(t *testing.T) {
	skipIfNotRunning(t)
	ctx := context.Background()

	email := uniqueEmail("lifecycle")
	sess := session.New(apiURL(), &session.MemoryStore{})
	require.NoError(t, sess.Init(ctx))

	_, err := sess.Register(ctx, "Integration", email, "TestPass123!")
	require.NoError(t, err)
	require.True(t, sess.IsAuthenticated())
	assert.Equal(t, email, sess.User().Email)

	profile, err := sess.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user", profile.User.Role)
	assert.Equal(t, 1, profile.ActiveSessions)

	require.NoError(t, sess.Login(ctx, email, "TestPass123!"))
	old := sess.Tokens()

	require.NoError(t, sess.RefreshAccessToken(ctx))
	assert.Equal(t, old.RefreshToken, sess.Tokens().RefreshToken)

	require.NoError(t, sess.Logout(ctx))
	assert.False(t, sess.IsAuthenticated())

	requireRefreshRejected(t, old)
}

func TestIntegration_LogoutAllDevices(t *testing.T) {
	skipIfNotRunning(t)
	ctx := context.Background()

	email := uniqueEmail("logoutall")
	first := session.New(apiURL(), &session.MemoryStore{})
	_, err := first.Register(ctx, "Many Devices", email, "TestPass123!")
	require.NoError(t, err)

	second := session.New(apiURL(), &session.MemoryStore{})
	require.NoError(t, second.Login(ctx, email, "TestPass123!"))
	third := session.New(apiURL(), &session.MemoryStore{})
	require.NoError(t, third.Login(ctx, email, "TestPass123!"))

	profile, err := third.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, profile.ActiveSessions)

	issued := []session.Tokens{first.Tokens(), second.Tokens(), third.Tokens()}

	// An empty body revokes every refresh token of the user.
	require.NoError(t, third.Do(ctx, http.MethodPost, "/logout", nil, nil))

	for _, tokens := range issued {
		requireRefreshRejected(t, tokens)
	}
}

func TestIntegration_DuplicateRegistration(t *testing.T) {
	skipIfNotRunning(t)
	ctx := context.Background()

	email := uniqueEmail("dup")
	first := session.New(apiURL(), &session.MemoryStore{})
	_, err := first.Register(ctx, "First", email, "TestPass123!")
	require.NoError(t, err)

	second := session.New(apiURL(), &session.MemoryStore{})
	_, err = second.Register(ctx, "Second", email, "TestPass123!")
	require.Error(t, err)

	var apiErr *session.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "User already exists with this email", apiErr.Message)
}

func TestIntegration_LoginWrongPassword(t *testing.T) {
	skipIfNotRunning(t)
	ctx := context.Background()

	email := uniqueEmail("badpw")
	sess := session.New(apiURL(), &session.MemoryStore{})
	_, err := sess.Register(ctx, "Bad Password", email, "TestPass123!")
	require.NoError(t, err)
	require.NoError(t, sess.Logout(ctx))

	err = sess.Login(ctx, email, "WrongPass999!")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.False(t, sess.IsAuthenticated())
}

func TestIntegration_ForgotPasswordUnknownEmail(t *testing.T) {
	skipIfNotRunning(t)

	sess := session.New(apiURL(), &session.MemoryStore{})
	msg, err := sess.ForgotPassword(context.Background(), uniqueEmail("ghost"))
	require.NoError(t, err)
	assert.NotEmpty(t, msg)
}

func TestIntegration_AdminRoutesRequireAdmin(t *testing.T) {
	skipIfNotRunning(t)
	ctx := context.Background()

	sess := session.New(apiURL(), &session.MemoryStore{})
	_, err := sess.Register(ctx, "Plain User", uniqueEmail("plain"), "TestPass123!")
	require.NoError(t, err)

	_, err = sess.ListUsers(ctx, pagination.DefaultParams())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}
