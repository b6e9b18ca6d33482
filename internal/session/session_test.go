package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/authservice/internal/domain"
	apperrors "github.com/utafrali/authservice/pkg/errors"
	"github.com/utafrali/authservice/pkg/httpclient"
	"github.com/utafrali/authservice/pkg/httputil"
	"github.com/utafrali/authservice/pkg/middleware"
	"github.com/utafrali/authservice/pkg/pagination"
	"github.com/utafrali/authservice/pkg/validator"
)

// fakeAPI is an in-memory auth API. Access tokens are accepted while listed
// in access; refresh tokens while listed in refresh.
type fakeAPI struct {
	mu             sync.Mutex
	user           domain.User
	access         map[string]bool
	refresh        map[string]bool
	nextAccess     string
	refreshCalls   int
	profileCalls   int
	logoutStatus   int
	refreshStatus  int
	loggedOutToken string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		user:       domain.User{ID: "u-1", Name: "Jane", Email: "jane@example.com", Role: domain.RoleUser},
		access:     map[string]bool{},
		refresh:    map[string]bool{},
		nextAccess: "access-2",
	}
}

func (f *fakeAPI) update(fn func(f *fakeAPI)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeAPI) calls() (refresh, profile int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls, f.profileCalls
}

func (f *fakeAPI) authorized(r *http.Request) bool {
	token, ok := middleware.BearerToken(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	return ok && f.access[token]
}

func (f *fakeAPI) routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "secret1" {
			httputil.WriteErrorWith(w, r, apperrors.Unauthorized("Invalid credentials"), "", nil,
				&domain.ErrorExplanation{Explanation: "Check your email and password."})
			return
		}
		f.mu.Lock()
		f.access["access-1"] = true
		f.refresh["refresh-1"] = true
		user := f.user
		f.mu.Unlock()
		httputil.WriteSuccess(w, http.StatusOK, "Login successful", map[string]any{
			"user": user, "accessToken": "access-1", "refreshToken": "refresh-1",
		})
	})
	r.Post("/api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body["password"]) < 6 {
			httputil.WriteValidationError(w, validator.NewFieldError("password", "Password must be at least 6 characters"))
			return
		}
		f.mu.Lock()
		f.access["access-1"] = true
		f.refresh["refresh-1"] = true
		user := f.user
		f.mu.Unlock()
		httputil.WriteSuccess(w, http.StatusCreated, "User registered successfully", map[string]any{
			"user": user, "accessToken": "access-1", "refreshToken": "refresh-1",
			"passwordFeedback": domain.PasswordFeedback{Strength: "weak", Score: 25},
		})
	})
	r.Post("/api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.refreshCalls++
		status := f.refreshStatus
		ok := f.refresh[body["refreshToken"]]
		next := f.nextAccess
		if ok && status == 0 {
			f.access[next] = true
		}
		f.mu.Unlock()
		if status != 0 {
			httputil.WriteMessage(w, status, http.StatusText(status))
			return
		}
		if !ok {
			httputil.WriteMessage(w, http.StatusUnauthorized, "Refresh token not found or already used")
			return
		}
		httputil.WriteSuccess(w, http.StatusOK, "Token refreshed successfully", map[string]string{"accessToken": next})
	})
	r.Get("/api/auth/profile", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.profileCalls++
		f.mu.Unlock()
		if !f.authorized(r) {
			httputil.WriteMessage(w, http.StatusUnauthorized, "Not authorized, token failed")
			return
		}
		f.mu.Lock()
		user := f.user
		f.mu.Unlock()
		httputil.WriteSuccess(w, http.StatusOK, "", map[string]any{"user": user, "activeSessions": 2})
	})
	r.Post("/api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.loggedOutToken = body["refreshToken"]
		status := f.logoutStatus
		f.mu.Unlock()
		if status != 0 {
			httputil.WriteMessage(w, status, "Server error during logout")
			return
		}
		httputil.WriteMessage(w, http.StatusOK, "Logged out successfully")
	})
	r.Get("/api/auth/admin/users", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			httputil.WriteMessage(w, http.StatusUnauthorized, "Not authorized, token failed")
			return
		}
		params := pagination.FromRequest(r)
		meta := pagination.NewMeta(3, params)
		httputil.WriteList(w, []domain.User{f.user}, &meta)
	})
	r.Post("/api/auth/forgot-password", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteMessage(w, http.StatusOK, "If that email exists, a password reset link has been sent")
	})
	return r
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupSession(t *testing.T, store TokenStore) (*Session, *fakeAPI) {
	t.Helper()
	api := newFakeAPI()
	srv := httptest.NewServer(api.routes())
	t.Cleanup(srv.Close)

	cfg := httpclient.DefaultConfig()
	cfg.MaxRetries = 0
	cfg.Timeout = 5 * time.Second

	s := New(srv.URL+"/api/auth", store,
		WithHTTPClient(httpclient.New(cfg)),
		WithLogger(testLogger()),
	)
	return s, api
}

// --- Login / Register ---

func TestLogin_StoresTokensAndUser(t *testing.T) {
	store := &MemoryStore{}
	s, _ := setupSession(t, store)

	require.NoError(t, s.Login(context.Background(), "jane@example.com", "secret1"))

	assert.True(t, s.IsAuthenticated())
	assert.Equal(t, "jane@example.com", s.User().Email)
	stored, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, Tokens{AccessToken: "access-1", RefreshToken: "refresh-1"}, stored)
	assert.Equal(t, stored, s.Tokens())
}

func TestLogin_RejectedCarriesExplanation(t *testing.T) {
	store := &MemoryStore{}
	s, _ := setupSession(t, store)

	err := s.Login(context.Background(), "jane@example.com", "wrong")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Invalid credentials", apiErr.Message)
	require.NotNil(t, apiErr.Explanation)
	assert.Equal(t, "Check your email and password.", apiErr.Explanation.Explanation)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.False(t, s.IsAuthenticated())
}

func TestRegister_ReturnsFeedback(t *testing.T) {
	s, _ := setupSession(t, &MemoryStore{})

	fb, err := s.Register(context.Background(), "Jane", "jane@example.com", "secret1")
	require.NoError(t, err)
	require.NotNil(t, fb)
	assert.Equal(t, "weak", fb.Strength)
	assert.True(t, s.IsAuthenticated())
}

func TestRegister_ValidationErrors(t *testing.T) {
	s, _ := setupSession(t, &MemoryStore{})

	_, err := s.Register(context.Background(), "Jane", "jane@example.com", "1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	require.Len(t, apiErr.Errors, 1)
	assert.Equal(t, "password", apiErr.Errors[0].Field)
	assert.Equal(t, "Password must be at least 6 characters", apiErr.Error())
}

// --- Init ---

func TestInit_RestoresValidSession(t *testing.T) {
	store := &MemoryStore{}
	require.NoError(t, store.Save(Tokens{AccessToken: "access-1", RefreshToken: "refresh-1"}))
	s, api := setupSession(t, store)
	api.update(func(f *fakeAPI) { f.access["access-1"] = true })

	assert.True(t, s.Loading())
	require.NoError(t, s.Init(context.Background()))
	assert.False(t, s.Loading())

	assert.True(t, s.IsAuthenticated())
	assert.Equal(t, "u-1", s.User().ID)
	refreshCalls, _ := api.calls()
	assert.Equal(t, 0, refreshCalls)
}

func TestInit_RefreshesExpiredAccessTokenOnce(t *testing.T) {
	store := &MemoryStore{}
	require.NoError(t, store.Save(Tokens{AccessToken: "expired", RefreshToken: "refresh-1"}))
	s, api := setupSession(t, store)
	api.update(func(f *fakeAPI) { f.refresh["refresh-1"] = true })

	require.NoError(t, s.Init(context.Background()))

	assert.True(t, s.IsAuthenticated())
	refreshCalls, profileCalls := api.calls()
	assert.Equal(t, 1, refreshCalls)
	assert.Equal(t, 2, profileCalls)
	stored, _ := store.Load()
	assert.Equal(t, Tokens{AccessToken: "access-2", RefreshToken: "refresh-1"}, stored)
}

func TestInit_ClearsUnrecoverableSession(t *testing.T) {
	store := &MemoryStore{}
	require.NoError(t, store.Save(Tokens{AccessToken: "expired", RefreshToken: "revoked"}))
	s, api := setupSession(t, store)

	require.NoError(t, s.Init(context.Background()))

	assert.False(t, s.IsAuthenticated())
	assert.Nil(t, s.User())
	refreshCalls, _ := api.calls()
	assert.Equal(t, 1, refreshCalls)
	stored, _ := store.Load()
	assert.True(t, stored.Empty())
	assert.False(t, s.Loading())
}

func TestInit_NoStoredTokens(t *testing.T) {
	s, api := setupSession(t, &MemoryStore{})

	require.NoError(t, s.Init(context.Background()))
	assert.False(t, s.IsAuthenticated())
	_, profileCalls := api.calls()
	assert.Equal(t, 0, profileCalls)
}

// --- Do / silent refresh ---

func TestDo_SilentRefreshRetriesOnce(t *testing.T) {
	store := &MemoryStore{}
	s, api := setupSession(t, store)
	require.NoError(t, s.Login(context.Background(), "jane@example.com", "secret1"))

	// Expire the access token server side.
	api.update(func(f *fakeAPI) { delete(f.access, "access-1") })

	p, err := s.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, p.ActiveSessions)
	refreshCalls, _ := api.calls()
	assert.Equal(t, 1, refreshCalls)
	assert.Equal(t, "access-2", s.Tokens().AccessToken)
}

func TestDo_FailedRefreshEndsSession(t *testing.T) {
	store := &MemoryStore{}
	s, api := setupSession(t, store)
	require.NoError(t, s.Login(context.Background(), "jane@example.com", "secret1"))

	api.update(func(f *fakeAPI) {
		delete(f.access, "access-1")
		delete(f.refresh, "refresh-1")
	})

	_, err := s.Profile(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	refreshCalls, _ := api.calls()
	assert.Equal(t, 1, refreshCalls)
	assert.False(t, s.IsAuthenticated())
	stored, _ := store.Load()
	assert.True(t, stored.Empty())
}

func TestDo_TransientRefreshFailureKeepsSession(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			store := &MemoryStore{}
			s, api := setupSession(t, store)
			require.NoError(t, s.Login(context.Background(), "jane@example.com", "secret1"))

			api.update(func(f *fakeAPI) {
				delete(f.access, "access-1")
				f.refreshStatus = status
			})

			_, err := s.Profile(context.Background())
			require.Error(t, err)

			want := Tokens{AccessToken: "access-1", RefreshToken: "refresh-1"}
			assert.Equal(t, want, s.Tokens())
			stored, _ := store.Load()
			assert.Equal(t, want, stored)
			assert.NotNil(t, s.User())
		})
	}
}

func TestInit_TransientRefreshFailureKeepsStoredTokens(t *testing.T) {
	store := &MemoryStore{}
	saved := Tokens{AccessToken: "expired", RefreshToken: "refresh-1"}
	require.NoError(t, store.Save(saved))
	s, api := setupSession(t, store)
	api.update(func(f *fakeAPI) {
		f.refresh["refresh-1"] = true
		f.refreshStatus = http.StatusTooManyRequests
	})

	require.NoError(t, s.Init(context.Background()))

	assert.False(t, s.IsAuthenticated())
	stored, _ := store.Load()
	assert.Equal(t, saved, stored)
	assert.False(t, s.Loading())
}

func TestDo_NotAuthenticated(t *testing.T) {
	s, _ := setupSession(t, &MemoryStore{})

	_, err := s.Profile(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

// --- Logout ---

func TestLogout_SendsRefreshTokenAndClears(t *testing.T) {
	store := &MemoryStore{}
	s, api := setupSession(t, store)
	require.NoError(t, s.Login(context.Background(), "jane@example.com", "secret1"))

	require.NoError(t, s.Logout(context.Background()))

	api.update(func(f *fakeAPI) { assert.Equal(t, "refresh-1", f.loggedOutToken) })
	assert.False(t, s.IsAuthenticated())
	stored, _ := store.Load()
	assert.True(t, stored.Empty())
}

func TestLogout_ClearsEvenWhenServerFails(t *testing.T) {
	store := &MemoryStore{}
	s, api := setupSession(t, store)
	require.NoError(t, s.Login(context.Background(), "jane@example.com", "secret1"))
	api.update(func(f *fakeAPI) { f.logoutStatus = http.StatusInternalServerError })

	err := s.Logout(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Server error during logout")

	assert.False(t, s.IsAuthenticated())
	stored, _ := store.Load()
	assert.True(t, stored.Empty())
}

// --- Other operations ---

func TestListUsers(t *testing.T) {
	s, _ := setupSession(t, &MemoryStore{})
	require.NoError(t, s.Login(context.Background(), "jane@example.com", "secret1"))

	list, err := s.ListUsers(context.Background(), pagination.New(1, 2))
	require.NoError(t, err)
	assert.Equal(t, 1, list.Count)
	require.NotNil(t, list.Pagination)
	assert.Equal(t, 3, list.Pagination.Total)
	assert.Equal(t, 2, list.Pagination.PerPage)
}

func TestForgotPassword(t *testing.T) {
	s, _ := setupSession(t, &MemoryStore{})

	msg, err := s.ForgotPassword(context.Background(), "anyone@example.com")
	require.NoError(t, err)
	assert.Equal(t, "If that email exists, a password reset link has been sent", msg)
}

// --- Stores ---

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	store := NewFileStore(path)

	empty, err := store.Load()
	require.NoError(t, err)
	assert.True(t, empty.Empty())

	want := Tokens{AccessToken: "a", RefreshToken: "r"}
	require.NoError(t, store.Save(want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := NewFileStore(path).Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())
	got, err = store.Load()
	require.NoError(t, err)
	assert.True(t, got.Empty())
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode token file")
}

type failingStore struct{ MemoryStore }

func (*failingStore) Save(Tokens) error { return errors.New("disk full") }

func TestLogin_StoreFailureLeavesStateUntouched(t *testing.T) {
	s, _ := setupSession(t, &failingStore{})

	err := s.Login(context.Background(), "jane@example.com", "secret1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, s.IsAuthenticated())
	assert.Empty(t, s.Tokens().AccessToken)
}
