// Package session is a client for the auth API that keeps the signed-in
// user and its tokens, persisting the tokens through a TokenStore.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/pkg/httpclient"
	"github.com/utafrali/authservice/pkg/pagination"
	"github.com/utafrali/authservice/pkg/validator"
)

const maxResponseBytes = 1 << 20

// Session is one client session against the auth API. It is safe for
// concurrent use.
type Session struct {
	baseURL string
	client  httpclient.Doer
	store   TokenStore
	logger  *slog.Logger

	refreshGroup singleflight.Group

	mu      sync.RWMutex
	user    *domain.User
	tokens  Tokens
	loading bool
}

// Option configures a Session.
type Option func(*Session)

// WithHTTPClient sets the client used for API calls.
func WithHTTPClient(c httpclient.Doer) Option {
	return func(s *Session) { s.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// New creates a session for the API rooted at baseURL, e.g.
// "http://localhost:5000/api/auth". The session reports Loading until Init
// returns.
func New(baseURL string, store TokenStore, opts ...Option) *Session {
	s := &Session{
		baseURL: strings.TrimRight(baseURL, "/"),
		store:   store,
		logger:  slog.Default(),
		loading: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		cfg := httpclient.DefaultConfig()
		cfg.Timeout = 15 * time.Second
		cfg.UserAgent = "authctl"
		s.client = httpclient.New(cfg)
	}
	return s
}

// --- State ---

// User returns a copy of the signed-in user, or nil.
func (s *Session) User() *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Tokens returns the tokens currently held.
func (s *Session) Tokens() Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

// IsAuthenticated reports whether a user is signed in.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil && s.tokens.AccessToken != ""
}

// Loading reports whether Init is still restoring the session.
func (s *Session) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// setTokens persists t and then mirrors it in memory. A nil user keeps the
// current one.
func (s *Session) setTokens(t Tokens, user *domain.User) error {
	if err := s.store.Save(t); err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}
	s.mu.Lock()
	s.tokens = t
	if user != nil {
		s.user = user
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) setUser(user *domain.User) {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
}

// clear drops the session from memory and from the store.
func (s *Session) clear() error {
	s.mu.Lock()
	s.user = nil
	s.tokens = Tokens{}
	s.mu.Unlock()
	if err := s.store.Clear(); err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}
	return nil
}

// --- Lifecycle ---

// Init restores a stored session. With a stored access token it fetches the
// profile; if that fails it refreshes the access token once and retries.
// When the refresh token is rejected all state is cleared; when the refresh
// fails for another reason the stored tokens are kept for the next attempt.
// Only a failing store is reported as an error.
func (s *Session) Init(ctx context.Context) error {
	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	tokens, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}
	if tokens.AccessToken == "" {
		return nil
	}

	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()

	if _, err := s.fetchProfile(ctx); err == nil {
		return nil
	}

	if err := s.refresh(ctx); err != nil {
		s.logger.DebugContext(ctx, "stored session could not be refreshed", slog.String("error", err.Error()))
		if tokenRejected(err) {
			return s.clear()
		}
		return nil
	}

	if _, err := s.fetchProfile(ctx); err != nil {
		s.logger.DebugContext(ctx, "stored session rejected", slog.String("error", err.Error()))
		return s.clear()
	}
	return nil
}

// --- Auth Operations ---

type authData struct {
	User             *domain.User             `json:"user"`
	AccessToken      string                   `json:"accessToken"`
	RefreshToken     string                   `json:"refreshToken"`
	PasswordFeedback *domain.PasswordFeedback `json:"passwordFeedback,omitempty"`
}

// Register creates an account and signs in. The password feedback is nil
// when the server provided none.
func (s *Session) Register(ctx context.Context, name, email, password string) (*domain.PasswordFeedback, error) {
	var data authData
	body := map[string]string{"name": name, "email": email, "password": password}
	if _, err := s.call(ctx, http.MethodPost, "/register", body, "", &data); err != nil {
		return nil, err
	}
	if err := s.setTokens(Tokens{AccessToken: data.AccessToken, RefreshToken: data.RefreshToken}, data.User); err != nil {
		return nil, err
	}
	return data.PasswordFeedback, nil
}

// Login signs in with email and password. A rejected login is an *APIError
// whose Explanation may carry guidance.
func (s *Session) Login(ctx context.Context, email, password string) error {
	var data authData
	body := map[string]string{"email": email, "password": password}
	if _, err := s.call(ctx, http.MethodPost, "/login", body, "", &data); err != nil {
		return err
	}
	return s.setTokens(Tokens{AccessToken: data.AccessToken, RefreshToken: data.RefreshToken}, data.User)
}

// Logout ends the session on the server and always clears local state. The
// server error, if any, is returned after local state is gone.
func (s *Session) Logout(ctx context.Context) error {
	tokens := s.Tokens()

	var serverErr error
	if tokens.AccessToken != "" {
		body := map[string]string{"refreshToken": tokens.RefreshToken}
		if _, err := s.do(ctx, http.MethodPost, "/logout", body, nil); err != nil {
			serverErr = fmt.Errorf("server logout: %w", err)
		}
	}

	if err := s.clear(); err != nil {
		return errors.Join(serverErr, err)
	}
	return serverErr
}

// RefreshAccessToken exchanges the refresh token for a new access token. A
// rejected refresh token ends the session. Other failures, such as a rate
// limit or a server error, leave the session as it was.
func (s *Session) RefreshAccessToken(ctx context.Context) error {
	return s.refresh(ctx)
}

// refresh runs at most one refresh at a time; concurrent callers share it.
func (s *Session) refresh(ctx context.Context) error {
	_, err, _ := s.refreshGroup.Do("refresh", func() (any, error) {
		tokens := s.Tokens()
		if tokens.RefreshToken == "" {
			return nil, ErrNotAuthenticated
		}

		var data struct {
			AccessToken string `json:"accessToken"`
		}
		body := map[string]string{"refreshToken": tokens.RefreshToken}
		if _, err := s.call(ctx, http.MethodPost, "/refresh", body, "", &data); err != nil {
			if tokenRejected(err) {
				if cerr := s.clear(); cerr != nil {
					return nil, errors.Join(err, cerr)
				}
			}
			return nil, err
		}

		tokens.AccessToken = data.AccessToken
		return nil, s.setTokens(tokens, nil)
	})
	return err
}

// Profile is the signed-in user with the number of active sessions.
type Profile struct {
	User           *domain.User `json:"user"`
	ActiveSessions int          `json:"activeSessions"`
}

// Profile fetches the current user and updates the local mirror.
func (s *Session) Profile(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := s.Do(ctx, http.MethodGet, "/profile", nil, &p); err != nil {
		return nil, err
	}
	s.setUser(p.User)
	return &p, nil
}

func (s *Session) fetchProfile(ctx context.Context) (*Profile, error) {
	var p Profile
	if _, err := s.call(ctx, http.MethodGet, "/profile", nil, s.Tokens().AccessToken, &p); err != nil {
		return nil, err
	}
	s.setUser(p.User)
	return &p, nil
}

// ForgotPassword requests a reset link and returns the server's message.
func (s *Session) ForgotPassword(ctx context.Context, email string) (string, error) {
	env, err := s.call(ctx, http.MethodPost, "/forgot-password", map[string]string{"email": email}, "", nil)
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

// ResetPassword sets a new password with an emailed reset secret.
func (s *Session) ResetPassword(ctx context.Context, token, password string) (string, error) {
	body := map[string]string{"token": token, "password": password}
	env, err := s.call(ctx, http.MethodPost, "/reset-password", body, "", nil)
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

// --- Admin Operations ---

// UserList is one page of the admin user listing.
type UserList struct {
	Users      []domain.User
	Count      int
	Pagination *pagination.Meta
}

// ListUsers fetches one page of users. Requires the admin role.
func (s *Session) ListUsers(ctx context.Context, params pagination.Params) (*UserList, error) {
	var users []domain.User
	env, err := s.do(ctx, http.MethodGet, "/admin/users?"+params.Query().Encode(), nil, &users)
	if err != nil {
		return nil, err
	}
	list := &UserList{Users: users, Count: len(users), Pagination: env.Pagination}
	if env.Count != nil {
		list.Count = *env.Count
	}
	return list, nil
}

// AssignRole changes the role of a user. Requires the admin role.
func (s *Session) AssignRole(ctx context.Context, userID, role string) (*domain.User, error) {
	var user domain.User
	body := map[string]string{"userId": userID, "role": role}
	if err := s.Do(ctx, http.MethodPatch, "/admin/assign-role", body, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// --- Transport ---

// envelope is the response body shared by every endpoint.
type envelope struct {
	Success          bool                     `json:"success"`
	Data             json.RawMessage          `json:"data"`
	Message          string                   `json:"message"`
	Errors           []validator.FieldError   `json:"errors"`
	Count            *int                     `json:"count"`
	Pagination       *pagination.Meta         `json:"pagination"`
	ErrorExplanation *domain.ErrorExplanation `json:"errorExplanation"`
}

// Do performs an authenticated call, decoding the response data into out.
// On a 401 the access token is refreshed once and the call retried.
func (s *Session) Do(ctx context.Context, method, path string, body, out any) error {
	_, err := s.do(ctx, method, path, body, out)
	return err
}

func (s *Session) do(ctx context.Context, method, path string, body, out any) (*envelope, error) {
	token := s.Tokens().AccessToken
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	env, err := s.call(ctx, method, path, body, token, out)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		return env, err
	}

	if rerr := s.refresh(ctx); rerr != nil {
		s.logger.DebugContext(ctx, "silent refresh failed", slog.String("error", rerr.Error()))
		return nil, err
	}
	return s.call(ctx, method, path, body, s.Tokens().AccessToken, out)
}

// call sends one request and decodes the envelope. Non-2xx responses become
// *APIError.
func (s *Session) call(ctx context.Context, method, path string, body any, token string, out any) (*envelope, error) {
	endpoint, err := url.JoinPath(s.baseURL, strings.SplitN(path, "?", 2)[0])
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}
	if _, query, ok := strings.Cut(path, "?"); ok {
		endpoint += "?" + query
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < http.StatusBadRequest {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &env, &APIError{
			Status:      resp.StatusCode,
			Message:     env.Message,
			Errors:      env.Errors,
			Explanation: env.ErrorExplanation,
		}
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &env, fmt.Errorf("decode response data: %w", err)
		}
	}
	return &env, nil
}
