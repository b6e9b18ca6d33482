package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/internal/service"
	"github.com/utafrali/authservice/pkg/httputil"
	"github.com/utafrali/authservice/pkg/middleware"
	"github.com/utafrali/authservice/pkg/pagination"
	"github.com/utafrali/authservice/pkg/validator"
)

const maxBodyBytes = 1 << 20

// Client-facing messages.
const (
	msgInvalidBody       = "Invalid request body"
	msgRegistered        = "User registered successfully"
	msgLoggedIn          = "Login successful"
	msgRefreshed         = "Token refreshed successfully"
	msgLoggedOut         = "Logged out successfully"
	msgResetLinkSent     = "If that email exists, a password reset link has been sent"
	msgPasswordReset     = "Password reset successful"
	msgRegisterFailed    = "Server error during registration"
	msgLoginFailed       = "Server error during login"
	msgRefreshFailed     = "Server error during token refresh"
	msgLogoutFailed      = "Server error during logout"
	msgServerError       = "Server error"
	msgRoleUpdatedFormat = "User role updated to %s"
)

// AuthService is the part of *service.AuthService used by the handlers.
type AuthService interface {
	Register(ctx context.Context, input service.RegisterInput) (*service.AuthResult, error)
	Login(ctx context.Context, input service.LoginInput) (*service.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
	Logout(ctx context.Context, userID, refreshToken string) error
	Authenticate(ctx context.Context, accessToken string) (*domain.User, error)
	Profile(ctx context.Context, userID string) (*service.Profile, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	ListUsers(ctx context.Context, params pagination.Params) (*service.UserPage, error)
	AssignRole(ctx context.Context, userID, role string) (*domain.User, error)
}

var _ AuthService = (*service.AuthService)(nil)

// AuthHandler handles HTTP requests for auth endpoints.
type AuthHandler struct {
	service AuthService
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, logger: logger}
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}

	res, err := h.service.Register(r.Context(), service.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err, msgRegisterFailed, h.logger)
		return
	}

	httputil.WriteSuccess(w, http.StatusCreated, msgRegistered, AuthResponse{
		User:             res.User,
		AccessToken:      res.Tokens.AccessToken,
		RefreshToken:     res.Tokens.RefreshToken,
		PasswordFeedback: res.PasswordFeedback,
	})
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}

	res, err := h.service.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		var credErr *service.InvalidCredentialsError
		if errors.As(err, &credErr) && credErr.Explanation != nil {
			httputil.WriteErrorWith(w, r, err, msgLoginFailed, h.logger, credErr.Explanation)
			return
		}
		httputil.WriteError(w, r, err, msgLoginFailed, h.logger)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, msgLoggedIn, AuthResponse{
		User:         res.User,
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
	})
}

// Refresh handles POST /api/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}

	accessToken, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httputil.WriteError(w, r, err, msgRefreshFailed, h.logger)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, msgRefreshed, AccessTokenResponse{AccessToken: accessToken})
}

// Logout handles POST /api/auth/logout. Without a refresh token every
// session of the caller is ended.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if !decodeRequest(w, r, &req, true) {
		return
	}

	if err := h.service.Logout(r.Context(), middleware.UserIDFromContext(r.Context()), req.RefreshToken); err != nil {
		httputil.WriteError(w, r, err, msgLogoutFailed, h.logger)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, msgLoggedOut)
}

// Profile handles GET /api/auth/profile
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Profile(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, msgServerError, h.logger)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, "", ProfileResponse{User: p.User, ActiveSessions: p.ActiveSessions})
}

// ForgotPassword handles POST /api/auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		httputil.WriteError(w, r, err, msgServerError, h.logger)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, msgResetLinkSent)
}

// ResetPassword handles POST /api/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		httputil.WriteError(w, r, err, msgServerError, h.logger)
		return
	}

	httputil.WriteMessage(w, http.StatusOK, msgPasswordReset)
}

// ListUsers handles GET /api/auth/admin/users
func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.ListUsers(r.Context(), pagination.FromRequest(r))
	if err != nil {
		httputil.WriteError(w, r, err, msgServerError, h.logger)
		return
	}

	meta := pagination.NewMeta(page.Total, page.Params)
	httputil.WriteList(w, page.Users, &meta)
}

// AssignRole handles PATCH /api/auth/admin/assign-role
func (h *AuthHandler) AssignRole(w http.ResponseWriter, r *http.Request) {
	var req AssignRoleRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}

	id, ok := httputil.ParseUUID(w, req.UserID, service.MsgUserNotFound)
	if !ok {
		return
	}

	user, err := h.service.AssignRole(r.Context(), id.String(), req.Role)
	if err != nil {
		httputil.WriteError(w, r, err, msgServerError, h.logger)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, fmt.Sprintf(msgRoleUpdatedFormat, user.Role), user)
}

// decodeRequest reads and validates a JSON body into dst, writing the 400
// response itself on failure. With optional an empty body is accepted.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst validatable, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := validator.DecodeJSON(r, dst); err != nil {
		if !optional || !errors.Is(err, io.EOF) {
			httputil.WriteMessage(w, http.StatusBadRequest, msgInvalidBody)
			return false
		}
	}

	if err := dst.Validate(); err != nil {
		httputil.WriteValidationError(w, err)
		return false
	}
	return true
}
