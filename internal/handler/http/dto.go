package http

import (
	"strings"

	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/pkg/validator"
)

// validatable request bodies normalize themselves before validation.
type validatable interface {
	Validate() error
}

// --- Request DTOs ---

// RegisterRequest is the JSON request body for user registration.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required" msg:"Name is required"`
	Email    string `json:"email" validate:"required,email" msg:"Please provide a valid email"`
	Password string `json:"password" validate:"min=6" msg:"Password must be at least 6 characters"`
}

// Validate trims the name, normalizes the email and checks every field.
func (r *RegisterRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = domain.NormalizeEmail(r.Email)
	return validator.Validate(r)
}

// LoginRequest is the JSON request body for user login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email" msg:"Please provide a valid email"`
	Password string `json:"password" validate:"required" msg:"Password is required"`
}

// Validate normalizes the email and checks both credentials are present.
func (r *LoginRequest) Validate() error {
	r.Email = domain.NormalizeEmail(r.Email)
	return validator.Validate(r)
}

// RefreshRequest is the JSON request body for token refresh. A missing
// token is reported by the service with a plain message.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Validate trims the token. An empty token is left to the service.
func (r *RefreshRequest) Validate() error {
	r.RefreshToken = strings.TrimSpace(r.RefreshToken)
	return nil
}

// LogoutRequest is the optional JSON body of logout.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Validate trims the token. An empty token logs out every session.
func (r *LogoutRequest) Validate() error {
	r.RefreshToken = strings.TrimSpace(r.RefreshToken)
	return nil
}

// ForgotPasswordRequest is the JSON request body for forgot password.
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email" msg:"Please provide a valid email"`
}

// Validate normalizes the email and checks it is well formed.
func (r *ForgotPasswordRequest) Validate() error {
	r.Email = domain.NormalizeEmail(r.Email)
	return validator.Validate(r)
}

// ResetPasswordRequest is the JSON request body for password reset.
type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required" msg:"Reset token is required"`
	Password string `json:"password" validate:"min=6" msg:"Password must be at least 6 characters"`
}

// Validate trims the reset token and checks the new password length.
func (r *ResetPasswordRequest) Validate() error {
	r.Token = strings.TrimSpace(r.Token)
	return validator.Validate(r)
}

// AssignRoleRequest is the JSON request body for changing a user's role.
type AssignRoleRequest struct {
	UserID string `json:"userId" validate:"required" msg:"User ID is required"`
	Role   string `json:"role" validate:"oneof=user admin" msg:"Role must be either \"user\" or \"admin\""`
}

// Validate trims both fields and checks the role is user or admin.
func (r *AssignRoleRequest) Validate() error {
	r.UserID = strings.TrimSpace(r.UserID)
	r.Role = strings.TrimSpace(r.Role)
	return validator.Validate(r)
}

// --- Response types ---

// AuthResponse is the data of register and login responses.
type AuthResponse struct {
	User             *domain.User             `json:"user"`
	AccessToken      string                   `json:"accessToken"`
	RefreshToken     string                   `json:"refreshToken"`
	PasswordFeedback *domain.PasswordFeedback `json:"passwordFeedback,omitempty"`
}

// AccessTokenResponse is the data of a refresh response.
type AccessTokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// ProfileResponse is the data of a profile response.
type ProfileResponse struct {
	User           *domain.User `json:"user"`
	ActiveSessions int          `json:"activeSessions"`
}
