package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/utafrali/authservice/internal/auth"
	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/internal/event"
	"github.com/utafrali/authservice/internal/feedback"
	"github.com/utafrali/authservice/internal/mailer"
	"github.com/utafrali/authservice/internal/repository"
	"github.com/utafrali/authservice/internal/throttle"
	apperrors "github.com/utafrali/authservice/pkg/errors"
	"github.com/utafrali/authservice/pkg/logger"
	"github.com/utafrali/authservice/pkg/pagination"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// Client-facing messages.
const (
	MsgUserExists         = "User already exists with this email"
	MsgInvalidCredentials = "Invalid credentials"
	MsgRefreshRequired    = "Refresh token is required"
	MsgRefreshInvalid     = "Invalid or expired refresh token"
	MsgUserNotFound       = "User not found"
	MsgRefreshNotFound    = "Refresh token not found or already used"
	MsgResetInvalid       = "Invalid or expired reset token"
	MsgResetRequired      = "Reset token is required"
	MsgEmailFailed        = "Error sending email. Please try again later."
	MsgInvalidRole        = `Role must be either "user" or "admin"`
	MsgPasswordTooShort   = "Password must be at least 6 characters"
	MsgPasswordTooLong    = "Password must be at most 72 bytes"
)

// Config holds the tunables of the auth service.
type Config struct {
	BcryptCost  int
	ResetExpiry time.Duration
	AITimeout   time.Duration
	// ResetURL turns a reset secret into the link sent by email.
	ResetURL func(secret string) string
}

// AuthService implements registration, login, token refresh, password reset
// and user administration.
type AuthService struct {
	userRepo         repository.UserRepository
	refreshTokenRepo repository.RefreshTokenRepository
	issuer           *auth.TokenIssuer
	mailer           mailer.Sender
	advisor          feedback.Advisor
	throttle         throttle.Throttle
	events           event.Publisher
	cfg              Config
	logger           *slog.Logger

	now       func() time.Time
	dummyHash []byte
}

// NewAuthService creates a new auth service.
func NewAuthService(
	userRepo repository.UserRepository,
	refreshTokenRepo repository.RefreshTokenRepository,
	issuer *auth.TokenIssuer,
	sender mailer.Sender,
	advisor feedback.Advisor,
	resetThrottle throttle.Throttle,
	events event.Publisher,
	cfg Config,
	logger *slog.Logger,
) (*AuthService, error) {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.ResetExpiry <= 0 {
		cfg.ResetExpiry = 10 * time.Minute
	}
	if cfg.AITimeout <= 0 {
		cfg.AITimeout = 5 * time.Second
	}
	if cfg.ResetURL == nil {
		return nil, errors.New("auth service: reset URL builder is required")
	}

	// Compared against when the email is unknown, so both login failures
	// cost one bcrypt comparison.
	dummyHash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}

	return &AuthService{
		userRepo:         userRepo,
		refreshTokenRepo: refreshTokenRepo,
		issuer:           issuer,
		mailer:           sender,
		advisor:          advisor,
		throttle:         resetThrottle,
		events:           events,
		cfg:              cfg,
		logger:           logger,
		now:              time.Now,
		dummyHash:        dummyHash,
	}, nil
}

// --- Input/Output types ---

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// LoginInput holds the parameters for user login.
type LoginInput struct {
	Email    string
	Password string
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User             *domain.User
	Tokens           *domain.TokenPair
	PasswordFeedback *domain.PasswordFeedback
}

// Profile is the current user with the number of active sessions.
type Profile struct {
	User           *domain.User
	ActiveSessions int
}

// UserPage is one page of the admin user listing.
type UserPage struct {
	Users  []domain.User
	Total  int
	Params pagination.Params
}

// InvalidCredentialsError is returned by Login for an unknown email or a
// wrong password alike. Explanation is optional enrichment.
type InvalidCredentialsError struct {
	Explanation *domain.ErrorExplanation
}

func (e *InvalidCredentialsError) Error() string { return MsgInvalidCredentials }

func (e *InvalidCredentialsError) Unwrap() error {
	return apperrors.Unauthorized(MsgInvalidCredentials)
}

// --- Auth Operations ---

// Register creates a new account and signs it in.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (res *AuthResult, err error) {
	defer func() { record("register", err) }()

	input.Name = strings.TrimSpace(input.Name)
	input.Email = domain.NormalizeEmail(input.Email)
	if input.Name == "" || input.Email == "" {
		return nil, apperrors.InvalidInput("Name and email are required")
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}

	existing, err := s.userRepo.GetByEmail(ctx, input.Email)
	switch {
	case err == nil && existing != nil:
		return nil, apperrors.Conflict(MsgUserExists)
	case err != nil && !errors.Is(err, apperrors.ErrNotFound):
		return nil, fmt.Errorf("check existing user: %w", err)
	}

	hash, err := s.hashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &domain.User{
		ID:           uuid.NewString(),
		Name:         input.Name,
		Email:        input.Email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			return nil, apperrors.Conflict(MsgUserExists)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	// The password only leaves the process once the account exists. The
	// advisor overlaps with token issuance and the event publish.
	feedbackCh := s.passwordFeedback(ctx, input.Password)

	tokens, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := s.events.PublishUserRegistered(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("email", logger.MaskEmail(user.Email)),
	)

	return &AuthResult{User: user, Tokens: tokens, PasswordFeedback: <-feedbackCh}, nil
}

// Login authenticates a user with email and password. Unknown email and
// wrong password fail identically.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (res *AuthResult, err error) {
	defer func() { record("login", err) }()

	email := domain.NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, apperrors.InvalidInput("Email and password are required")
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("get user by email: %w", err)
		}
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(input.Password))
		return nil, s.invalidCredentials(ctx)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, s.invalidCredentials(ctx)
	}

	tokens, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
	)

	return &AuthResult{User: user, Tokens: tokens}, nil
}

// Refresh exchanges a stored refresh token for a new access token. The
// refresh token itself stays valid until logout or expiry.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (accessToken string, err error) {
	defer func() { record("refresh", err) }()

	if refreshToken == "" {
		return "", apperrors.InvalidInput(MsgRefreshRequired)
	}

	userID, err := s.issuer.VerifyRefreshToken(refreshToken)
	if err != nil {
		return "", apperrors.Unauthorized(MsgRefreshInvalid)
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return "", apperrors.Unauthorized(MsgUserNotFound)
		}
		return "", fmt.Errorf("get user for token refresh: %w", err)
	}

	ok, err := s.refreshTokenRepo.Exists(ctx, user.ID, auth.HashSecret(refreshToken))
	if err != nil {
		return "", fmt.Errorf("check refresh token: %w", err)
	}
	if !ok {
		return "", apperrors.Unauthorized(MsgRefreshNotFound)
	}

	accessToken, err = s.issuer.IssueAccessToken(user.ID)
	if err != nil {
		return "", fmt.Errorf("issue access token: %w", err)
	}

	s.logger.DebugContext(ctx, "access token refreshed", slog.String("user_id", user.ID))
	return accessToken, nil
}

// Logout revokes one refresh token, or every token of the user when
// refreshToken is empty.
func (s *AuthService) Logout(ctx context.Context, userID, refreshToken string) (err error) {
	defer func() { record("logout", err) }()

	if refreshToken == "" {
		if err := s.refreshTokenRepo.RemoveAll(ctx, userID); err != nil {
			return fmt.Errorf("revoke all refresh tokens: %w", err)
		}
		s.logger.InfoContext(ctx, "user logged out from all devices", slog.String("user_id", userID))
		return nil
	}

	if err := s.refreshTokenRepo.Remove(ctx, userID, auth.HashSecret(refreshToken)); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	s.logger.InfoContext(ctx, "user logged out", slog.String("user_id", userID))
	return nil
}

// Authenticate resolves an access token to the current user record.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*domain.User, error) {
	userID, err := s.issuer.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, apperrors.Unauthorized("Not authorized, token failed")
	}
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Unauthorized("Not authorized, token failed")
		}
		return nil, fmt.Errorf("load authenticated user: %w", err)
	}
	return user, nil
}

// Profile returns the user and the number of active sessions.
func (s *AuthService) Profile(ctx context.Context, userID string) (p *Profile, err error) {
	defer func() { record("profile", err) }()

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound(MsgUserNotFound)
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}

	sessions, err := s.refreshTokenRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	return &Profile{User: user, ActiveSessions: len(sessions)}, nil
}

// ForgotPassword emails a reset link. The outcome is indistinguishable for
// unknown and throttled addresses; only a failed send is reported.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (err error) {
	defer func() { record("forgot_password", err) }()

	email = domain.NormalizeEmail(email)
	if email == "" {
		return apperrors.InvalidInput("Please provide a valid email")
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.InfoContext(ctx, "password reset requested for unknown email",
				slog.String("email", logger.MaskEmail(email)),
			)
			return nil
		}
		return fmt.Errorf("get user by email: %w", err)
	}

	allowed, terr := s.throttle.Allow(ctx, user.Email)
	if terr != nil {
		s.logger.WarnContext(ctx, "reset throttle unavailable, allowing request",
			slog.String("error", terr.Error()),
		)
	}
	if !allowed {
		s.logger.InfoContext(ctx, "password reset throttled", slog.String("user_id", user.ID))
		return nil
	}

	plain, hash, err := auth.NewResetSecret()
	if err != nil {
		return err
	}
	if err := s.userRepo.SetPasswordReset(ctx, user.ID, hash, s.now().Add(s.cfg.ResetExpiry)); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	if err := s.mailer.SendPasswordReset(ctx, user.Email, s.cfg.ResetURL(plain)); err != nil {
		if cerr := s.userRepo.ClearPasswordReset(ctx, user.ID); cerr != nil {
			s.logger.ErrorContext(ctx, "failed to clear reset token after send failure",
				slog.String("user_id", user.ID),
				slog.String("error", cerr.Error()),
			)
		}
		if rerr := s.throttle.Release(ctx, user.Email); rerr != nil {
			s.logger.WarnContext(ctx, "failed to release reset throttle", slog.String("error", rerr.Error()))
		}
		return apperrors.InternalMessage(MsgEmailFailed, err)
	}

	if err := s.events.PublishPasswordResetRequested(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.password_reset_requested event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "password reset email sent", slog.String("user_id", user.ID))
	return nil
}

// ResetPassword sets a new password using an emailed reset secret. Every
// session of the user is revoked.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	defer func() { record("reset_password", err) }()

	if token == "" {
		return apperrors.InvalidInput(MsgResetRequired)
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	now := s.now()
	tokenHash := auth.HashSecret(token)

	user, err := s.userRepo.GetByResetToken(ctx, tokenHash, now)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.InvalidInput(MsgResetInvalid)
		}
		return fmt.Errorf("get user by reset token: %w", err)
	}
	if !user.HasPendingReset(now) {
		return apperrors.InvalidInput(MsgResetInvalid)
	}

	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}

	if err := s.userRepo.ResetPassword(ctx, user.ID, tokenHash, hash, now); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.InvalidInput(MsgResetInvalid)
		}
		return fmt.Errorf("reset password: %w", err)
	}

	if err := s.events.PublishPasswordReset(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.password_reset event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "password reset completed", slog.String("user_id", user.ID))
	return nil
}

// --- Admin Operations ---

// ListUsers returns one page of users.
func (s *AuthService) ListUsers(ctx context.Context, params pagination.Params) (page *UserPage, err error) {
	defer func() { record("list_users", err) }()

	params = pagination.New(params.Page, params.PerPage)
	users, total, err := s.userRepo.List(ctx, params.Offset, params.PerPage)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return &UserPage{Users: users, Total: total, Params: params}, nil
}

// AssignRole changes the role of a user.
func (s *AuthService) AssignRole(ctx context.Context, userID, role string) (user *domain.User, err error) {
	defer func() { record("assign_role", err) }()

	if !domain.IsValidRole(role) {
		return nil, apperrors.InvalidInput(MsgInvalidRole)
	}
	if _, perr := uuid.Parse(userID); perr != nil {
		return nil, apperrors.NotFound(MsgUserNotFound)
	}

	current, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound(MsgUserNotFound)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	user, err = s.userRepo.UpdateRole(ctx, userID, role)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound(MsgUserNotFound)
		}
		return nil, fmt.Errorf("update role: %w", err)
	}

	if err := s.events.PublishRoleAssigned(ctx, user, current.Role); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.role_assigned event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "role assigned",
		slog.String("user_id", user.ID),
		slog.String("role", role),
		slog.String("previous_role", current.Role),
	)
	return user, nil
}

// --- Helpers ---

// issueTokenPair signs a token pair and stores the refresh token hash.
func (s *AuthService) issueTokenPair(ctx context.Context, user *domain.User) (*domain.TokenPair, error) {
	accessToken, err := s.issuer.IssueAccessToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	refreshToken, expiresAt, err := s.issuer.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	if err := s.refreshTokenRepo.Add(ctx, user.ID, auth.HashSecret(refreshToken), expiresAt); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &domain.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (s *AuthService) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", apperrors.InvalidInput(MsgPasswordTooLong)
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// passwordFeedback asks the advisor for strength feedback in the background.
// The channel yields nil on any failure or after AITimeout.
func (s *AuthService) passwordFeedback(ctx context.Context, password string) <-chan *domain.PasswordFeedback {
	ch := make(chan *domain.PasswordFeedback, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.AITimeout)
		defer cancel()

		fb, err := s.advisor.PasswordFeedback(ctx, password)
		if err != nil {
			if !errors.Is(err, feedback.ErrDisabled) {
				s.logger.WarnContext(ctx, "password feedback unavailable", slog.String("error", err.Error()))
			}
			fb = nil
		}
		ch <- fb
	}()
	return ch
}

// invalidCredentials builds the login failure, explained from the generic
// message only so the explanation cannot reveal which factor failed.
func (s *AuthService) invalidCredentials(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.AITimeout)
	defer cancel()

	explanation, err := s.advisor.ExplainAuthError(ctx, domain.ErrorKindAuthentication, MsgInvalidCredentials)
	if err != nil {
		if !errors.Is(err, feedback.ErrDisabled) {
			s.logger.WarnContext(ctx, "error explanation unavailable", slog.String("error", err.Error()))
		}
		explanation = nil
	}
	return &InvalidCredentialsError{Explanation: explanation}
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return apperrors.InvalidInput(MsgPasswordTooShort)
	}
	return nil
}
