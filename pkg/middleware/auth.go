package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/authservice/pkg/errors"
	"github.com/utafrali/authservice/pkg/httputil"
	"github.com/utafrali/authservice/pkg/logger"
)

type contextKeyType string

const principalKey contextKeyType = "principal"

const (
	msgNoToken     = "Not authorized, no token"
	msgTokenFailed = "Not authorized, token failed"
	msgAuthFailed  = "Server error during authentication"
)

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	UserID string
	Role   string
}

// Authenticator resolves a bearer token to the caller it was issued to.
// Implementations load the caller from the user store so the role reflects
// the current state rather than whatever was true at issue time.
type Authenticator func(ctx context.Context, token string) (*Principal, error)

// Auth middleware requires a valid bearer access token and injects the
// resolved principal into the request context.
func Auth(authenticate Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				httputil.WriteMessage(w, http.StatusUnauthorized, msgNoToken)
				return
			}

			principal, err := authenticate(r.Context(), token)
			if err != nil && apperrors.HTTPStatus(err) >= http.StatusInternalServerError {
				// The store could not be asked; the token may still be good.
				httputil.WriteError(w, r, err, msgAuthFailed, nil)
				return
			}
			if err != nil || principal == nil {
				httputil.WriteMessage(w, http.StatusUnauthorized, msgTokenFailed)
				return
			}

			ctx := WithPrincipal(r.Context(), principal)
			ctx = logger.WithUserID(ctx, principal.UserID)
			if l := logger.FromContext(ctx); l != nil {
				ctx = logger.NewContext(ctx, l.With("user_id", principal.UserID))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken returns the token of an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireRole middleware checks that the authenticated user has one of roles.
// It must run after Auth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	roleSet := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil {
				httputil.WriteMessage(w, http.StatusUnauthorized, msgNoToken)
				return
			}
			if _, ok := roleSet[p.Role]; !ok {
				httputil.WriteMessage(w, http.StatusForbidden,
					fmt.Sprintf("User role %s is not authorized to access this route", p.Role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated caller, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// UserIDFromContext extracts the authenticated user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.UserID
	}
	return ""
}
