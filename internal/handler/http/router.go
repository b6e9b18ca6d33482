package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/pkg/health"
	"github.com/utafrali/authservice/pkg/middleware"
)

// RouterConfig holds the cross-cutting settings of the router.
type RouterConfig struct {
	ServiceName string
	CORS        middleware.CORSConfig
	RateLimit   middleware.RateLimitConfig
	PprofCIDRs  []string
}

// NewRouter creates a chi router with all auth service routes registered.
// Background work started for the router, such as rate limiter eviction,
// stops when ctx is cancelled.
func NewRouter(
	ctx context.Context,
	svc AuthService,
	healthHandler *health.Handler,
	cfg RouterConfig,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))
	r.Use(middleware.CORS(cfg.CORS))

	// Operational endpoints
	r.Mount("/health", healthHandler.Routes())
	r.Handle("/metrics", promhttp.Handler())
	middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)

	authHandler := NewAuthHandler(svc, logger)
	authenticate := middleware.Auth(authenticator(svc))

	r.Route("/api/auth", func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Use(middleware.ContentTypeJSON)

		// Public endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(ctx, cfg.RateLimit, logger))

			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/forgot-password", authHandler.ForgotPassword)
			r.Post("/reset-password", authHandler.ResetPassword)
		})

		// Authenticated endpoints
		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.Get("/profile", authHandler.Profile)
			r.Post("/logout", authHandler.Logout)
		})

		// Admin endpoints
		r.Route("/admin", func(r chi.Router) {
			r.Use(authenticate)
			r.Use(middleware.RequireRole(domain.RoleAdmin))

			r.Get("/users", authHandler.ListUsers)
			r.Patch("/assign-role", authHandler.AssignRole)
		})
	})

	return r
}

// authenticator bridges the service's token check to the auth middleware.
// The user is loaded on every request so a changed role or deleted account
// takes effect immediately.
func authenticator(svc AuthService) middleware.Authenticator {
	return func(ctx context.Context, token string) (*middleware.Principal, error) {
		user, err := svc.Authenticate(ctx, token)
		if err != nil {
			return nil, err
		}
		return &middleware.Principal{UserID: user.ID, Role: user.Role}, nil
	}
}
