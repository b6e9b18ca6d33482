package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/utafrali/authservice/internal/auth"
	"github.com/utafrali/authservice/internal/config"
	"github.com/utafrali/authservice/internal/event"
	"github.com/utafrali/authservice/internal/feedback"
	handler "github.com/utafrali/authservice/internal/handler/http"
	"github.com/utafrali/authservice/internal/mailer"
	"github.com/utafrali/authservice/internal/repository/postgres"
	"github.com/utafrali/authservice/internal/service"
	"github.com/utafrali/authservice/internal/throttle"
	"github.com/utafrali/authservice/migrations"
	"github.com/utafrali/authservice/pkg/database"
	"github.com/utafrali/authservice/pkg/health"
	pkgkafka "github.com/utafrali/authservice/pkg/kafka"
	"github.com/utafrali/authservice/pkg/tracing"
)

// App wires together all dependencies and runs the auth service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *goredis.Client
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	stopBackground context.CancelFunc
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	// Initialize OpenTelemetry tracing.
	a.tracerShutdown, err = tracing.InitTracer(ctx, cfg.Tracing())
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	pgCfg := cfg.Postgres()
	a.pool, err = database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, a.pool, config.ServiceName); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, a.pool, migrations.FS, logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	if cfg.SlowQueryThreshold > 0 {
		database.SetSlowQueryLogging(cfg.SlowQueryThreshold, logger)
	}

	// Health checks.
	healthHandler := health.NewHandler(health.WithService(config.ServiceName))
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return a.pool.Ping(ctx)
	})

	// Optional Redis backed reset throttle.
	var resetThrottle throttle.Throttle = throttle.Noop{}
	if cfg.RedisEnabled {
		a.redis, err = database.NewRedisClient(ctx, cfg.Redis(), logger)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		resetThrottle = throttle.NewRedisThrottle(a.redis, cfg.ResetCooldown, logger)
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}

	// Optional Kafka event publishing.
	var events event.Publisher = event.Noop{}
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		events = event.NewProducer(a.producer, logger)
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return a.producer.Ping(ctx)
		})
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	sender, err := newSender(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Build the dependency graph.
	issuer, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTRefreshSecret, cfg.JWTAccessExpiry, cfg.JWTRefreshExpiry)
	if err != nil {
		return nil, fmt.Errorf("create token issuer: %w", err)
	}
	userRepo := postgres.NewUserRepository(a.pool)
	refreshTokenRepo := postgres.NewRefreshTokenRepository(a.pool)
	authService, err := service.NewAuthService(
		userRepo, refreshTokenRepo, issuer, sender, newAdvisor(cfg, logger), resetThrottle, events,
		service.Config{
			BcryptCost:  cfg.BcryptCost,
			ResetExpiry: cfg.ResetExpiry,
			AITimeout:   cfg.AITimeout,
			ResetURL:    cfg.ResetURL,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("create auth service: %w", err)
	}

	// HTTP router. Its background work lives until Shutdown.
	bgCtx, stop := context.WithCancel(context.Background())
	a.stopBackground = stop
	router := handler.NewRouter(bgCtx, authService, healthHandler, handler.RouterConfig{
		ServiceName: config.ServiceName,
		CORS:        cfg.CORS(),
		RateLimit:   cfg.RateLimit(),
		PprofCIDRs:  cfg.PprofAllowedCIDRs,
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// newSender picks SMTP delivery when a relay is configured and logs reset
// links otherwise.
func newSender(cfg *config.Config, logger *slog.Logger) (mailer.Sender, error) {
	if cfg.EmailHost == "" {
		if !cfg.IsDevelopment() {
			logger.Warn("EMAIL_HOST is not set, password reset links will only be logged")
		}
		return mailer.NewLogSender(logger), nil
	}
	sender, err := mailer.NewSMTPSender(mailer.SMTPConfig{
		Host:          cfg.EmailHost,
		Port:          cfg.EmailPort,
		Username:      cfg.EmailUser,
		Password:      cfg.EmailPass,
		From:          cfg.EmailFrom,
		ResetValidity: cfg.ResetExpiry,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create smtp sender: %w", err)
	}
	return sender, nil
}

// newAdvisor enables AI feedback only when an API key is configured.
func newAdvisor(cfg *config.Config, logger *slog.Logger) feedback.Advisor {
	if cfg.OpenAIAPIKey == "" {
		return feedback.Disabled{}
	}
	return feedback.NewOpenAIClient(feedback.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
		Timeout: cfg.AITimeout,
	}, logger)
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer, Redis client and PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.tracerShutdown = nil
	}

	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeResources releases connections held by the app. It is safe to call
// on a partially constructed App.
func (a *App) closeResources() error {
	var errs []error

	if a.stopBackground != nil {
		a.stopBackground()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.producer = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.redis = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	if a.tracerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = a.tracerShutdown(ctx)
		a.tracerShutdown = nil
	}

	return errors.Join(errs...)
}
