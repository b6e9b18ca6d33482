package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	pkgconfig "github.com/utafrali/authservice/pkg/config"
	"github.com/utafrali/authservice/pkg/database"
	"github.com/utafrali/authservice/pkg/middleware"
	"github.com/utafrali/authservice/pkg/tracing"
)

const (
	// ServiceName identifies the process in logs, metrics and traces.
	ServiceName = "auth-service"

	defaultAccessSecret  = "change-this-access-secret"
	defaultRefreshSecret = "change-this-refresh-secret"
	minSecretLength      = 32
)

// Config holds all configuration for the auth service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort        int           `env:"HTTP_PORT" envDefault:"5000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// PostgreSQL. DATABASE_URL wins over the individual fields.
	DatabaseURL        string        `env:"DATABASE_URL"`
	PostgresHost       string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort       int           `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser       string        `env:"POSTGRES_USER" envDefault:"auth"`
	PostgresPass       string        `env:"POSTGRES_PASSWORD" envDefault:"auth_secret"`
	PostgresDB         string        `env:"POSTGRES_DB" envDefault:"auth"`
	PostgresSSL        string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	DBMaxConns         int32         `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns         int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	SlowQueryThreshold time.Duration `env:"SLOW_QUERY_THRESHOLD" envDefault:"200ms"`

	// Tokens
	JWTSecret          string        `env:"JWT_SECRET" envDefault:"change-this-access-secret"`
	JWTRefreshSecret   string        `env:"JWT_REFRESH_SECRET" envDefault:"change-this-refresh-secret"`
	JWTAccessExpiry    time.Duration `env:"JWT_ACCESS_TOKEN_EXPIRY" envDefault:"15m"`
	JWTRefreshExpiry   time.Duration `env:"JWT_REFRESH_TOKEN_EXPIRY" envDefault:"168h"`
	BcryptCost         int           `env:"BCRYPT_COST" envDefault:"12"`
	ResetExpiry        time.Duration `env:"PASSWORD_RESET_EXPIRY" envDefault:"10m"`
	ResetCooldown      time.Duration `env:"PASSWORD_RESET_COOLDOWN" envDefault:"60s"`
	FrontendURL        string        `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`

	// Email. An empty host logs reset links instead of sending them.
	EmailHost string `env:"EMAIL_HOST"`
	EmailPort int    `env:"EMAIL_PORT" envDefault:"587"`
	EmailUser string `env:"EMAIL_USER"`
	EmailPass string `env:"EMAIL_PASS"`
	EmailFrom string `env:"EMAIL_FROM" envDefault:"no-reply@localhost"`

	// AI advisor. An empty key disables it.
	OpenAIAPIKey  string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIModel   string        `env:"OPENAI_MODEL" envDefault:"gpt-3.5-turbo"`
	AITimeout     time.Duration `env:"AI_TIMEOUT" envDefault:"5s"`

	// Redis
	RedisEnabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	RedisURL      string `env:"REDIS_URL"`
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Rate limiting of the unauthenticated auth routes
	RateLimitRPS        float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst      int     `env:"RATE_LIMIT_BURST" envDefault:"10"`
	RateLimitTrustProxy bool    `env:"RATE_LIMIT_TRUST_PROXY" envDefault:"false"`

	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.1/32,::1/128" envSeparator:","`

	// OpenTelemetry
	OTelEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTelInsecure   bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	OTelSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load auth config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Validate checks ranges and, outside development, the token secrets.
func (c *Config) Validate() error {
	for name, port := range map[string]int{
		"HTTP": c.HTTPPort, "Postgres": c.PostgresPort, "Redis": c.RedisPort, "email": c.EmailPort,
	} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid %s port: %d", name, port)
		}
	}
	for name, d := range map[string]time.Duration{
		"JWT_ACCESS_TOKEN_EXPIRY":  c.JWTAccessExpiry,
		"JWT_REFRESH_TOKEN_EXPIRY": c.JWTRefreshExpiry,
		"PASSWORD_RESET_EXPIRY":    c.ResetExpiry,
		"AI_TIMEOUT":               c.AITimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.JWTAccessExpiry >= c.JWTRefreshExpiry {
		return errors.New("JWT_ACCESS_TOKEN_EXPIRY must be shorter than JWT_REFRESH_TOKEN_EXPIRY")
	}
	if c.ResetCooldown < 0 {
		return fmt.Errorf("PASSWORD_RESET_COOLDOWN must not be negative, got %s", c.ResetCooldown)
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost)
	}
	if c.OTelSampleRate < 0 || c.OTelSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0 and 1, got %g", c.OTelSampleRate)
	}
	if u, err := url.Parse(c.FrontendURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("FRONTEND_URL must be an absolute URL, got %q", c.FrontendURL)
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive, got %g", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be positive, got %d", c.RateLimitBurst)
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}

	// In non-development environments, require explicitly set, strong and distinct secrets.
	if !c.IsDevelopment() {
		if c.JWTSecret == defaultAccessSecret {
			return fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", c.Environment)
		}
		if c.JWTRefreshSecret == defaultRefreshSecret {
			return fmt.Errorf("JWT_REFRESH_SECRET must be explicitly set via environment variable in %q mode", c.Environment)
		}
		if len(c.JWTSecret) < minSecretLength {
			return fmt.Errorf("JWT_SECRET must be at least %d characters long, got %d", minSecretLength, len(c.JWTSecret))
		}
		if len(c.JWTRefreshSecret) < minSecretLength {
			return fmt.Errorf("JWT_REFRESH_SECRET must be at least %d characters long, got %d", minSecretLength, len(c.JWTRefreshSecret))
		}
		if c.JWTSecret == c.JWTRefreshSecret {
			return errors.New("JWT_SECRET and JWT_REFRESH_SECRET must differ")
		}
	}
	return nil
}

// Postgres returns the pool configuration.
func (c *Config) Postgres() database.PostgresConfig {
	pg := database.DefaultPostgresConfig()
	pg.URL = c.DatabaseURL
	pg.Host = c.PostgresHost
	pg.Port = c.PostgresPort
	pg.User = c.PostgresUser
	pg.Password = c.PostgresPass
	pg.DBName = c.PostgresDB
	pg.SSLMode = c.PostgresSSL
	pg.MaxConns = c.DBMaxConns
	pg.MinConns = c.DBMinConns
	return pg
}

// Redis returns the redis client configuration.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		URL:      c.RedisURL,
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// Tracing returns the OpenTelemetry configuration.
func (c *Config) Tracing() tracing.Config {
	tc := tracing.DefaultConfig(ServiceName)
	tc.Environment = c.Environment
	tc.OTLPEndpoint = c.OTelEndpoint
	tc.Insecure = c.OTelInsecure
	tc.SampleRate = c.OTelSampleRate
	tc.Enabled = c.OTelEnabled
	return tc
}

// CORS returns the CORS middleware configuration. Credentials are allowed
// so the browser client can send its bearer token cross-origin.
func (c *Config) CORS() middleware.CORSConfig {
	cc := middleware.DefaultCORSConfig()
	cc.AllowedOrigins = trimAll(c.CORSAllowedOrigins)
	cc.AllowCredentials = true
	return cc
}

// RateLimit returns the limiter applied to unauthenticated routes.
func (c *Config) RateLimit() middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		RPS:        c.RateLimitRPS,
		Burst:      c.RateLimitBurst,
		TrustProxy: c.RateLimitTrustProxy,
	}
}

// ResetURL returns the frontend link for a password-reset secret.
func (c *Config) ResetURL(secret string) string {
	return strings.TrimRight(c.FrontendURL, "/") + "/reset-password?token=" + url.QueryEscape(secret)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
