package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Mail      MailConfig
	RateLimit RateLimitConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	PublicURL             string
	ResetPath             string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	OpTimeoutMs int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level    string
	Encoding string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret                    string
	JWTIssuer                    string
	AccessTokenTTLMinutes        int
	PasswordResetTTLMinutes      int
	VerificationTTLHours         int
	ExpiredTokenRetentionMinutes int
	BcryptCost                   int
}

// MailConfig holds outbound SMTP settings. An empty SMTPHost selects the log sender.
type MailConfig struct {
	SMTPHost       string
	SMTPPort       int
	SMTPUsername   string
	SMTPPassword   string
	FromName       string
	FromEmail      string
	TimeoutSeconds int
}

// RateLimitConfig bounds per-client request rates on auth endpoints.
type RateLimitConfig struct {
	AuthRPM int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "workspace-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			PublicURL:             strings.TrimRight(getEnv("APP_PUBLIC_URL", "http://localhost:3000"), "/"),
			ResetPath:             strings.Trim(getEnv("APP_RESET_PATH", "reset-password"), "/"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:        getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:    os.Getenv("REDIS_PASSWORD"),
			DB:          redisDB,
			OpTimeoutMs: getEnvAsInt("REDIS_OP_TIMEOUT_MS", 500),
		},
		Logger: LoggerConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: getEnv("LOG_ENCODING", "json"),
		},
		Auth: AuthConfig{
			JWTSecret:                    getEnv("AUTH_JWT_SECRET", "dev-secret"),
			JWTIssuer:                    getEnv("AUTH_JWT_ISSUER", "workspace-service"),
			AccessTokenTTLMinutes:        getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			PasswordResetTTLMinutes:      getEnvAsInt("AUTH_PASSWORD_RESET_TTL_MINUTES", 15),
			VerificationTTLHours:         getEnvAsInt("AUTH_VERIFICATION_TTL_HOURS", 72),
			ExpiredTokenRetentionMinutes: getEnvAsInt("AUTH_EXPIRED_TOKEN_RETENTION_MINUTES", 24*60),
			BcryptCost:                   getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Mail: MailConfig{
			SMTPHost:       os.Getenv("MAIL_SMTP_HOST"),
			SMTPPort:       getEnvAsInt("MAIL_SMTP_PORT", 587),
			SMTPUsername:   os.Getenv("MAIL_SMTP_USERNAME"),
			SMTPPassword:   os.Getenv("MAIL_SMTP_PASSWORD"),
			FromName:       getEnv("MAIL_FROM_NAME", "Workspace"),
			FromEmail:      getEnv("MAIL_FROM_EMAIL", "noreply@example.com"),
			TimeoutSeconds: getEnvAsInt("MAIL_TIMEOUT_SECONDS", 10),
		},
		RateLimit: RateLimitConfig{
			AuthRPM: getEnvAsInt("RATE_LIMIT_AUTH_RPM", 10),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would be unsafe to run.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET must not be empty")
	}
	if c.App.Env != "development" && c.Auth.JWTSecret == "dev-secret" {
		return fmt.Errorf("AUTH_JWT_SECRET must be set in %s", c.App.Env)
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// OpTimeout bounds a single cache round trip.
func (r RedisConfig) OpTimeout() time.Duration {
	if r.OpTimeoutMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(r.OpTimeoutMs) * time.Millisecond
}

// AccessTokenTTL is the signature validity window of access tokens.
func (a AuthConfig) AccessTokenTTL() time.Duration {
	return minutesOr(a.AccessTokenTTLMinutes, 60)
}

// PasswordResetTTL is the lifetime of a reset token.
func (a AuthConfig) PasswordResetTTL() time.Duration {
	return minutesOr(a.PasswordResetTTLMinutes, 15)
}

// VerificationTTL is the lifetime of an email verification token.
func (a AuthConfig) VerificationTTL() time.Duration {
	if a.VerificationTTLHours <= 0 {
		return 72 * time.Hour
	}
	return time.Duration(a.VerificationTTLHours) * time.Hour
}

// ExpiredTokenRetention is how long an expired ephemeral token stays visible
// so it can be reported as expired instead of unknown.
func (a AuthConfig) ExpiredTokenRetention() time.Duration {
	if a.ExpiredTokenRetentionMinutes < 0 {
		return 0
	}
	return time.Duration(a.ExpiredTokenRetentionMinutes) * time.Minute
}

// Timeout bounds a single SMTP delivery.
func (m MailConfig) Timeout() time.Duration {
	if m.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(m.TimeoutSeconds) * time.Second
}

func minutesOr(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Minute
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
