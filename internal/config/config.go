package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"

	EmailProviderSES = "ses"
	EmailProviderLog = "log"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	TOTP      TOTPConfig
	Tokens    TokensConfig
	RateLimit RateLimitConfig
	Email     EmailConfig
}

type DatabaseConfig struct {
	Backend           string
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AutoMigrate       bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	JWTAccessSecret    string
	JWTRefreshSecret   string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	BcryptCost         int
	CleanupInterval    time.Duration
	TimingBaseDelayMs  int
	TimingRandomMs     int
	TimingDelayOnOK    bool
}

type TOTPConfig struct {
	Issuer        string
	EncryptionKey []byte
}

type TokensConfig struct {
	EmailVerificationTTL time.Duration
	PasswordResetTTL     time.Duration
	Retention            time.Duration
	BaseURL              string
}

// RateLimitRule is a request budget for one route class
type RateLimitRule struct {
	Max    int
	Window time.Duration
}

type RateLimitConfig struct {
	Backend   string
	RedisAddr string
	RedisDB   int
	Auth      RateLimitRule
	API       RateLimitRule
	Reset     RateLimitRule
}

type EmailConfig struct {
	Provider  string
	AWSRegion string
	From      string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Backend:           getEnv("STORAGE_BACKEND", BackendPostgres),
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "keystone"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: parseList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTAccessSecret:    getEnv("JWT_ACCESS_SECRET", ""),
			JWTRefreshSecret:   getEnv("JWT_REFRESH_SECRET", ""),
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			BcryptCost:         getEnvAsInt("BCRYPT_COST", 12),
			CleanupInterval:    getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			TimingBaseDelayMs:  getEnvAsInt("TIMING_BASE_DELAY_MS", 500),
			TimingRandomMs:     getEnvAsInt("TIMING_RANDOM_DELAY_MS", 100),
			TimingDelayOnOK:    getEnvAsBool("TIMING_DELAY_ON_SUCCESS", false),
		},
		TOTP: TOTPConfig{
			Issuer: getEnv("TOTP_ISSUER", "Keystone"),
		},
		Tokens: TokensConfig{
			EmailVerificationTTL: getEnvAsDuration("EMAIL_VERIFICATION_TTL", 24*time.Hour),
			PasswordResetTTL:     getEnvAsDuration("PASSWORD_RESET_TTL", 1*time.Hour),
			Retention:            getEnvAsDuration("TOKEN_RETENTION", 7*24*time.Hour),
			BaseURL:              getEnv("APP_BASE_URL", "http://localhost:8080"),
		},
		RateLimit: RateLimitConfig{
			Backend:   getEnv("RATE_LIMIT_BACKEND", BackendMemory),
			RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
			RedisDB:   getEnvAsInt("REDIS_DB", 0),
			Auth: RateLimitRule{
				Max:    getEnvAsInt("RATE_LIMIT_AUTH_MAX", 5),
				Window: getEnvAsDuration("RATE_LIMIT_AUTH_WINDOW", 15*time.Minute),
			},
			API: RateLimitRule{
				Max:    getEnvAsInt("RATE_LIMIT_API_MAX", 100),
				Window: getEnvAsDuration("RATE_LIMIT_API_WINDOW", 15*time.Minute),
			},
			Reset: RateLimitRule{
				Max:    getEnvAsInt("RATE_LIMIT_RESET_MAX", 3),
				Window: getEnvAsDuration("RATE_LIMIT_RESET_WINDOW", 1*time.Hour),
			},
		},
		Email: EmailConfig{
			Provider:  getEnv("EMAIL_PROVIDER", EmailProviderLog),
			AWSRegion: getEnv("AWS_REGION", "us-east-1"),
			From:      getEnv("EMAIL_FROM", "no-reply@localhost"),
		},
	}

	if err := validateJWTSecrets(cfg.Auth.JWTAccessSecret, cfg.Auth.JWTRefreshSecret, env); err != nil {
		return nil, err
	}

	key, err := parseEncryptionKey(getEnv("TOTP_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}
	cfg.TOTP.EncryptionKey = key

	switch cfg.Database.Backend {
	case BackendPostgres:
		if cfg.Database.Password == "" {
			return nil, fmt.Errorf("DB_PASSWORD is required")
		}
	case BackendMemory:
	default:
		return nil, fmt.Errorf("STORAGE_BACKEND must be %q or %q", BackendPostgres, BackendMemory)
	}

	if cfg.RateLimit.Backend != BackendMemory && cfg.RateLimit.Backend != BackendRedis {
		return nil, fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q", BackendMemory, BackendRedis)
	}

	if cfg.Email.Provider != EmailProviderSES && cfg.Email.Provider != EmailProviderLog {
		return nil, fmt.Errorf("EMAIL_PROVIDER must be %q or %q", EmailProviderSES, EmailProviderLog)
	}

	return cfg, nil
}

// validateJWTSecrets enforces minimum security standards for both signing secrets
func validateJWTSecrets(access, refresh, env string) error {
	if access == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if refresh == "" {
		return fmt.Errorf("JWT_REFRESH_SECRET is required")
	}
	if access == refresh {
		return fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if err := validateJWTSecret("JWT_ACCESS_SECRET", access, env); err != nil {
		return err
	}
	return validateJWTSecret("JWT_REFRESH_SECRET", refresh, env)
}

func validateJWTSecret(name, secret, env string) error {
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("%s must be at least %d characters in %s environment (got %d)",
			name, minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("%s cannot be a common weak value", name)
		}
	}

	return nil
}

// parseEncryptionKey decodes a base64 32-byte key. An empty value is allowed
// and leaves TOTP secrets unencrypted at rest.
func parseEncryptionKey(value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must decode to 32 bytes (got %d)", len(key))
	}
	return key, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseList(value string) []string {
	if value == "" {
		return []string{}
	}
	items := strings.Split(value, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return parseList(getEnv("ALLOWED_ORIGINS", ""))
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://localhost:3001",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
		"http://127.0.0.1:3001",
	}
}
