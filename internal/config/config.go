package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Account  AccountConfig
	Mail     MailConfig
	Media    MediaConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
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
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// AccountConfig holds account lifecycle defaults.
type AccountConfig struct {
	DefaultTokens          int64
	DefaultLanguage        string
	DefaultTheme           string
	VerificationTTLMinutes int
	ResendCooldownSeconds  int
}

// MailConfig configures the verification mailer.
type MailConfig struct {
	SMTPAddr string
	From     string
	Username string
	Password string
}

// MediaConfig configures the S3-compatible media store.
type MediaConfig struct {
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
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
			Name:                  getEnv("APP_NAME", "account-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
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
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Account: AccountConfig{
			DefaultTokens:          int64(getEnvAsInt("ACCOUNT_DEFAULT_TOKENS", 0)),
			DefaultLanguage:        getEnv("ACCOUNT_DEFAULT_LANGUAGE", "en"),
			DefaultTheme:           getEnv("ACCOUNT_DEFAULT_THEME", "light"),
			VerificationTTLMinutes: getEnvAsInt("ACCOUNT_VERIFICATION_TTL_MINUTES", 10),
			ResendCooldownSeconds:  getEnvAsInt("ACCOUNT_RESEND_COOLDOWN_SECONDS", 60),
		},
		Mail: MailConfig{
			SMTPAddr: getEnv("MAIL_SMTP_ADDR", ""),
			From:     getEnv("MAIL_FROM", "noreply@example.com"),
			Username: os.Getenv("MAIL_USERNAME"),
			Password: os.Getenv("MAIL_PASSWORD"),
		},
		Media: MediaConfig{
			Region:        getEnv("MEDIA_S3_REGION", "us-east-1"),
			Endpoint:      os.Getenv("MEDIA_S3_ENDPOINT"),
			AccessKey:     os.Getenv("MEDIA_S3_ACCESS_KEY"),
			SecretKey:     os.Getenv("MEDIA_S3_SECRET_KEY"),
			Bucket:        getEnv("MEDIA_S3_BUCKET", "profile-images"),
			PublicBaseURL: os.Getenv("MEDIA_PUBLIC_BASE_URL"),
		},
	}

	return cfg, nil
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

// VerificationTTL returns how long a verification code stays valid.
func (a AccountConfig) VerificationTTL() time.Duration {
	return time.Duration(a.VerificationTTLMinutes) * time.Minute
}

// ResendCooldown returns the minimum gap between verification emails.
func (a AccountConfig) ResendCooldown() time.Duration {
	return time.Duration(a.ResendCooldownSeconds) * time.Second
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
