package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/kevin07696/payout-service/internal/domain"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Lock         LockConfig
	Provider     ProviderConfig
	Secrets      SecretsConfig
	Notification NotificationConfig
	Settlement   SettlementConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
	Logger       LoggerConfig
}

// ServerConfig holds HTTP, gRPC health and metrics listener configuration
type ServerConfig struct {
	Environment   string
	HTTPPort      int
	GRPCPort      int
	MetricsPort   int
	InternalToken string // required on /api/v1 routes
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// LockConfig configures the per-company batch lock
type LockConfig struct {
	RedisAddr     string // empty selects the in-process locker
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
	WaitTimeout   time.Duration
	MaxRetries    int
	RetryBase     time.Duration
	RetryMax      time.Duration
	RetryJitter   float64
}

// ProviderConfig holds transfer provider configuration
type ProviderConfig struct {
	BaseURL        string
	ProfileID      string
	TokenPath      string // credential store path of the API token
	SourceCurrency string
	Timeout        time.Duration
	// WebhookPublicKeyPath locates the PEM key used to verify event signatures.
	// Empty disables verification.
	WebhookPublicKeyPath string
}

// SecretsConfig selects the credential store backend
type SecretsConfig struct {
	Backend    string // local, aws, vault
	LocalDir   string
	AWSRegion  string
	VaultAddr  string
	VaultToken string
	VaultMount string
	CacheTTL   time.Duration
}

// NotificationConfig configures the outbox dispatcher
type NotificationConfig struct {
	WebhookURL    string
	SigningSecret string
	PollInterval  time.Duration
	BatchSize     int32
	MaxAttempts   int
}

// SettlementConfig holds money rules
type SettlementConfig struct {
	FeeRate                  decimal.Decimal
	FeeBaseCents             int64
	FeeCapCents              int64
	PayoutMinimumCents       int64
	ExecuteSweepLimit        int32
	ResetElectionOnZeroUnits bool
}

// FeeSchedule returns the configured per-obligation fee
func (s SettlementConfig) FeeSchedule() domain.FeeSchedule {
	return domain.FeeSchedule{
		Rate:      s.FeeRate,
		BaseCents: s.FeeBaseCents,
		CapCents:  s.FeeCapCents,
	}
}

// CronConfig authenticates scheduler calls
type CronConfig struct {
	Secret string
}

// RateLimitConfig bounds the public webhook route
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level string // debug, info, warn, error
}

// Load reads .env when present, then the environment
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables without validating it
func LoadFromEnv() *Config {
	feeRate, err := decimal.NewFromString(getEnv("SETTLEMENT_FEE_RATE", "0.015"))
	if err != nil {
		feeRate = decimal.RequireFromString("0.015")
	}

	return &Config{
		Server: ServerConfig{
			Environment:   getEnv("ENVIRONMENT", "development"),
			HTTPPort:      getEnvAsInt("HTTP_PORT", 8081),
			GRPCPort:      getEnvAsInt("GRPC_PORT", 8080),
			MetricsPort:   getEnvAsInt("METRICS_PORT", 9090),
			InternalToken: getEnv("INTERNAL_API_TOKEN", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Database: getEnv("DB_NAME", "payout_service"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		},
		Lock: LockConfig{
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
			TTL:           getEnvAsDuration("LOCK_TTL", 60*time.Second),
			WaitTimeout:   getEnvAsDuration("LOCK_WAIT_TIMEOUT", 10*time.Second),
			MaxRetries:    getEnvAsInt("LOCK_MAX_RETRIES", 20),
			RetryBase:     getEnvAsDuration("LOCK_RETRY_BASE", 50*time.Millisecond),
			RetryMax:      getEnvAsDuration("LOCK_RETRY_MAX", 1*time.Second),
			RetryJitter:   getEnvAsFloat("LOCK_RETRY_JITTER", 0.2),
		},
		Provider: ProviderConfig{
			BaseURL:              getEnv("PROVIDER_BASE_URL", "https://api.sandbox.transferwise.tech"),
			ProfileID:            getEnv("PROVIDER_PROFILE_ID", ""),
			TokenPath:            getEnv("PROVIDER_TOKEN_PATH", "payout/provider/api-token"),
			SourceCurrency:       strings.ToUpper(getEnv("PROVIDER_SOURCE_CURRENCY", "USD")),
			Timeout:              getEnvAsDuration("PROVIDER_TIMEOUT", 30*time.Second),
			WebhookPublicKeyPath: getEnv("PROVIDER_WEBHOOK_PUBLIC_KEY_PATH", ""),
		},
		Secrets: SecretsConfig{
			Backend:    getEnv("SECRETS_BACKEND", "local"),
			LocalDir:   getEnv("SECRETS_LOCAL_DIR", "./secrets"),
			AWSRegion:  getEnv("AWS_REGION", "us-east-1"),
			VaultAddr:  getEnv("VAULT_ADDR", ""),
			VaultToken: getEnv("VAULT_TOKEN", ""),
			VaultMount: getEnv("VAULT_MOUNT", "secret"),
			CacheTTL:   getEnvAsDuration("SECRETS_CACHE_TTL", 5*time.Minute),
		},
		Notification: NotificationConfig{
			WebhookURL:    getEnv("NOTIFICATION_WEBHOOK_URL", ""),
			SigningSecret: getEnv("NOTIFICATION_SIGNING_SECRET", ""),
			PollInterval:  getEnvAsDuration("NOTIFICATION_POLL_INTERVAL", 15*time.Second),
			BatchSize:     int32(getEnvAsInt("NOTIFICATION_BATCH_SIZE", 50)),
			MaxAttempts:   getEnvAsInt("NOTIFICATION_MAX_ATTEMPTS", 8),
		},
		Settlement: SettlementConfig{
			FeeBaseCents:             int64(getEnvAsInt("SETTLEMENT_FEE_BASE_CENTS", 50)),
			FeeRate:                  feeRate,
			FeeCapCents:              int64(getEnvAsInt("SETTLEMENT_FEE_CAP_CENTS", 1500)),
			PayoutMinimumCents:       int64(getEnvAsInt("SETTLEMENT_PAYOUT_MINIMUM_CENTS", 100)),
			ExecuteSweepLimit:        int32(getEnvAsInt("SETTLEMENT_EXECUTE_SWEEP_LIMIT", 100)),
			ResetElectionOnZeroUnits: getEnvAsBool("SETTLEMENT_RESET_ELECTION_ON_ZERO_UNITS", false),
		},
		Cron: CronConfig{
			Secret: getEnv("CRON_SECRET", "change-me-in-production"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("WEBHOOK_RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("WEBHOOK_RATE_LIMIT_BURST", 20),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}
}

// Validate rejects inconsistent configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Provider.ProfileID == "" {
		errs = append(errs, errors.New("PROVIDER_PROFILE_ID is required"))
	}
	switch c.Secrets.Backend {
	case "local", "aws":
	case "vault":
		if c.Secrets.VaultAddr == "" {
			errs = append(errs, errors.New("VAULT_ADDR is required for the vault secrets backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SECRETS_BACKEND %q", c.Secrets.Backend))
	}
	if c.Settlement.FeeRate.IsNegative() || c.Settlement.FeeBaseCents < 0 || c.Settlement.FeeCapCents < 0 {
		errs = append(errs, errors.New("fee settings must not be negative"))
	}
	if c.Settlement.PayoutMinimumCents < 0 {
		errs = append(errs, errors.New("SETTLEMENT_PAYOUT_MINIMUM_CENTS must not be negative"))
	}
	if c.Lock.MaxRetries < 0 || c.Lock.WaitTimeout <= 0 || c.Lock.TTL <= 0 {
		errs = append(errs, errors.New("lock timeout and ttl must be positive"))
	}
	if c.Lock.RetryJitter < 0 || c.Lock.RetryJitter > 1 {
		errs = append(errs, errors.New("LOCK_RETRY_JITTER must be between 0 and 1"))
	}
	if c.Notification.MaxAttempts < 1 {
		errs = append(errs, errors.New("NOTIFICATION_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Server.Environment == "production" && c.Cron.Secret == "change-me-in-production" {
		errs = append(errs, errors.New("CRON_SECRET must be set in production"))
	}

	return errors.Join(errs...)
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// ConnectionString returns PostgreSQL connection URL
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
