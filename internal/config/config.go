package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	defaultAppName          = "walletd"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultAccessTokenTTL   = 15 * time.Minute
	defaultLockTimeout      = 3 * time.Second
	defaultOperationTimeout = 10 * time.Second
	defaultPayoutTimeout    = 15 * time.Second
	defaultOutboxInterval   = 2 * time.Second
	defaultLoginRateLimit   = 5
	defaultMinAmount        = "1000"
	defaultMaxAmount        = "10000000"
	defaultCurrency         = "NGN"
	defaultKafkaTopic       = "ledger.transactions"
	developmentJWTSecret    = "dev-secret-change-me"
	idemTTLSecondsEnvVar    = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar        = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar   = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar  = "SHUTDOWN_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	JWTSecret      string
	AccessTokenTTL time.Duration
	LoginRateLimit int

	LockTimeout      time.Duration
	OperationTimeout time.Duration
	PayoutTimeout    time.Duration
	MinAmount        decimal.Decimal
	MaxAmount        decimal.Decimal
	DefaultCurrency  string

	StripeSecretKey string

	KafkaBrokers       []string
	KafkaTopic         string
	OutboxPollInterval time.Duration
	AutoMigrate        bool
}

// Load reads configuration values from the environment, after merging a .env
// file when one exists, and populates a Config instance.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:         getEnv("APP_NAME", defaultAppName),
		AppEnv:          getEnv("APP_ENV", defaultAppEnv),
		Port:            getEnv("PORT", defaultPort),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		ShutdownPeriod:  defaultShutdownDelay,
		IdempotencyTTL:  defaultIdempotencyTTL,
		JWTSecret:       os.Getenv("JWT_SECRET"),
		DefaultCurrency: strings.ToUpper(getEnv("DEFAULT_CURRENCY", defaultCurrency)),
		StripeSecretKey: os.Getenv("STRIPE_SECRET_KEY"),
		KafkaBrokers:    splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:      getEnv("KAFKA_TOPIC", defaultKafkaTopic),
	}

	var err error
	if cfg.ShutdownPeriod, err = secondsOrDuration(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = secondsOrDuration(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.AccessTokenTTL, err = duration("ACCESS_TOKEN_TTL", defaultAccessTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.LockTimeout, err = duration("LOCK_TIMEOUT", defaultLockTimeout); err != nil {
		return Config{}, err
	}
	if cfg.OperationTimeout, err = duration("OPERATION_TIMEOUT", defaultOperationTimeout); err != nil {
		return Config{}, err
	}
	if cfg.PayoutTimeout, err = duration("PAYOUT_TIMEOUT", defaultPayoutTimeout); err != nil {
		return Config{}, err
	}
	if cfg.OutboxPollInterval, err = duration("OUTBOX_POLL_INTERVAL", defaultOutboxInterval); err != nil {
		return Config{}, err
	}
	if cfg.MinAmount, err = amount("MIN_AMOUNT", defaultMinAmount); err != nil {
		return Config{}, err
	}
	if cfg.MaxAmount, err = amount("MAX_AMOUNT", defaultMaxAmount); err != nil {
		return Config{}, err
	}
	if cfg.MaxAmount.IsPositive() && cfg.MinAmount.GreaterThan(cfg.MaxAmount) {
		return Config{}, fmt.Errorf("MIN_AMOUNT %s exceeds MAX_AMOUNT %s", cfg.MinAmount, cfg.MaxAmount)
	}

	if v := os.Getenv("LOGIN_RATE_LIMIT"); v != "" {
		if cfg.LoginRateLimit, err = strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("invalid LOGIN_RATE_LIMIT: %w", err)
		}
	} else {
		cfg.LoginRateLimit = defaultLoginRateLimit
	}

	if v := os.Getenv("AUTO_MIGRATE"); v != "" {
		if cfg.AutoMigrate, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("invalid AUTO_MIGRATE: %w", err)
		}
	}

	if !cfg.IsDevelopment() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
		if cfg.JWTSecret == "" {
			return Config{}, fmt.Errorf("JWT_SECRET must be set")
		}
	} else if cfg.JWTSecret == "" {
		cfg.JWTSecret = developmentJWTSecret
	}

	return cfg, nil
}

// IsDevelopment reports whether the service runs in development mode, where
// missing backing services fall back to in-memory implementations.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == defaultAppEnv
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func secondsOrDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return duration(durationKey, fallback)
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func amount(key, fallback string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(getEnv(key, fallback))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
