package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	// HTTP
	HTTPHost     string
	HTTPPort     int
	StaticDir    string
	CookieSecure bool

	// Store
	DatabasePath        string
	BusyTimeout         time.Duration
	StoreMaxAttempts    int
	StoreRetryBaseDelay time.Duration
	SyncBeforeRead      bool

	// Lending & auth
	SessionTTL     time.Duration
	LoanPeriodDays int
	BcryptCost     int
	LoginRateLimit float64
	LoginRateBurst int

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadConfig reads configuration from the environment, after loading .env if present.
func LoadConfig() (*Config, error) {
	// A missing .env is fine; plain environment variables still apply.
	_ = godotenv.Load(".env")

	config := &Config{}

	if err := loadEnvString(&config.HTTPHost, "HTTP_HOST", "127.0.0.1"); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.HTTPPort, "HTTP_PORT", 8080); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.StaticDir, "STATIC_DIR", "static"); err != nil {
		return nil, err
	}
	if err := loadEnvBool(&config.CookieSecure, "COOKIE_SECURE", false); err != nil {
		return nil, err
	}

	// Store
	if err := loadEnvString(&config.DatabasePath, "DATABASE_PATH", "library.db"); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.BusyTimeout, "BUSY_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.StoreMaxAttempts, "STORE_MAX_ATTEMPTS", 4); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.StoreRetryBaseDelay, "STORE_RETRY_BASE_DELAY", 10*time.Millisecond); err != nil {
		return nil, err
	}
	if err := loadEnvBool(&config.SyncBeforeRead, "SYNC_BEFORE_READ", true); err != nil {
		return nil, err
	}

	// Lending & auth
	if err := loadEnvDuration(&config.SessionTTL, "SESSION_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.LoanPeriodDays, "LOAN_PERIOD_DAYS", 14); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.BcryptCost, "BCRYPT_COST", bcrypt.DefaultCost); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.LoginRateLimit, "LOGIN_RATE_LIMIT", 5); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.LoginRateBurst, "LOGIN_RATE_BURST", 10); err != nil {
		return nil, err
	}

	// Logging
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", "info"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", "text"); err != nil {
		return nil, err
	}
	return config, nil
}

func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvBool(target *bool, key string, defaultValue bool) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var problems []string

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		problems = append(problems, "HTTP_PORT must be between 1 and 65535")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		problems = append(problems, "DATABASE_PATH must not be empty")
	}
	if c.SessionTTL <= 0 {
		problems = append(problems, "SESSION_TTL must be positive")
	}
	if c.LoanPeriodDays < 1 {
		problems = append(problems, "LOAN_PERIOD_DAYS must be at least 1")
	}
	if c.BusyTimeout < 0 {
		problems = append(problems, "BUSY_TIMEOUT must not be negative")
	}
	if c.StoreMaxAttempts < 1 {
		problems = append(problems, "STORE_MAX_ATTEMPTS must be at least 1")
	}
	if c.StoreRetryBaseDelay < 0 {
		problems = append(problems, "STORE_RETRY_BASE_DELAY must not be negative")
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		problems = append(problems, fmt.Sprintf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.LoginRateLimit <= 0 {
		problems = append(problems, "LOGIN_RATE_LIMIT must be positive")
	}
	if c.LoginRateBurst < 1 {
		problems = append(problems, "LOGIN_RATE_BURST must be at least 1")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		problems = append(problems, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		problems = append(problems, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTPHost, c.HTTPPort)
}

// LoanPeriod converts LoanPeriodDays to a duration.
func (c *Config) LoanPeriod() time.Duration {
	return time.Duration(c.LoanPeriodDays) * 24 * time.Hour
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
