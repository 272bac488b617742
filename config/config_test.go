package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no .env here
	for _, key := range []string{
		"HTTP_HOST", "HTTP_PORT", "DATABASE_PATH", "SESSION_TTL", "LOAN_PERIOD_DAYS",
		"SYNC_BEFORE_READ", "STORE_MAX_ATTEMPTS", "BCRYPT_COST", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:8080", cfg.Addr())
	assert.Equal(t, "library.db", cfg.DatabasePath)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 14*24*time.Hour, cfg.LoanPeriod())
	assert.True(t, cfg.SyncBeforeRead)
	assert.Equal(t, 4, cfg.StoreMaxAttempts)
	assert.Equal(t, bcrypt.DefaultCost, cfg.BcryptCost)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("SYNC_BEFORE_READ", "false")
	t.Setenv("LOGIN_RATE_LIMIT", "0.5")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.False(t, cfg.SyncBeforeRead)
	assert.InDelta(t, 0.5, cfg.LoginRateLimit, 1e-9)
	assert.NotNil(t, cfg.NewLogger())
}

func TestLoadConfigRejectsMalformedValues(t *testing.T) {
	cases := map[string]string{
		"HTTP_PORT":        "eighty",
		"SESSION_TTL":      "a day",
		"SYNC_BEFORE_READ": "maybe",
		"LOGIN_RATE_LIMIT": "fast",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(key, value)
			_, err := LoadConfig()
			assert.ErrorContains(t, err, key)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	base, err := LoadConfig()
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.HTTPPort = 70000 }, "HTTP_PORT"},
		{"ttl", func(c *Config) { c.SessionTTL = 0 }, "SESSION_TTL"},
		{"loan period", func(c *Config) { c.LoanPeriodDays = 0 }, "LOAN_PERIOD_DAYS"},
		{"attempts", func(c *Config) { c.StoreMaxAttempts = 0 }, "STORE_MAX_ATTEMPTS"},
		{"bcrypt", func(c *Config) { c.BcryptCost = 99 }, "BCRYPT_COST"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "LOG_LEVEL"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := *base
			tc.mutate(&c)
			assert.ErrorContains(t, c.Validate(), tc.want)
		})
	}
}
