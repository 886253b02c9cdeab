package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/console")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("VERIFY_TOKEN", "verify")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Empty(t, cfg.Server.CORSOrigins, "cross-origin access is opt-in")
	assert.Equal(t, "https://graph.facebook.com/v22.0", cfg.Meta.GraphURL)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "auth_token", cfg.Auth.CookieName)
	assert.Equal(t, 7, cfg.Archive.Days)
	assert.Equal(t, "0 3 * * *", cfg.Archive.Cron)
	assert.NoError(t, cfg.Validate())
}

func TestValidateReportsEveryMissingSetting(t *testing.T) {
	cfg := &Config{Archive: ArchiveConfig{Days: 0}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "VERIFY_TOKEN")
	assert.Contains(t, err.Error(), "ARCHIVE_DAYS")
}

func TestRedisAddr(t *testing.T) {
	assert.Equal(t, "", (&RedisConfig{Port: "6379"}).Addr())
	assert.Equal(t, "cache:6380", (&RedisConfig{Host: "cache", Port: "6380"}).Addr())
}
