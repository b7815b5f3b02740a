package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadFallsBackOnInvalidValues(t *testing.T) {
	t.Setenv("LOCK_BACKEND", "zookeeper")
	t.Setenv("LOCK_TIMEOUT_MS", "-5")
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "abc")
	t.Setenv("AUTO_MIGRATE", "yes please")

	cfg := Load()
	assert.Equal(t, LockBackendAuto, cfg.LockBackend)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, time.Minute, cfg.ReportCacheTTL)
	assert.False(t, cfg.AutoMigrate)
}

func TestLoadReadsLockSettings(t *testing.T) {
	t.Setenv("LOCK_BACKEND", "Redis")
	t.Setenv("LOCK_TIMEOUT_MS", "250")
	t.Setenv("LOCK_TTL_SECONDS", "10")
	t.Setenv("AUTO_MIGRATE", "true")
	t.Setenv("PORT", "9090")

	cfg := Load()
	assert.Equal(t, LockBackendRedis, cfg.LockBackend)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, ":9090", cfg.Address())
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("debug", "text")
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)

	logger = NewLogger("loud", "")
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}
