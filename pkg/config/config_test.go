package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/chronovault/pkg/config"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "HASH_SECRET", "DB_DRIVER",
		"REDIS_ADDR", "WORKERS", "MAX_ATTEMPTS", "METRICS_ENABLED",
	} {
		t.Setenv(key, "")
	}

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "chronovault-salt", cfg.HashSecret)
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Empty(t, cfg.RedisAddr, "default runs without Redis")
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.False(t, cfg.MetricsEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("WORKERS", "8")
	t.Setenv("RATE_LIMIT_RPS", "100.5")
	t.Setenv("METRICS_ENABLED", "true")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres", cfg.Driver)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 100.5, cfg.RateLimitRPS)
	assert.True(t, cfg.MetricsEnabled)
}

func TestLoadBadIntFallsBack(t *testing.T) {
	t.Setenv("WORKERS", "not-a-number")
	cfg := config.Load()
	assert.Equal(t, 4, cfg.Workers)
}

func TestLoadFileOverlay(t *testing.T) {
	t.Setenv("PORT", "9090")
	cfg := config.Load()

	path := filepath.Join(t.TempDir(), "chronovault.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"7070\"\nworkers: 2\n"), 0o600))

	require.NoError(t, config.LoadFile(cfg, path))
	assert.Equal(t, "7070", cfg.Port, "file wins over env")
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "chronovault-salt", cfg.HashSecret, "unset fields keep env values")
}

func TestLoadFileMissing(t *testing.T) {
	cfg := config.Load()
	err := config.LoadFile(cfg, filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
