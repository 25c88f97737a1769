package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rateio-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.LoadFrom(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "rateio.db", cfg.DBPath)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, 5*time.Minute, cfg.HistoryCacheTTL)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.CORSOrigins)
	assert.False(t, cfg.UniquePeriod)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("HISTORY_CACHE_TTL", "30s")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("CORS_ORIGINS", " https://app.example.com , ,https://ops.example.com")
	t.Setenv("UNIQUE_PERIOD", "true")
	t.Setenv("APP_ENV", "production")

	cfg, err := config.LoadFrom(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, 30*time.Second, cfg.HistoryCacheTTL)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
	assert.Equal(t, []string{"https://app.example.com", "https://ops.example.com"}, cfg.CORSOrigins)
	assert.True(t, cfg.UniquePeriod)
	assert.True(t, cfg.IsProduction())
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DB_PATH=/var/lib/rateio.db\nPORT=7070\n"), 0o600))

	cfg, err := config.LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/rateio.db", cfg.DBPath)
	assert.Equal(t, "7070", cfg.Port)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("HISTORY_CACHE_TTL", "soon")
	_, err := config.LoadFrom(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "HISTORY_CACHE_TTL")

	t.Setenv("HISTORY_CACHE_TTL", "1m")
	t.Setenv("LOG_LEVEL", "loud")
	_, err = config.LoadFrom(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "LOG_LEVEL")
}
