// Package config loads server settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Config holds application configuration (env + Viper).
type Config struct {
	Env             string
	Port            string
	DBPath          string
	RedisURL        string // empty disables the history cache
	HistoryCacheTTL time.Duration
	LogLevel        zerolog.Level
	CORSOrigins     []string
	UniquePeriod    bool // one allocation record per generator and period
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Load loads config from env and optional .env file.
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom reads the given env file if it exists; environment variables win.
func LoadFrom(envFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_PATH", "rateio.db")
	v.SetDefault("HISTORY_CACHE_TTL", "5m")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("UNIQUE_PERIOD", false)

	ttl, err := time.ParseDuration(v.GetString("HISTORY_CACHE_TTL"))
	if err != nil {
		return nil, fmt.Errorf("invalid HISTORY_CACHE_TTL: %w", err)
	}

	level, err := zerolog.ParseLevel(strings.ToLower(v.GetString("LOG_LEVEL")))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	return &Config{
		Env:             v.GetString("APP_ENV"),
		Port:            v.GetString("PORT"),
		DBPath:          v.GetString("DB_PATH"),
		RedisURL:        strings.TrimSpace(v.GetString("REDIS_URL")),
		HistoryCacheTTL: ttl,
		LogLevel:        level,
		CORSOrigins:     splitList(v.GetString("CORS_ORIGINS")),
		UniquePeriod:    v.GetBool("UNIQUE_PERIOD"),
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
