// Package config reads server settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

type Config struct {
	Addr            string
	Store           string
	SQLitePath      string
	RedisAddr       string
	RedisPrefix     string
	AllowedOrigins  string
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	StoreTimeout    time.Duration
	MessageRate     float64
	MessageBurst    int
	HistoryLimit    int
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// Load builds a Config from the environment, applying defaults for unset keys.
func Load() (Config, error) {
	cfg := Config{
		Addr:           getEnv("ADDR", "127.0.0.1:3000"),
		Store:          strings.ToLower(getEnv("STORE", StoreMemory)),
		SQLitePath:     getEnv("SQLITE_PATH", "chat.db"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPrefix:    getEnv("REDIS_PREFIX", "chat:"),
		AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
	}

	switch cfg.Store {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		return Config{}, fmt.Errorf("invalid STORE %q: want memory, sqlite or redis", cfg.Store)
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	var err error
	if cfg.ShutdownTimeout, err = duration("SHUTDOWN_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.StoreTimeout, err = duration("STORE_TIMEOUT", 3*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MessageRate, err = positiveFloat("MESSAGE_RATE", 10); err != nil {
		return Config{}, err
	}
	if cfg.MessageBurst, err = positiveInt("MESSAGE_BURST", 20); err != nil {
		return Config{}, err
	}
	if cfg.HistoryLimit, err = positiveInt("HISTORY_LIMIT", 1000); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive duration", key, raw)
	}
	return d, nil
}

func positiveInt(key string, fallback int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive integer", key, raw)
	}
	return n, nil
}

func positiveFloat(key string, fallback float64) (float64, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive number", key, raw)
	}
	return f, nil
}
