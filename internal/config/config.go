// Package config reads the service settings from the environment, after
// loading a .env file if one exists.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"kaarna/internal/google"
	"kaarna/internal/microsoft"
)

type Config struct {
	Host       string
	Port       int
	PublicURL  string
	SQLitePath string

	LogLevel  string
	LogFormat string

	RedisAddr     string
	RedisPassword string

	Google    google.Config
	Microsoft microsoft.Config
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads .env (a missing file is ignored) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the configuration from the environment only.
func FromEnv() (*Config, error) {
	port, err := strconv.Atoi(getEnv("PORT", "3001"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}
	googleEnabled, err := getBool("OAUTH2_GOOGLE_ENABLED", true)
	if err != nil {
		return nil, err
	}
	microsoftEnabled, err := getBool("OAUTH2_MICROSOFT_ENABLED", true)
	if err != nil {
		return nil, err
	}

	return &Config{
		Host:          getEnv("HOST", "localhost"),
		Port:          port,
		PublicURL:     strings.TrimSuffix(getEnv("PUBLIC_URL", "http://localhost:3000"), "/"),
		SQLitePath:    getEnv("SQLITE_PATH", "kaarna.db"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		Google: google.Config{
			Enabled:      googleEnabled,
			ClientID:     os.Getenv("OAUTH2_GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("OAUTH2_GOOGLE_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("OAUTH2_GOOGLE_REDIRECT_URI"),
		},
		Microsoft: microsoft.Config{
			Enabled:         microsoftEnabled,
			ClientID:        os.Getenv("OAUTH2_MICROSOFT_CLIENT_ID"),
			TenantID:        getEnv("OAUTH2_MICROSOFT_TENANT_ID", "consumers"),
			RedirectURL:     os.Getenv("OAUTH2_MICROSOFT_REDIRECT_URI"),
			CertificatePath: os.Getenv("OAUTH2_MICROSOFT_CERTIFICATE_PATH"),
			PrivateKeyPath:  os.Getenv("OAUTH2_MICROSOFT_PRIVATE_KEY_PATH"),
		},
	}, nil
}

// NewLogger builds the process logger. format is "text" or "json".
func NewLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
