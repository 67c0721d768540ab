// Package config loads connectid settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every setting the binary reads.
type Config struct {
	Endpoint        string        `env:"CONNECTID_ENDPOINT" envDefault:"https://ups.analytics.yahoo.com" validate:"required,url"`
	DataDir         string        `env:"CONNECTID_DATA_DIR"`
	PageURL         string        `env:"CONNECTID_PAGE_URL" validate:"omitempty,url"`
	PUIDReuseWindow time.Duration `env:"CONNECTID_PUID_REUSE_WINDOW" envDefault:"720h" validate:"gt=0"`
	HTTPTimeout     time.Duration `env:"CONNECTID_HTTP_TIMEOUT" envDefault:"10s" validate:"gt=0"`

	ListenAddr     string   `env:"CONNECTID_LISTEN_ADDR" envDefault:"127.0.0.1:8787" validate:"required,hostname_port"`
	AllowedOrigins []string `env:"CONNECTID_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	RateLimit      float64  `env:"CONNECTID_RATE_LIMIT" envDefault:"5" validate:"gt=0"`
	RateBurst      int      `env:"CONNECTID_RATE_BURST" envDefault:"10" validate:"gt=0"`

	LogLevel  string `env:"CONNECTID_LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn warning error"`
	LogFormat string `env:"CONNECTID_LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`

	// Passphrase unlocks the encrypted store. Prompted for when empty.
	Passphrase string `env:"CONNECTID_PASSPHRASE"`
}

// Load reads dotenv (if the file exists) into the process environment,
// parses the environment and validates the result. Variables already set
// in the environment win over the file.
func Load(dotenv string) (Config, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}

	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Logger builds the process logger described by LogLevel and LogFormat.
func (c Config) Logger(w io.Writer) *slog.Logger {
	lvl := slog.LevelInfo

	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
