package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	WorkerBinary   string `envconfig:"WORKER_BINARY" default:"archive-fetch"`
	DestinationDir string `envconfig:"DESTINATION_DIR" required:"true"`
	DBPath         string `envconfig:"DB_PATH" default:"downloads.db"`
	LockPath       string `envconfig:"LOCK_PATH" default:"archive_mirror.lock"`

	MaxConcurrent    int           `envconfig:"MAX_CONCURRENT" default:"1"`
	DispatchInterval time.Duration `envconfig:"DISPATCH_INTERVAL" default:"30s"`

	ArchiveBaseURL string `envconfig:"ARCHIVE_BASE_URL" default:"https://archive.org"`
	ArchiveToken   string `envconfig:"ARCHIVE_TOKEN"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Retry struct {
		MaxAttempts   uint          `split_words:"true" default:"4"`
		InitialDelay  time.Duration `split_words:"true" default:"250ms"`
		MaxDelay      time.Duration `split_words:"true" default:"5s"`
		BackoffFactor float64       `split_words:"true" default:"2"`
	}

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"archive_mirror"`
		OTLPEndpoint string `envconfig:"TELEMETRY_OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
