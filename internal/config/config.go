package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/snarg/wsreplay/internal/hash"
)

type Config struct {
	Mode             string `env:"REPLAY_MODE" envDefault:"passthrough"`
	RecordingPath    string `env:"RECORDING_PATH"`
	BaseRecordingDir string `env:"BASE_RECORDING_DIR" envDefault:"./recordings"`
	HashNormalize    string `env:"REPLAY_HASH_NORMALIZE" envDefault:"true"`

	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	SocketPath  string `env:"SOCKET_PATH"`
	UpstreamURL string `env:"UPSTREAM_URL"`

	IdleTimeout    time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	S3Bucket    string `env:"S3_BUCKET"`
	S3Prefix    string `env:"S3_PREFIX" envDefault:"recordings"`
	S3Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`

	ArchiveQueueSize int `env:"ARCHIVE_QUEUE_SIZE" envDefault:"64"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Normalize is HashNormalize parsed strictly; set by Load.
	Normalize bool `env:"-"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile          string
	Mode             string
	HTTPAddr         string
	SocketPath       string
	UpstreamURL      string
	RecordingPath    string
	BaseRecordingDir string
	LogLevel         string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.Mode != "" {
		cfg.Mode = overrides.Mode
	}
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.SocketPath != "" {
		cfg.SocketPath = overrides.SocketPath
	}
	if overrides.UpstreamURL != "" {
		cfg.UpstreamURL = overrides.UpstreamURL
	}
	if overrides.RecordingPath != "" {
		cfg.RecordingPath = overrides.RecordingPath
	}
	if overrides.BaseRecordingDir != "" {
		cfg.BaseRecordingDir = overrides.BaseRecordingDir
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}

	normalize, err := hash.ParseNormalize(cfg.HashNormalize)
	if err != nil {
		return nil, fmt.Errorf("REPLAY_HASH_NORMALIZE: %w", err)
	}
	cfg.Normalize = normalize

	switch cfg.Mode {
	case "passthrough", "record", "playback":
	default:
		return nil, fmt.Errorf("REPLAY_MODE: invalid mode %q", cfg.Mode)
	}

	return cfg, nil
}
