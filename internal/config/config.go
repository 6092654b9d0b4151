// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidBackend is returned when ORPHEUS_BACKEND names an unknown backend.
	ErrInvalidBackend = errors.New("config: backend must be \"orpheus\" or \"speech\"")
	// ErrInvalidChunkBounds is returned when the chunk length bounds are inconsistent.
	ErrInvalidChunkBounds = errors.New("config: min chunk length must be smaller than max chunk length")
)

// Backend names accepted by ORPHEUS_BACKEND.
const (
	BackendOrpheus = "orpheus"
	BackendSpeech  = "speech"
)

// Config holds all configuration for the application.
type Config struct {
	// Synthesis backend settings
	Backend    string `env:"ORPHEUS_BACKEND, default=orpheus" json:"backend"`
	BackendURL string `env:"ORPHEUS_BACKEND_URL, default=http://127.0.0.1:1234/v1/completions" json:"backend_url"`
	Voice      string `env:"ORPHEUS_VOICE, default=tara" json:"voice"`
	SampleRate int    `env:"ORPHEUS_SAMPLE_RATE, default=24000" json:"sample_rate"`

	// Sampling parameters (documented ranges in tts.Params)
	Temperature       float64 `env:"ORPHEUS_TEMPERATURE, default=0.6" json:"temperature"`
	TopP              float64 `env:"ORPHEUS_TOP_P, default=0.9" json:"top_p"`
	RepetitionPenalty float64 `env:"ORPHEUS_REPETITION_PENALTY, default=1.3" json:"repetition_penalty"`
	MaxTokens         int     `env:"ORPHEUS_MAX_TOKENS, default=1200" json:"max_tokens"`

	// Chunking settings
	MaxChunkLen int `env:"ORPHEUS_MAX_CHUNK_LEN, default=150" json:"max_chunk_len"`
	// MinChunkLen of 0 means derived: max(50, MaxChunkLen/10).
	MinChunkLen int `env:"ORPHEUS_MIN_CHUNK_LEN, default=0" json:"min_chunk_len"`
	// MinContentLen is the minimum normalized text length for a document
	// to count as a chapter.
	MinContentLen int `env:"ORPHEUS_MIN_CONTENT_LEN, default=200" json:"min_content_len"`

	// Output settings
	OutputDir  string `env:"ORPHEUS_OUTPUT_DIR" json:"output_dir,omitempty"`
	TempDir    string `env:"ORPHEUS_TEMP_DIR, default=/tmp/orpheus-audiobook" json:"temp_dir"`
	AACBitrate string `env:"ORPHEUS_AAC_BITRATE, default=128k" json:"aac_bitrate"`
	NoM4B      bool   `env:"ORPHEUS_NO_M4B, default=false" json:"no_m4b"`

	// Optional S3 settings for final artifact upload
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// EffectiveMinChunkLen returns the configured minimum chunk length, or the
// derived default max(50, MaxChunkLen/10) when unset.
func (c *Config) EffectiveMinChunkLen() int {
	if c.MinChunkLen > 0 {
		return c.MinChunkLen
	}
	if derived := c.MaxChunkLen / 10; derived > 50 {
		return derived
	}
	return 50
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Backend) {
	case BackendOrpheus, BackendSpeech:
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidBackend, c.Backend)
	}
	if c.MaxChunkLen > 0 && c.EffectiveMinChunkLen() >= c.MaxChunkLen {
		return fmt.Errorf("%w: min=%d max=%d", ErrInvalidChunkBounds, c.EffectiveMinChunkLen(), c.MaxChunkLen)
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs. Logs go to stderr so the
// result output on stdout stays clean.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
