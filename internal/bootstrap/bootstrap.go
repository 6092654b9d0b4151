// Package bootstrap provides dependency initialization for the converter.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/audio"
	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/config"
	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/pipeline"
	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/storage"
	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/tts"
)

// Dependencies holds all initialized dependencies for a conversion run.
type Dependencies struct {
	Converter *pipeline.Service
	Storage   storage.Storage
	FFmpeg    *audio.FFmpeg
}

// NewDependencies creates and initializes all dependencies for the
// application. Pipeline options (event and confirmation channels) are
// passed through to the service.
func NewDependencies(cfg *config.Config, logger *slog.Logger, opts ...pipeline.Option) (*Dependencies, error) {
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	synth, err := initSynthesizer(cfg)
	if err != nil {
		return nil, err
	}

	ffmpeg := audio.NewFFmpeg("", "")
	if !ffmpeg.Available() {
		logger.Warn("ffmpeg not found in PATH, merging and muxing will fail")
	}

	svc := pipeline.NewService(synth, store, ffmpeg, logger, opts...)

	return &Dependencies{
		Converter: svc,
		Storage:   store,
		FFmpeg:    ffmpeg,
	}, nil
}

// initSynthesizer creates the speech backend client named by the
// configuration.
func initSynthesizer(cfg *config.Config) (tts.Synthesizer, error) {
	switch cfg.Backend {
	case config.BackendSpeech:
		client, err := tts.NewSpeechClient(cfg.BackendURL,
			tts.WithSpeechSampleRate(cfg.SampleRate),
		)
		if err != nil {
			return nil, fmt.Errorf("create speech client: %w", err)
		}
		return client, nil
	default:
		client, err := tts.NewOrpheusClient(cfg.BackendURL,
			tts.WithSampleRate(cfg.SampleRate),
		)
		if err != nil {
			return nil, fmt.Errorf("create orpheus client: %w", err)
		}
		return client, nil
	}
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, cfg.OutputDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir, cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
