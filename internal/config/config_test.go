package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendOrpheus, cfg.Backend)
	assert.Equal(t, "http://127.0.0.1:1234/v1/completions", cfg.BackendURL)
	assert.Equal(t, "tara", cfg.Voice)
	assert.Equal(t, 24000, cfg.SampleRate)
	assert.InDelta(t, 0.6, cfg.Temperature, 1e-9)
	assert.InDelta(t, 0.9, cfg.TopP, 1e-9)
	assert.InDelta(t, 1.3, cfg.RepetitionPenalty, 1e-9)
	assert.Equal(t, 1200, cfg.MaxTokens)
	assert.Equal(t, 150, cfg.MaxChunkLen)
	assert.Equal(t, 0, cfg.MinChunkLen)
	assert.Equal(t, 200, cfg.MinContentLen)
	assert.Equal(t, "128k", cfg.AACBitrate)
	assert.False(t, cfg.NoM4B)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("ORPHEUS_BACKEND", "speech")
	t.Setenv("ORPHEUS_BACKEND_URL", "http://localhost:8000/v1/audio/speech")
	t.Setenv("ORPHEUS_VOICE", "leo")
	t.Setenv("ORPHEUS_MAX_CHUNK_LEN", "800")
	t.Setenv("ORPHEUS_MIN_CHUNK_LEN", "100")
	t.Setenv("ORPHEUS_NO_M4B", "true")
	t.Setenv("S3_BUCKET", "my-bucket")
	t.Setenv("S3_REGION", "us-east-1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendSpeech, cfg.Backend)
	assert.Equal(t, "http://localhost:8000/v1/audio/speech", cfg.BackendURL)
	assert.Equal(t, "leo", cfg.Voice)
	assert.Equal(t, 800, cfg.MaxChunkLen)
	assert.Equal(t, 100, cfg.MinChunkLen)
	assert.True(t, cfg.NoM4B)
	assert.True(t, cfg.S3Enabled())
}

func TestLoad_InvalidBackend(t *testing.T) {
	t.Setenv("ORPHEUS_BACKEND", "espeak")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidBackend)
}

func TestLoad_InvalidChunkBounds(t *testing.T) {
	// Derived minimum is max(50, 40/10) = 50, which exceeds the ceiling.
	t.Setenv("ORPHEUS_MAX_CHUNK_LEN", "40")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidChunkBounds)
}

func TestConfig_EffectiveMinChunkLen(t *testing.T) {
	tests := []struct {
		name     string
		min      int
		max      int
		expected int
	}{
		{"explicit min wins", 75, 150, 75},
		{"derived floor of 50", 0, 150, 50},
		{"derived tenth of max", 0, 1000, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{MinChunkLen: tt.min, MaxChunkLen: tt.max}
			assert.Equal(t, tt.expected, c.EffectiveMinChunkLen())
		})
	}
}

func TestConfig_S3Enabled(t *testing.T) {
	tests := []struct {
		name     string
		bucket   string
		region   string
		expected bool
	}{
		{"both set", "bucket", "region", true},
		{"only bucket", "bucket", "", false},
		{"only region", "", "region", false},
		{"neither", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{S3Bucket: tt.bucket, S3Region: tt.region}
			assert.Equal(t, tt.expected, c.S3Enabled())
		})
	}
}
