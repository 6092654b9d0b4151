package audio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeWAV(t *testing.T) {
	pcm := make([]byte, 48000) // one second at 24kHz, 16-bit mono
	for i := range pcm {
		pcm[i] = byte(i % 251)
	}

	encoded := EncodeWAV(pcm, 24000)
	decoded, rate, err := DecodeWAV(encoded)

	require.NoError(t, err)
	assert.Equal(t, 24000, rate)
	assert.Equal(t, pcm, decoded)
}

func TestDecodeWAV_Invalid(t *testing.T) {
	t.Run("not a wav", func(t *testing.T) {
		_, _, err := DecodeWAV([]byte("definitely not audio data, just text padding here"))
		assert.ErrorIs(t, err, ErrNotWAV)
	})

	t.Run("truncated", func(t *testing.T) {
		_, _, err := DecodeWAV([]byte("RIFF"))
		assert.ErrorIs(t, err, ErrNotWAV)
	})

	t.Run("empty data chunk", func(t *testing.T) {
		_, _, err := DecodeWAV(EncodeWAV(nil, 24000))
		assert.ErrorIs(t, err, ErrNoAudioData)
	})

	t.Run("stereo rejected", func(t *testing.T) {
		stereo := EncodeWAV(make([]byte, 100), 24000)
		stereo[22] = 2 // channel count
		_, _, err := DecodeWAV(stereo)
		assert.ErrorIs(t, err, ErrUnsupportedWAV)
	})
}

func TestPCMDurationMs(t *testing.T) {
	// 48000 bytes of 16-bit mono at 24kHz is exactly one second.
	assert.InDelta(t, 1000.0, PCMDurationMs(48000, 24000), 1e-9)
	assert.InDelta(t, 500.0, PCMDurationMs(24000, 24000), 1e-9)
	assert.Zero(t, PCMDurationMs(1000, 0))
}

func TestWriteWAVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	pcm := make([]byte, 2400)

	require.NoError(t, WriteWAVFile(path, pcm, 24000))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	decoded, rate, err := DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, 24000, rate)
	assert.Len(t, decoded, 2400)
}
