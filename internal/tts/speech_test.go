package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/audio"
)

func TestNewSpeechClient_RequiresURL(t *testing.T) {
	_, err := NewSpeechClient("")
	assert.ErrorIs(t, err, ErrBaseURLRequired)
}

func TestSpeechClient_Synthesize(t *testing.T) {
	pcm := make([]byte, 2400)
	for i := range pcm {
		pcm[i] = byte(i % 13)
	}

	var gotReq speechRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(audio.EncodeWAV(pcm, 24000))
	}))
	defer srv.Close()

	c, err := NewSpeechClient(srv.URL, WithSpeechRateLimit(1000))
	require.NoError(t, err)

	got, err := c.Synthesize(context.Background(), "A short passage.", "mia", DefaultParams())
	require.NoError(t, err)

	assert.Equal(t, pcm, got)
	assert.Equal(t, "A short passage.", gotReq.Input)
	assert.Equal(t, "mia", gotReq.Voice)
	assert.Equal(t, "wav", gotReq.ResponseFormat)
	assert.Equal(t, defaultModel, gotReq.Model)
}

func TestSpeechClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewSpeechClient(srv.URL, WithSpeechRateLimit(1000))
	require.NoError(t, err)

	_, err = c.Synthesize(context.Background(), "text", "tara", DefaultParams())
	assert.ErrorIs(t, err, ErrSynthesis)
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestSpeechClient_EmptyText(t *testing.T) {
	c, err := NewSpeechClient("http://127.0.0.1:1")
	require.NoError(t, err)

	_, err = c.Synthesize(context.Background(), "", "tara", DefaultParams())
	assert.ErrorIs(t, err, ErrEmptyText)
}
