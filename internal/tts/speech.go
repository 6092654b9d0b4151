package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/audio"
)

// SpeechClient synthesizes speech through an OpenAI-compatible
// /v1/audio/speech endpoint. Servers such as orpheus-speech expose this
// shape; sampling parameters beyond voice and model are fixed server-side.
type SpeechClient struct {
	baseURL    string
	model      string
	sampleRate int
	httpClient *http.Client
	limiter    *rate.Limiter
}

// SpeechOption configures a SpeechClient.
type SpeechOption func(*SpeechClient)

// WithSpeechHTTPClient sets a custom HTTP client.
func WithSpeechHTTPClient(c *http.Client) SpeechOption {
	return func(sc *SpeechClient) {
		sc.httpClient = c
	}
}

// WithSpeechModel sets the model identifier sent to the backend.
func WithSpeechModel(model string) SpeechOption {
	return func(sc *SpeechClient) {
		sc.model = model
	}
}

// WithSpeechSampleRate overrides the expected output sample rate.
func WithSpeechSampleRate(hz int) SpeechOption {
	return func(sc *SpeechClient) {
		sc.sampleRate = hz
	}
}

// WithSpeechRateLimit caps requests per second to the backend.
func WithSpeechRateLimit(rps float64) SpeechOption {
	return func(sc *SpeechClient) {
		sc.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// NewSpeechClient creates a client for an OpenAI-compatible speech endpoint.
func NewSpeechClient(baseURL string, opts ...SpeechOption) (*SpeechClient, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	c := &SpeechClient{
		baseURL:    baseURL,
		model:      defaultModel,
		sampleRate: DefaultSampleRate,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		limiter:    rate.NewLimiter(rate.Limit(2), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize converts one text chunk to PCM16 mono audio. Params are
// accepted for interface parity but this endpoint does not forward them.
func (c *SpeechClient) Synthesize(ctx context.Context, text, voice string, _ Params) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if voice == "" {
		voice = DefaultVoice
	}

	reqBody := speechRequest{
		Model:          c.model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: "wav",
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("tts: marshal request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("tts: rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("tts: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	defer func() { _ = resp.Body.Close() }()

	wav, err := readResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}

	pcm, _, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadAudio, err)
	}
	return pcm, nil
}

// SampleRate returns the backend's output sample rate in Hz.
func (c *SpeechClient) SampleRate() int {
	return c.sampleRate
}

// readResponse drains the body and maps non-2xx statuses to errors.
func readResponse(resp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, truncate(buf.Bytes()))
	}
	return buf.Bytes(), nil
}

var _ Synthesizer = (*SpeechClient)(nil)
