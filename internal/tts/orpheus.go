package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/audio"
)

// Static errors for Orpheus client operations.
var (
	// ErrBaseURLRequired is returned when no backend URL is provided.
	ErrBaseURLRequired = errors.New("tts: backend URL is required")
	// ErrServerError is returned when the backend returns a 5xx status code.
	ErrServerError = errors.New("tts: server error")
	// ErrRateLimited is returned when the backend returns a 429 status code.
	ErrRateLimited = errors.New("tts: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("tts: request failed")
	// ErrBadAudio is returned when the backend responds with undecodable audio.
	ErrBadAudio = errors.New("tts: backend returned undecodable audio")
)

const (
	// DefaultSampleRate is the fixed output rate of the Orpheus model.
	DefaultSampleRate = 24000

	defaultModel = "orpheus-3b-0.1-ft"
)

// OrpheusClient synthesizes speech through an LM Studio style completions
// endpoint serving an Orpheus model. The prompt format is "voice: text" and
// the response body is a WAV file.
type OrpheusClient struct {
	baseURL     string
	model       string
	sampleRate  int
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
}

// OrpheusOption configures an OrpheusClient.
type OrpheusOption func(*OrpheusClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) OrpheusOption {
	return func(oc *OrpheusClient) {
		oc.httpClient = c
	}
}

// WithModel sets the model identifier sent to the backend.
func WithModel(model string) OrpheusOption {
	return func(oc *OrpheusClient) {
		oc.model = model
	}
}

// WithSampleRate overrides the expected output sample rate.
func WithSampleRate(hz int) OrpheusOption {
	return func(oc *OrpheusClient) {
		oc.sampleRate = hz
	}
}

// WithRateLimit caps requests per second to the backend. Local inference
// servers fall over when hammered, so the default is 2 req/s.
func WithRateLimit(rps float64) OrpheusOption {
	return func(oc *OrpheusClient) {
		oc.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) OrpheusOption {
	return func(oc *OrpheusClient) {
		oc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) OrpheusOption {
	return func(oc *OrpheusClient) {
		oc.baseBackoff = d
	}
}

// NewOrpheusClient creates a client for an Orpheus completions endpoint.
func NewOrpheusClient(baseURL string, opts ...OrpheusOption) (*OrpheusClient, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	c := &OrpheusClient{
		baseURL:     baseURL,
		model:       defaultModel,
		sampleRate:  DefaultSampleRate,
		httpClient:  &http.Client{Timeout: 5 * time.Minute},
		limiter:     rate.NewLimiter(rate.Limit(2), 1),
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type completionRequest struct {
	Model         string  `json:"model"`
	Prompt        string  `json:"prompt"`
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	RepeatPenalty float64 `json:"repeat_penalty"`
	MaxTokens     int     `json:"max_tokens"`
}

// Synthesize converts one text chunk to PCM16 mono audio.
func (c *OrpheusClient) Synthesize(ctx context.Context, text, voice string, p Params) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if voice == "" {
		voice = DefaultVoice
	}

	reqBody := completionRequest{
		Model:         c.model,
		Prompt:        fmt.Sprintf("%s: %s", voice, text),
		Temperature:   p.Temperature,
		TopP:          p.TopP,
		RepeatPenalty: p.RepetitionPenalty,
		MaxTokens:     p.MaxTokens,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("tts: marshal request: %w", err)
	}

	wav, err := c.doRequestWithRetry(ctx, bodyBytes)
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
func (c *OrpheusClient) SampleRate() int {
	return c.sampleRate
}

// doRequestWithRetry performs the request with exponential backoff retry.
func (c *OrpheusClient) doRequestWithRetry(ctx context.Context, body []byte) ([]byte, error) {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("tts: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("tts: rate limiter: %w", err)
		}

		resp, err := c.doRequest(ctx, body)
		if err == nil {
			return resp, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("tts: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request and returns the raw response body.
func (c *OrpheusClient) doRequest(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tts: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("tts: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("tts: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return nil, &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, truncate(respBody))}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, truncate(respBody))}
		}
		return nil, fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, truncate(respBody))
	}

	return respBody, nil
}

// truncate keeps error messages readable when the backend dumps a large body.
func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

var _ Synthesizer = (*OrpheusClient)(nil)
