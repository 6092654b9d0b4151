// Package tts defines the speech-synthesis port and its HTTP adapters.
// The pipeline talks only to the Synthesizer interface; backend-specific
// request shapes live in the adapters.
package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
)

// Static errors for synthesis.
var (
	// ErrSynthesis is returned when the backend fails for a chunk.
	ErrSynthesis = errors.New("tts: synthesis failed")
	// ErrInvalidParams is returned when sampling parameters are out of range.
	ErrInvalidParams = errors.New("tts: invalid sampling parameters")
	// ErrEmptyText is returned when there is nothing to synthesize.
	ErrEmptyText = errors.New("tts: empty text")
)

// Voices available from the Orpheus model, in order of conversational
// realism.
var Voices = []string{"tara", "leah", "jess", "leo", "dan", "mia", "zac", "zoe"}

// DefaultVoice is the recommended voice.
const DefaultVoice = "tara"

// EmotionTags are inline tags the backend renders as non-verbal sounds.
var EmotionTags = []string{
	"<laugh>", "<chuckle>", "<sigh>", "<cough>",
	"<sniffle>", "<groan>", "<yawn>", "<gasp>",
}

// KnownVoice reports whether v is in the voice roster.
func KnownVoice(v string) bool {
	for _, known := range Voices {
		if v == known {
			return true
		}
	}
	return false
}

// NormalizeVoice returns v when it is a known voice, otherwise the default
// voice with a warning.
func NormalizeVoice(v string, logger *slog.Logger) string {
	if KnownVoice(v) {
		return v
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("voice not recognized, using default",
		slog.String("voice", v),
		slog.String("default", DefaultVoice),
	)
	return DefaultVoice
}

// Params are the sampling parameters passed to the backend per request.
// Ranges: temperature 0-2, top_p (0,1], repetition_penalty 1-2 (values
// below 1.1 destabilize generation), max_tokens >= 1.
type Params struct {
	Temperature       float64 `json:"temperature" validate:"gte=0,lte=2"`
	TopP              float64 `json:"top_p" validate:"gt=0,lte=1"`
	RepetitionPenalty float64 `json:"repetition_penalty" validate:"gte=1,lte=2"`
	MaxTokens         int     `json:"max_tokens" validate:"gte=1"`
}

// DefaultParams returns the recommended sampling parameters.
func DefaultParams() Params {
	return Params{
		Temperature:       0.6,
		TopP:              0.9,
		RepetitionPenalty: 1.3,
		MaxTokens:         1200,
	}
}

var validate = validator.New()

// Validate rejects out-of-range parameters. Called once at construction,
// not per synthesis call.
func (p Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	return nil
}

// Synthesizer is the port the pipeline drives, once per text chunk.
// Implementations return raw 16-bit mono PCM at SampleRate.
type Synthesizer interface {
	// Synthesize converts one chunk of text to PCM16 mono audio.
	Synthesize(ctx context.Context, text, voice string, p Params) ([]byte, error)

	// SampleRate returns the backend's fixed output sample rate in Hz.
	SampleRate() int
}
