package pipeline

import (
	"errors"

	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/audio"
)

// Status is the terminal state of a conversion run.
type Status string

const (
	// StatusCompleted indicates the run finished and produced output files.
	StatusCompleted Status = "COMPLETED"
	// StatusNoContent indicates the book contained no readable chapters.
	StatusNoContent Status = "NO_CONTENT"
	// StatusCancelled indicates the run was cancelled before completion.
	StatusCancelled Status = "CANCELLED"
	// StatusOverwriteDenied indicates the user declined to replace existing
	// output.
	StatusOverwriteDenied Status = "OVERWRITE_DENIED"
	// StatusFailed indicates the run encountered an unrecoverable error.
	StatusFailed Status = "FAILED"
)

// Static errors for conversion runs.
var (
	// ErrEmptyContent is returned when no document passes the chapter
	// content filters.
	ErrEmptyContent = errors.New("pipeline: no readable chapters found")
	// ErrNoAudioProduced is returned when every selected chapter failed
	// synthesis.
	ErrNoAudioProduced = errors.New("pipeline: no audio produced")
)

// Result is the outcome of a conversion run.
type Result struct {
	// RunID is the unique identifier assigned to this run.
	RunID string
	// Status is the terminal state.
	Status Status
	// BookTitle is the resolved book title.
	BookTitle string
	// OutputWAV is the path to the merged WAV file.
	OutputWAV string
	// OutputM4B is the path to the chaptered M4B, empty if muxing was
	// disabled or failed.
	OutputM4B string
	// UploadURL is the S3 URL of the delivered audiobook, if uploaded.
	UploadURL string
	// Markers are the chapter markers of the merged audio.
	Markers []audio.Marker
	// ChapterFiles are the per-chapter WAV paths that survived synthesis.
	ChapterFiles []string
	// SkippedChapters counts chapters dropped due to synthesis failures.
	SkippedChapters int
}
