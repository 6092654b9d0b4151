package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Static errors for ffmpeg operations.
var (
	// ErrNoInputFiles is returned when no audio paths are provided for
	// concatenation.
	ErrNoInputFiles = errors.New("audio: no input files provided")
	// ErrMuxerNotFound is returned when the ffmpeg binary is not on PATH.
	ErrMuxerNotFound = errors.New("audio: ffmpeg not found")
	// ErrFFprobeExecution is returned when ffprobe fails.
	ErrFFprobeExecution = errors.New("audio: ffprobe execution failed")
)

// FFmpeg wraps the ffmpeg and ffprobe CLIs for concatenation, duration
// probing, and chaptered M4B muxing.
type FFmpeg struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewFFmpeg creates a new FFmpeg wrapper. Empty paths default to "ffmpeg"
// and "ffprobe" resolved via PATH.
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// Available reports whether the ffmpeg binary can be resolved.
func (f *FFmpeg) Available() bool {
	_, err := exec.LookPath(f.ffmpegPath)
	return err == nil
}

// ConcatWAV concatenates WAV files into a single output using the concat
// demuxer with stream copy. All inputs share the same sample format, so no
// re-encoding is needed.
func (f *FFmpeg) ConcatWAV(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return ErrNoInputFiles
	}
	if len(inputs) == 1 {
		return copyFile(inputs[0], output)
	}

	listFile, err := createConcatList(inputs)
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer func() { _ = os.Remove(listFile) }()

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		output,
	}
	return f.run(ctx, args)
}

// MuxM4B produces a chaptered M4B from a WAV track and an FFMETADATA
// chapter file, encoding with AAC at the given bitrate.
func (f *FFmpeg) MuxM4B(ctx context.Context, wavPath, metadataPath, output, bitrate string) error {
	if _, err := exec.LookPath(f.ffmpegPath); err != nil {
		return fmt.Errorf("%w: %s", ErrMuxerNotFound, f.ffmpegPath)
	}
	if bitrate == "" {
		bitrate = "128k"
	}

	args := []string{
		"-y",
		"-i", wavPath,
		"-i", metadataPath,
		"-c:a", "aac",
		"-b:a", bitrate,
		"-map_metadata", "1",
		output,
	}
	return f.run(ctx, args)
}

// Duration returns the duration in seconds of a media file via ffprobe.
func (f *FFmpeg) Duration(ctx context.Context, path string) (float64, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	var duration float64
	if _, err := fmt.Sscanf(strings.TrimSpace(stdout.String()), "%f", &duration); err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return duration, nil
}

// createConcatList writes a temporary file list in the concat demuxer's
// format.
func createConcatList(paths []string) (string, error) {
	f, err := os.CreateTemp("", "wav-concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = f.Close() }()

	for _, p := range paths {
		absPath, err := filepath.Abs(p)
		if err != nil {
			return "", fmt.Errorf("get absolute path for %s: %w", p, err)
		}
		escapedPath := strings.ReplaceAll(absPath, "'", "'\\''")
		if _, err := fmt.Fprintf(f, "file '%s'\n", escapedPath); err != nil {
			return "", fmt.Errorf("write to concat list: %w", err)
		}
	}
	return f.Name(), nil
}

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	input, err := os.ReadFile(src) // #nosec G304 - src is provided by trusted internal code
	if err != nil {
		return fmt.Errorf("read source file: %w", err)
	}
	if err := os.WriteFile(dst, input, 0o600); err != nil {
		return fmt.Errorf("write destination file: %w", err)
	}
	return nil
}

// run executes ffmpeg with the given arguments, surfacing stderr on failure.
func (f *FFmpeg) run(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return nil
}

// FFmpegError represents a failed ffmpeg invocation, including stderr.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
