package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrS3NotConfigured is returned when S3 operations are attempted
// without proper configuration.
var ErrS3NotConfigured = errors.New("S3 storage is not configured")

var unsafeTitleChars = regexp.MustCompile(`[^\w\s-]`)

// LocalStorage implements the Storage interface using local disk.
// Scratch files go to a configurable temp directory, finished books to
// per-title directories under the output root. S3 operations are not
// supported unless wrapped with S3Storage.
type LocalStorage struct {
	tempDir   string
	outputDir string
}

// NewLocalStorage creates a new LocalStorage instance. If tempDir is empty
// a directory under os.TempDir() is used; if outputDir is empty, "outputs"
// relative to the working directory. Both are created on demand.
func NewLocalStorage(tempDir, outputDir string) (*LocalStorage, error) {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "orpheus-audiobook")
	}
	if outputDir == "" {
		outputDir = "outputs"
	}

	if err := os.MkdirAll(tempDir, 0o750); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	return &LocalStorage{tempDir: tempDir, outputDir: outputDir}, nil
}

// TempDir returns the scratch directory path.
func (s *LocalStorage) TempDir() string {
	return s.tempDir
}

// OutputDir creates and returns the per-book output directory, named
// "epub_<title>" with filesystem-unsafe characters stripped.
func (s *LocalStorage) OutputDir(bookTitle string) (string, error) {
	dir := filepath.Join(s.outputDir, "epub_"+SafeTitle(bookTitle))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	return dir, nil
}

// SafeTitle converts a book title into a filesystem-safe directory
// component. Empty or fully-unsafe titles fall back to "untitled".
func SafeTitle(title string) string {
	cleaned := unsafeTitleChars.ReplaceAllString(title, "")
	cleaned = strings.Join(strings.Fields(cleaned), "_")
	if cleaned == "" {
		return "untitled"
	}
	return cleaned
}

// SaveTemp saves data to a scratch file and returns the file path.
// The name is used as a base for the filename with a unique suffix.
func (s *LocalStorage) SaveTemp(ctx context.Context, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.CreateTemp(s.tempDir, name+"_*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	fileName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", fmt.Errorf("write temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	return fileName, nil
}

// CleanupTemp removes the specified scratch files. It continues cleanup
// even if some files fail to delete, returning the first error encountered.
func (s *LocalStorage) CleanupTemp(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove temp file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// UploadToS3 is not supported by LocalStorage and returns ErrS3NotConfigured.
func (s *LocalStorage) UploadToS3(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", ErrS3NotConfigured
}

var _ Storage = (*LocalStorage)(nil)
