// Package storage provides working-directory and delivery storage for
// audiobook runs. It defines the Storage port and implementations for
// local disk and S3 delivery.
package storage

import (
	"context"
	"io"
)

// Storage defines the interface for scratch files during synthesis and
// delivery of finished audiobooks.
type Storage interface {
	// OutputDir creates (if needed) and returns the per-book output
	// directory derived from the book title.
	OutputDir(bookTitle string) (string, error)

	// SaveTemp saves data to a scratch file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// CleanupTemp removes the specified scratch files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// UploadToS3 uploads data to S3 and returns the public URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key string, data io.Reader) (url string, err error)
}
