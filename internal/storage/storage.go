// Package storage provides object storage backends for dataset archival.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage abstracts the object store that archived datasets land in.
// Implementations include S3 and the local filesystem for testing.
type ObjectStorage interface {
	// Upload copies a local file to object storage.
	Upload(ctx context.Context, localPath, objectPath string) error

	// UploadMultipart uploads using multipart for large files, such as
	// full-size chunk files. Returns the ETag of the uploaded object.
	UploadMultipart(ctx context.Context, localPath, objectPath string) (string, error)

	// Download copies an object to a local file.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists checks if an object exists.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// MultipartUploadConfig holds configuration for multipart uploads.
type MultipartUploadConfig struct {
	// PartSize is the size of each part in bytes (default: 8MB).
	PartSize int64
	// Concurrency is the number of concurrent part uploads (default: 4).
	Concurrency int
}

// DefaultMultipartConfig returns the default multipart upload configuration.
func DefaultMultipartConfig() MultipartUploadConfig {
	return MultipartUploadConfig{
		PartSize:    8 * 1024 * 1024,
		Concurrency: 4,
	}
}
