// Package storage provides the object storage backends that run artifacts are
// published to.
package storage

import (
	"context"
	"io"

	ferrors "github.com/arkilian/churnfeat/internal/errors"
)

// Sentinel errors for storage operations. They match by category and code, so
// errors.Is works against wrapped variants carrying a cause.
var (
	ErrObjectNotFound = ferrors.New(ferrors.ErrCategoryStorage, ferrors.CodeObjectNotFound, "object not found")
	ErrObjectExists   = ferrors.New(ferrors.ErrCategoryStorage, ferrors.CodeArtifactExists, "object already exists")
	ErrUploadFailed   = ferrors.New(ferrors.ErrCategoryStorage, ferrors.CodeUploadFailed, "upload failed")
	ErrDownloadFailed = ferrors.New(ferrors.ErrCategoryStorage, ferrors.CodeDownloadFailed, "download failed")
)

// ObjectStorage abstracts the artifact store. Objects are written once:
// PutIfAbsent never replaces an existing object.
type ObjectStorage interface {
	// PutIfAbsent uploads localPath to objectPath unless an object already
	// exists there, in which case it returns ErrObjectExists.
	PutIfAbsent(ctx context.Context, localPath, objectPath string) error

	// Download copies objectPath to localPath.
	Download(ctx context.Context, objectPath, localPath string) error

	// Open streams an object. The caller closes the reader.
	Open(ctx context.Context, objectPath string) (io.ReadCloser, error)

	// Exists checks if an object exists.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix, sorted.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// MultipartUploadConfig holds configuration for multipart uploads.
type MultipartUploadConfig struct {
	// PartSize is the size of each part in bytes (default: 5MB).
	PartSize int64
}

// DefaultMultipartConfig returns the default multipart upload configuration.
func DefaultMultipartConfig() MultipartUploadConfig {
	return MultipartUploadConfig{
		PartSize: 5 * 1024 * 1024,
	}
}

func uploadError(objectPath string, cause error) error {
	return ferrors.NewStorageError(ferrors.CodeUploadFailed, "upload of "+objectPath+" failed", cause)
}

func downloadError(objectPath string, cause error) error {
	return ferrors.NewStorageError(ferrors.CodeDownloadFailed, "download of "+objectPath+" failed", cause)
}

func existsError(objectPath string) error {
	return ferrors.NewStorageError(ferrors.CodeArtifactExists, "refusing to overwrite "+objectPath, nil)
}

func notFoundError(objectPath string) error {
	return ferrors.NewStorageError(ferrors.CodeObjectNotFound, objectPath+" not found", nil)
}
