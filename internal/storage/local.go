package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const tmpPrefix = ".upload-"

// LocalStorage implements ObjectStorage on the local filesystem.
type LocalStorage struct {
	basePath string

	// mu serializes publishing links
	mu sync.Mutex
}

// NewLocalStorage creates a new local filesystem storage rooted at basePath.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// PutIfAbsent copies localPath into the store. The object appears atomically:
// content is written to a temporary sibling and hard-linked into place, which
// fails if the destination exists.
func (l *LocalStorage) PutIfAbsent(ctx context.Context, localPath, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	destPath := l.fullPath(objectPath)
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return uploadError(objectPath, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return uploadError(objectPath, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(destPath), tmpPrefix+"*")
	if err != nil {
		return uploadError(objectPath, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return uploadError(objectPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return uploadError(objectPath, err)
	}
	if err := tmp.Close(); err != nil {
		return uploadError(objectPath, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.Link(tmp.Name(), destPath); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return existsError(objectPath)
		}
		return uploadError(objectPath, err)
	}
	return nil
}

// Download copies an object to localPath.
func (l *LocalStorage) Download(ctx context.Context, objectPath, localPath string) error {
	src, err := l.Open(ctx, objectPath)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return downloadError(objectPath, err)
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return downloadError(objectPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return downloadError(objectPath, err)
	}
	return nil
}

// Open opens an object for reading.
func (l *LocalStorage) Open(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.fullPath(objectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFoundError(objectPath)
		}
		return nil, downloadError(objectPath, err)
	}
	return f, nil
}

// Exists checks if an object exists in local storage.
func (l *LocalStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(l.fullPath(objectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListObjects returns all object paths under the given prefix, using forward
// slashes. Temporary upload files are skipped.
func (l *LocalStorage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var objects []string
	err := filepath.WalkDir(l.fullPath(prefix), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tmpPrefix) {
			return nil
		}
		rel, err := filepath.Rel(l.basePath, path)
		if err != nil {
			return err
		}
		objects = append(objects, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(objects)
	return objects, nil
}

func (l *LocalStorage) fullPath(objectPath string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(objectPath))
}
