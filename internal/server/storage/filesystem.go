package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// FileSystemStore stores blobs as files under a single root directory.
// A relative root resolves against the process working directory.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// EnsureReady creates the storage directory if it doesn't exist.
func (s *FileSystemStore) EnsureReady(_ context.Context) error {
	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", s.basePath, err)
	}
	return nil
}

// Put streams data into a new file and returns its locator and size.
// The partial file is removed if the copy fails.
func (s *FileSystemStore) Put(ctx context.Context, name string, data io.Reader) (Blob, error) {
	if err := s.EnsureReady(ctx); err != nil {
		return Blob{}, err
	}

	locator := NewLocator(name)
	filePath := filepath.Join(s.basePath, locator)

	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return Blob{}, fmt.Errorf("failed to create file %s: %w", filePath, err)
	}

	n, err := io.Copy(file, data)
	if err == nil {
		err = file.Close()
	} else {
		file.Close()
	}
	if err != nil {
		if rmErr := os.Remove(filePath); rmErr != nil {
			slog.Error("failed to remove partial blob", "locator", locator, "error", rmErr)
		}
		return Blob{}, fmt.Errorf("failed to write file: %w", err)
	}

	return Blob{Locator: locator, Size: n}, nil
}

// Open returns a reader for the blob. ErrBlobNotFound is returned when the
// file is missing.
func (s *FileSystemStore) Open(_ context.Context, locator string) (io.ReadCloser, error) {
	if !validLocator(locator) {
		return nil, fmt.Errorf("%w: invalid locator %q", ErrBlobNotFound, locator)
	}

	file, err := os.Open(filepath.Join(s.basePath, locator))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, locator)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return file, nil
}

// Delete removes the blob. A missing file is not an error.
func (s *FileSystemStore) Delete(_ context.Context, locator string) error {
	if !validLocator(locator) {
		return fmt.Errorf("invalid locator %q", locator)
	}

	filePath := filepath.Join(s.basePath, locator)
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}
	return nil
}

// List returns every regular file in the root whose name is a locator.
// Anything else in the directory is ignored.
func (s *FileSystemStore) List(_ context.Context) ([]BlobInfo, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	blobs := make([]BlobInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !IsLocator(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", entry.Name(), err)
		}
		blobs = append(blobs, BlobInfo{Locator: entry.Name(), ModTime: info.ModTime()})
	}
	return blobs, nil
}
