package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// File keeps the value as JSON in a single file, with the expiry timestamp
// stored next to the data and the generation in path + ".gen". It is meant
// for one process at a time.
type File[T any] struct {
	path    string
	genPath string
	ttl     time.Duration
	now     func() time.Time
}

// NewFile creates a file-backed cache at path.
func NewFile[T any](path string, ttl time.Duration) *File[T] {
	return &File[T]{path: path, genPath: path + ".gen", ttl: ttl, now: time.Now}
}

// Get returns the cached value. An expired entry is removed and reported as a miss.
func (c *File[T]) Get(context.Context) (T, bool, error) {
	var zero T
	raw, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("failed to read cache file: %w", err)
	}

	var e entry[T]
	if err := json.Unmarshal(raw, &e); err != nil {
		// A corrupt file is treated like an expired one.
		return zero, false, c.remove()
	}
	if e.expired(c.now()) {
		return zero, false, c.remove()
	}
	return e.Data, true, nil
}

// Version returns the current generation; a missing file is generation 0.
func (c *File[T]) Version(context.Context) (int64, error) {
	raw, err := os.ReadFile(c.genPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read cache generation: %w", err)
	}
	gen, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cache generation %q: %w", raw, err)
	}
	return gen, nil
}

// Set writes the value through a temp file and rename, unless the cache was
// invalidated after version was read.
func (c *File[T]) Set(ctx context.Context, version int64, value T) error {
	current, err := c.Version(ctx)
	if err != nil {
		return err
	}
	if current != version {
		return nil
	}

	raw, err := json.Marshal(entry[T]{Data: value, ExpiresAt: c.now().Add(c.ttl)})
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}
	return c.writeAtomic(c.path, raw)
}

// Invalidate bumps the generation and removes the cache file.
func (c *File[T]) Invalidate(ctx context.Context) error {
	gen, err := c.Version(ctx)
	if err != nil {
		gen = 0
	}
	if err := c.writeAtomic(c.genPath, []byte(strconv.FormatInt(gen+1, 10))); err != nil {
		return err
	}
	return c.remove()
}

func (c *File[T]) remove() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove cache file: %w", err)
	}
	return nil
}

func (c *File[T]) writeAtomic(path string, raw []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}
