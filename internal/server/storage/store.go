package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrBlobNotFound = errors.New("blob not found")

// Blob describes a blob written by Put.
type Blob struct {
	Locator string
	Size    int64
}

// BlobInfo is one entry returned by List.
type BlobInfo struct {
	Locator string
	ModTime time.Time
}

// Store defines the interface for blob storage backends. Locators are opaque
// keys generated by the store and never derived from user input beyond a
// sanitized extension.
type Store interface {
	Put(ctx context.Context, name string, data io.Reader) (Blob, error)
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
	Delete(ctx context.Context, locator string) error
	List(ctx context.Context) ([]BlobInfo, error)
	EnsureReady(ctx context.Context) error
}

const maxExtLen = 10

// NewLocator builds a collision-resistant key: nanosecond timestamp, a random
// UUID, and the lowercased extension of name when it is short and alphanumeric.
func NewLocator(name string) string {
	return fmt.Sprintf("%d-%s%s", time.Now().UnixNano(), uuid.NewString(), safeExt(name))
}

func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(strings.ReplaceAll(name, "\\", "/")))
	if len(ext) < 2 || len(ext) > maxExtLen+1 {
		return ""
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}

var locatorPattern = regexp.MustCompile(
	`^[0-9]+-[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}(\.[a-z0-9]{1,10})?$`,
)

// IsLocator reports whether name has the shape NewLocator produces. Stores
// list and sweep only such names, so foreign files sharing the storage root
// or bucket are never touched.
func IsLocator(name string) bool {
	return locatorPattern.MatchString(name)
}

// validLocator rejects anything that could escape the storage root.
func validLocator(locator string) bool {
	if locator == "" || locator == "." || locator == ".." {
		return false
	}
	return !strings.ContainsAny(locator, `/\`) && !strings.Contains(locator, "..")
}
