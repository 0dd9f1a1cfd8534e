package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStoreConfig configures an S3-compatible backend.
type ObjectStoreConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	// Prefix namespaces every key this store writes, lists and sweeps.
	Prefix string
	UseSSL bool
}

// objectPartSize bounds the buffer minio allocates per part when the object
// size is unknown.
const objectPartSize = 16 << 20

// ObjectStore stores blobs as objects under a key prefix in a single bucket.
type ObjectStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewObjectStore creates a MinIO/S3 client. No request is made until
// EnsureReady or the first operation.
func NewObjectStore(cfg ObjectStoreConfig) (*ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}
	return &ObjectStore{client: client, bucket: cfg.Bucket, prefix: normalizePrefix(cfg.Prefix)}, nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func (s *ObjectStore) objectKey(locator string) string {
	return s.prefix + locator
}

func putOptions(locator string) minio.PutObjectOptions {
	contentType := mime.TypeByExtension(filepath.Ext(locator))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return minio.PutObjectOptions{ContentType: contentType, PartSize: objectPartSize}
}

// EnsureReady creates the bucket if it doesn't exist.
func (s *ObjectStore) EnsureReady(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Put streams data as a new object. The size is unknown up front so the
// client uploads in parts of objectPartSize.
func (s *ObjectStore) Put(ctx context.Context, name string, data io.Reader) (Blob, error) {
	locator := NewLocator(name)

	info, err := s.client.PutObject(ctx, s.bucket, s.objectKey(locator), data, -1, putOptions(locator))
	if err != nil {
		return Blob{}, fmt.Errorf("failed to put object %s: %w", locator, err)
	}
	return Blob{Locator: locator, Size: info.Size}, nil
}

// Open returns a reader for the object. ErrBlobNotFound is returned when the
// key does not exist.
func (s *ObjectStore) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	if !validLocator(locator) {
		return nil, fmt.Errorf("%w: invalid locator %q", ErrBlobNotFound, locator)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, s.objectKey(locator), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError(locator, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before any bytes are sent.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, s.mapError(locator, err)
	}
	return obj, nil
}

// Delete removes the object. A missing key is not an error.
func (s *ObjectStore) Delete(ctx context.Context, locator string) error {
	if !validLocator(locator) {
		return fmt.Errorf("invalid locator %q", locator)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, s.objectKey(locator), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", locator, err)
	}
	return nil
}

// List returns the locator-named objects directly under the prefix.
func (s *ObjectStore) List(ctx context.Context) ([]BlobInfo, error) {
	var blobs []BlobInfo
	opts := minio.ListObjectsOptions{Prefix: s.prefix, Recursive: true}
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", obj.Err)
		}
		if locator, ok := s.locatorFor(obj.Key); ok {
			blobs = append(blobs, BlobInfo{Locator: locator, ModTime: obj.LastModified})
		}
	}
	return blobs, nil
}

func (s *ObjectStore) locatorFor(key string) (string, bool) {
	locator, ok := strings.CutPrefix(key, s.prefix)
	if !ok || !IsLocator(locator) {
		return "", false
	}
	return locator, true
}

func (s *ObjectStore) mapError(locator string, err error) error {
	if isNoSuchKey(err) {
		return fmt.Errorf("%w: %s", ErrBlobNotFound, locator)
	}
	return fmt.Errorf("failed to get object %s: %w", locator, err)
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
