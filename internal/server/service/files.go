package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"filedrop/internal/cache"
	"filedrop/internal/server/config"
	"filedrop/internal/server/database"
	"filedrop/internal/server/metrics"
	"filedrop/internal/server/storage"

	"github.com/google/uuid"
)

// Sentinel errors for the service layer.
var (
	ErrConfig           = errors.New("server configuration error")
	ErrFileRequired     = errors.New("no file provided")
	ErrPasswordRequired = errors.New("password is required")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrFileTooLarge     = errors.New("file exceeds maximum allowed size")
	ErrNotFound         = errors.New("file not found")
	ErrStorage          = errors.New("storage error")
)

// DefaultContentType is used when the client sends no part content type.
const DefaultContentType = "application/octet-stream"

// FileInfo is the public view of a file record. It never carries the blob
// locator or content.
type FileInfo struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Type       string    `json:"type"`
	UploadDate time.Time `json:"uploadDate"`
	Downloads  int64     `json:"downloads"`
}

// UploadInput is one validated multipart upload. Body is nil when the
// request had no file part.
type UploadInput struct {
	Filename     string
	ContentType  string
	DeclaredSize int64
	Body         io.Reader
	Password     string
}

// Download is an open blob plus the metadata needed for response headers.
// The caller must close Content.
type Download struct {
	File    FileInfo
	Content io.ReadCloser
}

// FileRepository is the metadata store used by FileService.
type FileRepository interface {
	Create(ctx context.Context, f *database.File) error
	GetByID(ctx context.Context, id uuid.UUID) (*database.File, error)
	List(ctx context.Context) ([]*database.File, error)
	IncrementDownloads(ctx context.Context, id uuid.UUID) (int64, error)
	GetStats(ctx context.Context) (*database.Stats, error)
}

// FileService contains the upload, download and listing logic.
type FileService struct {
	repo        FileRepository
	store       storage.Store
	listCache   cache.Cache[[]FileInfo]
	metrics     *metrics.Metrics
	password    string
	maxFileSize int64
}

// NewFileService creates a new file service. A nil listCache disables caching.
func NewFileService(repo FileRepository, store storage.Store, listCache cache.Cache[[]FileInfo], m *metrics.Metrics, cfg *config.Config) *FileService {
	if listCache == nil {
		listCache = cache.Noop[[]FileInfo]{}
	}
	return &FileService{
		repo:        repo,
		store:       store,
		listCache:   listCache,
		metrics:     m,
		password:    cfg.UploadPassword,
		maxFileSize: cfg.MaxFileSize,
	}
}

// MaxFileSize returns the upload ceiling in bytes.
func (s *FileService) MaxFileSize() int64 {
	return s.maxFileSize
}

// CheckConfigured fails with ErrConfig when no shared password is set.
func (s *FileService) CheckConfigured() error {
	if s.password == "" {
		return ErrConfig
	}
	return nil
}

// Upload checks the shared password, streams the body into the blob store
// and records its metadata. If the record cannot be created the blob is
// deleted again.
func (s *FileService) Upload(ctx context.Context, in UploadInput) (info *FileInfo, err error) {
	defer func() {
		s.metrics.Uploads.WithLabelValues(uploadResult(err)).Inc()
	}()

	if err := s.authorize(in); err != nil {
		return nil, err
	}
	if in.DeclaredSize > s.maxFileSize {
		return nil, ErrFileTooLarge
	}

	body := &limitedReader{r: in.Body, remaining: s.maxFileSize}
	blob, err := s.store.Put(ctx, in.Filename, body)
	if err != nil {
		if body.exceeded {
			return nil, ErrFileTooLarge
		}
		return nil, fmt.Errorf("%w: failed to store blob: %w", ErrStorage, err)
	}

	file := &database.File{
		ID:         uuid.New(),
		Name:       sanitizeFilename(in.Filename),
		Size:       blob.Size,
		Type:       normalizeContentType(in.ContentType),
		Path:       blob.Locator,
		UploadDate: time.Now().UTC(),
		Downloads:  0,
	}

	if err := s.repo.Create(ctx, file); err != nil {
		s.discardBlob(ctx, blob.Locator)
		return nil, fmt.Errorf("%w: failed to create file record: %w", ErrStorage, err)
	}

	s.invalidateList(ctx)
	s.metrics.UploadedBytes.Add(float64(file.Size))

	slog.Info("file uploaded",
		"id", file.ID,
		"filename", file.Name,
		"size", file.Size,
		"type", file.Type,
		"locator", file.Path,
	)

	result := toFileInfo(file)
	return &result, nil
}

// Download looks up the file, counts the download and opens its blob. The
// counter is incremented before the blob is read, so a missing blob still
// counts as a download attempt.
func (s *FileService) Download(ctx context.Context, id string) (dl *Download, err error) {
	defer func() {
		s.metrics.Downloads.WithLabelValues(downloadResult(err)).Inc()
	}()

	fileID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}

	file, err := s.repo.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	downloads, err := s.repo.IncrementDownloads(ctx, fileID)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	file.Downloads = downloads
	s.invalidateList(ctx)

	content, err := s.store.Open(ctx, file.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open blob for %s: %w", ErrStorage, file.ID, err)
	}

	return &Download{File: toFileInfo(file), Content: content}, nil
}

// List returns every file newest first, from the listing cache when warm.
// The cache version is read before the query so that a snapshot overtaken
// by an upload or download is not written back.
func (s *FileService) List(ctx context.Context) ([]FileInfo, error) {
	cached, ok, err := s.listCache.Get(ctx)
	if err != nil {
		slog.Warn("list cache read failed", "error", err)
	} else if ok {
		return cached, nil
	}

	version, versionErr := s.listCache.Version(ctx)
	if versionErr != nil {
		slog.Warn("list cache version read failed", "error", versionErr)
	}

	files, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	infos := make([]FileInfo, 0, len(files))
	for _, f := range files {
		infos = append(infos, toFileInfo(f))
	}

	if versionErr == nil {
		if err := s.listCache.Set(ctx, version, infos); err != nil {
			slog.Warn("list cache write failed", "error", err)
		}
	}
	return infos, nil
}

// GetStats returns aggregate server statistics.
func (s *FileService) GetStats(ctx context.Context) (*database.Stats, error) {
	stats, err := s.repo.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return stats, nil
}

func (s *FileService) authorize(in UploadInput) error {
	if err := s.CheckConfigured(); err != nil {
		return err
	}
	if in.Body == nil {
		return ErrFileRequired
	}
	if in.Password == "" {
		return ErrPasswordRequired
	}
	if subtle.ConstantTimeCompare([]byte(in.Password), []byte(s.password)) != 1 {
		return ErrInvalidPassword
	}
	return nil
}

// discardBlob is the compensating delete after a failed insert. Its own
// failure is only logged; the orphan sweeper retries later.
func (s *FileService) discardBlob(ctx context.Context, locator string) {
	if err := s.store.Delete(context.WithoutCancel(ctx), locator); err != nil {
		slog.Error("failed to remove blob after metadata failure",
			"locator", locator,
			"error", err,
		)
		return
	}
	slog.Info("removed blob after metadata failure", "locator", locator)
}

func (s *FileService) invalidateList(ctx context.Context) {
	if err := s.listCache.Invalidate(ctx); err != nil {
		slog.Warn("list cache invalidation failed", "error", err)
	}
}

// --- Helpers ---

const (
	maxNameBytes        = 255
	maxContentTypeBytes = 255
)

// limitedReader fails with ErrFileTooLarge as soon as more than remaining
// bytes have been read, so oversized uploads abort mid-stream.
type limitedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.exceeded {
		return 0, ErrFileTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}

	n, err := l.r.Read(p)
	if int64(n) > l.remaining {
		l.exceeded = true
		n = int(l.remaining)
		l.remaining = 0
		return n, ErrFileTooLarge
	}
	l.remaining -= int64(n)
	return n, err
}

func toFileInfo(f *database.File) FileInfo {
	return FileInfo{
		ID:         f.ID,
		Name:       f.Name,
		Size:       f.Size,
		Type:       f.Type,
		UploadDate: f.UploadDate,
		Downloads:  f.Downloads,
	}
}

func uploadResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, ErrInvalidPassword):
		return metrics.ResultUnauthorized
	case errors.Is(err, ErrFileRequired),
		errors.Is(err, ErrPasswordRequired),
		errors.Is(err, ErrFileTooLarge):
		return metrics.ResultRejected
	default:
		return metrics.ResultError
	}
}

func downloadResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, ErrNotFound):
		return metrics.ResultRejected
	default:
		return metrics.ResultError
	}
}

// sanitizeFilename strips directory components, replaces invalid UTF-8 and
// limits the name to maxNameBytes without splitting a character.
func sanitizeFilename(name string) string {
	name = strings.ToValidUTF8(name, "\uFFFD")
	// Normalize Windows-style backslashes to forward slashes before
	// calling filepath.Base, which is platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	if len(name) > maxNameBytes {
		ext := filepath.Ext(name)
		if len(ext) > 32 {
			ext = ""
		}
		name = truncateUTF8(name[:len(name)-len(ext)], maxNameBytes-len(ext)) + ext
	}

	if name == "" || name == "." || name == "/" || name == ".." {
		name = "upload.bin"
	}

	return name
}

// truncateUTF8 cuts s to at most n bytes, backing off to a rune boundary.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// normalizeContentType reformats the client's part content type. Values that
// do not parse, or stay too long even without parameters, become
// DefaultContentType.
func normalizeContentType(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultContentType
	}
	mediaType, params, err := mime.ParseMediaType(raw)
	if err != nil {
		return DefaultContentType
	}
	if ct := mime.FormatMediaType(mediaType, params); ct != "" && len(ct) <= maxContentTypeBytes {
		return ct
	}
	if ct := mime.FormatMediaType(mediaType, nil); ct != "" && len(ct) <= maxContentTypeBytes {
		return ct
	}
	return DefaultContentType
}
