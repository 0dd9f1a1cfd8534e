package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"filedrop/internal/server/service"

	"github.com/labstack/echo/v4"
)

const (
	// multipartOverhead is allowed on top of the file ceiling for part
	// headers and the password field.
	multipartOverhead = 1 << 20
	// multipartMemory is how much of a multipart body is kept in memory
	// before parts spill to temporary files.
	multipartMemory = 8 << 20
)

// HealthChecker reports backend liveness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler contains the HTTP handlers for the file API.
type Handler struct {
	svc *service.FileService
	db  HealthChecker
}

// NewHandler creates a new handler with the given service dependency.
func NewHandler(svc *service.FileService, db HealthChecker) *Handler {
	return &Handler{svc: svc, db: db}
}

// HandleList handles GET /files.
func (h *Handler) HandleList(c echo.Context) error {
	files, err := h.svc.List(c.Request().Context())
	if err != nil {
		return h.mapServiceError(c, err, "Error fetching files")
	}
	return c.JSON(http.StatusOK, files)
}

// HandleUpload handles POST /files.
// Accepts a multipart form with "file" and "password" fields.
func (h *Handler) HandleUpload(c echo.Context) error {
	if err := h.svc.CheckConfigured(); err != nil {
		return h.mapServiceError(c, err, "")
	}

	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, h.svc.MaxFileSize()+multipartOverhead)

	in := service.UploadInput{}
	if err := req.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return h.mapServiceError(c, service.ErrFileTooLarge, "")
		case errors.Is(err, http.ErrNotMultipart):
			return h.mapServiceError(c, service.ErrFileRequired, "")
		default:
			slog.Warn("invalid multipart form", "error", err)
			return c.JSON(http.StatusBadRequest, echo.Map{"message": "Invalid multipart form"})
		}
	}
	defer req.MultipartForm.RemoveAll()

	fileHeader, err := c.FormFile("file")
	switch {
	case err == nil:
		src, err := fileHeader.Open()
		if err != nil {
			return h.mapServiceError(c, fmt.Errorf("%w: failed to open uploaded part: %w", service.ErrStorage, err), "Error processing file upload")
		}
		defer src.Close()

		in.Body = src
		in.Filename = fileHeader.Filename
		in.ContentType = fileHeader.Header.Get(echo.HeaderContentType)
		in.DeclaredSize = fileHeader.Size
	case !errors.Is(err, http.ErrMissingFile):
		slog.Warn("invalid file part", "error", err)
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "Invalid file part"})
	}
	in.Password = c.FormValue("password")

	info, err := h.svc.Upload(req.Context(), in)
	if err != nil {
		return h.mapServiceError(c, err, "Error saving file")
	}

	return c.JSON(http.StatusOK, info)
}

// HandleDownload handles GET /files/:id/download.
// Serves the file as an attachment.
func (h *Handler) HandleDownload(c echo.Context) error {
	dl, err := h.svc.Download(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.mapServiceError(c, err, "Error downloading file")
	}
	defer dl.Content.Close()

	header := c.Response().Header()
	header.Set(echo.HeaderContentDisposition, contentDisposition(dl.File.Name))
	header.Set(echo.HeaderContentLength, strconv.FormatInt(dl.File.Size, 10))

	return c.Stream(http.StatusOK, dl.File.Type, dl.Content)
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.GetStats(c.Request().Context())
	if err != nil {
		return h.mapServiceError(c, err, "Failed to retrieve stats")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_files":        stats.TotalFiles,
		"total_downloads":    stats.TotalDownloads,
		"storage_used_bytes": stats.StorageUsed,
		"storage_used_human": humanizeBytes(stats.StorageUsed),
	})
}

// mapServiceError logs err and translates it into a status code and a
// short message. storageMsg is the client message for storage failures.
func (h *Handler) mapServiceError(c echo.Context, err error, storageMsg string) error {
	status, msg := http.StatusInternalServerError, storageMsg
	switch {
	case errors.Is(err, service.ErrConfig):
		msg = "Server configuration error"
	case errors.Is(err, service.ErrFileRequired):
		status, msg = http.StatusBadRequest, "No file provided"
	case errors.Is(err, service.ErrPasswordRequired):
		status, msg = http.StatusBadRequest, "Password is required"
	case errors.Is(err, service.ErrInvalidPassword):
		status, msg = http.StatusUnauthorized, "Invalid password"
	case errors.Is(err, service.ErrFileTooLarge):
		status = http.StatusBadRequest
		msg = fmt.Sprintf("File size exceeds limit (%s)", humanizeBytes(h.svc.MaxFileSize()))
	case errors.Is(err, service.ErrNotFound):
		status, msg = http.StatusNotFound, "File not found"
	}
	if msg == "" {
		msg = "Internal server error"
	}

	attrs := []any{
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
		"status", status,
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", attrs...)
	} else {
		slog.Warn("request rejected", attrs...)
	}

	return c.JSON(status, echo.Map{"message": msg})
}

// contentDisposition builds an attachment header. Printable ASCII names use
// a plain quoted filename; anything else is RFC 2231 encoded as filename*.
func contentDisposition(name string) string {
	if isPrintableASCII(name) {
		return `attachment; filename="` + quoteEscaper.Replace(name) + `"`
	}
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func isPrintableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

// humanizeBytes formats a byte count into a human-readable string.
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
