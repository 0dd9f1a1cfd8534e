package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"filedrop/internal/cache"

	"github.com/google/uuid"
)

const defaultContentType = "application/octet-stream"

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// FileInfo mirrors the server's public file record.
type FileInfo struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Type       string    `json:"type"`
	UploadDate time.Time `json:"uploadDate"`
	Downloads  int64     `json:"downloads"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Download is an open download. The caller must close Body.
type Download struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// Client talks to a filedrop server.
type Client struct {
	baseURL  string
	password string
	http     *http.Client
	cache    cache.Cache[[]FileInfo]
}

// New creates a client. A nil listCache disables local caching.
func New(baseURL, password string, listCache cache.Cache[[]FileInfo]) *Client {
	if listCache == nil {
		listCache = cache.Noop[[]FileInfo]{}
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		password: password,
		http:     &http.Client{},
		cache:    listCache,
	}
}

// List returns the server's files. The local cache is used unless refresh
// is set or the entry has expired.
func (c *Client) List(ctx context.Context, refresh bool) ([]FileInfo, error) {
	if !refresh {
		files, ok, err := c.cache.Get(ctx)
		if err != nil {
			slog.Debug("list cache read failed", "error", err)
		} else if ok {
			return files, nil
		}
	}

	version, versionErr := c.cache.Version(ctx)
	if versionErr != nil {
		slog.Debug("list cache version read failed", "error", versionErr)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var files []FileInfo
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("failed to decode file list: %w", err)
	}

	if versionErr == nil {
		if err := c.cache.Set(ctx, version, files); err != nil {
			slog.Debug("list cache write failed", "error", err)
		}
	}
	return files, nil
}

// Upload streams body to the server as a multipart form. contentType may
// be empty, in which case it is guessed from the file extension.
func (c *Client) Upload(ctx context.Context, filename, contentType string, body io.Reader) (*FileInfo, error) {
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(filename))
	}
	if contentType == "" {
		contentType = defaultContentType
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(mw, c.password, filename, contentType, body))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var info FileInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}

	c.invalidate(ctx)
	return &info, nil
}

// Download opens the file with the given id.
func (c *Client) Download(ctx context.Context, id string) (*Download, error) {
	endpoint := c.baseURL + "/files/" + url.PathEscape(id) + "/download"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", id, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}

	// The server counted this download.
	c.invalidate(ctx)

	return &Download{
		Filename:    attachmentName(resp.Header.Get("Content-Disposition"), id),
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
		Body:        resp.Body,
	}, nil
}

func (c *Client) invalidate(ctx context.Context) {
	if err := c.cache.Invalidate(ctx); err != nil {
		slog.Debug("list cache invalidation failed", "error", err)
	}
}

func writeUploadForm(mw *multipart.Writer, password, filename, contentType string, body io.Reader) error {
	if err := mw.WriteField("password", password); err != nil {
		return err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+quoteEscaper.Replace(filename)+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, body); err != nil {
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}
	return mw.Close()
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && body.Message != "" {
		apiErr.Message = body.Message
	}
	return apiErr
}

// attachmentName extracts a safe base filename from a Content-Disposition
// header, falling back to fallback.
func attachmentName(header, fallback string) string {
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return fallback
	}
	name := filepath.Base(strings.ReplaceAll(params["filename"], "\\", "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		return fallback
	}
	return name
}
