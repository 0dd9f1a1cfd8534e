package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// UploadSettingsID is the primary key of the single settings row.
const UploadSettingsID = "upload-settings"

var (
	ErrFileNotFound     = errors.New("file not found")
	ErrSettingsNotFound = errors.New("settings not found")
)

// DBTX is the subset of *pgxpool.Pool the repository needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const fileColumns = "id, name, size, type, path, upload_date, downloads"

// Repository persists file metadata and settings.
type Repository struct {
	db DBTX
}

// NewRepository creates a new Repository.
func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

// Create inserts a new file record.
func (r *Repository) Create(ctx context.Context, f *File) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO files (id, name, size, type, path, upload_date, downloads)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		f.ID,
		f.Name,
		f.Size,
		f.Type,
		f.Path,
		f.UploadDate,
		f.Downloads,
	)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	return nil
}

// GetByID retrieves a file record by its ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*File, error) {
	f, err := scanFile(r.db.QueryRow(ctx,
		"SELECT "+fileColumns+" FROM files WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

// List returns every file record, newest first.
func (r *Repository) List(ctx context.Context) ([]*File, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+fileColumns+" FROM files ORDER BY upload_date DESC, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	files := make([]*File, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate files: %w", err)
	}
	return files, nil
}

// IncrementDownloads atomically increments the download counter and
// returns the new value.
func (r *Repository) IncrementDownloads(ctx context.Context, id uuid.UUID) (int64, error) {
	var downloads int64
	err := r.db.QueryRow(ctx,
		"UPDATE files SET downloads = downloads + 1 WHERE id = $1 RETURNING downloads", id,
	).Scan(&downloads)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrFileNotFound
		}
		return 0, fmt.Errorf("failed to increment downloads: %w", err)
	}
	return downloads, nil
}

// LocatorExists reports whether any file record references the blob locator.
func (r *Repository) LocatorExists(ctx context.Context, locator string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM files WHERE path = $1)", locator,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check locator: %w", err)
	}
	return exists, nil
}

// GetStats returns aggregate server statistics.
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(downloads), 0), COALESCE(SUM(size), 0)
		FROM files
	`).Scan(
		&stats.TotalFiles,
		&stats.TotalDownloads,
		&stats.StorageUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

// UpsertSettings stores the upload password hash in the settings row.
func (r *Repository) UpsertSettings(ctx context.Context, passwordHash string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO settings (id, password_hash, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET password_hash = EXCLUDED.password_hash, updated_at = EXCLUDED.updated_at
	`, UploadSettingsID, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to upsert settings: %w", err)
	}
	return nil
}

// GetSettings returns the settings row.
func (r *Repository) GetSettings(ctx context.Context) (*Settings, error) {
	s := &Settings{}
	err := r.db.QueryRow(ctx,
		"SELECT id, password_hash, updated_at FROM settings WHERE id = $1", UploadSettingsID,
	).Scan(&s.ID, &s.PasswordHash, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSettingsNotFound
		}
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return s, nil
}

func scanFile(row pgx.Row) (*File, error) {
	f := &File{}
	if err := row.Scan(
		&f.ID,
		&f.Name,
		&f.Size,
		&f.Type,
		&f.Path,
		&f.UploadDate,
		&f.Downloads,
	); err != nil {
		return nil, err
	}
	return f, nil
}
