package database

import (
	"time"

	"github.com/google/uuid"
)

// File is the metadata row describing one uploaded file.
type File struct {
	ID         uuid.UUID
	Name       string
	Size       int64
	Type       string
	Path       string // blob locator, relative to the storage root
	UploadDate time.Time
	Downloads  int64
}

// Settings holds the persisted hash of the shared upload password.
type Settings struct {
	ID           string
	PasswordHash string
	UpdatedAt    time.Time
}

// Stats holds aggregate server statistics.
type Stats struct {
	TotalFiles     int64
	TotalDownloads int64
	StorageUsed    int64
}
