package storage

import (
	"context"
	"time"

	"martmusic/internal/models"
)

// Storage defines the interface for the download catalog: the record of
// which songs have been saved to disk, where, and with what checksum.
// Implementations must be safe for concurrent use.
type Storage interface {
	// SaveDownload stores or updates a record by ID. A record already
	// stored for the same song key under a different ID is replaced.
	SaveDownload(ctx context.Context, record *models.DownloadRecord) error

	// GetDownload retrieves a record by its ID
	GetDownload(ctx context.Context, id string) (*models.DownloadRecord, error)

	// FindBySongKey retrieves the record for a song, see models.Song.Key
	FindBySongKey(ctx context.Context, songKey string) (*models.DownloadRecord, error)

	// Downloads returns all records, most recent first
	Downloads(ctx context.Context) ([]*models.DownloadRecord, error)

	// DeleteDownload removes a record by its ID
	DeleteDownload(ctx context.Context, id string) error

	// Ping verifies the backend is reachable
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (json, memory, sqlite, postgres)
	Type string `json:"type" yaml:"type"`

	// Path is used for file-based storage backends
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`
}
