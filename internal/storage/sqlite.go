package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"martmusic/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS downloads (
	id            TEXT PRIMARY KEY,
	title         TEXT NOT NULL,
	artist        TEXT NOT NULL,
	source        TEXT NOT NULL,
	song_key      TEXT NOT NULL UNIQUE,
	remote_url    TEXT NOT NULL,
	file_path     TEXT NOT NULL,
	opus          INTEGER NOT NULL,
	size          INTEGER NOT NULL,
	sha256        TEXT NOT NULL,
	downloaded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_downloads_downloaded_at ON downloads (downloaded_at);
`

const sqliteColumns = `id, title, artist, source, song_key, remote_url, file_path, opus, size, sha256, downloaded_at`

// SQLiteStorage implements the Storage interface on an embedded SQLite
// database. The schema is created on open.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config Config) (Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if config.ConnectionString == ":memory:" {
		db.SetMaxOpenConns(1)
	} else if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// SaveDownload stores or updates a record
func (ss *SQLiteStorage) SaveDownload(ctx context.Context, record *models.DownloadRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid download record: %w", err)
	}

	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM downloads WHERE song_key = ? AND id <> ?`, record.SongKey, record.ID); err != nil {
		return fmt.Errorf("failed to replace previous download: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO downloads (`+sqliteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			source = excluded.source,
			song_key = excluded.song_key,
			remote_url = excluded.remote_url,
			file_path = excluded.file_path,
			opus = excluded.opus,
			size = excluded.size,
			sha256 = excluded.sha256,
			downloaded_at = excluded.downloaded_at`,
		record.ID, record.Title, record.Artist, record.Source, record.SongKey,
		record.RemoteURL, record.FilePath, record.Opus, record.Size, record.SHA256,
		record.DownloadedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save download: %w", err)
	}

	return tx.Commit()
}

// GetDownload retrieves a record by its ID
func (ss *SQLiteStorage) GetDownload(ctx context.Context, id string) (*models.DownloadRecord, error) {
	row := ss.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM downloads WHERE id = ?`, id)
	record, err := scanSQLiteRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("download %s: %w", id, ErrNotFound)
	}
	return record, err
}

// FindBySongKey retrieves the record stored for a song
func (ss *SQLiteStorage) FindBySongKey(ctx context.Context, songKey string) (*models.DownloadRecord, error) {
	row := ss.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM downloads WHERE song_key = ?`, songKey)
	record, err := scanSQLiteRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("song %s: %w", songKey, ErrNotFound)
	}
	return record, err
}

// Downloads returns all records, most recent first
func (ss *SQLiteStorage) Downloads(ctx context.Context) ([]*models.DownloadRecord, error) {
	rows, err := ss.db.QueryContext(ctx, `SELECT `+sqliteColumns+` FROM downloads`)
	if err != nil {
		return nil, fmt.Errorf("failed to list downloads: %w", err)
	}
	defer rows.Close()

	records := []*models.DownloadRecord{}
	for rows.Next() {
		record, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate downloads: %w", err)
	}

	// RFC 3339 strings with varying fraction lengths do not sort lexically
	sortNewestFirst(records)
	return records, nil
}

// DeleteDownload removes a record by its ID
func (ss *SQLiteStorage) DeleteDownload(ctx context.Context, id string) error {
	res, err := ss.db.ExecContext(ctx, `DELETE FROM downloads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete download: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete download: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("download %s: %w", id, ErrNotFound)
	}
	return nil
}

// Ping verifies the database connection is alive.
func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (*models.DownloadRecord, error) {
	var record models.DownloadRecord
	var downloadedAt string
	err := row.Scan(
		&record.ID, &record.Title, &record.Artist, &record.Source, &record.SongKey,
		&record.RemoteURL, &record.FilePath, &record.Opus, &record.Size, &record.SHA256,
		&downloadedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan download: %w", err)
	}

	record.DownloadedAt, err = time.Parse(time.RFC3339Nano, downloadedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid downloaded_at %q: %w", downloadedAt, err)
	}
	return &record, nil
}
