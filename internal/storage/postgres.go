package storage

import (
	"context"
	"errors"
	"fmt"

	"martmusic/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS downloads (
	id            UUID PRIMARY KEY,
	title         TEXT NOT NULL,
	artist        TEXT NOT NULL,
	source        TEXT NOT NULL,
	song_key      TEXT NOT NULL UNIQUE,
	remote_url    TEXT NOT NULL,
	file_path     TEXT NOT NULL,
	opus          BOOLEAN NOT NULL,
	size          BIGINT NOT NULL,
	sha256        TEXT NOT NULL,
	downloaded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_downloads_downloaded_at ON downloads (downloaded_at DESC);
`

const postgresColumns = `id::text, title, artist, source, song_key, remote_url, file_path, opus, size, sha256, downloaded_at`

// PostgresStorage implements the Storage interface on PostgreSQL through a
// pgx connection pool. The schema is created on open.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a new PostgreSQL storage instance.
func NewPostgresStorage(config Config) (Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// SaveDownload stores or updates a record (upsert pattern).
func (ps *PostgresStorage) SaveDownload(ctx context.Context, record *models.DownloadRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid download record: %w", err)
	}

	return pgx.BeginFunc(ctx, ps.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM downloads WHERE song_key = $1 AND id <> $2`, record.SongKey, record.ID); err != nil {
			return fmt.Errorf("failed to replace previous download: %w", err)
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO downloads (id, title, artist, source, song_key, remote_url, file_path, opus, size, sha256, downloaded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				title = EXCLUDED.title,
				artist = EXCLUDED.artist,
				source = EXCLUDED.source,
				song_key = EXCLUDED.song_key,
				remote_url = EXCLUDED.remote_url,
				file_path = EXCLUDED.file_path,
				opus = EXCLUDED.opus,
				size = EXCLUDED.size,
				sha256 = EXCLUDED.sha256,
				downloaded_at = EXCLUDED.downloaded_at`,
			record.ID, record.Title, record.Artist, record.Source, record.SongKey,
			record.RemoteURL, record.FilePath, record.Opus, record.Size, record.SHA256,
			record.DownloadedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to save download: %w", err)
		}
		return nil
	})
}

// GetDownload retrieves a record by its ID.
func (ps *PostgresStorage) GetDownload(ctx context.Context, id string) (*models.DownloadRecord, error) {
	// Non-UUID IDs cannot exist and would fail the cast.
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("download %s: %w", id, ErrNotFound)
	}

	row := ps.pool.QueryRow(ctx, `SELECT `+postgresColumns+` FROM downloads WHERE id = $1`, id)
	record, err := scanPostgresRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("download %s: %w", id, ErrNotFound)
	}
	return record, err
}

// FindBySongKey retrieves the record stored for a song.
func (ps *PostgresStorage) FindBySongKey(ctx context.Context, songKey string) (*models.DownloadRecord, error) {
	row := ps.pool.QueryRow(ctx, `SELECT `+postgresColumns+` FROM downloads WHERE song_key = $1`, songKey)
	record, err := scanPostgresRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("song %s: %w", songKey, ErrNotFound)
	}
	return record, err
}

// Downloads returns all records, most recent first.
func (ps *PostgresStorage) Downloads(ctx context.Context) ([]*models.DownloadRecord, error) {
	rows, err := ps.pool.Query(ctx, `SELECT `+postgresColumns+` FROM downloads ORDER BY downloaded_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list downloads: %w", err)
	}
	defer rows.Close()

	records := []*models.DownloadRecord{}
	for rows.Next() {
		record, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate downloads: %w", err)
	}
	return records, nil
}

// DeleteDownload removes a record by its ID.
func (ps *PostgresStorage) DeleteDownload(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("download %s: %w", id, ErrNotFound)
	}

	tag, err := ps.pool.Exec(ctx, `DELETE FROM downloads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete download: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("download %s: %w", id, ErrNotFound)
	}
	return nil
}

// Ping verifies the database connection is alive.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}

func scanPostgresRecord(row pgx.Row) (*models.DownloadRecord, error) {
	var record models.DownloadRecord
	err := row.Scan(
		&record.ID, &record.Title, &record.Artist, &record.Source, &record.SongKey,
		&record.RemoteURL, &record.FilePath, &record.Opus, &record.Size, &record.SHA256,
		&record.DownloadedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan download: %w", err)
	}
	record.DownloadedAt = record.DownloadedAt.UTC()
	return &record, nil
}
