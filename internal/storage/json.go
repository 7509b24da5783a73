package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"martmusic/internal/models"
)

// defaultJSONCacheTTL bounds how long file contents are trusted without a stat.
const defaultJSONCacheTTL = 5 * time.Minute

// JSONStorage implements the Storage interface using a single JSON file.
// File contents are cached in memory and reloaded when the file changes.
type JSONStorage struct {
	filePath     string
	cacheTTL     time.Duration
	mu           sync.RWMutex
	data         *JSONData
	lastModified time.Time
	cacheExpiry  time.Time
}

// JSONData represents the structure of data stored in JSON format
type JSONData struct {
	Downloads   []*models.DownloadRecord `json:"downloads"`
	LastUpdated time.Time                `json:"last_updated"`
}

// NewJSONStorage creates a new JSON-based storage instance
func NewJSONStorage(config Config) (*JSONStorage, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path is required for JSON storage")
	}

	storage := &JSONStorage{
		filePath: config.Path,
		cacheTTL: defaultJSONCacheTTL,
	}

	// Initialize with empty data if file doesn't exist
	if err := storage.ensureFileExists(); err != nil {
		return nil, fmt.Errorf("failed to ensure file exists: %w", err)
	}

	// Load initial data
	if err := storage.loadData(); err != nil {
		return nil, fmt.Errorf("failed to load initial data: %w", err)
	}

	return storage, nil
}

// ensureFileExists creates the JSON file with empty data if it doesn't exist
func (j *JSONStorage) ensureFileExists() error {
	if _, err := os.Stat(j.filePath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(j.filePath), 0700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		return j.saveData(&JSONData{Downloads: []*models.DownloadRecord{}})
	}
	return nil
}

// loadData loads data from the JSON file with caching.
// It uses double-checked locking: a fast read-lock path for cache hits,
// and a write-lock slow path with re-validation to prevent TOCTOU races.
func (j *JSONStorage) loadData() error {
	j.mu.RLock()
	if j.data != nil && time.Now().Before(j.cacheExpiry) {
		j.mu.RUnlock()
		return nil
	}
	j.mu.RUnlock()

	j.mu.Lock()
	defer j.mu.Unlock()

	// Another goroutine may have loaded while we waited for the write lock.
	if j.data != nil && time.Now().Before(j.cacheExpiry) {
		return nil
	}

	info, err := os.Stat(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	if j.data != nil && !info.ModTime().After(j.lastModified) {
		j.cacheExpiry = time.Now().Add(j.cacheTTL)
		return nil
	}

	fileData, err := os.ReadFile(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data JSONData
	if err := json.Unmarshal(fileData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	j.data = &data
	j.lastModified = info.ModTime()
	j.cacheExpiry = time.Now().Add(j.cacheTTL)
	return nil
}

// saveData writes data to a temporary file and renames it into place so a
// crash never leaves a truncated catalog behind. Callers hold the write lock.
func (j *JSONStorage) saveData(data *JSONData) error {
	data.LastUpdated = time.Now().UTC()

	fileData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmp := j.filePath + ".tmp"
	if err := os.WriteFile(tmp, fileData, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, j.filePath); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}

	if info, err := os.Stat(j.filePath); err == nil {
		j.lastModified = info.ModTime()
	}
	return nil
}

// commit writes downloads to disk and only then makes them the cached
// catalog, so a failed write leaves the cache matching the file. Callers
// hold the write lock.
func (j *JSONStorage) commit(downloads []*models.DownloadRecord) error {
	next := &JSONData{Downloads: downloads}
	if err := j.saveData(next); err != nil {
		return err
	}
	j.data = next
	return nil
}

// SaveDownload stores or updates a record
func (j *JSONStorage) SaveDownload(_ context.Context, record *models.DownloadRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid download record: %w", err)
	}
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	recordCopy := *record
	kept := make([]*models.DownloadRecord, 0, len(j.data.Downloads)+1)
	replaced := false
	for _, existing := range j.data.Downloads {
		switch {
		case existing.ID == record.ID:
			kept = append(kept, &recordCopy)
			replaced = true
		case existing.SongKey == record.SongKey:
			// superseded by the new record
		default:
			kept = append(kept, existing)
		}
	}
	if !replaced {
		kept = append(kept, &recordCopy)
	}

	return j.commit(kept)
}

// GetDownload retrieves a record by its ID
func (j *JSONStorage) GetDownload(_ context.Context, id string) (*models.DownloadRecord, error) {
	return j.find(func(d *models.DownloadRecord) bool { return d.ID == id }, "download "+id)
}

// FindBySongKey retrieves the record stored for a song
func (j *JSONStorage) FindBySongKey(_ context.Context, songKey string) (*models.DownloadRecord, error) {
	return j.find(func(d *models.DownloadRecord) bool { return d.SongKey == songKey }, "song "+songKey)
}

func (j *JSONStorage) find(match func(*models.DownloadRecord) bool, what string) (*models.DownloadRecord, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	for _, record := range j.data.Downloads {
		if match(record) {
			recordCopy := *record
			return &recordCopy, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
}

// Downloads returns all records, most recent first
func (j *JSONStorage) Downloads(_ context.Context) ([]*models.DownloadRecord, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	result := make([]*models.DownloadRecord, len(j.data.Downloads))
	for i, record := range j.data.Downloads {
		recordCopy := *record
		result[i] = &recordCopy
	}
	sortNewestFirst(result)
	return result, nil
}

// DeleteDownload removes a record by its ID
func (j *JSONStorage) DeleteDownload(_ context.Context, id string) error {
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	for i, record := range j.data.Downloads {
		if record.ID == id {
			kept := make([]*models.DownloadRecord, 0, len(j.data.Downloads)-1)
			kept = append(kept, j.data.Downloads[:i]...)
			kept = append(kept, j.data.Downloads[i+1:]...)
			return j.commit(kept)
		}
	}
	return fmt.Errorf("download %s: %w", id, ErrNotFound)
}

// Ping verifies the catalog file is still readable.
func (j *JSONStorage) Ping(_ context.Context) error {
	if _, err := os.Stat(j.filePath); err != nil {
		return fmt.Errorf("catalog file unavailable: %w", err)
	}
	return nil
}

// Close drops the in-memory cache
func (j *JSONStorage) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.data = nil
	j.cacheExpiry = time.Time{}
	return nil
}
