package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"martmusic/internal/models"
)

// MemoryStorage implements the Storage interface using in-memory data structures.
// This provider is ideal for development and testing: data is lost on restart.
type MemoryStorage struct {
	mu        sync.RWMutex
	downloads map[string]*models.DownloadRecord // keyed by ID
	bySongKey map[string]string                 // song key -> ID
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		downloads: make(map[string]*models.DownloadRecord),
		bySongKey: make(map[string]string),
	}
}

// SaveDownload stores or updates a record
func (m *MemoryStorage) SaveDownload(_ context.Context, record *models.DownloadRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid download record: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existingID, ok := m.bySongKey[record.SongKey]; ok && existingID != record.ID {
		delete(m.downloads, existingID)
	}
	if previous, ok := m.downloads[record.ID]; ok && previous.SongKey != record.SongKey {
		delete(m.bySongKey, previous.SongKey)
	}

	// Store a copy to prevent external modification
	recordCopy := *record
	m.downloads[record.ID] = &recordCopy
	m.bySongKey[record.SongKey] = record.ID
	return nil
}

// GetDownload retrieves a record by its ID
func (m *MemoryStorage) GetDownload(_ context.Context, id string) (*models.DownloadRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.downloads[id]
	if !ok {
		return nil, fmt.Errorf("download %s: %w", id, ErrNotFound)
	}
	recordCopy := *record
	return &recordCopy, nil
}

// FindBySongKey retrieves the record stored for a song
func (m *MemoryStorage) FindBySongKey(_ context.Context, songKey string) (*models.DownloadRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.bySongKey[songKey]
	if !ok {
		return nil, fmt.Errorf("song %s: %w", songKey, ErrNotFound)
	}
	recordCopy := *m.downloads[id]
	return &recordCopy, nil
}

// Downloads returns all records, most recent first
func (m *MemoryStorage) Downloads(_ context.Context) ([]*models.DownloadRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*models.DownloadRecord, 0, len(m.downloads))
	for _, record := range m.downloads {
		recordCopy := *record
		result = append(result, &recordCopy)
	}
	sortNewestFirst(result)
	return result, nil
}

// DeleteDownload removes a record by its ID
func (m *MemoryStorage) DeleteDownload(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.downloads[id]
	if !ok {
		return fmt.Errorf("download %s: %w", id, ErrNotFound)
	}
	delete(m.bySongKey, record.SongKey)
	delete(m.downloads, id)
	return nil
}

// Ping always succeeds for in-memory storage.
func (m *MemoryStorage) Ping(_ context.Context) error {
	return nil
}

// Close clears all data
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.downloads = make(map[string]*models.DownloadRecord)
	m.bySongKey = make(map[string]string)
	return nil
}

// sortNewestFirst orders records by download time, most recent first, with
// ID as a tie breaker so listings are stable.
func sortNewestFirst(records []*models.DownloadRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].DownloadedAt.Equal(records[j].DownloadedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].DownloadedAt.After(records[j].DownloadedAt)
	})
}
