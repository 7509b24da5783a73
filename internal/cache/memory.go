package cache

import (
	"context"
	"sync"
	"time"

	"martmusic/internal/models"
)

type memoryEntry struct {
	songs     []models.Song
	expiresAt time.Time // zero means no expiry
	storedAt  time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryCache is an in-process Cache. When maxSize is reached the oldest
// entry is evicted. A background goroutine removes expired entries every
// cleanup interval.
type MemoryCache struct {
	maxSize int
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*memoryEntry
	done    chan struct{}
	closed  bool
}

// NewMemoryCache creates a memory cache. maxSize <= 0 means unbounded and
// cleanupInterval <= 0 disables the background sweep.
func NewMemoryCache(maxSize int, cleanupInterval time.Duration) *MemoryCache {
	m := &MemoryCache{
		maxSize: maxSize,
		now:     time.Now,
		entries: make(map[string]*memoryEntry),
		done:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go m.cleanup(cleanupInterval)
	}
	return m
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]models.Song, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return nil, false, nil
	}

	songs := make([]models.Song, len(e.songs))
	copy(songs, e.songs)
	return songs, true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, songs []models.Song, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if _, exists := m.entries[key]; !exists && m.maxSize > 0 && len(m.entries) >= m.maxSize {
		m.evictOldest()
	}

	e := &memoryEntry{
		songs:    make([]models.Song, len(songs)),
		storedAt: now,
	}
	copy(e.songs, songs)
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops the background cleanup goroutine.
func (m *MemoryCache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

// evictOldest must be called with mu held.
func (m *MemoryCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, e := range m.entries {
		if oldestKey == "" || e.storedAt.Before(oldest) {
			oldestKey = key
			oldest = e.storedAt
		}
	}
	if oldestKey != "" {
		delete(m.entries, oldestKey)
	}
}

func (m *MemoryCache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *MemoryCache) evictExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, key)
		}
	}
}
