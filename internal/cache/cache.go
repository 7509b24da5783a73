// Package cache stores search results so repeated queries do not spend API
// quota. Two backends are provided: an in-process map with expiry and a
// Redis-backed store shared between CLI runs.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"martmusic/internal/models"
)

// Cache stores search results keyed by normalized query.
type Cache interface {
	// Get returns the cached songs for key. The bool reports whether an
	// unexpired entry was found.
	Get(ctx context.Context, key string) ([]models.Song, bool, error)
	// Set stores songs under key for ttl. A zero ttl means no expiry.
	Set(ctx context.Context, key string, songs []models.Song, ttl time.Duration) error
	Close() error
}

// Key turns a search query into a cache key. Only surrounding whitespace is
// dropped, the same trimming the client applies before sending the query, so
// queries that differ in case are cached separately.
func Key(query string) string {
	return strings.TrimSpace(query)
}

// New creates the cache selected by cfg. It returns nil when caching is
// disabled.
func New(cfg models.CacheConfig) (Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Type {
	case models.CacheTypeMemory:
		return NewMemoryCache(cfg.Memory.MaxSize, cfg.Memory.CleanupInterval), nil
	case models.CacheTypeRedis:
		rc, err := NewRedisCache(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return rc, nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}
