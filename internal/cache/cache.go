// Package cache provides short-lived caching for analytics and
// metadata responses. Encoded tiles are deliberately not cached: they
// are per-request artifacts and filters make their key space unbounded.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	StatsCacheSizeMB int
	StatsTTL         time.Duration
	MetadataEntries  int
}

// Manager manages the stats and metadata caches.
type Manager struct {
	statsCache    *bigcache.BigCache
	metadataCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	statsConfig := bigcache.Config{
		Shards:             64,
		LifeWindow:         cfg.StatsTTL,
		CleanWindow:        cfg.StatsTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       256 * 1024,
		HardMaxCacheSize:   cfg.StatsCacheSizeMB,
		Verbose:            false,
	}

	statsCache, err := bigcache.New(context.Background(), statsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create stats cache: %w", err)
	}

	metadataCache, err := lru.New[string, []byte](cfg.MetadataEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata cache: %w", err)
	}

	return &Manager{
		statsCache:    statsCache,
		metadataCache: metadataCache,
	}, nil
}

// GetStats retrieves a cached analytics response.
func (m *Manager) GetStats(key string) ([]byte, bool) {
	data, err := m.statsCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetStats stores an analytics response.
func (m *Manager) SetStats(key string, data []byte) error {
	return m.statsCache.Set(key, data)
}

// GetMetadata retrieves a cached metadata response.
func (m *Manager) GetMetadata(key string) ([]byte, bool) {
	return m.metadataCache.Get(key)
}

// SetMetadata stores a metadata response.
func (m *Manager) SetMetadata(key string, data []byte) {
	m.metadataCache.Add(key, data)
}

// StatsKey generates a cache key for an analytics request. Filter maps
// are hashed with sorted keys so equal FilterSets share an entry.
func StatsKey(category string, filters map[string][]string) string {
	base := "stats:" + category
	if len(filters) == 0 {
		return base
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		for _, v := range filters[k] {
			h.Write([]byte(v))
			h.Write([]byte{0})
		}
	}
	return base + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// MetadataKey generates a cache key for a category's metadata.
func MetadataKey(category string) string {
	return "metadata:" + category
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"stats_cache_len":    m.statsCache.Len(),
		"stats_cache_cap":    m.statsCache.Capacity(),
		"metadata_cache_len": m.metadataCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.statsCache.Close()
}
