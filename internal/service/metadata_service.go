package service

import (
	"context"
	"encoding/json"

	"github.com/mastr-viz/server/internal/cache"
	"github.com/mastr-viz/server/internal/schema"
	"github.com/mastr-viz/server/internal/store"
)

// MetadataServiceConfig contains metadata service configuration.
type MetadataServiceConfig struct {
	Registry *schema.Registry
	Store    store.PointStore
	Cache    *cache.Manager
}

// MetadataService serves the distinct observed values of each
// allow-listed filter column, used by clients to populate filter UIs.
type MetadataService struct {
	registry *schema.Registry
	store    store.PointStore
	cache    *cache.Manager
}

// NewMetadataService creates a new metadata service.
func NewMetadataService(cfg MetadataServiceConfig) *MetadataService {
	return &MetadataService{registry: cfg.Registry, store: cfg.Store, cache: cfg.Cache}
}

// FilterValues returns, as marshaled JSON, a mapping from each of the
// category's allow-listed columns to its sorted distinct values.
func (s *MetadataService) FilterValues(ctx context.Context, category string) ([]byte, error) {
	cat, err := s.registry.Get(category)
	if err != nil {
		return nil, err
	}

	key := cache.MetadataKey(category)
	if s.cache != nil {
		if data, ok := s.cache.GetMetadata(key); ok {
			return data, nil
		}
	}

	out := make(map[string][]string, len(cat.FilterColumns))
	for _, col := range cat.FilterColumns {
		values, err := s.store.DistinctValues(ctx, cat, col)
		if err != nil {
			return nil, err
		}
		if values == nil {
			values = []string{}
		}
		out[col] = values
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetMetadata(key, data)
	}
	return data, nil
}
