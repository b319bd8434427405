package service

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/mastr-viz/server/internal/cache"
	"github.com/mastr-viz/server/internal/schema"
	"github.com/mastr-viz/server/internal/store"
)

// TopK is the number of entries in the categorical capacity ranking.
const TopK = 10

// StatsServiceConfig contains analytics service configuration.
type StatsServiceConfig struct {
	Registry *schema.Registry
	Store    store.PointStore
	Cache    *cache.Manager
}

// StatsService computes the dashboard aggregations. It shares the
// filter validation and selection construction with the tile pipeline
// but selects globally (no envelope). Responses are cached as JSON for
// a short TTL since the underlying data changes only on re-ingestion.
type StatsService struct {
	registry *schema.Registry
	store    store.PointStore
	cache    *cache.Manager
}

// NewStatsService creates a new analytics service.
func NewStatsService(cfg StatsServiceConfig) *StatsService {
	return &StatsService{registry: cfg.Registry, store: cfg.Store, cache: cfg.Cache}
}

// TemporalEntry is one commissioning-year bucket.
type TemporalEntry struct {
	Year     int     `json:"year"`
	Count    int     `json:"count"`
	Capacity float64 `json:"capacity"`
}

// StatusEntry is one operational-status bucket.
type StatusEntry struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// CategoryEntry is one top-K bucket of the primary categorical column.
type CategoryEntry struct {
	Category string  `json:"category"`
	Capacity float64 `json:"capacity"`
}

// CategoryBreakdown names the column the top-K ranking was computed
// over, so clients can label the chart.
type CategoryBreakdown struct {
	Column string          `json:"column"`
	Data   []CategoryEntry `json:"data"`
}

// AdvancedStats is the analytics response triple.
type AdvancedStats struct {
	Temporal   []TemporalEntry   `json:"temporal"`
	Status     []StatusEntry     `json:"status"`
	Categories CategoryBreakdown `json:"categories"`
}

// StateEntry is one per-Bundesland rollup bucket.
type StateEntry struct {
	State         string  `json:"Bundesland"`
	Count         int     `json:"count"`
	TotalCapacity float64 `json:"total_capacity"`
}

// Advanced returns the temporal, status and top-K breakdowns for a
// category under the given filters, as marshaled JSON. An empty
// selection yields three empty result sets, never an error.
func (s *StatsService) Advanced(ctx context.Context, category string, rawFilters map[string][]string) ([]byte, error) {
	cat, err := s.registry.Get(category)
	if err != nil {
		return nil, err
	}
	filters := schema.ParseFilters(cat, rawFilters)

	key := cache.StatsKey(category, filters)
	if s.cache != nil {
		if data, ok := s.cache.GetStats(key); ok {
			return data, nil
		}
	}

	records, err := s.store.SelectPoints(ctx, store.BuildSelection(cat, filters, nil))
	if err != nil {
		return nil, err
	}

	stats := &AdvancedStats{
		Temporal:   temporalBreakdown(records),
		Status:     statusBreakdown(records),
		Categories: categoryBreakdown(cat, records),
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetStats(key, data)
	}
	return data, nil
}

// ByState returns the per-Bundesland count and capacity rollup that
// backs the dashboard's regional charts, as marshaled JSON.
func (s *StatsService) ByState(ctx context.Context, category string) ([]byte, error) {
	cat, err := s.registry.Get(category)
	if err != nil {
		return nil, err
	}

	key := cache.StatsKey("by_state:"+category, nil)
	if s.cache != nil {
		if data, ok := s.cache.GetStats(key); ok {
			return data, nil
		}
	}

	records, err := s.store.SelectPoints(ctx, store.BuildSelection(cat, nil, nil))
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	capacities := make(map[string]float64)
	for _, rec := range records {
		state := rec.Attributes[schema.ColState]
		if state == "" {
			continue
		}
		counts[state]++
		capacities[state] += rec.Capacity
	}

	out := make([]StateEntry, 0, len(counts))
	for state, n := range counts {
		out = append(out, StateEntry{State: state, Count: n, TotalCapacity: capacities[state]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalCapacity != out[j].TotalCapacity {
			return out[i].TotalCapacity > out[j].TotalCapacity
		}
		return out[i].State < out[j].State
	})

	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetStats(key, data)
	}
	return data, nil
}

func temporalBreakdown(records []schema.PointRecord) []TemporalEntry {
	counts := make(map[int]int)
	capacities := make(map[int]float64)
	for _, rec := range records {
		counts[rec.Year]++
		capacities[rec.Year] += rec.Capacity
	}

	out := make([]TemporalEntry, 0, len(counts))
	for year, n := range counts {
		out = append(out, TemporalEntry{Year: year, Count: n, Capacity: capacities[year]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}

// statusBreakdown groups by operational status. Ordering is not part
// of the contract but must be stable across calls: count descending,
// then label ascending.
func statusBreakdown(records []schema.PointRecord) []StatusEntry {
	counts := make(map[string]int)
	for _, rec := range records {
		counts[rec.Status]++
	}

	out := make([]StatusEntry, 0, len(counts))
	for status, n := range counts {
		out = append(out, StatusEntry{Status: status, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Status < out[j].Status
	})
	return out
}

// categoryBreakdown ranks the primary categorical column's values by
// capacity sum, keeping the TopK largest. Ties break on ascending
// lexical order so the ranking is deterministic.
func categoryBreakdown(cat schema.Category, records []schema.PointRecord) CategoryBreakdown {
	capacities := make(map[string]float64)
	for _, rec := range records {
		value := rec.Attributes[cat.PrimaryColumn]
		if value == "" && cat.PrimaryColumn == schema.ColStatus {
			value = rec.Status
		}
		if value == "" {
			continue
		}
		capacities[value] += rec.Capacity
	}

	entries := make([]CategoryEntry, 0, len(capacities))
	for value, capacity := range capacities {
		entries = append(entries, CategoryEntry{Category: value, Capacity: capacity})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Capacity != entries[j].Capacity {
			return entries[i].Capacity > entries[j].Capacity
		}
		return entries[i].Category < entries[j].Category
	})
	if len(entries) > TopK {
		entries = entries[:TopK]
	}
	return CategoryBreakdown{Column: cat.PrimaryColumn, Data: entries}
}
