// Package service provides the request-level pipelines: tile encoding,
// analytics aggregation and filter metadata.
package service

import (
	"context"
	"hash/fnv"
	"strconv"

	"github.com/mastr-viz/server/internal/render"
	"github.com/mastr-viz/server/internal/schema"
	"github.com/mastr-viz/server/internal/store"
	"github.com/mastr-viz/server/internal/tile"
	"github.com/mastr-viz/server/internal/tile/mvt"
)

// TileServiceConfig contains tile service configuration.
type TileServiceConfig struct {
	Registry *schema.Registry
	Store    store.PointStore
	Renderer *render.TileRenderer
	Extent   int
	Buffer   int
}

// TileService turns a tile request into an encoded vector tile: filter
// validation, envelope computation, store selection, projection and
// clipping, then MVT encoding.
type TileService struct {
	registry *schema.Registry
	store    store.PointStore
	renderer *render.TileRenderer
	extent   int
	buffer   int
}

// NewTileService creates a new tile service.
func NewTileService(cfg TileServiceConfig) *TileService {
	extent := cfg.Extent
	if extent <= 0 {
		extent = tile.DefaultExtent
	}
	buffer := cfg.Buffer
	if buffer < 0 {
		buffer = tile.DefaultBuffer
	}
	return &TileService{
		registry: cfg.Registry,
		store:    cfg.Store,
		renderer: cfg.Renderer,
		extent:   extent,
		buffer:   buffer,
	}
}

// GetTile runs the full pipeline for one tile request. The returned
// bytes are always a structurally valid tile, empty when nothing
// matched.
func (s *TileService) GetTile(ctx context.Context, category string, z, x, y int, rawFilters map[string][]string) ([]byte, error) {
	points, _, err := s.selectTilePoints(ctx, category, z, x, y, rawFilters)
	if err != nil {
		return nil, err
	}

	layer := mvt.NewLayer(category, uint32(s.extent))
	for _, p := range points {
		layer.AddPoint(p.id, p.pt.X, p.pt.Y, p.tags)
	}
	return layer.Encode(), nil
}

// GetPreviewTile renders the same selection as a PNG for inspection
// without a vector tile client.
func (s *TileService) GetPreviewTile(ctx context.Context, category string, z, x, y int, rawFilters map[string][]string) ([]byte, error) {
	points, _, err := s.selectTilePoints(ctx, category, z, x, y, rawFilters)
	if err != nil {
		return nil, err
	}

	preview := make([]render.Point, 0, len(points))
	for _, p := range points {
		preview = append(preview, render.Point{X: p.pt.X, Y: p.pt.Y, Capacity: p.capacity})
	}
	return s.renderer.RenderPreview(preview, int32(s.extent))
}

// EmptyPreviewTile returns a transparent preview tile.
func (s *TileService) EmptyPreviewTile() ([]byte, error) {
	return s.renderer.CreateEmptyTile()
}

type tilePoint struct {
	id       uint64
	pt       tile.Point
	capacity float64
	tags     []mvt.Tag
}

// selectTilePoints validates the request, queries the store for the
// tile envelope and projects the rows into pixel space, dropping those
// outside the buffered tile. Row order from the store is preserved.
func (s *TileService) selectTilePoints(ctx context.Context, category string, z, x, y int, rawFilters map[string][]string) ([]tilePoint, schema.Category, error) {
	cat, err := s.registry.Get(category)
	if err != nil {
		return nil, schema.Category{}, err
	}

	addr, err := tile.NewAddress(z, x, y)
	if err != nil {
		return nil, cat, err
	}

	filters := schema.ParseFilters(cat, rawFilters)
	env := addr.GeoEnvelope()
	sel := store.BuildSelection(cat, filters, &env)

	records, err := s.store.SelectPoints(ctx, sel)
	if err != nil {
		return nil, cat, err
	}

	proj := tile.NewProjector(addr, s.extent, s.buffer)
	out := make([]tilePoint, 0, len(records))
	for _, rec := range records {
		pt := proj.Quantize(rec.Lon, rec.Lat)
		if !proj.Keep(pt) {
			continue
		}
		out = append(out, tilePoint{
			id:       FeatureID(rec.ID),
			pt:       pt,
			capacity: rec.Capacity,
			tags:     featureTags(rec, sel.AttrColumns),
		})
	}
	return out, cat, nil
}

// featureTags builds the attribute tag list for one feature in a
// deterministic order: the fixed columns first, then the selection's
// attribute columns in SQL order.
func featureTags(rec schema.PointRecord, attrCols []string) []mvt.Tag {
	tags := make([]mvt.Tag, 0, 4+len(attrCols))
	tags = append(tags,
		mvt.Tag{Key: schema.ColID, Value: mvt.String(rec.ID)},
		mvt.Tag{Key: schema.ColCapacity, Value: mvt.Double(rec.Capacity)},
		mvt.Tag{Key: schema.ColStatus, Value: mvt.String(rec.Status)},
	)
	if rec.Year > 0 {
		tags = append(tags, mvt.Tag{Key: "Inbetriebnahmejahr", Value: mvt.Int(int64(rec.Year))})
	}
	for _, col := range attrCols {
		v := rec.Attributes[col]
		if v == "" {
			continue
		}
		key := col
		if col == schema.ColName {
			// The dashboard tooltip binds to "Name".
			key = "Name"
		}
		tags = append(tags, mvt.Tag{Key: key, Value: mvt.String(v)})
	}
	return tags
}

// FeatureID derives the uint64 MVT feature id from a MaStR unit
// identifier. The numeric tail is used when present (stable and human
// correlatable); identifiers without one fall back to an FNV-1a hash.
func FeatureID(unitID string) uint64 {
	start := len(unitID)
	for start > 0 && unitID[start-1] >= '0' && unitID[start-1] <= '9' {
		start--
	}
	if start < len(unitID) {
		if n, err := strconv.ParseUint(unitID[start:], 10, 64); err == nil {
			return n
		}
	}
	h := fnv.New64a()
	h.Write([]byte(unitID))
	return h.Sum64()
}
