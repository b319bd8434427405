// Package render provides PNG preview tiles using fogleman/gg.
//
// The preview endpoint exists for quick visual inspection of a tile
// request without a vector tile client; map clients consume the MVT
// endpoint instead.
package render

import (
	"bytes"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"

	"github.com/mastr-viz/server/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	TileSize        int
	DefaultColormap string
}

// Point is one unit positioned in tile pixel space (MVT extent grid)
// with its capacity in kW.
type Point struct {
	X        int32
	Y        int32
	Capacity float64
}

// TileRenderer renders preview tiles from projected points.
type TileRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
	colormaps   map[string]colormap.Colormap
}

// NewTileRenderer creates a new preview renderer.
func NewTileRenderer(cfg Config) *TileRenderer {
	r := &TileRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.TileSize, cfg.TileSize)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
		colormaps: make(map[string]colormap.Colormap),
	}

	r.colormaps["viridis"] = colormap.Viridis
	r.colormaps["plasma"] = colormap.Plasma
	r.colormaps["categorical"] = colormap.Categorical

	return r
}

// RenderPreview draws projected points scaled from the tile extent
// grid into the preview canvas. Radius and color scale with capacity,
// mirroring the dashboard's capacity-weighted point styling.
func (r *TileRenderer) RenderPreview(points []Point, extent int32) ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.Transparent)
	dc.Clear()

	if len(points) == 0 {
		return r.encodeContext(dc)
	}

	cmap, ok := r.colormaps[r.config.DefaultColormap]
	if !ok {
		cmap = colormap.Viridis
	}

	tileSize := float64(r.config.TileSize)
	scale := tileSize / float64(extent)

	maxCapacity := 0.0
	for _, p := range points {
		if p.Capacity > maxCapacity {
			maxCapacity = p.Capacity
		}
	}
	if maxCapacity <= 0 {
		maxCapacity = 1
	}

	for _, p := range points {
		px := float64(p.X) * scale
		py := float64(p.Y) * scale
		if px < 0 || px >= tileSize || py < 0 || py >= tileSize {
			continue
		}

		// Log scale keeps small rooftop units visible next to large
		// plants.
		intensity := math.Log1p(p.Capacity) / math.Log1p(maxCapacity)
		dc.SetColor(cmap.At(intensity))

		radius := 1.5 + 2.5*intensity
		dc.DrawCircle(px, py, radius)
		dc.Fill()
	}

	return r.encodeContext(dc)
}

// CreateEmptyTile returns a fully transparent preview tile.
func (r *TileRenderer) CreateEmptyTile() ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.Transparent)
	dc.Clear()

	return r.encodeContext(dc)
}

func (r *TileRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer r.bufferPool.Put(buf)
	buf.Reset()

	if err := png.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
