package tile

import "math"

// DefaultExtent is the pixel grid resolution of one tile edge, the
// conventional MVT extent.
const DefaultExtent = 4096

// DefaultBuffer is the rendering margin kept around a tile so symbols
// near the edge are not cut off by the client.
const DefaultBuffer = 64

// Point is a quantized tile-local pixel coordinate.
type Point struct {
	X int32
	Y int32
}

// Projector maps geographic positions into the pixel grid of a single
// tile and clips points that fall outside the buffered tile area.
type Projector struct {
	extent int32
	buffer int32

	minX   float64
	maxY   float64
	scaleX float64
	scaleY float64
}

// NewProjector builds a projector for one tile. A non-positive extent
// falls back to DefaultExtent; the buffer may be zero.
func NewProjector(addr Address, extent, buffer int) *Projector {
	if extent <= 0 {
		extent = DefaultExtent
	}
	if buffer < 0 {
		buffer = 0
	}
	env := addr.MercatorEnvelope()
	return &Projector{
		extent: int32(extent),
		buffer: int32(buffer),
		minX:   env.MinX,
		maxY:   env.MaxY,
		scaleX: float64(extent) / (env.MaxX - env.MinX),
		scaleY: float64(extent) / (env.MaxY - env.MinY),
	}
}

// Extent returns the pixel grid size per tile edge.
func (p *Projector) Extent() int32 { return p.extent }

// Quantize projects a WGS84 position into tile pixel space. Pixel y
// grows southward, matching screen coordinates.
func (p *Projector) Quantize(lon, lat float64) Point {
	mx, my := Project(lon, lat)
	px := (mx - p.minX) * p.scaleX
	py := (p.maxY - my) * p.scaleY
	return Point{X: int32(math.Floor(px)), Y: int32(math.Floor(py))}
}

// Keep reports whether a quantized point lies inside the buffered tile.
// The interval is half-open on both axes, [-buffer, extent+buffer), so
// a point exactly on a tile's lower (0) edge belongs to this tile while
// one exactly on the upper (extent) edge belongs to the neighbor; with
// a zero buffer adjoining tiles therefore never both own an edge point.
func (p *Projector) Keep(pt Point) bool {
	lo := -p.buffer
	hi := p.extent + p.buffer
	return pt.X >= lo && pt.X < hi && pt.Y >= lo && pt.Y < hi
}
