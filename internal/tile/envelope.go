// Package tile implements tile addressing, the web-mercator envelope
// math and the projection of point geometries into tile pixel space.
package tile

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidTileAddress is returned for tile addresses outside the
// valid zoom/column/row range.
var ErrInvalidTileAddress = errors.New("invalid tile address")

// Web-mercator (EPSG:3857) constants.
const (
	// EarthRadius is the WGS84 semi-major axis in meters.
	EarthRadius = 6378137.0

	// WorldExtent is half the width of the projected world in meters;
	// the world spans [-WorldExtent, WorldExtent] on both axes.
	WorldExtent = math.Pi * EarthRadius

	// MaxZoom is the deepest tile zoom level served.
	MaxZoom = 19
)

// Address identifies one tile: zoom plus column (x) and row (y), with
// row 0 at the north edge (XYZ convention).
type Address struct {
	Zoom int
	Col  int
	Row  int
}

// NewAddress validates and returns a tile address. Column and row must
// lie in [0, 2^zoom).
func NewAddress(zoom, col, row int) (Address, error) {
	if zoom < 0 || zoom > MaxZoom {
		return Address{}, fmt.Errorf("%w: zoom %d out of [0, %d]", ErrInvalidTileAddress, zoom, MaxZoom)
	}
	n := 1 << zoom
	if col < 0 || col >= n {
		return Address{}, fmt.Errorf("%w: col %d out of [0, %d) at zoom %d", ErrInvalidTileAddress, col, n, zoom)
	}
	if row < 0 || row >= n {
		return Address{}, fmt.Errorf("%w: row %d out of [0, %d) at zoom %d", ErrInvalidTileAddress, row, n, zoom)
	}
	return Address{Zoom: zoom, Col: col, Row: row}, nil
}

func (a Address) String() string {
	return fmt.Sprintf("%d/%d/%d", a.Zoom, a.Col, a.Row)
}

// MercatorEnvelope is an axis-aligned bounding box in projected meters.
type MercatorEnvelope struct {
	MinX, MinY, MaxX, MaxY float64
}

// GeoEnvelope is an axis-aligned bounding box in WGS84 degrees, the
// reference frame of the point store.
type GeoEnvelope struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// MercatorEnvelope computes the tile's bounds in projected meters using
// the standard power-of-two subdivision: one tile covers the world at
// zoom 0; each zoom increment halves the tile size on both axes.
func (a Address) MercatorEnvelope() MercatorEnvelope {
	size := 2 * WorldExtent / float64(uint(1)<<a.Zoom)
	minX := -WorldExtent + float64(a.Col)*size
	maxY := WorldExtent - float64(a.Row)*size
	return MercatorEnvelope{
		MinX: minX,
		MinY: maxY - size,
		MaxX: minX + size,
		MaxY: maxY,
	}
}

// GeoEnvelope converts the tile bounds to WGS84 degrees via the inverse
// mercator projection.
func (a Address) GeoEnvelope() GeoEnvelope {
	m := a.MercatorEnvelope()
	minLon, minLat := Unproject(m.MinX, m.MinY)
	maxLon, maxLat := Unproject(m.MaxX, m.MaxY)
	return GeoEnvelope{MinLon: minLon, MinLat: minLat, MaxLon: maxLon, MaxLat: maxLat}
}

// Project maps WGS84 degrees to web-mercator meters.
func Project(lon, lat float64) (x, y float64) {
	x = EarthRadius * lon * math.Pi / 180
	y = EarthRadius * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return x, y
}

// Unproject maps web-mercator meters back to WGS84 degrees. Longitude
// is linear in x; latitude is recovered through atan(sinh(y/R)).
func Unproject(x, y float64) (lon, lat float64) {
	lon = x / EarthRadius * 180 / math.Pi
	lat = math.Atan(math.Sinh(y/EarthRadius)) * 180 / math.Pi
	return lon, lat
}
