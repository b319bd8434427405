// Package mvt encodes point layers into the Mapbox Vector Tile binary
// format (vector-tile-spec 2.1) using raw protobuf wire primitives.
//
// The encoder is deterministic: the same feature sequence always yields
// byte-identical output, because the key and value tables are built in
// first-seen order and features are written in input order.
package mvt

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Protobuf field numbers from vector_tile.proto.
const (
	fieldTileLayer = 3

	fieldLayerVersion = 15
	fieldLayerName    = 1
	fieldLayerFeature = 2
	fieldLayerKey     = 3
	fieldLayerValue   = 4
	fieldLayerExtent  = 5

	fieldFeatureID       = 1
	fieldFeatureTags     = 2
	fieldFeatureType     = 3
	fieldFeatureGeometry = 4

	fieldValueString = 1
	fieldValueFloat  = 2
	fieldValueDouble = 3
	fieldValueInt    = 4
	fieldValueBool   = 7
)

const (
	layerVersion  = 2
	geomTypePoint = 1

	cmdMoveTo = 1
)

// Value is a feature attribute value. Exactly one typed field is set;
// the zero Value encodes as an empty string.
type Value struct {
	kind byte
	str  string
	num  float64
	i    int64
	b    bool
}

// String returns a string attribute value.
func String(s string) Value { return Value{kind: 's', str: s} }

// Float returns a 32-bit float attribute value.
func Float(f float32) Value { return Value{kind: 'f', num: float64(f)} }

// Double returns a 64-bit float attribute value.
func Double(f float64) Value { return Value{kind: 'd', num: f} }

// Int returns an integer attribute value.
func Int(i int64) Value { return Value{kind: 'i', i: i} }

// Bool returns a boolean attribute value.
func Bool(b bool) Value { return Value{kind: 'b', b: b} }

func (v Value) encode() []byte {
	var buf []byte
	switch v.kind {
	case 'f':
		buf = protowire.AppendTag(buf, fieldValueFloat, protowire.Fixed32Type)
		buf = protowire.AppendFixed32(buf, math.Float32bits(float32(v.num)))
	case 'd':
		buf = protowire.AppendTag(buf, fieldValueDouble, protowire.Fixed64Type)
		buf = protowire.AppendFixed64(buf, math.Float64bits(v.num))
	case 'i':
		buf = protowire.AppendTag(buf, fieldValueInt, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(v.i))
	case 'b':
		buf = protowire.AppendTag(buf, fieldValueBool, protowire.VarintType)
		if v.b {
			buf = protowire.AppendVarint(buf, 1)
		} else {
			buf = protowire.AppendVarint(buf, 0)
		}
	default:
		buf = protowire.AppendTag(buf, fieldValueString, protowire.BytesType)
		buf = protowire.AppendString(buf, v.str)
	}
	return buf
}

// valueKey is the dedup key for the layer value table.
type valueKey struct {
	kind byte
	str  string
	num  float64
	i    int64
	b    bool
}

// Layer accumulates point features and serializes them as one MVT
// layer. Keys and values are interned into the layer-level tables as
// features are added; feature tags reference them by index.
type Layer struct {
	name   string
	extent uint32

	keys     []string
	keyIndex map[string]uint32

	values     []Value
	valueIndex map[valueKey]uint32

	features [][]byte
}

// NewLayer creates a layer with the given name and pixel extent.
func NewLayer(name string, extent uint32) *Layer {
	if extent == 0 {
		extent = 4096
	}
	return &Layer{
		name:       name,
		extent:     extent,
		keyIndex:   make(map[string]uint32),
		valueIndex: make(map[valueKey]uint32),
	}
}

func (l *Layer) internKey(k string) uint32 {
	if idx, ok := l.keyIndex[k]; ok {
		return idx
	}
	idx := uint32(len(l.keys))
	l.keys = append(l.keys, k)
	l.keyIndex[k] = idx
	return idx
}

func (l *Layer) internValue(v Value) uint32 {
	k := valueKey{kind: v.kind, str: v.str, num: v.num, i: v.i, b: v.b}
	if idx, ok := l.valueIndex[k]; ok {
		return idx
	}
	idx := uint32(len(l.values))
	l.values = append(l.values, v)
	l.valueIndex[k] = idx
	return idx
}

// Tag is one attribute entry on a feature. Tags must be supplied in a
// deterministic order by the caller; the encoder preserves it.
type Tag struct {
	Key   string
	Value Value
}

// AddPoint appends a single-point feature. The geometry is one MoveTo
// command; the cursor starts at (0,0) for each feature, so the deltas
// are the point's absolute quantized coordinates.
func (l *Layer) AddPoint(id uint64, x, y int32, tags []Tag) {
	var buf []byte

	buf = protowire.AppendTag(buf, fieldFeatureID, protowire.VarintType)
	buf = protowire.AppendVarint(buf, id)

	if len(tags) > 0 {
		var tagBuf []byte
		for _, t := range tags {
			tagBuf = protowire.AppendVarint(tagBuf, uint64(l.internKey(t.Key)))
			tagBuf = protowire.AppendVarint(tagBuf, uint64(l.internValue(t.Value)))
		}
		buf = protowire.AppendTag(buf, fieldFeatureTags, protowire.BytesType)
		buf = protowire.AppendBytes(buf, tagBuf)
	}

	buf = protowire.AppendTag(buf, fieldFeatureType, protowire.VarintType)
	buf = protowire.AppendVarint(buf, geomTypePoint)

	var geom []byte
	geom = protowire.AppendVarint(geom, cmdMoveTo|(1<<3))
	geom = protowire.AppendVarint(geom, zigzag(x))
	geom = protowire.AppendVarint(geom, zigzag(y))
	buf = protowire.AppendTag(buf, fieldFeatureGeometry, protowire.BytesType)
	buf = protowire.AppendBytes(buf, geom)

	l.features = append(l.features, buf)
}

// Len returns the number of features added so far.
func (l *Layer) Len() int { return len(l.features) }

// Encode serializes the layer into a complete tile message. An empty
// layer encodes to a structurally valid tile with zero features, never
// nil.
func (l *Layer) Encode() []byte {
	var layer []byte

	layer = protowire.AppendTag(layer, fieldLayerVersion, protowire.VarintType)
	layer = protowire.AppendVarint(layer, layerVersion)

	layer = protowire.AppendTag(layer, fieldLayerName, protowire.BytesType)
	layer = protowire.AppendString(layer, l.name)

	for _, f := range l.features {
		layer = protowire.AppendTag(layer, fieldLayerFeature, protowire.BytesType)
		layer = protowire.AppendBytes(layer, f)
	}
	for _, k := range l.keys {
		layer = protowire.AppendTag(layer, fieldLayerKey, protowire.BytesType)
		layer = protowire.AppendString(layer, k)
	}
	for _, v := range l.values {
		layer = protowire.AppendTag(layer, fieldLayerValue, protowire.BytesType)
		layer = protowire.AppendBytes(layer, v.encode())
	}

	layer = protowire.AppendTag(layer, fieldLayerExtent, protowire.VarintType)
	layer = protowire.AppendVarint(layer, uint64(l.extent))

	var out []byte
	out = protowire.AppendTag(out, fieldTileLayer, protowire.BytesType)
	out = protowire.AppendBytes(out, layer)
	return out
}

// zigzag encodes a signed delta as an unsigned varint payload.
func zigzag(v int32) uint64 {
	return uint64(uint32((v << 1) ^ (v >> 31)))
}
