// Package store defines the point store interface and the construction
// of selections against it. Building a selection never performs I/O;
// execution is left to a PointStore implementation.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mastr-viz/server/internal/schema"
	"github.com/mastr-viz/server/internal/tile"
)

var (
	// ErrStoreUnavailable indicates the connection pool could not hand
	// out a connection within the configured wait.
	ErrStoreUnavailable = errors.New("point store unavailable")

	// ErrStoreQueryFailed indicates the store rejected or failed an
	// otherwise valid selection.
	ErrStoreQueryFailed = errors.New("point store query failed")
)

// PointStore is the read-only spatial store the pipeline runs against.
type PointStore interface {
	// SelectPoints executes a selection and returns the matching rows
	// in store order.
	SelectPoints(ctx context.Context, sel Selection) ([]schema.PointRecord, error)

	// DistinctValues returns the sorted distinct non-null values of one
	// column in a category's table.
	DistinctValues(ctx context.Context, cat schema.Category, column string) ([]string, error)

	// Close releases the underlying connections.
	Close()
}

// Selection is a parameterized query over one category table. The same
// logical inputs always produce an identical Selection regardless of
// filter map iteration order, so selections can be compared and cached
// by construction.
type Selection struct {
	Category schema.Category
	SQL      string
	Args     []any

	// AttrColumns are the per-row attribute columns selected after the
	// fixed columns, in SQL order.
	AttrColumns []string
}

// BuildSelection constructs the row selection for a category under a
// validated FilterSet, optionally restricted to a geographic envelope
// (tile requests pass one, analytics requests pass nil).
func BuildSelection(cat schema.Category, filters schema.FilterSet, env *tile.GeoEnvelope) Selection {
	attrCols := attributeColumns(cat)

	var b strings.Builder
	b.WriteString(`SELECT ` + quoteIdent(schema.ColID) +
		`, ` + quoteIdent(schema.ColLon) +
		`, ` + quoteIdent(schema.ColLat) +
		`, COALESCE(` + quoteIdent(schema.ColCapacity) + `, 0)` +
		`, COALESCE(` + quoteIdent(schema.ColStatus) + `, '')` +
		`, COALESCE(EXTRACT(YEAR FROM ` + quoteIdent(schema.ColDate) + `)::int, 0)`)
	for _, col := range attrCols {
		b.WriteString(`, COALESCE(` + quoteIdent(col) + `::text, '')`)
	}
	b.WriteString(` FROM ` + quoteIdent(cat.Table))
	b.WriteString(` WHERE ` + quoteIdent(schema.ColLon) + ` IS NOT NULL AND ` + quoteIdent(schema.ColLat) + ` IS NOT NULL`)

	var args []any
	if env != nil {
		b.WriteString(fmt.Sprintf(` AND %s BETWEEN $%d AND $%d AND %s BETWEEN $%d AND $%d`,
			quoteIdent(schema.ColLat), len(args)+1, len(args)+2,
			quoteIdent(schema.ColLon), len(args)+3, len(args)+4))
		args = append(args, env.MinLat, env.MaxLat, env.MinLon, env.MaxLon)
	}

	// Sort filter keys so map iteration order cannot leak into the SQL.
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(` AND %s = ANY($%d)`, quoteIdent(k), len(args)+1))
		args = append(args, filters[k])
	}

	b.WriteString(` ORDER BY ` + quoteIdent(schema.ColID))

	return Selection{
		Category:    cat,
		SQL:         b.String(),
		Args:        args,
		AttrColumns: attrCols,
	}
}

// attributeColumns lists the per-row attribute columns for a category:
// the filter allow-list plus the display name, minus the fixed columns
// already selected, in declaration order.
func attributeColumns(cat schema.Category) []string {
	fixed := map[string]bool{
		schema.ColID: true, schema.ColLon: true, schema.ColLat: true,
		schema.ColCapacity: true, schema.ColStatus: true, schema.ColDate: true,
	}
	seen := make(map[string]bool)
	var out []string
	for _, col := range append(append([]string{}, cat.FilterColumns...), schema.ColName) {
		if fixed[col] || seen[col] {
			continue
		}
		seen[col] = true
		out = append(out, col)
	}
	return out
}

// quoteIdent double-quotes a column or table identifier. Identifiers
// come from the static registry, never from request input.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
