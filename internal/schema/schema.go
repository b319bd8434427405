// Package schema defines the static per-category registry for the MaStR
// dataset: which table backs a category, which attributes may be filtered
// on, and which categorical column drives top-K analytics.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownCategory is returned when a request names a category that is
// not in the registry.
var ErrUnknownCategory = errors.New("unknown category")

// Common columns shared by every category table.
const (
	ColID       = "EinheitMastrNummer"
	ColLon      = "Laengengrad"
	ColLat      = "Breitengrad"
	ColCapacity = "Bruttoleistung"
	ColStatus   = "EinheitBetriebsstatus"
	ColDate     = "Inbetriebnahmedatum"
	ColName     = "NameStromerzeugungseinheit"
	ColState    = "Bundesland"
)

// Category describes one unit type and its filterable surface.
type Category struct {
	ID          string
	DisplayName string
	Table       string

	// FilterColumns is the allow-list for query-string filters.
	FilterColumns []string

	// PrimaryColumn is the categorical column used for top-K capacity
	// analytics (the dashboard's "Top 10 by X" chart).
	PrimaryColumn string
}

// FilterSet maps an allow-listed attribute name to the set of accepted
// values. Values within an attribute are OR-ed; attributes are AND-ed.
type FilterSet map[string][]string

// Registry holds the fixed category set, validated once at startup.
type Registry struct {
	categories map[string]Category
	order      []string
}

// NewRegistry builds the default MaStR registry.
func NewRegistry() *Registry {
	return newRegistry(defaultCategories())
}

func newRegistry(cats []Category) *Registry {
	r := &Registry{categories: make(map[string]Category, len(cats))}
	for _, c := range cats {
		r.categories[c.ID] = c
		r.order = append(r.order, c.ID)
	}
	return r
}

func defaultCategories() []Category {
	return []Category{
		{
			ID: "wind", DisplayName: "Wind", Table: "wind_extended",
			FilterColumns: []string{"Hersteller", ColState, ColStatus, "Lage"},
			PrimaryColumn: "Hersteller",
		},
		{
			ID: "solar", DisplayName: "Solar", Table: "solar_extended",
			FilterColumns: []string{ColState, ColStatus, "Lage", "Einspeisungsart"},
			PrimaryColumn: ColState,
		},
		{
			ID: "storage", DisplayName: "Storage", Table: "storage_extended",
			FilterColumns: []string{ColState, ColStatus, "Batterietechnologie"},
			PrimaryColumn: "Batterietechnologie",
		},
		{
			ID: "biomass", DisplayName: "Biomass", Table: "biomass_extended",
			FilterColumns: []string{ColState, ColStatus, "Hauptbrennstoff"},
			PrimaryColumn: "Hauptbrennstoff",
		},
		{
			ID: "hydro", DisplayName: "Hydro", Table: "hydro_extended",
			FilterColumns: []string{ColState, ColStatus, "ArtDerWasserkraftanlage"},
			PrimaryColumn: "ArtDerWasserkraftanlage",
		},
		{
			ID: "combustion", DisplayName: "Combustion", Table: "combustion_extended",
			FilterColumns: []string{ColState, ColStatus, "Energietraeger"},
			PrimaryColumn: "Energietraeger",
		},
		{
			ID: "nuclear", DisplayName: "Nuclear", Table: "nuclear_extended",
			FilterColumns: []string{ColState, ColStatus},
			PrimaryColumn: ColState,
		},
	}
}

// Validate checks registry consistency. Called once from main; a broken
// registry is a programming error, not a runtime condition.
func (r *Registry) Validate() error {
	for id, c := range r.categories {
		if c.Table == "" {
			return fmt.Errorf("category %q has no backing table", id)
		}
		if c.PrimaryColumn == "" {
			return fmt.Errorf("category %q has no primary column", id)
		}
		found := false
		for _, col := range c.FilterColumns {
			if col == c.PrimaryColumn {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("category %q: primary column %q not in filter allow-list", id, c.PrimaryColumn)
		}
	}
	return nil
}

// Get resolves a category id.
func (r *Registry) Get(id string) (Category, error) {
	c, ok := r.categories[id]
	if !ok {
		return Category{}, fmt.Errorf("%w: %s", ErrUnknownCategory, id)
	}
	return c, nil
}

// IDs returns the category ids in declaration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ParseFilters builds a FilterSet from raw query parameters. Each value
// list is split on commas and deduplicated; keys outside the category's
// allow-list are dropped silently (deliberately permissive, so map
// clients can send extra parameters without breaking). The result is
// independent of input key order: values are sorted.
func ParseFilters(cat Category, raw map[string][]string) FilterSet {
	allowed := make(map[string]bool, len(cat.FilterColumns))
	for _, col := range cat.FilterColumns {
		allowed[col] = true
	}

	out := make(FilterSet)
	for key, lists := range raw {
		if !allowed[key] {
			continue
		}
		seen := make(map[string]bool)
		var values []string
		for _, list := range lists {
			for _, v := range strings.Split(list, ",") {
				v = strings.TrimSpace(v)
				if v == "" || seen[v] {
					continue
				}
				seen[v] = true
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		sort.Strings(values)
		out[key] = values
	}
	return out
}

// PointRecord is one row from the point store: position, capacity and
// the attribute snapshot relevant to tiles and analytics.
type PointRecord struct {
	ID       string
	Lon      float64
	Lat      float64
	Capacity float64
	Status   string
	Year     int

	// Attributes holds the category's allow-listed columns plus display
	// fields, keyed by column name.
	Attributes map[string]string
}
