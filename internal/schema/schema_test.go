package schema

import (
	"errors"
	"reflect"
	"testing"
)

func TestRegistryGet(t *testing.T) {
	r := NewRegistry()

	t.Run("knownCategory", func(t *testing.T) {
		cat, err := r.Get("wind")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cat.Table != "wind_extended" {
			t.Errorf("unexpected table %q", cat.Table)
		}
		if cat.PrimaryColumn != "Hersteller" {
			t.Errorf("unexpected primary column %q", cat.PrimaryColumn)
		}
	})

	t.Run("unknownCategory", func(t *testing.T) {
		_, err := r.Get("geothermal")
		if !errors.Is(err, ErrUnknownCategory) {
			t.Fatalf("expected ErrUnknownCategory, got %v", err)
		}
	})
}

func TestRegistryIDsOrder(t *testing.T) {
	r := NewRegistry()
	ids := r.IDs()

	want := []string{"wind", "solar", "storage", "biomass", "hydro", "combustion", "nuclear"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("unexpected category order: %v", ids)
	}
}

func TestRegistryValidate(t *testing.T) {
	t.Run("defaultRegistry", func(t *testing.T) {
		if err := NewRegistry().Validate(); err != nil {
			t.Fatalf("default registry invalid: %v", err)
		}
	})

	t.Run("missingTable", func(t *testing.T) {
		r := newRegistry([]Category{{
			ID: "broken", DisplayName: "Broken",
			FilterColumns: []string{ColState},
			PrimaryColumn: ColState,
		}})
		if err := r.Validate(); err == nil {
			t.Fatal("expected error for category without table")
		}
	})

	t.Run("primaryNotInAllowList", func(t *testing.T) {
		r := newRegistry([]Category{{
			ID: "broken", DisplayName: "Broken", Table: "broken_extended",
			FilterColumns: []string{ColState},
			PrimaryColumn: "Hersteller",
		}})
		if err := r.Validate(); err == nil {
			t.Fatal("expected error for primary column outside allow-list")
		}
	})
}

func TestParseFilters(t *testing.T) {
	r := NewRegistry()
	wind, err := r.Get("wind")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("splitsAndSorts", func(t *testing.T) {
		got := ParseFilters(wind, map[string][]string{
			"Hersteller": {"Vestas,Enercon", "Nordex"},
		})
		want := FilterSet{"Hersteller": {"Enercon", "Nordex", "Vestas"}}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
	})

	t.Run("dedupAndTrim", func(t *testing.T) {
		got := ParseFilters(wind, map[string][]string{
			"Hersteller": {" Enercon , Enercon", "Enercon"},
		})
		want := FilterSet{"Hersteller": {"Enercon"}}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
	})

	t.Run("dropsUnknownKeys", func(t *testing.T) {
		got := ParseFilters(wind, map[string][]string{
			"Hersteller":    {"Enercon"},
			"Nettoleistung": {"1000"},
			"DROP TABLE":    {"x"},
		})
		if _, ok := got["Nettoleistung"]; ok {
			t.Error("expected unknown key to be dropped")
		}
		if len(got) != 1 {
			t.Fatalf("expected only allow-listed key, got %v", got)
		}
	})

	t.Run("dropsEmptyValues", func(t *testing.T) {
		got := ParseFilters(wind, map[string][]string{
			"Hersteller": {" , ,,"},
		})
		if len(got) != 0 {
			t.Fatalf("expected empty filter set, got %v", got)
		}
	})

	t.Run("orderIndependent", func(t *testing.T) {
		a := ParseFilters(wind, map[string][]string{
			"Hersteller": {"Vestas,Enercon"},
			"Bundesland": {"Bayern,Hessen"},
		})
		b := ParseFilters(wind, map[string][]string{
			"Bundesland": {"Hessen", "Bayern"},
			"Hersteller": {"Enercon", "Vestas"},
		})
		if !reflect.DeepEqual(a, b) {
			t.Fatalf("expected identical filter sets, got %v vs %v", a, b)
		}
	})
}
