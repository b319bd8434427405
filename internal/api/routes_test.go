package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	orbmvt "github.com/paulmach/orb/encoding/mvt"

	"github.com/mastr-viz/server/internal/render"
	"github.com/mastr-viz/server/internal/schema"
	"github.com/mastr-viz/server/internal/service"
	"github.com/mastr-viz/server/internal/store"
)

// stubStore serves canned records. An optional gate channel makes
// SelectPoints block until the channel is closed, for concurrency
// tests.
type stubStore struct {
	records []schema.PointRecord
	err     error
	gate    chan struct{}
}

func (s *stubStore) SelectPoints(ctx context.Context, sel store.Selection) ([]schema.PointRecord, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

func (s *stubStore) DistinctValues(ctx context.Context, cat schema.Category, column string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []string{"Enercon", "Vestas"}, nil
}

func (s *stubStore) Close() {}

func newTestRouter(ps store.PointStore) http.Handler {
	registry := schema.NewRegistry()
	renderer := render.NewTileRenderer(render.Config{TileSize: 64, DefaultColormap: "viridis"})

	return NewRouter(RouterConfig{
		Registry: registry,
		Tiles: service.NewTileService(service.TileServiceConfig{
			Registry: registry, Store: ps, Renderer: renderer,
		}),
		Stats: service.NewStatsService(service.StatsServiceConfig{
			Registry: registry, Store: ps,
		}),
		Metadata: service.NewMetadataService(service.MetadataServiceConfig{
			Registry: registry, Store: ps,
		}),
		CORSOrigins: []string{"http://localhost:3000"},
	})
}

func doRequest(t *testing.T, h http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeDetail(t *testing.T, body []byte) string {
	t.Helper()
	var e struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("expected JSON error body, got %q: %v", body, err)
	}
	return e.Detail
}

func TestHealthEndpoint(t *testing.T) {
	w := doRequest(t, newTestRouter(&stubStore{}), "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCategoriesEndpoint(t *testing.T) {
	w := doRequest(t, newTestRouter(&stubStore{}), "/api/categories", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var out struct {
		Categories []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"categories"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(out.Categories) != 7 {
		t.Fatalf("expected 7 categories, got %d", len(out.Categories))
	}
	if out.Categories[0].ID != "wind" || out.Categories[0].Name != "Wind" {
		t.Errorf("unexpected first category: %+v", out.Categories[0])
	}
}

func TestTileEndpoint(t *testing.T) {
	ps := &stubStore{records: []schema.PointRecord{{
		ID: "SEE100000000001", Lon: 12.0, Lat: 49.2, Capacity: 3200,
		Status: "In Betrieb", Year: 2018,
		Attributes: map[string]string{"Hersteller": "Enercon"},
	}}}
	router := newTestRouter(ps)

	t.Run("plain", func(t *testing.T) {
		w := doRequest(t, router, "/api/tiles/wind/10/546/350?Hersteller=Enercon", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if ct := w.Header().Get("Content-Type"); ct != ContentTypeMVT {
			t.Errorf("unexpected content type %q", ct)
		}
		if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "max-age=3600") {
			t.Errorf("unexpected cache control %q", cc)
		}

		layers, err := orbmvt.Unmarshal(w.Body.Bytes())
		if err != nil {
			t.Fatalf("response is not a valid tile: %v", err)
		}
		if len(layers) != 1 || len(layers[0].Features) != 1 {
			t.Fatalf("unexpected tile contents: %v", layers)
		}
	})

	t.Run("gzip", func(t *testing.T) {
		w := doRequest(t, router, "/api/tiles/wind/10/546/350",
			http.Header{"Accept-Encoding": {"gzip"}})
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if enc := w.Header().Get("Content-Encoding"); enc != "gzip" {
			t.Fatalf("expected gzip encoding, got %q", enc)
		}

		gr, err := gzip.NewReader(w.Body)
		if err != nil {
			t.Fatalf("response is not gzip: %v", err)
		}
		raw, err := io.ReadAll(gr)
		if err != nil {
			t.Fatalf("failed to decompress: %v", err)
		}
		if _, err := orbmvt.Unmarshal(raw); err != nil {
			t.Fatalf("decompressed body is not a valid tile: %v", err)
		}
	})
}

func TestTileEndpointErrors(t *testing.T) {
	router := newTestRouter(&stubStore{})

	t.Run("nonNumericCoordinate", func(t *testing.T) {
		w := doRequest(t, router, "/api/tiles/wind/10/abc/350", nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
		if d := decodeDetail(t, w.Body.Bytes()); d != "invalid x" {
			t.Errorf("unexpected detail %q", d)
		}
	})

	t.Run("outOfRangeAddress", func(t *testing.T) {
		w := doRequest(t, router, "/api/tiles/wind/10/546/5000", nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
		if d := decodeDetail(t, w.Body.Bytes()); !strings.Contains(d, "invalid tile address") {
			t.Errorf("unexpected detail %q", d)
		}
	})

	t.Run("unknownCategory", func(t *testing.T) {
		w := doRequest(t, router, "/api/tiles/geothermal/10/546/350", nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
		if d := decodeDetail(t, w.Body.Bytes()); !strings.Contains(d, "unknown category") {
			t.Errorf("unexpected detail %q", d)
		}
	})

	t.Run("storeUnavailable", func(t *testing.T) {
		w := doRequest(t, newTestRouter(&stubStore{err: store.ErrStoreUnavailable}),
			"/api/tiles/wind/10/546/350", nil)
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", w.Code)
		}
		if d := decodeDetail(t, w.Body.Bytes()); !strings.Contains(d, "unavailable") {
			t.Errorf("unexpected detail %q", d)
		}
	})

	t.Run("queryFailed", func(t *testing.T) {
		w := doRequest(t, newTestRouter(&stubStore{err: store.ErrStoreQueryFailed}),
			"/api/tiles/wind/10/546/350", nil)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", w.Code)
		}
	})
}

func TestPreviewTileEndpoint(t *testing.T) {
	t.Run("rendersPNG", func(t *testing.T) {
		w := doRequest(t, newTestRouter(&stubStore{}), "/api/tiles/wind/10/546/350.png", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "image/png" {
			t.Errorf("unexpected content type %q", ct)
		}
	})

	t.Run("blankTileOnStoreError", func(t *testing.T) {
		w := doRequest(t, newTestRouter(&stubStore{err: store.ErrStoreUnavailable}),
			"/api/tiles/wind/10/546/350.png", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected blank tile fallback, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "image/png" {
			t.Errorf("unexpected content type %q", ct)
		}
	})

	t.Run("badAddressStillFails", func(t *testing.T) {
		w := doRequest(t, newTestRouter(&stubStore{}), "/api/tiles/wind/10/546/5000.png", nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})
}

func TestAdvancedStatsEndpoint(t *testing.T) {
	w := doRequest(t, newTestRouter(&stubStore{}), "/api/stats/advanced/wind", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var out struct {
		Temporal []json.RawMessage `json:"temporal"`
		Status   []json.RawMessage `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(out.Temporal) != 0 || len(out.Status) != 0 {
		t.Errorf("expected empty result sets, got %s", w.Body.String())
	}
}

func TestBasicStatsEndpoint(t *testing.T) {
	router := newTestRouter(&stubStore{})

	t.Run("missingUnitType", func(t *testing.T) {
		w := doRequest(t, router, "/api/stats", nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
		if d := decodeDetail(t, w.Body.Bytes()); !strings.Contains(d, "unit_type") {
			t.Errorf("unexpected detail %q", d)
		}
	})

	t.Run("withUnitType", func(t *testing.T) {
		w := doRequest(t, router, "/api/stats?unit_type=wind", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("unknownUnitType", func(t *testing.T) {
		w := doRequest(t, router, "/api/stats?unit_type=geothermal", nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})
}

func TestMetadataEndpoint(t *testing.T) {
	w := doRequest(t, newTestRouter(&stubStore{}), "/api/metadata/wind", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var out map[string][]string
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(out["Hersteller"]) != 2 {
		t.Errorf("unexpected metadata: %v", out)
	}
}

// Requests arriving while the store is busy must queue and complete
// once it frees up, not deadlock or drop.
func TestConcurrentTileRequests(t *testing.T) {
	gate := make(chan struct{})
	router := newTestRouter(&stubStore{gate: gate})

	const n = 16
	codes := make(chan int, n)
	var started sync.WaitGroup
	started.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			started.Done()
			w := doRequest(t, router, "/api/tiles/wind/10/546/350", nil)
			codes <- w.Code
		}()
	}

	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(gate)

	for i := 0; i < n; i++ {
		select {
		case code := <-codes:
			if code != http.StatusOK {
				t.Errorf("request %d: expected 200, got %d", i, code)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("requests did not complete after the store freed up")
		}
	}
}

func TestWriteErrorSkipsCancelledRequests(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/tiles/wind/10/546/350", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	writeError(w, req, errors.New("boom"))
	if w.Body.Len() != 0 {
		t.Errorf("expected no body for cancelled request, got %q", w.Body.String())
	}
}
