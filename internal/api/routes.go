// Package api provides HTTP handlers for the MaStR tile server.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/klauspost/compress/gzip"

	"github.com/mastr-viz/server/internal/schema"
	"github.com/mastr-viz/server/internal/service"
	"github.com/mastr-viz/server/internal/store"
	"github.com/mastr-viz/server/internal/tile"
)

// ContentTypeMVT is the media type of encoded vector tiles.
const ContentTypeMVT = "application/vnd.mapbox-vector-tile"

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *schema.Registry
	Tiles       *service.TileService
	Stats       *service.StatsService
	Metadata    *service.MetadataService
	CORSOrigins []string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/api/categories", categoriesHandler(cfg.Registry))

	// Tile endpoints. The ".png" pattern must be registered alongside
	// the plain one because chi treats '.' as a param delimiter.
	r.Get("/api/tiles/{category}/{z}/{x}/{y}.png", previewTileHandler(cfg.Tiles))
	r.Get("/api/tiles/{category}/{z}/{x}/{y}", tileHandler(cfg.Tiles))

	r.Get("/api/stats/advanced/{category}", advancedStatsHandler(cfg.Stats))
	r.Get("/api/stats", basicStatsHandler(cfg.Stats))
	r.Get("/api/metadata/{category}", metadataHandler(cfg.Metadata))

	return r
}

// errorBody mirrors the upstream API's error shape.
type errorBody struct {
	Detail string `json:"detail"`
}

// writeError maps pipeline errors to status codes and the JSON
// {"detail": ...} body. Client disconnects produce no response at all.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, schema.ErrUnknownCategory):
		status = http.StatusBadRequest
	case errors.Is(err, tile.ErrInvalidTileAddress):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, store.ErrStoreQueryFailed):
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Detail: err.Error()})
}

// tileCoords parses the z/x/y URL params. Validation of ranges happens
// in the tile pipeline; this only rejects non-numeric input.
func tileCoords(r *http.Request) (z, x, y int, err error) {
	z, err = strconv.Atoi(chi.URLParam(r, "z"))
	if err != nil {
		return 0, 0, 0, errors.New("invalid z")
	}
	x, err = strconv.Atoi(chi.URLParam(r, "x"))
	if err != nil {
		return 0, 0, 0, errors.New("invalid x")
	}
	yParam := strings.TrimSuffix(chi.URLParam(r, "y"), ".png")
	y, err = strconv.Atoi(yParam)
	if err != nil {
		return 0, 0, 0, errors.New("invalid y")
	}
	return z, x, y, nil
}

var gzipPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	},
}

func tileHandler(svc *service.TileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		z, x, y, err := tileCoords(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(errorBody{Detail: err.Error()})
			return
		}
		category := chi.URLParam(r, "category")

		data, err := svc.GetTile(r.Context(), category, z, x, y, r.URL.Query())
		if err != nil {
			writeError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", ContentTypeMVT)
		w.Header().Set("Cache-Control", "public, max-age=3600")

		// Tiles bypass the shared compression middleware (it only
		// covers text types), so gzip them here when accepted.
		if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			w.Header().Set("Content-Encoding", "gzip")
			gz := gzipPool.Get().(*gzip.Writer)
			defer gzipPool.Put(gz)
			gz.Reset(w)
			gz.Write(data)
			gz.Close()
			return
		}
		w.Write(data)
	}
}

func previewTileHandler(svc *service.TileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		z, x, y, err := tileCoords(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(errorBody{Detail: err.Error()})
			return
		}
		category := chi.URLParam(r, "category")

		data, err := svc.GetPreviewTile(r.Context(), category, z, x, y, r.URL.Query())
		if err != nil {
			if errors.Is(err, store.ErrStoreUnavailable) || errors.Is(err, store.ErrStoreQueryFailed) {
				// Previews are best-effort: a blank tile beats a broken
				// map image.
				data, err = svc.EmptyPreviewTile()
				if err != nil {
					writeError(w, r, err)
					return
				}
			} else {
				writeError(w, r, err)
				return
			}
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Write(data)
	}
}

func advancedStatsHandler(svc *service.StatsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		category := chi.URLParam(r, "category")

		data, err := svc.Advanced(r.Context(), category, r.URL.Query())
		if err != nil {
			writeError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

func basicStatsHandler(svc *service.StatsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		category := strings.TrimSpace(r.URL.Query().Get("unit_type"))
		if category == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(errorBody{Detail: "missing required query param: unit_type"})
			return
		}

		data, err := svc.ByState(r.Context(), category)
		if err != nil {
			writeError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

func metadataHandler(svc *service.MetadataService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		category := chi.URLParam(r, "category")

		data, err := svc.FilterValues(r.Context(), category)
		if err != nil {
			writeError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

type categoryInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func categoriesHandler(registry *schema.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var out []categoryInfo
		for _, id := range registry.IDs() {
			cat, err := registry.Get(id)
			if err != nil {
				continue
			}
			out = append(out, categoryInfo{ID: cat.ID, Name: cat.DisplayName})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"categories": out,
		})
	}
}
