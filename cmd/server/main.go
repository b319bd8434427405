// Package main is the entry point for the MaStR tile server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mastr-viz/server/internal/api"
	"github.com/mastr-viz/server/internal/cache"
	"github.com/mastr-viz/server/internal/config"
	"github.com/mastr-viz/server/internal/render"
	"github.com/mastr-viz/server/internal/schema"
	"github.com/mastr-viz/server/internal/service"
	"github.com/mastr-viz/server/internal/store/postgres"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting MaStR tile server on port %d", cfg.Server.Port)

	ctx := context.Background()

	// Static category registry, validated once at startup
	registry := schema.NewRegistry()
	if err := registry.Validate(); err != nil {
		log.Fatalf("Invalid category registry: %v", err)
	}
	log.Printf("Registered categories: %v", registry.IDs())

	// Connect the point store
	pointStore, err := postgres.New(ctx, postgres.Config{
		DSN:            cfg.Database.DSN,
		MinConns:       cfg.Database.MinConns,
		MaxConns:       cfg.Database.MaxConns,
		AcquireTimeout: time.Duration(cfg.Database.AcquireTimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to connect point store: %v", err)
	}
	defer pointStore.Close()
	log.Printf("Point store connected (pool %d-%d, acquire timeout %ds)",
		cfg.Database.MinConns, cfg.Database.MaxConns, cfg.Database.AcquireTimeoutSeconds)

	// Initialize cache manager
	cacheManager, err := cache.NewManager(cache.Config{
		StatsCacheSizeMB: cfg.Cache.StatsSizeMB,
		StatsTTL:         time.Duration(cfg.Cache.StatsTTLMinutes) * time.Minute,
		MetadataEntries:  cfg.Cache.MetadataEntries,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	// Initialize preview renderer
	tileRenderer := render.NewTileRenderer(render.Config{
		TileSize:        cfg.Preview.TileSize,
		DefaultColormap: cfg.Preview.Colormap,
	})

	// Wire up services
	tileService := service.NewTileService(service.TileServiceConfig{
		Registry: registry,
		Store:    pointStore,
		Renderer: tileRenderer,
		Extent:   cfg.Tiles.Extent,
		Buffer:   cfg.Tiles.Buffer,
	})
	statsService := service.NewStatsService(service.StatsServiceConfig{
		Registry: registry,
		Store:    pointStore,
		Cache:    cacheManager,
	})
	metadataService := service.NewMetadataService(service.MetadataServiceConfig{
		Registry: registry,
		Store:    pointStore,
		Cache:    cacheManager,
	})

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		Tiles:       tileService,
		Stats:       statsService,
		Metadata:    metadataService,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
