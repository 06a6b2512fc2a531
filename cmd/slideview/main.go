// Package main is the entry point for the slideview server.
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

	"github.com/joho/godotenv"

	"github.com/slideview/engine/internal/api"
	"github.com/slideview/engine/internal/cache"
	"github.com/slideview/engine/internal/config"
	"github.com/slideview/engine/internal/render"
	"github.com/slideview/engine/internal/scheduler"
	"github.com/slideview/engine/internal/source"
	"github.com/slideview/engine/internal/viewer"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Optional .env for the tile source auth token
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}
	authToken := os.Getenv("SLIDEVIEW_AUTH_TOKEN")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if len(cfg.Slides) == 0 {
		log.Fatalf("No slides configured in %s", *configPath)
	}

	log.Printf("Starting slideview server on port %d", cfg.Server.Port)

	ctx := context.Background()

	// Cache manager (shared across all slides)
	cacheManager, err := cache.NewManager(cache.Config{
		TileCacheSizeMB: cfg.Cache.PayloadSizeMB,
		TileTTL:         time.Duration(cfg.Cache.TileTTLMinutes) * time.Minute,
		QueryCacheSize:  cfg.Cache.QuerySize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	schedCfg := scheduler.Config{
		MaxConcurrency: cfg.Scheduler.MaxConcurrency,
		MaxRetries:     cfg.Scheduler.MaxRetries,
		RetryBaseDelay: time.Duration(cfg.Scheduler.RetryBaseDelayMs) * time.Millisecond,
		RetryMaxDelay:  time.Duration(cfg.Scheduler.RetryMaxDelayMs) * time.Millisecond,
		RequestTimeout: time.Duration(cfg.Scheduler.RequestTimeoutSec) * time.Second,
	}

	// Slide registry
	slideIDs := make([]string, 0, len(cfg.Slides))
	for _, sc := range cfg.Slides {
		slideIDs = append(slideIDs, sc.ID)
	}
	registry := api.NewSlideRegistry(slideIDs[0], slideIDs)
	defer registry.DestroyAll()
	defer viewer.ShutdownIndexBuilder()

	log.Printf("Initializing %d slide(s), default: %s", len(slideIDs), slideIDs[0])

	metaClient := &http.Client{Timeout: schedCfg.RequestTimeout}
	for _, sc := range cfg.Slides {
		slide, err := source.FetchMetadata(ctx, metaClient, sc.TileBase)
		if err != nil {
			log.Fatalf("Failed to load metadata for slide %q: %v", sc.ID, err)
		}
		log.Printf("  [%s] %dx%d px, tile size %d, tiers 0..%d",
			sc.ID, slide.Width, slide.Height, slide.TileSize, slide.MaxTierZoom)

		backend, err := render.NewSoftware(render.Config{
			TileSize:    cfg.Render.TileSize,
			PointSize:   cfg.Render.PointSize,
			StrokeWidth: cfg.Render.StrokeWidth,
		})
		if err != nil {
			log.Fatalf("Failed to initialize renderer for slide %q: %v", sc.ID, err)
		}

		engine, err := viewer.New(slide, backend, cacheManager, viewer.Config{
			SlideID:       sc.ID,
			TileBase:      sc.TileBase,
			ViewportW:     cfg.Render.ViewportWidth,
			ViewportH:     cfg.Render.ViewportHeight,
			MaxCacheTiles: cfg.Cache.MaxTiles,
			DensityScale:  cfg.Index.DensityScale,
			Scheduler:     schedCfg,
		})
		if err != nil {
			log.Fatalf("Failed to initialize engine for slide %q: %v", sc.ID, err)
		}
		if authToken != "" {
			engine.SetAuthToken(authToken)
		}

		if sc.PointsURL != "" {
			points, err := source.LoadPoints(ctx, metaClient, sc.PointsURL)
			if err != nil {
				log.Printf("  [%s] Points not loaded: %v", sc.ID, err)
			} else {
				engine.SetPoints(points, nil)
				log.Printf("  [%s] Loaded %d annotation points", sc.ID, points.SafeCount())
			}
		}

		registry.Register(sc.ID, engine)
	}

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
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
