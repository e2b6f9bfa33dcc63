// Package main provides the catalog search HTTP server.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bull/catalog-search/internal/api"
	"github.com/bull/catalog-search/internal/checkpoint"
	"github.com/bull/catalog-search/internal/config"
	"github.com/bull/catalog-search/internal/connector"
	"github.com/bull/catalog-search/internal/embedding"
	"github.com/bull/catalog-search/internal/search"
	"github.com/bull/catalog-search/internal/storage"
	"github.com/bull/catalog-search/internal/syncer"
)

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := checkpoint.NewStore(cfg.Sync.DataDir)
	if err != nil {
		log.Fatalf("failed to open checkpoint store: %v", err)
	}
	defer store.Close()

	client, err := embedding.NewClient(cfg.Embedding.BaseURL)
	if err != nil {
		log.Fatalf("failed to create embedding client: %v", err)
	}
	embedder := embedding.NewEmbedder(client, cfg.Embedding.Model, cfg.Embedding.Dimension, cfg.Embedding.BatchSize)

	spaces := []storage.VectorSpace{
		{Name: storage.TextSpace, Dimension: uint64(embedder.Dimension())},
	}
	var images syncer.ImageEmbedder
	if cfg.Sync.IncludeImages {
		imageClient, err := embedding.NewClient(cfg.Embedding.ImageBaseURL)
		if err != nil {
			log.Fatalf("failed to create image embedding client: %v", err)
		}
		imageEmbedder := embedding.NewImageEmbedder(imageClient, cfg.Embedding.ImageModel, cfg.Embedding.ImageDimension, logger)
		images = imageEmbedder
		spaces = append(spaces, storage.VectorSpace{
			Name: storage.ImageSpace, Dimension: uint64(imageEmbedder.Dimension()),
		})
	}

	index, err := storage.NewIndex(cfg.Qdrant.Host, cfg.Qdrant.Port, spaces)
	if err != nil {
		log.Fatalf("failed to connect to Qdrant: %v", err)
	}
	defer index.Close()

	if err := index.EnsureCollection(ctx, cfg.Sync.Collection, false); err != nil {
		log.Fatalf("failed to ensure collection: %v", err)
	}

	registry := buildRegistry(cfg)

	orchestrator := syncer.New(registry, embedder, images, index, store, logger, syncer.Options{
		Collection:    cfg.Sync.Collection,
		IncludeImages: cfg.Sync.IncludeImages,
	})
	searcher := search.NewService(embedder, index, cfg.Sync.Collection, logger)
	server := api.NewServer(orchestrator, searcher, index, store, registry, cfg.Sync.Collection, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Starting catalog server on %s (platforms: %v)", cfg.Server.Addr, registry.Platforms())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// buildRegistry registers the connectors enabled in the config.
func buildRegistry(cfg *config.Config) *connector.Registry {
	registry := connector.NewRegistry()
	if c := cfg.Connectors.FakeStore; c != nil {
		registry.Register(connector.NewFakeStore(c.BaseURL, 0))
	}
	if c := cfg.Connectors.Magento; c != nil {
		registry.Register(connector.NewMagento(connector.MagentoConfig{
			BaseURL:     c.BaseURL,
			AccessToken: c.Token,
		}))
	}
	if c := cfg.Connectors.Odoo; c != nil {
		registry.Register(connector.NewOdoo(connector.OdooConfig{
			BaseURL:  c.BaseURL,
			Database: c.Database,
			Username: c.Username,
			APIKey:   c.Password,
		}))
	}
	return registry
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
