// Package main provides the catalog ingestion and query CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/catalog-search/internal/checkpoint"
	"github.com/bull/catalog-search/internal/config"
	"github.com/bull/catalog-search/internal/connector"
	"github.com/bull/catalog-search/internal/embedding"
	"github.com/bull/catalog-search/internal/search"
	"github.com/bull/catalog-search/internal/storage"
	"github.com/bull/catalog-search/internal/syncer"
)

var (
	configPath string

	syncBatchSize int
	syncImages    bool

	searchLimit    int
	searchHybrid   bool
	searchAlpha    float64
	searchPlatform string
	searchCategory string
	searchMinPrice float64
	searchMaxPrice float64

	recreateCollection bool
	confirmDestructive bool
)

var rootCmd = &cobra.Command{
	Use:   "catalog-sync",
	Short: "Product catalog ingestion and search tool",
	Long: `CLI for syncing e-commerce catalogs into the vector index and querying them.

Environment variables:
  QDRANT_HOST    Qdrant hostname (default: localhost)
  QDRANT_PORT    Qdrant gRPC port (default: 6334)
  OPENAI_API_KEY API key for embeddings (required)
  MAGENTO_TOKEN  Magento integration token (when the connector is enabled)
  ODOO_PASSWORD  Odoo API key or password (when the connector is enabled)`,
}

var syncCmd = &cobra.Command{
	Use:   "sync <platform>",
	Short: "Sync one platform's catalog into the index",
	Long: `Fetches products from the platform, embeds them, and upserts them into
the vector index. Resumes from the last checkpoint; re-running after a
failure continues where the previous run stopped.`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the indexed catalog",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show collection statistics",
	RunE:  runStats,
}

var createCollectionCmd = &cobra.Command{
	Use:   "create-collection",
	Short: "Create the vector collection (optionally recreating it)",
	RunE:  runCreateCollection,
}

var deletePlatformCmd = &cobra.Command{
	Use:   "delete-platform <platform>",
	Short: "Delete all indexed points for one platform",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeletePlatform,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")

	syncCmd.Flags().IntVarP(&syncBatchSize, "batch-size", "b", 0, "records per batch (0 = platform maximum)")
	syncCmd.Flags().BoolVar(&syncImages, "images", false, "also embed product images")

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 10, "maximum results")
	searchCmd.Flags().BoolVar(&searchHybrid, "hybrid", false, "blend vector and keyword scores")
	searchCmd.Flags().Float64Var(&searchAlpha, "alpha", 0.5, "vector weight in [0,1] for hybrid search")
	searchCmd.Flags().StringVar(&searchPlatform, "platform", "", "filter by platform")
	searchCmd.Flags().StringVar(&searchCategory, "category", "", "filter by category")
	searchCmd.Flags().Float64Var(&searchMinPrice, "min-price", 0, "minimum price filter")
	searchCmd.Flags().Float64Var(&searchMaxPrice, "max-price", 0, "maximum price filter")

	createCollectionCmd.Flags().BoolVar(&recreateCollection, "recreate", false, "drop and recreate the collection")
	createCollectionCmd.Flags().BoolVar(&confirmDestructive, "yes", false, "confirm destructive operations")
	deletePlatformCmd.Flags().BoolVar(&confirmDestructive, "yes", false, "confirm destructive operations")

	rootCmd.AddCommand(syncCmd, searchCmd, statsCmd, createCollectionCmd, deletePlatformCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// deps bundles everything a command might need.
type deps struct {
	cfg      *config.Config
	store    *checkpoint.Store
	index    *storage.Index
	embedder *embedding.Embedder
	images   *embedding.ImageEmbedder
	registry *connector.Registry
	logger   *slog.Logger
}

func (d *deps) close() {
	if d.index != nil {
		d.index.Close()
	}
	if d.store != nil {
		d.store.Close()
	}
}

func buildDeps(withImages bool) (*deps, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	store, err := checkpoint.NewStore(cfg.Sync.DataDir)
	if err != nil {
		return nil, err
	}

	client, err := embedding.NewClient(cfg.Embedding.BaseURL)
	if err != nil {
		store.Close()
		return nil, err
	}
	embedder := embedding.NewEmbedder(client, cfg.Embedding.Model, cfg.Embedding.Dimension, cfg.Embedding.BatchSize)

	spaces := []storage.VectorSpace{
		{Name: storage.TextSpace, Dimension: uint64(embedder.Dimension())},
	}
	var images *embedding.ImageEmbedder
	if withImages || cfg.Sync.IncludeImages {
		imageClient, err := embedding.NewClient(cfg.Embedding.ImageBaseURL)
		if err != nil {
			store.Close()
			return nil, err
		}
		images = embedding.NewImageEmbedder(imageClient, cfg.Embedding.ImageModel, cfg.Embedding.ImageDimension, logger)
		spaces = append(spaces, storage.VectorSpace{
			Name: storage.ImageSpace, Dimension: uint64(images.Dimension()),
		})
	}

	index, err := storage.NewIndex(cfg.Qdrant.Host, cfg.Qdrant.Port, spaces)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("connecting to Qdrant: %w", err)
	}

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

	return &deps{
		cfg:      cfg,
		store:    store,
		index:    index,
		embedder: embedder,
		images:   images,
		registry: registry,
		logger:   logger,
	}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

func runSync(cmd *cobra.Command, args []string) error {
	platform := args[0]

	d, err := buildDeps(syncImages)
	if err != nil {
		return err
	}
	defer d.close()

	ctx, cancel := signalContext()
	defer cancel()

	conn, err := d.registry.Get(platform)
	if err != nil {
		return err
	}
	fmt.Printf("Testing connection to %s...\n", platform)
	if err := conn.TestConnection(ctx); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}

	if err := d.index.EnsureCollection(ctx, d.cfg.Sync.Collection, false); err != nil {
		return err
	}

	var images syncer.ImageEmbedder
	if d.images != nil {
		images = d.images
	}
	orchestrator := syncer.New(d.registry, d.embedder, images, d.index, d.store, d.logger, syncer.Options{
		Collection:    d.cfg.Sync.Collection,
		IncludeImages: syncImages || d.cfg.Sync.IncludeImages,
	})

	fmt.Printf("Syncing %s into collection %q...\n", platform, d.cfg.Sync.Collection)
	job, err := orchestrator.RunSync(ctx, platform, syncBatchSize)
	if err != nil {
		return err
	}

	fmt.Printf("\nJob %s finished: %s\n", job.ID, job.Status)
	fmt.Printf("  processed: %d\n", job.RecordsProcessed)
	fmt.Printf("  failed:    %d\n", job.RecordsFailed)
	if job.FinishedAt != nil {
		fmt.Printf("  duration:  %s\n", job.FinishedAt.Sub(job.StartedAt).Round(time.Millisecond))
	}
	if job.Status != syncer.StatusCompleted {
		if job.Error != "" {
			fmt.Printf("  error:     %s\n", job.Error)
		}
		return fmt.Errorf("sync ended with status %s", job.Status)
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	d, err := buildDeps(false)
	if err != nil {
		return err
	}
	defer d.close()

	ctx, cancel := signalContext()
	defer cancel()

	params := search.Params{
		Query:    args[0],
		Limit:    searchLimit,
		Platform: searchPlatform,
		Category: searchCategory,
		Hybrid:   searchHybrid,
	}
	if cmd.Flags().Changed("alpha") {
		params.Alpha = &searchAlpha
	}
	if cmd.Flags().Changed("min-price") {
		params.MinPrice = &searchMinPrice
	}
	if cmd.Flags().Changed("max-price") {
		params.MaxPrice = &searchMaxPrice
	}

	svc := search.NewService(d.embedder, d.index, d.cfg.Sync.Collection, d.logger)
	hits, err := svc.Search(ctx, params)
	if err != nil {
		return err
	}

	if len(hits) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for i, hit := range hits {
		fmt.Printf("%2d. [%.3f] %s (%s, %s, $%.2f)\n",
			i+1, hit.Score, hit.Record.Title, hit.Record.Platform, hit.Record.Category, hit.Record.Price)
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	d, err := buildDeps(false)
	if err != nil {
		return err
	}
	defer d.close()

	ctx, cancel := signalContext()
	defer cancel()

	count, err := d.index.Stats(ctx, d.cfg.Sync.Collection)
	if err != nil {
		return err
	}
	fmt.Printf("Collection: %s\n", d.cfg.Sync.Collection)
	fmt.Printf("Points:     %d\n", count)
	fmt.Printf("Platforms:  %v\n", d.registry.Platforms())
	return nil
}

func runCreateCollection(cmd *cobra.Command, args []string) error {
	if recreateCollection && !confirmDestructive {
		return fmt.Errorf("--recreate deletes all indexed points; re-run with --yes to confirm")
	}

	d, err := buildDeps(false)
	if err != nil {
		return err
	}
	defer d.close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := d.index.EnsureCollection(ctx, d.cfg.Sync.Collection, recreateCollection); err != nil {
		return err
	}
	if recreateCollection {
		// Stale cursors and the model pin refer to the dropped data.
		if err := d.store.ClearCollection(ctx, d.cfg.Sync.Collection); err != nil {
			return err
		}
		fmt.Printf("Collection %q recreated; checkpoints cleared.\n", d.cfg.Sync.Collection)
		return nil
	}
	fmt.Printf("Collection %q ready.\n", d.cfg.Sync.Collection)
	return nil
}

func runDeletePlatform(cmd *cobra.Command, args []string) error {
	platform := args[0]
	if !confirmDestructive {
		return fmt.Errorf("this deletes every %s point from the index; re-run with --yes to confirm", platform)
	}

	d, err := buildDeps(false)
	if err != nil {
		return err
	}
	defer d.close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := d.index.DeleteByPlatform(ctx, d.cfg.Sync.Collection, platform); err != nil {
		return err
	}
	fmt.Printf("Deleted all %s points from %q.\n", platform, d.cfg.Sync.Collection)
	return nil
}
