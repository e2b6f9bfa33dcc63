// Package api exposes the catalog system over HTTP JSON: sync control,
// search, collection administration, and health.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/bull/catalog-search/internal/checkpoint"
	"github.com/bull/catalog-search/internal/search"
)

// Syncer is the slice of the orchestrator the API needs.
type Syncer interface {
	StartSync(ctx context.Context, platform string, batchSize int) (string, error)
	JobStatus(ctx context.Context, jobID string) (checkpoint.SyncJob, error)
	Cancel(jobID string) error
}

// Searcher executes ranked catalog queries.
type Searcher interface {
	Search(ctx context.Context, p search.Params) ([]search.Hit, error)
}

// IndexAdmin covers collection administration and liveness.
type IndexAdmin interface {
	Stats(ctx context.Context, collection string) (uint64, error)
	EnsureCollection(ctx context.Context, name string, recreate bool) error
	Health(ctx context.Context) error
}

// CheckpointAdmin resets ingestion state when a collection is recreated.
type CheckpointAdmin interface {
	ClearCollection(ctx context.Context, collection string) error
}

// PlatformLister enumerates registered connector platforms.
type PlatformLister interface {
	Platforms() []string
}

// Server routes HTTP requests to the catalog components.
type Server struct {
	syncer      Syncer
	searcher    Searcher
	index       IndexAdmin
	checkpoints CheckpointAdmin
	platforms   PlatformLister
	collection  string
	logger      *slog.Logger
}

// NewServer wires the API server.
func NewServer(
	syncer Syncer,
	searcher Searcher,
	index IndexAdmin,
	checkpoints CheckpointAdmin,
	platforms PlatformLister,
	collection string,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		syncer:      syncer,
		searcher:    searcher,
		index:       index,
		checkpoints: checkpoints,
		platforms:   platforms,
		collection:  collection,
		logger:      logger,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/sync", s.handleStartSync)
	mux.HandleFunc("GET /api/sync/{id}", s.handleSyncStatus)
	mux.HandleFunc("DELETE /api/sync/{id}", s.handleCancelSync)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("POST /api/collections", s.handleCreateCollection)
	mux.HandleFunc("GET /api/platforms", s.handlePlatforms)
	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request handled",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
