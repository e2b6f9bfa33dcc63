// Package syncer drives ingestion runs: it pulls batches from a platform
// connector, embeds them, upserts them into the vector index, and advances
// the checkpoint cursor — in that order, so a crash can only cause a
// harmless idempotent replay, never silent data loss.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bull/catalog-search/internal/catalog"
	"github.com/bull/catalog-search/internal/checkpoint"
	"github.com/bull/catalog-search/internal/connector"
	"github.com/bull/catalog-search/internal/embedding"
	"github.com/bull/catalog-search/internal/storage"
)

// Job status values. A job moves pending → fetching → embedding →
// upserting → checkpointing, looping back to fetching while the source has
// more, and terminates in completed, cancelled, or failed.
const (
	StatusPending       = "pending"
	StatusFetching      = "fetching"
	StatusEmbedding     = "embedding"
	StatusUpserting     = "upserting"
	StatusCheckpointing = "checkpointing"
	StatusCompleted     = "completed"
	StatusCancelled     = "cancelled"
	StatusFailed        = "failed"
)

var (
	// ErrSyncAlreadyRunning means another job holds the lease for this
	// (collection, platform) pair.
	ErrSyncAlreadyRunning = errors.New("sync already running for this platform")

	// ErrModelMismatch means the collection was indexed with a different
	// embedding model. Mixing vector spaces across models silently is
	// never allowed; recreate the collection instead.
	ErrModelMismatch = errors.New("collection indexed with a different embedding model")

	// ErrJobNotCancellable is returned when cancelling a job that is not
	// currently running.
	ErrJobNotCancellable = errors.New("job is not running")
)

// TextEmbedder produces text vectors and identifies its model.
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
}

// ImageEmbedder produces image vectors from URLs, with nil entries for
// images that could not be embedded.
type ImageEmbedder interface {
	EmbedImages(ctx context.Context, urls []string) [][]float32
}

// VectorIndex is the slice of the index contract the orchestrator needs.
type VectorIndex interface {
	Upsert(ctx context.Context, collection string, points []storage.IndexedPoint) error
}

// CheckpointStore persists cursors, leases, and job snapshots.
type CheckpointStore interface {
	Cursor(ctx context.Context, collection, platform string) (string, error)
	SetCursor(ctx context.Context, collection, platform, cursor string) error
	AcquireLease(ctx context.Context, collection, platform, jobID string) error
	ReleaseLease(ctx context.Context, collection, platform, jobID string) error
	SaveJob(ctx context.Context, job checkpoint.SyncJob) error
	Job(ctx context.Context, jobID string) (checkpoint.SyncJob, error)
	CollectionModel(ctx context.Context, collection string) (string, error)
	SetCollectionModel(ctx context.Context, collection, model string) error
}

// Options tunes one orchestrator.
type Options struct {
	// Collection is the vector index collection jobs write into.
	Collection string

	// IncludeImages enables image embedding for connectors that carry
	// image URLs. Requires an ImageEmbedder.
	IncludeImages bool

	// FetchRetryBudget bounds retries of a transient connector failure
	// before the job fails. Defaults to 30s of exponential backoff.
	FetchRetryBudget time.Duration
}

// Orchestrator runs sync jobs. One batch pipeline per active job; batches
// within a job are strictly sequential with respect to checkpoint
// advancement. Jobs for different (collection, platform) pairs run in
// parallel; the checkpoint lease serializes jobs for the same pair.
type Orchestrator struct {
	registry *connector.Registry
	embedder TextEmbedder
	images   ImageEmbedder
	index    VectorIndex
	store    CheckpointStore
	logger   *slog.Logger
	opts     Options

	mu   sync.Mutex
	jobs map[string]*jobState
}

type jobState struct {
	mu        sync.Mutex
	job       checkpoint.SyncJob
	cancelled bool
}

func (s *jobState) snapshot() checkpoint.SyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job
}

func (s *jobState) setStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job.Status = status
}

func (s *jobState) addProcessed(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job.RecordsProcessed += n
}

func (s *jobState) addFailed(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job.RecordsFailed += n
}

func (s *jobState) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// New creates an orchestrator. images may be nil when image indexing is
// disabled.
func New(
	registry *connector.Registry,
	embedder TextEmbedder,
	images ImageEmbedder,
	index VectorIndex,
	store CheckpointStore,
	logger *slog.Logger,
	opts Options,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Collection == "" {
		opts.Collection = storage.DefaultCollection
	}
	if opts.FetchRetryBudget <= 0 {
		opts.FetchRetryBudget = 30 * time.Second
	}
	return &Orchestrator{
		registry: registry,
		embedder: embedder,
		images:   images,
		index:    index,
		store:    store,
		logger:   logger,
		opts:     opts,
		jobs:     make(map[string]*jobState),
	}
}

// StartSync begins an asynchronous sync job for a platform and returns its
// job id. Returns ErrSyncAlreadyRunning when a job already holds the lease
// for this platform's collection.
func (o *Orchestrator) StartSync(ctx context.Context, platform string, batchSize int) (string, error) {
	state, conn, err := o.prepareJob(ctx, platform, batchSize)
	if err != nil {
		return "", err
	}

	// The job must outlive the caller's request context.
	go o.run(context.WithoutCancel(ctx), state, conn)
	return state.snapshot().ID, nil
}

// RunSync runs a sync job to completion and returns the final snapshot.
// Used by the CLI, where blocking is the point.
func (o *Orchestrator) RunSync(ctx context.Context, platform string, batchSize int) (checkpoint.SyncJob, error) {
	state, conn, err := o.prepareJob(ctx, platform, batchSize)
	if err != nil {
		return checkpoint.SyncJob{}, err
	}
	o.run(ctx, state, conn)
	return state.snapshot(), nil
}

// prepareJob validates the request, checks the embedding-model pin,
// acquires the lease, and registers the pending job.
func (o *Orchestrator) prepareJob(ctx context.Context, platform string, batchSize int) (*jobState, connector.Connector, error) {
	conn, err := o.registry.Get(platform)
	if err != nil {
		return nil, nil, err
	}

	if batchSize <= 0 || batchSize > conn.MaxBatchSize() {
		batchSize = conn.MaxBatchSize()
	}

	pinned, err := o.store.CollectionModel(ctx, o.opts.Collection)
	if err != nil {
		return nil, nil, err
	}
	if pinned != "" && pinned != o.embedder.ModelID() {
		return nil, nil, fmt.Errorf("%w: collection %s pinned to %s, embedder is %s — recreate the collection",
			ErrModelMismatch, o.opts.Collection, pinned, o.embedder.ModelID())
	}

	jobID := uuid.New().String()
	if err := o.store.AcquireLease(ctx, o.opts.Collection, platform, jobID); err != nil {
		if errors.Is(err, checkpoint.ErrLeaseHeld) {
			return nil, nil, fmt.Errorf("%w: %s", ErrSyncAlreadyRunning, platform)
		}
		return nil, nil, err
	}

	if pinned == "" {
		if err := o.store.SetCollectionModel(ctx, o.opts.Collection, o.embedder.ModelID()); err != nil {
			o.store.ReleaseLease(ctx, o.opts.Collection, platform, jobID)
			return nil, nil, err
		}
	}

	state := &jobState{job: checkpoint.SyncJob{
		ID:         jobID,
		Collection: o.opts.Collection,
		Platform:   platform,
		BatchSize:  batchSize,
		Status:     StatusPending,
		StartedAt:  time.Now().UTC(),
	}}

	if err := o.store.SaveJob(ctx, state.snapshot()); err != nil {
		o.store.ReleaseLease(ctx, o.opts.Collection, platform, jobID)
		return nil, nil, err
	}

	o.mu.Lock()
	o.jobs[jobID] = state
	o.mu.Unlock()

	return state, conn, nil
}

// JobStatus returns the current snapshot for a job id, consulting live
// jobs first and falling back to the persisted record.
func (o *Orchestrator) JobStatus(ctx context.Context, jobID string) (checkpoint.SyncJob, error) {
	o.mu.Lock()
	state, live := o.jobs[jobID]
	o.mu.Unlock()
	if live {
		return state.snapshot(), nil
	}
	return o.store.Job(ctx, jobID)
}

// Cancel requests cooperative cancellation of a running job. The in-flight
// batch runs to completion or failure first; the job stops at the next
// batch boundary, after its checkpoint is durable.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	state, live := o.jobs[jobID]
	o.mu.Unlock()
	if !live {
		return fmt.Errorf("%w: %s", ErrJobNotCancellable, jobID)
	}
	state.mu.Lock()
	state.cancelled = true
	state.mu.Unlock()
	return nil
}

// run executes the job state machine.
func (o *Orchestrator) run(ctx context.Context, state *jobState, conn connector.Connector) {
	job := state.snapshot()
	log := o.logger.With("job", job.ID, "platform", job.Platform, "collection", job.Collection)

	defer func() {
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := o.store.SaveJob(finishCtx, state.snapshot()); err != nil {
			log.Error("failed to persist final job state", "error", err)
		}
		if err := o.store.ReleaseLease(finishCtx, job.Collection, job.Platform, job.ID); err != nil {
			log.Error("failed to release lease", "error", err)
		}
		// Terminal jobs are served from the store; drop the live entry.
		o.mu.Lock()
		delete(o.jobs, job.ID)
		o.mu.Unlock()
	}()

	cursor, err := o.store.Cursor(ctx, job.Collection, job.Platform)
	if err != nil {
		o.fail(state, log, fmt.Errorf("loading checkpoint: %w", err))
		return
	}
	log.Info("sync started", "cursor", cursor, "batchSize", job.BatchSize)

	for {
		if err := ctx.Err(); err != nil {
			o.fail(state, log, fmt.Errorf("sync interrupted: %w", err))
			return
		}

		state.setStatus(StatusFetching)
		batch, err := o.fetchWithRetry(ctx, conn, cursor, job.BatchSize)
		if err != nil {
			o.fail(state, log, err)
			return
		}

		// An empty batch is not an error: advance and loop if the
		// source says there is more.
		if len(batch.Records) > 0 {
			state.setStatus(StatusEmbedding)
			points, failed := o.buildPoints(ctx, conn, batch.Records, log)
			state.addFailed(failed)

			if len(points) > 0 {
				state.setStatus(StatusUpserting)
				if err := o.index.Upsert(ctx, job.Collection, points); err != nil {
					// Checkpoint stays at its last advanced value.
					o.fail(state, log, fmt.Errorf("upserting batch: %w", err))
					return
				}
				state.addProcessed(len(points))
			}
		}

		state.setStatus(StatusCheckpointing)
		if err := o.store.SetCursor(ctx, job.Collection, job.Platform, batch.NextCursor); err != nil {
			o.fail(state, log, fmt.Errorf("advancing checkpoint: %w", err))
			return
		}
		cursor = batch.NextCursor

		if !batch.HasMore {
			o.finish(state, log, StatusCompleted)
			return
		}
		if state.isCancelled() {
			o.finish(state, log, StatusCancelled)
			return
		}
	}
}

// fetchWithRetry fetches one batch, retrying transient source failures
// with exponential backoff inside the configured budget. Permanent
// rejections fail immediately.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, conn connector.Connector, cursor string, batchSize int) (*connector.Batch, error) {
	var batch *connector.Batch

	operation := func() error {
		b, err := conn.FetchBatch(ctx, cursor, batchSize)
		if err != nil {
			if errors.Is(err, connector.ErrSourceUnavailable) {
				return err
			}
			return backoff.Permanent(err)
		}
		batch = b
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 10 * time.Second
	policy.MaxElapsedTime = o.opts.FetchRetryBudget

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("fetching batch at cursor %q: %w", cursor, err)
	}
	return batch, nil
}

// buildPoints embeds a batch and assembles index points. Records that fail
// validation or embedding are excluded and counted, never fatal to the
// batch. Text and image embedding run concurrently; they are independent.
func (o *Orchestrator) buildPoints(ctx context.Context, conn connector.Connector, records []catalog.ProductRecord, log *slog.Logger) ([]storage.IndexedPoint, int) {
	failed := 0

	valid := make([]catalog.ProductRecord, 0, len(records))
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			log.Warn("skipping invalid record", "error", err)
			failed++
			continue
		}
		valid = append(valid, rec)
	}
	if len(valid) == 0 {
		return nil, failed
	}

	texts := make([]string, len(valid))
	urls := make([]string, len(valid))
	for i, rec := range valid {
		texts[i] = rec.EmbeddingText()
		urls[i] = rec.ImageURL
	}

	var textVecs, imageVecs [][]float32
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		textVecs = o.embedTextsWithFallback(gctx, texts, log)
		return nil
	})
	if o.opts.IncludeImages && o.images != nil && conn.SupportsImages() {
		g.Go(func() error {
			imageVecs = o.images.EmbedImages(gctx, urls)
			return nil
		})
	}
	g.Wait()

	points := make([]storage.IndexedPoint, 0, len(valid))
	for i, rec := range valid {
		if textVecs[i] == nil {
			failed++
			continue
		}
		vectors := map[string][]float32{storage.TextSpace: textVecs[i]}
		if imageVecs != nil && imageVecs[i] != nil {
			vectors[storage.ImageSpace] = imageVecs[i]
		}
		points = append(points, storage.IndexedPoint{
			ID:      catalog.PointID(rec.Platform, rec.ExternalID),
			Vectors: vectors,
			Record:  rec,
		})
	}
	return points, failed
}

// embedTextsWithFallback embeds a batch in one call, and on persistent
// batch failure degrades to per-record embedding so one poisoned record
// costs only itself. The result is aligned with texts; nil marks failure.
//
// Policy: records whose embedding cannot be produced are excluded from the
// upsert and counted in recordsFailed. They are not indexed keyword-only —
// a point without a text vector would be invisible to the primary query
// path, which is worse than an honest failure count.
func (o *Orchestrator) embedTextsWithFallback(ctx context.Context, texts []string, log *slog.Logger) [][]float32 {
	vectors, err := o.embedder.EmbedTexts(ctx, texts)
	if err == nil {
		return vectors
	}
	if !errors.Is(err, embedding.ErrEmbeddingUnavailable) {
		log.Warn("batch embedding failed permanently, excluding batch records from upsert", "error", err)
		return make([][]float32, len(texts))
	}

	log.Warn("batch embedding failed, retrying records individually", "error", err, "records", len(texts))
	vectors = make([][]float32, len(texts))
	for i, text := range texts {
		single, err := o.embedder.EmbedTexts(ctx, []string{text})
		if err != nil {
			log.Warn("record embedding failed, excluding record from upsert", "error", err)
			continue
		}
		vectors[i] = single[0]
	}
	return vectors
}

func (o *Orchestrator) fail(state *jobState, log *slog.Logger, err error) {
	state.mu.Lock()
	state.job.Status = StatusFailed
	state.job.Error = err.Error()
	now := time.Now().UTC()
	state.job.FinishedAt = &now
	snapshot := state.job
	state.mu.Unlock()

	log.Error("sync failed",
		"error", err,
		"processed", snapshot.RecordsProcessed,
		"failed", snapshot.RecordsFailed,
	)
}

func (o *Orchestrator) finish(state *jobState, log *slog.Logger, status string) {
	state.mu.Lock()
	state.job.Status = status
	now := time.Now().UTC()
	state.job.FinishedAt = &now
	snapshot := state.job
	state.mu.Unlock()

	log.Info("sync finished",
		"status", status,
		"processed", snapshot.RecordsProcessed,
		"failed", snapshot.RecordsFailed,
		"duration", now.Sub(snapshot.StartedAt),
	)
}
