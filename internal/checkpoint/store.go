// Package checkpoint persists ingestion progress: per-(collection, platform)
// cursors, job leases, sync-job audit rows, and the embedding model pinned
// to each collection's schema.
//
// The store is the only cross-job coordination point. A cursor only
// advances after its batch is durably upserted, so a crash between upsert
// and checkpoint can at worst cause a harmless idempotent replay.
package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

var (
	// ErrLeaseHeld means another job holds the lease for this
	// (collection, platform) key. Surfaced to StartSync callers as
	// "sync already running" — never silently queued.
	ErrLeaseHeld = errors.New("sync lease already held")

	// ErrJobNotFound is returned when no sync job exists for an id.
	ErrJobNotFound = errors.New("sync job not found")
)

// SyncJob is the persisted snapshot of one ingestion run. Retained after
// completion for observability; it carries no authority over later runs
// beyond what the checkpoint cursor records.
type SyncJob struct {
	ID               string
	Collection       string
	Platform         string
	BatchSize        int
	Status           string
	RecordsProcessed int
	RecordsFailed    int
	StartedAt        time.Time
	FinishedAt       *time.Time
	Error            string
}

// Store is a SQLite-backed checkpoint store.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	collection TEXT NOT NULL,
	platform   TEXT NOT NULL,
	cursor     TEXT NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (collection, platform)
);

CREATE TABLE IF NOT EXISTS leases (
	collection  TEXT NOT NULL,
	platform    TEXT NOT NULL,
	job_id      TEXT NOT NULL,
	acquired_at DATETIME NOT NULL,
	PRIMARY KEY (collection, platform)
);

CREATE TABLE IF NOT EXISTS sync_jobs (
	job_id            TEXT PRIMARY KEY,
	collection        TEXT NOT NULL,
	platform          TEXT NOT NULL,
	batch_size        INTEGER NOT NULL,
	status            TEXT NOT NULL,
	records_processed INTEGER NOT NULL DEFAULT 0,
	records_failed    INTEGER NOT NULL DEFAULT 0,
	started_at        DATETIME NOT NULL,
	finished_at       DATETIME,
	error             TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS collection_models (
	collection TEXT PRIMARY KEY,
	model      TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// NewStore opens (or creates) the checkpoint database at dataDir. If
// dataDir is empty it defaults to ./data.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		dataDir = "data"
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "checkpoints.db")

	// WAL mode for concurrent readers, busy timeout so parallel jobs
	// for different platforms don't trip over short write locks.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Cursor returns the stored cursor for a (collection, platform) key, or
// the empty string when no checkpoint exists (start-of-source).
func (s *Store) Cursor(ctx context.Context, collection, platform string) (string, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor FROM checkpoints WHERE collection = ? AND platform = ?`,
		collection, platform).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading checkpoint: %w", err)
	}
	return cursor, nil
}

// SetCursor durably advances the cursor for a (collection, platform) key.
func (s *Store) SetCursor(ctx context.Context, collection, platform, cursor string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (collection, platform, cursor, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, platform)
		DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at`,
		collection, platform, cursor, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("advancing checkpoint: %w", err)
	}
	return nil
}

// AcquireLease takes the job lease for a (collection, platform) key.
// Returns ErrLeaseHeld when any job already holds it. The primary key
// makes the insert the atomic test-and-set.
func (s *Store) AcquireLease(ctx context.Context, collection, platform, jobID string) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO leases (collection, platform, job_id, acquired_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, platform) DO NOTHING`,
		collection, platform, jobID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("acquiring lease: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("acquiring lease: %w", err)
	}
	if inserted == 0 {
		return fmt.Errorf("%w: %s/%s", ErrLeaseHeld, collection, platform)
	}
	return nil
}

// ReleaseLease drops the lease if jobID still holds it. Releasing a lease
// held by another job is a no-op, not an error.
func (s *Store) ReleaseLease(ctx context.Context, collection, platform, jobID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM leases WHERE collection = ? AND platform = ? AND job_id = ?`,
		collection, platform, jobID)
	if err != nil {
		return fmt.Errorf("releasing lease: %w", err)
	}
	return nil
}

// SaveJob upserts a sync job snapshot.
func (s *Store) SaveJob(ctx context.Context, job SyncJob) error {
	var finishedAt any
	if job.FinishedAt != nil {
		finishedAt = job.FinishedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_jobs
			(job_id, collection, platform, batch_size, status,
			 records_processed, records_failed, started_at, finished_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO UPDATE SET
			status = excluded.status,
			records_processed = excluded.records_processed,
			records_failed = excluded.records_failed,
			finished_at = excluded.finished_at,
			error = excluded.error`,
		job.ID, job.Collection, job.Platform, job.BatchSize, job.Status,
		job.RecordsProcessed, job.RecordsFailed, job.StartedAt.UTC(), finishedAt, job.Error)
	if err != nil {
		return fmt.Errorf("saving job %s: %w", job.ID, err)
	}
	return nil
}

// Job returns the persisted snapshot for a job id.
func (s *Store) Job(ctx context.Context, jobID string) (SyncJob, error) {
	var job SyncJob
	var finishedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT job_id, collection, platform, batch_size, status,
		       records_processed, records_failed, started_at, finished_at, error
		FROM sync_jobs WHERE job_id = ?`, jobID).Scan(
		&job.ID, &job.Collection, &job.Platform, &job.BatchSize, &job.Status,
		&job.RecordsProcessed, &job.RecordsFailed, &job.StartedAt, &finishedAt, &job.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return SyncJob{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return SyncJob{}, fmt.Errorf("reading job %s: %w", jobID, err)
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	return job, nil
}

// CollectionModel returns the embedding model pinned to a collection, or
// the empty string when the collection has never been indexed.
func (s *Store) CollectionModel(ctx context.Context, collection string) (string, error) {
	var model string
	err := s.db.QueryRowContext(ctx,
		`SELECT model FROM collection_models WHERE collection = ?`, collection).Scan(&model)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading collection model: %w", err)
	}
	return model, nil
}

// SetCollectionModel pins the embedding model for a collection.
func (s *Store) SetCollectionModel(ctx context.Context, collection, model string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collection_models (collection, model, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (collection)
		DO UPDATE SET model = excluded.model, updated_at = excluded.updated_at`,
		collection, model, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("pinning collection model: %w", err)
	}
	return nil
}

// ClearCollection removes checkpoints and the model pin for a collection.
// Used when a collection is recreated.
func (s *Store) ClearCollection(ctx context.Context, collection string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("clearing checkpoints: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM collection_models WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("clearing collection model: %w", err)
	}
	return nil
}
