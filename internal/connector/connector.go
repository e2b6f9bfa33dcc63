// Package connector adapts external e-commerce platforms into a common
// batched-fetch contract consumed by the sync orchestrator.
package connector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bull/catalog-search/internal/catalog"
)

var (
	// ErrSourceUnavailable marks transient platform failures (network, 5xx).
	// The orchestrator retries these with backoff.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSourceRejected marks permanent platform failures (auth, validation).
	// The orchestrator fails the job immediately.
	ErrSourceRejected = errors.New("source rejected request")

	// ErrUnknownPlatform is returned by the registry for unregistered names.
	ErrUnknownPlatform = errors.New("unknown platform")
)

// Batch is one page of normalized records from a platform.
type Batch struct {
	Records    []catalog.ProductRecord
	NextCursor string // Opaque, platform-defined; feed back into the next fetch
	HasMore    bool
}

// Connector fetches normalized product records from one platform.
//
// FetchBatch must be a pure, retryable read: given the same cursor it returns
// the same records (or a superset). The index upsert is idempotent by point
// identity, so replays are harmless.
type Connector interface {
	// Platform returns the platform key, e.g. "fakestore".
	Platform() string

	// MaxBatchSize is the largest batch the platform can safely serve.
	MaxBatchSize() int

	// SupportsImages reports whether records carry resolvable image URLs.
	SupportsImages() bool

	// FetchBatch returns the page of records at cursor. An empty cursor
	// means start-of-source.
	FetchBatch(ctx context.Context, cursor string, batchSize int) (*Batch, error)

	// TestConnection verifies the platform is reachable with the
	// configured credentials.
	TestConnection(ctx context.Context) error
}

// Registry maps platform names to connector instances. Connectors are
// registered at process start; adding a platform never touches the
// orchestrator.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry creates an empty connector registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register adds a connector under its platform name, replacing any
// previous registration for that name.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.Platform()] = c
}

// Get returns the connector for a platform name.
func (r *Registry) Get(platform string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}
	return c, nil
}

// Platforms returns the registered platform names, sorted.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
