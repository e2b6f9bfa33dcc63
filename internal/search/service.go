// Package search executes catalog queries: dense retrieval over the text
// vector space, optionally fused with a keyword signal under a tunable
// blend weight.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/bull/catalog-search/internal/catalog"
	"github.com/bull/catalog-search/internal/storage"
)

// ErrInvalidQuery marks caller errors: empty query, non-positive limit,
// or a blend weight outside [0,1]. Never retried.
var ErrInvalidQuery = errors.New("invalid query")

// overfetchFactor is the candidate over-fetch multiplier for hybrid
// queries, giving the re-ranker headroom beyond the requested limit.
const overfetchFactor = 3

// defaultAlpha is the blend weight used when hybrid is requested without
// an explicit alpha: equal vector and keyword contribution.
const defaultAlpha = 0.5

// QueryEmbedder embeds the search query text.
type QueryEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorQuerier runs filtered nearest-neighbor queries.
type VectorQuerier interface {
	Query(ctx context.Context, spec storage.QuerySpec) ([]storage.ScoredPoint, error)
}

// Params is one search request.
type Params struct {
	Query    string
	Limit    int
	Platform string
	Category string
	MinPrice *float64
	MaxPrice *float64

	// Hybrid enables keyword fusion. Alpha is the vector weight in [0,1];
	// nil with Hybrid set means an even 0.5 blend. Alpha is ignored when
	// Hybrid is false.
	Hybrid bool
	Alpha  *float64
}

// Hit is one ranked result. Score is always in [0,1].
type Hit struct {
	ID     string                `json:"id"`
	Score  float64               `json:"score"`
	Record catalog.ProductRecord `json:"product"`
}

// Service ranks catalog records for free-text queries.
type Service struct {
	embedder   QueryEmbedder
	index      VectorQuerier
	collection string
	logger     *slog.Logger
}

// NewService creates a search service over one collection.
func NewService(embedder QueryEmbedder, index VectorQuerier, collection string, logger *slog.Logger) *Service {
	if collection == "" {
		collection = storage.DefaultCollection
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		embedder:   embedder,
		index:      index,
		collection: collection,
		logger:     logger,
	}
}

// Search embeds the query, retrieves filtered candidates from the text
// space, and ranks them. With hybrid enabled the final score is
//
//	alpha*vectorScore + (1-alpha)*keywordScore
//
// over the same candidate set; candidates missing a signal contribute 0
// for that component rather than being dropped. Ties break by updatedAt
// descending.
func (s *Service) Search(ctx context.Context, p Params) ([]Hit, error) {
	if strings.TrimSpace(p.Query) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrInvalidQuery)
	}
	if p.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidQuery, p.Limit)
	}
	alpha := 1.0
	if p.Hybrid {
		alpha = defaultAlpha
		if p.Alpha != nil {
			alpha = *p.Alpha
		}
		if alpha < 0 || alpha > 1 {
			return nil, fmt.Errorf("%w: alpha must be in [0,1], got %v", ErrInvalidQuery, alpha)
		}
	}

	vectors, err := s.embedder.EmbedTexts(ctx, []string{p.Query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	fetchLimit := p.Limit
	if p.Hybrid {
		fetchLimit = p.Limit * overfetchFactor
	}
	candidates, err := s.index.Query(ctx, storage.QuerySpec{
		Collection: s.collection,
		Space:      storage.TextSpace,
		Vector:     vectors[0],
		Filter: storage.Filter{
			Platform: p.Platform,
			Category: p.Category,
			MinPrice: p.MinPrice,
			MaxPrice: p.MaxPrice,
		},
		Limit: fetchLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	terms := tokenize(p.Query)
	hits := make([]Hit, 0, len(candidates))
	for _, c := range candidates {
		score := normalizeCosine(c.Score)
		if p.Hybrid {
			score = alpha*score + (1-alpha)*keywordScore(terms, c.Record)
		}
		hits = append(hits, Hit{ID: c.ID, Score: score, Record: c.Record})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Record.UpdatedAt.After(hits[j].Record.UpdatedAt)
	})
	if len(hits) > p.Limit {
		hits = hits[:p.Limit]
	}

	s.logger.Debug("search executed",
		"query", p.Query, "hybrid", p.Hybrid, "alpha", alpha,
		"candidates", len(candidates), "returned", len(hits))
	return hits, nil
}

// normalizeCosine rescales a cosine similarity from [-1,1] to [0,1],
// clamping values the index may return marginally outside the range.
func normalizeCosine(score float32) float64 {
	normalized := (float64(score) + 1) / 2
	if normalized < 0 {
		return 0
	}
	if normalized > 1 {
		return 1
	}
	return normalized
}
