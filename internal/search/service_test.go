package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/catalog-search/internal/catalog"
	"github.com/bull/catalog-search/internal/storage"
)

type fakeQueryEmbedder struct{}

func (fakeQueryEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{1, 0, 0}
	}
	return vectors, nil
}

// fakeQuerier returns scripted candidates, applying the MaxPrice filter so
// filtered-search tests behave like the real index.
type fakeQuerier struct {
	candidates []storage.ScoredPoint
	lastSpec   storage.QuerySpec
}

func (f *fakeQuerier) Query(ctx context.Context, spec storage.QuerySpec) ([]storage.ScoredPoint, error) {
	f.lastSpec = spec
	var out []storage.ScoredPoint
	for _, c := range f.candidates {
		if spec.Filter.MaxPrice != nil && c.Record.Price > *spec.Filter.MaxPrice {
			continue
		}
		out = append(out, c)
		if len(out) == spec.Limit {
			break
		}
	}
	return out, nil
}

func candidate(id, title string, price float64, cosine float32, updated time.Time) storage.ScoredPoint {
	return storage.ScoredPoint{
		ID:    catalog.PointID("fakestore", id),
		Score: cosine,
		Record: catalog.ProductRecord{
			ExternalID: id,
			Platform:   "fakestore",
			Title:      title,
			Price:      price,
			UpdatedAt:  updated,
		},
	}
}

// jacketIndex is the canonical three-record catalog: semantic scores favor
// jackets, keyword overlap favors "blue".
func jacketIndex() *fakeQuerier {
	now := time.Now().UTC()
	return &fakeQuerier{candidates: []storage.ScoredPoint{
		candidate("1", "blue jacket", 40, 0.95, now),
		candidate("2", "red jacket", 80, 0.80, now),
		candidate("3", "blue shirt", 20, 0.60, now),
	}}
}

func newTestService(q *fakeQuerier) *Service {
	return NewService(fakeQueryEmbedder{}, q, "products", nil)
}

func floatPtr(v float64) *float64 { return &v }

func TestSearchValidation(t *testing.T) {
	svc := newTestService(jacketIndex())
	ctx := context.Background()

	_, err := svc.Search(ctx, Params{Query: "", Limit: 5})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = svc.Search(ctx, Params{Query: "   ", Limit: 5})
	assert.ErrorIs(t, err, ErrInvalidQuery, "whitespace-only query is empty")

	_, err = svc.Search(ctx, Params{Query: "jacket", Limit: 0})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = svc.Search(ctx, Params{Query: "jacket", Limit: -1})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = svc.Search(ctx, Params{Query: "jacket", Limit: 5, Hybrid: true, Alpha: floatPtr(1.5)})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestVectorOnlySearch(t *testing.T) {
	q := jacketIndex()
	svc := newTestService(q)

	hits, err := svc.Search(context.Background(), Params{Query: "warm jacket", Limit: 2})
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "1", hits[0].Record.ExternalID)
	assert.Equal(t, "2", hits[1].Record.ExternalID)
	assert.InDelta(t, 0.975, hits[0].Score, 1e-6, "cosine 0.95 rescaled to [0,1]")
	assert.Equal(t, 2, q.lastSpec.Limit, "no over-fetch without hybrid re-ranking")
	assert.Equal(t, storage.TextSpace, q.lastSpec.Space)

	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Score, 0.0)
		assert.LessOrEqual(t, h.Score, 1.0)
	}
}

func TestHybridOverfetchesCandidates(t *testing.T) {
	q := jacketIndex()
	svc := newTestService(q)

	_, err := svc.Search(context.Background(), Params{Query: "jacket", Limit: 2, Hybrid: true})
	require.NoError(t, err)
	assert.Equal(t, 6, q.lastSpec.Limit)
}

func TestHybridFusionScores(t *testing.T) {
	svc := newTestService(jacketIndex())

	hits, err := svc.Search(context.Background(), Params{
		Query: "blue jacket", Limit: 3, Hybrid: true, Alpha: floatPtr(0.6),
	})
	require.NoError(t, err)
	require.Len(t, hits, 3)

	// id 1: 0.6*0.975 + 0.4*1.0 = 0.985 — both signals agree, ranked first.
	assert.Equal(t, "1", hits[0].Record.ExternalID)
	assert.InDelta(t, 0.985, hits[0].Score, 1e-6)

	// id 2: 0.6*0.90 + 0.4*0.5 = 0.74; id 3: 0.6*0.80 + 0.4*0.5 = 0.68.
	assert.Equal(t, "2", hits[1].Record.ExternalID)
	assert.InDelta(t, 0.74, hits[1].Score, 1e-6)
	assert.Equal(t, "3", hits[2].Record.ExternalID)
	assert.InDelta(t, 0.68, hits[2].Score, 1e-6)
}

func TestHybridDefaultAlphaIsEvenBlend(t *testing.T) {
	svc := newTestService(jacketIndex())

	hits, err := svc.Search(context.Background(), Params{Query: "blue jacket", Limit: 1, Hybrid: true})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	// 0.5*0.975 + 0.5*1.0
	assert.InDelta(t, 0.9875, hits[0].Score, 1e-6)
}

func TestFusionBoundaries(t *testing.T) {
	svc := newTestService(jacketIndex())
	ctx := context.Background()

	// alpha=1 ranks identically to vector-only search.
	vectorOnly, err := svc.Search(ctx, Params{Query: "blue jacket", Limit: 3})
	require.NoError(t, err)
	alphaOne, err := svc.Search(ctx, Params{Query: "blue jacket", Limit: 3, Hybrid: true, Alpha: floatPtr(1)})
	require.NoError(t, err)
	require.Len(t, alphaOne, len(vectorOnly))
	for i := range vectorOnly {
		assert.Equal(t, vectorOnly[i].ID, alphaOne[i].ID)
		assert.InDelta(t, vectorOnly[i].Score, alphaOne[i].Score, 1e-6)
	}

	// alpha=0 is pure keyword ranking: "red jacket" has the weakest overlap
	// with "blue shirt" even though its vector score beats id 3's.
	alphaZero, err := svc.Search(ctx, Params{Query: "blue shirt", Limit: 3, Hybrid: true, Alpha: floatPtr(0)})
	require.NoError(t, err)
	require.Len(t, alphaZero, 3)
	assert.Equal(t, "3", alphaZero[0].Record.ExternalID)
	assert.Equal(t, "2", alphaZero[2].Record.ExternalID)
	assert.Equal(t, 0.0, alphaZero[2].Score)
}

func TestSearchWithPriceFilter(t *testing.T) {
	svc := newTestService(jacketIndex())

	hits, err := svc.Search(context.Background(), Params{
		Query: "blue jacket", Limit: 10, MaxPrice: floatPtr(30),
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "3", hits[0].Record.ExternalID)
}

func TestFilterPassthrough(t *testing.T) {
	q := jacketIndex()
	svc := newTestService(q)

	min := 10.0
	_, err := svc.Search(context.Background(), Params{
		Query: "jacket", Limit: 5,
		Platform: "magento", Category: "clothing", MinPrice: &min,
	})
	require.NoError(t, err)
	assert.Equal(t, "magento", q.lastSpec.Filter.Platform)
	assert.Equal(t, "clothing", q.lastSpec.Filter.Category)
	require.NotNil(t, q.lastSpec.Filter.MinPrice)
	assert.Equal(t, 10.0, *q.lastSpec.Filter.MinPrice)
}

func TestTieBreakByUpdatedAt(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	q := &fakeQuerier{candidates: []storage.ScoredPoint{
		candidate("old", "wool hat", 10, 0.9, older),
		candidate("new", "wool hat", 10, 0.9, newer),
	}}
	svc := newTestService(q)

	hits, err := svc.Search(context.Background(), Params{Query: "felt cap", Limit: 2})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "new", hits[0].Record.ExternalID, "equal scores rank most recently synced first")
}

func TestKeywordScore(t *testing.T) {
	rec := catalog.ProductRecord{
		Title:       "Blue Jacket",
		Description: "A warm, waterproof winter jacket.",
	}

	assert.Equal(t, 1.0, keywordScore(tokenize("blue jacket"), rec))
	assert.Equal(t, 0.5, keywordScore(tokenize("blue shirt"), rec))
	assert.Equal(t, 0.0, keywordScore(tokenize("running shoes"), rec))
	assert.Equal(t, 1.0, keywordScore(tokenize("WATERPROOF!"), rec), "matching is case and punctuation insensitive")
	assert.Equal(t, 0.0, keywordScore(nil, rec))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"blue", "jacket"}, tokenize("Blue  JACKET!"))
	assert.Equal(t, []string{"size", "42"}, tokenize("size-42, size 42"))
	assert.Empty(t, tokenize("  ...  "))
}
