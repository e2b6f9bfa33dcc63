package connector

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bull/catalog-search/internal/catalog"
)

// DefaultFakeStoreURL is the public Fake Store API endpoint.
const DefaultFakeStoreURL = "https://fakestoreapi.com"

const fakeStoreMaxBatch = 100

// FakeStore fetches products from the Fake Store API (fakestoreapi.com).
// The API has no pagination, so the connector fetches the full product list
// on every call and slices it by an integer offset cursor. That keeps
// FetchBatch a pure function of the cursor, which is what makes it
// restartable.
type FakeStore struct {
	src *httpSource
}

// NewFakeStore creates a Fake Store connector. An empty baseURL selects the
// public API.
func NewFakeStore(baseURL string, timeout time.Duration) *FakeStore {
	if baseURL == "" {
		baseURL = DefaultFakeStoreURL
	}
	return &FakeStore{src: newHTTPSource(baseURL, timeout, 5)}
}

func (f *FakeStore) Platform() string     { return "fakestore" }
func (f *FakeStore) MaxBatchSize() int    { return fakeStoreMaxBatch }
func (f *FakeStore) SupportsImages() bool { return true }

// fakeStoreProduct mirrors the Fake Store API response shape.
type fakeStoreProduct struct {
	ID          int     `json:"id"`
	Title       string  `json:"title"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Image       string  `json:"image"`
	Rating      struct {
		Rate  float64 `json:"rate"`
		Count int     `json:"count"`
	} `json:"rating"`
}

// TestConnection checks the API answers a minimal product request.
func (f *FakeStore) TestConnection(ctx context.Context) error {
	var probe []fakeStoreProduct
	return f.src.getJSON(ctx, "/products?limit=1", nil, &probe)
}

// FetchBatch returns the slice of products at the offset encoded in cursor.
func (f *FakeStore) FetchBatch(ctx context.Context, cursor string, batchSize int) (*Batch, error) {
	offset, err := parseOffsetCursor(cursor)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 || batchSize > fakeStoreMaxBatch {
		batchSize = fakeStoreMaxBatch
	}

	var products []fakeStoreProduct
	if err := f.src.getJSON(ctx, "/products", nil, &products); err != nil {
		return nil, err
	}

	if offset >= len(products) {
		return &Batch{NextCursor: cursor, HasMore: false}, nil
	}

	end := offset + batchSize
	if end > len(products) {
		end = len(products)
	}

	records := make([]catalog.ProductRecord, 0, end-offset)
	now := time.Now().UTC()
	for _, p := range products[offset:end] {
		records = append(records, f.parseProduct(p, now))
	}

	return &Batch{
		Records:    records,
		NextCursor: strconv.Itoa(end),
		HasMore:    end < len(products),
	}, nil
}

func (f *FakeStore) parseProduct(p fakeStoreProduct, fetchedAt time.Time) catalog.ProductRecord {
	rec := catalog.ProductRecord{
		ExternalID:  strconv.Itoa(p.ID),
		Platform:    f.Platform(),
		Title:       p.Title,
		Description: p.Description,
		Price:       p.Price,
		Category:    p.Category,
		ImageURL:    p.Image,
		UpdatedAt:   fetchedAt,
	}
	if p.Rating.Count > 0 {
		rating := p.Rating.Rate
		rec.Rating = &rating
	}
	// Fake Store has no stock data; everything it lists is purchasable.
	inStock := true
	rec.InStock = &inStock
	return rec
}

func parseOffsetCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(cursor)
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("%w: malformed cursor %q", ErrSourceRejected, cursor)
	}
	return offset, nil
}

var _ Connector = (*FakeStore)(nil)
