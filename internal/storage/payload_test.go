package storage

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/catalog-search/internal/catalog"
)

func TestBuildFilter(t *testing.T) {
	assert.Nil(t, buildFilter(Filter{}), "empty predicate maps to no filter")

	min := 10.0
	max := 30.0
	filter := buildFilter(Filter{
		Platform: "fakestore",
		Category: "clothing",
		MinPrice: &min,
		MaxPrice: &max,
	})
	require.NotNil(t, filter)
	assert.Len(t, filter.Must, 3, "platform match, category match, one price range")

	onlyMax := buildFilter(Filter{MaxPrice: &max})
	require.NotNil(t, onlyMax)
	require.Len(t, onlyMax.Must, 1)
	priceRange := onlyMax.Must[0].GetField().GetRange()
	require.NotNil(t, priceRange)
	assert.Nil(t, priceRange.Gte)
	require.NotNil(t, priceRange.Lte)
	assert.Equal(t, 30.0, *priceRange.Lte)
}

func TestRecordPayloadRoundTrip(t *testing.T) {
	rating := 4.5
	inStock := true
	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := catalog.ProductRecord{
		ExternalID:  "42",
		Platform:    "fakestore",
		Title:       "Blue Jacket",
		Description: "Warm blue jacket",
		Price:       40,
		Category:    "clothing",
		ImageURL:    "https://img.example.com/42.png",
		Rating:      &rating,
		InStock:     &inStock,
		UpdatedAt:   updated,
	}

	got := recordFromPayload(qdrant.NewValueMap(recordPayload(rec)))
	assert.Equal(t, rec.ExternalID, got.ExternalID)
	assert.Equal(t, rec.Platform, got.Platform)
	assert.Equal(t, rec.Title, got.Title)
	assert.Equal(t, rec.Description, got.Description)
	assert.Equal(t, rec.Price, got.Price)
	assert.Equal(t, rec.Category, got.Category)
	assert.Equal(t, rec.ImageURL, got.ImageURL)
	require.NotNil(t, got.Rating)
	assert.Equal(t, rating, *got.Rating)
	require.NotNil(t, got.InStock)
	assert.True(t, *got.InStock)
	assert.True(t, updated.Equal(got.UpdatedAt))
}

func TestRecordPayloadOptionalFieldsAbsent(t *testing.T) {
	rec := catalog.ProductRecord{ExternalID: "1", Platform: "odoo", Title: "Hat"}
	payload := recordPayload(rec)
	_, hasRating := payload["rating"]
	_, hasStock := payload["in_stock"]
	assert.False(t, hasRating, "nil rating must not be stored as 0")
	assert.False(t, hasStock, "nil stock must not be stored as false")

	got := recordFromPayload(qdrant.NewValueMap(payload))
	assert.Nil(t, got.Rating)
	assert.Nil(t, got.InStock)
}

func TestRecordPayloadTruncatesDescription(t *testing.T) {
	rec := catalog.ProductRecord{
		ExternalID:  "1",
		Platform:    "fakestore",
		Description: strings.Repeat("x", descriptionPayloadLimit+200),
	}
	payload := recordPayload(rec)
	assert.Len(t, payload["description"], descriptionPayloadLimit)
}

func TestRecordPayloadTruncationKeepsValidUTF8(t *testing.T) {
	// A multibyte rune straddling the byte limit must be dropped whole;
	// a split rune would make the payload string invalid UTF-8 and fail
	// the entire upsert at the wire.
	rec := catalog.ProductRecord{
		ExternalID:  "1",
		Platform:    "fakestore",
		Description: strings.Repeat("a", descriptionPayloadLimit-1) + strings.Repeat("é", 100),
	}
	payload := recordPayload(rec)

	description, ok := payload["description"].(string)
	require.True(t, ok)
	assert.True(t, utf8.ValidString(description))
	assert.LessOrEqual(t, len(description), descriptionPayloadLimit)
	assert.Equal(t, descriptionPayloadLimit-1, len(description),
		"the straddling rune is dropped, not split")
}
