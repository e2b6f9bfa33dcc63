package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMagentoFetchBatch(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		page := r.URL.Query().Get("searchCriteria[currentPage]")

		items := []map[string]any{}
		if page == "1" {
			items = append(items, map[string]any{
				"id": 10, "sku": "JKT-BLUE", "name": "Blue Jacket",
				"price": 40.0, "status": 1,
				"updated_at": "2024-05-01 12:30:00",
				"custom_attributes": []map[string]any{
					{"attribute_code": "description", "value": "Warm blue jacket"},
					{"attribute_code": "category", "value": "clothing"},
				},
				"media_gallery_entries": []map[string]any{{"file": "/b/l/blue.png"}},
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"items": items, "total_count": 3})
	}))
	defer server.Close()

	m := NewMagento(MagentoConfig{BaseURL: server.URL, AccessToken: "token-123", Timeout: time.Second})

	batch, err := m.FetchBatch(context.Background(), "", 1)
	require.NoError(t, err)
	assert.Equal(t, "Bearer token-123", gotAuth)
	require.Len(t, batch.Records, 1)
	assert.True(t, batch.HasMore)
	assert.Equal(t, "2", batch.NextCursor)

	rec := batch.Records[0]
	assert.Equal(t, "JKT-BLUE", rec.ExternalID, "SKU preferred over numeric id")
	assert.Equal(t, "magento", rec.Platform)
	assert.Equal(t, "Warm blue jacket", rec.Description)
	assert.Equal(t, "clothing", rec.Category)
	assert.Contains(t, rec.ImageURL, "/pub/media/catalog/product/b/l/blue.png")
	require.NotNil(t, rec.InStock)
	assert.True(t, *rec.InStock)
	assert.Equal(t, 2024, rec.UpdatedAt.Year())

	// Last page: empty items, no more
	last, err := m.FetchBatch(context.Background(), "4", 1)
	require.NoError(t, err)
	assert.Empty(t, last.Records)
	assert.False(t, last.HasMore)
}

func TestMagentoBadToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	m := NewMagento(MagentoConfig{BaseURL: server.URL, AccessToken: "bad", Timeout: time.Second})
	_, err := m.FetchBatch(context.Background(), "", 10)
	assert.ErrorIs(t, err, ErrSourceRejected)
}
