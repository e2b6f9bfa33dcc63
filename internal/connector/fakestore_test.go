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

var fakeStoreFixture = []map[string]any{
	{
		"id": 1, "title": "Blue Jacket", "price": 40.0,
		"description": "Warm blue jacket", "category": "clothing",
		"image":  "https://img.example.com/1.png",
		"rating": map[string]any{"rate": 4.5, "count": 120},
	},
	{
		"id": 2, "title": "Red Jacket", "price": 80.0,
		"description": "Bright red jacket", "category": "clothing",
		"image":  "https://img.example.com/2.png",
		"rating": map[string]any{"rate": 3.9, "count": 15},
	},
	{
		"id": 3, "title": "Blue Shirt", "price": 20.0,
		"description": "Casual blue shirt", "category": "clothing",
		"image":  "https://img.example.com/3.png",
		"rating": map[string]any{"rate": 4.1, "count": 60},
	},
}

func newFakeStoreServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(fakeStoreFixture)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFakeStoreFetchBatch(t *testing.T) {
	server := newFakeStoreServer(t)
	fs := NewFakeStore(server.URL, time.Second)

	batch, err := fs.FetchBatch(context.Background(), "", 2)
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)
	assert.True(t, batch.HasMore)
	assert.Equal(t, "2", batch.NextCursor)

	rec := batch.Records[0]
	assert.Equal(t, "1", rec.ExternalID)
	assert.Equal(t, "fakestore", rec.Platform)
	assert.Equal(t, "Blue Jacket", rec.Title)
	assert.Equal(t, 40.0, rec.Price)
	assert.Equal(t, "clothing", rec.Category)
	require.NotNil(t, rec.Rating)
	assert.Equal(t, 4.5, *rec.Rating)
	require.NotNil(t, rec.InStock)
	assert.True(t, *rec.InStock)
	assert.False(t, rec.UpdatedAt.IsZero())
}

func TestFakeStoreCursorResume(t *testing.T) {
	server := newFakeStoreServer(t)
	fs := NewFakeStore(server.URL, time.Second)
	ctx := context.Background()

	first, err := fs.FetchBatch(ctx, "", 2)
	require.NoError(t, err)

	second, err := fs.FetchBatch(ctx, first.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, second.Records, 1)
	assert.Equal(t, "3", second.Records[0].ExternalID)
	assert.False(t, second.HasMore)

	// Replaying the same cursor yields the same records
	replay, err := fs.FetchBatch(ctx, first.NextCursor, 2)
	require.NoError(t, err)
	assert.Equal(t, second.Records[0].ExternalID, replay.Records[0].ExternalID)
}

func TestFakeStoreCursorPastEnd(t *testing.T) {
	server := newFakeStoreServer(t)
	fs := NewFakeStore(server.URL, time.Second)

	batch, err := fs.FetchBatch(context.Background(), "99", 2)
	require.NoError(t, err)
	assert.Empty(t, batch.Records)
	assert.False(t, batch.HasMore)
}

func TestFakeStoreMalformedCursor(t *testing.T) {
	server := newFakeStoreServer(t)
	fs := NewFakeStore(server.URL, time.Second)

	_, err := fs.FetchBatch(context.Background(), "not-a-number", 2)
	assert.ErrorIs(t, err, ErrSourceRejected)
}

func TestFakeStoreErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"server error is transient", http.StatusInternalServerError, ErrSourceUnavailable},
		{"rate limit is transient", http.StatusTooManyRequests, ErrSourceUnavailable},
		{"unauthorized is permanent", http.StatusUnauthorized, ErrSourceRejected},
		{"bad request is permanent", http.StatusBadRequest, ErrSourceRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			fs := NewFakeStore(server.URL, time.Second)
			_, err := fs.FetchBatch(context.Background(), "", 10)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	fs := NewFakeStore("http://localhost:1", time.Second)
	reg.Register(fs)

	got, err := reg.Get("fakestore")
	require.NoError(t, err)
	assert.Equal(t, fs, got)

	_, err = reg.Get("shopify")
	assert.ErrorIs(t, err, ErrUnknownPlatform)

	reg.Register(NewMagento(MagentoConfig{BaseURL: "http://localhost:1"}))
	assert.Equal(t, []string{"fakestore", "magento"}, reg.Platforms())
}
