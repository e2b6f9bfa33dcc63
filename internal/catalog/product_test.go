package catalog

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointIDDeterministic(t *testing.T) {
	a := PointID("fakestore", "42")
	b := PointID("fakestore", "42")
	assert.Equal(t, a, b, "same key must always derive the same point ID")

	c := PointID("magento", "42")
	assert.NotEqual(t, a, c, "different platforms must not collide")

	d := PointID("fakestore", "43")
	assert.NotEqual(t, a, d, "different external IDs must not collide")
}

func TestPointIDIsUUID(t *testing.T) {
	id := PointID("odoo", "product-7")
	require.Len(t, id, 36)
	assert.Equal(t, 4, strings.Count(id, "-"))
}

func TestPointIDUsesOwnNamespace(t *testing.T) {
	// IDs must not collide with anything derived from the RFC 4122
	// well-known namespaces for the same name.
	name := []byte("fakestore/42")
	id := PointID("fakestore", "42")
	for _, ns := range []uuid.UUID{uuid.NameSpaceDNS, uuid.NameSpaceURL, uuid.NameSpaceOID, uuid.NameSpaceX500} {
		assert.NotEqual(t, uuid.NewSHA1(ns, name).String(), id)
	}
}

func TestEmbeddingText(t *testing.T) {
	rec := &ProductRecord{
		Title:       "Blue Jacket",
		Description: "Warm winter jacket",
		Category:    "clothing",
	}
	text := rec.EmbeddingText()
	assert.Contains(t, text, "Blue Jacket")
	assert.Contains(t, text, "Warm winter jacket")
	assert.Contains(t, text, "Category: clothing")

	// No trailing category marker when category is absent
	rec.Category = ""
	assert.NotContains(t, rec.EmbeddingText(), "Category:")
}

func TestValidate(t *testing.T) {
	rating := 4.5
	valid := &ProductRecord{ExternalID: "1", Platform: "fakestore", Price: 40, Rating: &rating}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name string
		rec  ProductRecord
	}{
		{"missing external id", ProductRecord{Platform: "fakestore"}},
		{"missing platform", ProductRecord{ExternalID: "1"}},
		{"negative price", ProductRecord{ExternalID: "1", Platform: "fakestore", Price: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.rec.Validate())
		})
	}

	bad := 5.5
	outOfRange := &ProductRecord{ExternalID: "1", Platform: "fakestore", Rating: &bad}
	assert.Error(t, outOfRange.Validate())
}
