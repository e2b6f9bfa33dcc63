package storage

import (
	"time"
	"unicode/utf8"

	"github.com/qdrant/go-client/qdrant"

	"github.com/bull/catalog-search/internal/catalog"
)

// buildFilter translates the structured predicate into Qdrant conditions.
// Empty fields contribute nothing; an entirely empty filter is nil.
func buildFilter(f Filter) *qdrant.Filter {
	var must []*qdrant.Condition

	if f.Platform != "" {
		must = append(must, qdrant.NewMatch("platform", f.Platform))
	}
	if f.Category != "" {
		must = append(must, qdrant.NewMatch("category", f.Category))
	}
	if f.MinPrice != nil || f.MaxPrice != nil {
		priceRange := &qdrant.Range{}
		if f.MinPrice != nil {
			priceRange.Gte = f.MinPrice
		}
		if f.MaxPrice != nil {
			priceRange.Lte = f.MaxPrice
		}
		must = append(must, qdrant.NewRange("price", priceRange))
	}

	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// recordPayload maps a product record onto the point payload. Description
// is truncated for storage; the full text was already embedded.
func recordPayload(rec catalog.ProductRecord) map[string]any {
	description := truncateUTF8(rec.Description, descriptionPayloadLimit)

	payload := map[string]any{
		"external_id": rec.ExternalID,
		"platform":    rec.Platform,
		"title":       rec.Title,
		"description": description,
		"price":       rec.Price,
		"category":    rec.Category,
		"image_url":   rec.ImageURL,
		"updated_at":  rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if rec.Rating != nil {
		payload["rating"] = *rec.Rating
	}
	if rec.InStock != nil {
		payload["in_stock"] = *rec.InStock
	}
	return payload
}

// truncateUTF8 cuts s to at most limit bytes without splitting a rune.
// gRPC rejects invalid UTF-8 in string fields, and a byte-level cut through
// a multibyte character would poison the whole batch upsert.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// recordFromPayload rebuilds a product record from a point payload.
func recordFromPayload(payload map[string]*qdrant.Value) catalog.ProductRecord {
	rec := catalog.ProductRecord{
		ExternalID:  payload["external_id"].GetStringValue(),
		Platform:    payload["platform"].GetStringValue(),
		Title:       payload["title"].GetStringValue(),
		Description: payload["description"].GetStringValue(),
		Price:       payload["price"].GetDoubleValue(),
		Category:    payload["category"].GetStringValue(),
		ImageURL:    payload["image_url"].GetStringValue(),
	}

	if raw, ok := payload["updated_at"]; ok {
		if parsed, err := time.Parse(time.RFC3339, raw.GetStringValue()); err == nil {
			rec.UpdatedAt = parsed
		}
	}
	if raw, ok := payload["rating"]; ok {
		rating := raw.GetDoubleValue()
		rec.Rating = &rating
	}
	if raw, ok := payload["in_stock"]; ok {
		inStock := raw.GetBoolValue()
		rec.InStock = &inStock
	}
	return rec
}
