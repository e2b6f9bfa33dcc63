package storage

import "github.com/bull/catalog-search/internal/catalog"

// Named vector spaces in the products collection. Text is always present;
// image only when the source had a resolvable image URL.
const (
	TextSpace  = "text"
	ImageSpace = "image"
)

// DefaultCollection is the products collection name.
const DefaultCollection = "products"

// descriptionPayloadLimit caps the description stored in point payloads.
// The full text still gets embedded; the payload copy exists for display
// and keyword scoring.
const descriptionPayloadLimit = 500

// VectorSpace declares one named dense space. Distance is always cosine.
type VectorSpace struct {
	Name      string
	Dimension uint64
}

// IndexedPoint is the unit stored in the vector index: a stable identifier
// derived from (platform, externalId), one or more named vectors, and the
// product record as payload.
type IndexedPoint struct {
	ID      string
	Vectors map[string][]float32
	Record  catalog.ProductRecord
}

// Filter is the structured predicate the search service translates
// user-facing parameters into.
type Filter struct {
	Platform string
	Category string
	MinPrice *float64
	MaxPrice *float64
}

// QuerySpec describes one nearest-neighbor query.
type QuerySpec struct {
	Collection string
	Space      string
	Vector     []float32
	Filter     Filter
	Limit      int
}

// ScoredPoint is one query result: raw similarity score plus payload.
type ScoredPoint struct {
	ID     string
	Score  float32
	Record catalog.ProductRecord
}
