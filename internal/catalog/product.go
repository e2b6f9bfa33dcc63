// Package catalog defines the normalized product record shared by the
// ingestion pipeline and the search service.
package catalog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// pointNamespace is this project's own UUID namespace for deriving point
// identifiers. Must never change: point identity is what makes
// re-ingestion idempotent.
var pointNamespace = uuid.MustParse("9a3e52a4-1c6b-4f0d-8e2a-74d5b1c9e830")

// ProductRecord is one catalog item as seen by the pipeline, normalized
// from whatever shape the source platform returns.
type ProductRecord struct {
	ExternalID  string    // Unique within a platform
	Platform    string    // "fakestore", "magento", "odoo"
	Title       string
	Description string
	Price       float64
	Category    string
	ImageURL    string
	Rating      *float64  // 0-5, nil if the platform has no ratings
	InStock     *bool     // nil if the platform has no stock info
	UpdatedAt   time.Time
}

// PointID derives the stable vector-index point identifier for a record.
// The same (platform, externalId) pair always maps to the same UUID, so
// replaying a batch overwrites points in place instead of duplicating them.
func PointID(platform, externalID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(platform+"/"+externalID)).String()
}

// EmbeddingText composes the text that gets embedded for a record.
// Title and description carry most of the signal; category is appended
// so that category terms participate in semantic matching.
func (r *ProductRecord) EmbeddingText() string {
	text := fmt.Sprintf("%s. %s", r.Title, r.Description)
	if r.Category != "" {
		text += " Category: " + r.Category
	}
	return text
}

// Validate checks the invariants a record must satisfy before indexing.
func (r *ProductRecord) Validate() error {
	if r.ExternalID == "" {
		return fmt.Errorf("product record missing external id")
	}
	if r.Platform == "" {
		return fmt.Errorf("product record %s missing platform", r.ExternalID)
	}
	if r.Price < 0 {
		return fmt.Errorf("product record %s/%s has negative price %f", r.Platform, r.ExternalID, r.Price)
	}
	if r.Rating != nil && (*r.Rating < 0 || *r.Rating > 5) {
		return fmt.Errorf("product record %s/%s has rating %f outside 0-5", r.Platform, r.ExternalID, *r.Rating)
	}
	return nil
}
