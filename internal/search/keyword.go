package search

import (
	"strings"
	"unicode"

	"github.com/bull/catalog-search/internal/catalog"
)

// tokenize lowercases text and splits it into alphanumeric terms,
// deduplicated in input order.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			terms = append(terms, f)
		}
	}
	return terms
}

// keywordScore is the fraction of distinct query terms that occur in the
// record's title or description. Already in [0,1]; a record matching no
// term scores 0 but stays a candidate.
func keywordScore(queryTerms []string, rec catalog.ProductRecord) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	docTerms := make(map[string]bool)
	for _, t := range tokenize(rec.Title) {
		docTerms[t] = true
	}
	for _, t := range tokenize(rec.Description) {
		docTerms[t] = true
	}

	matched := 0
	for _, term := range queryTerms {
		if docTerms[term] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}
