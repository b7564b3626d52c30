// Package keyword provides lexical (BM25) indexing and search over legal passages.
package keyword

import (
	"context"

	"github.com/hyperjump/nyaya/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// TitleBoost multiplies the score contribution from matches in the act name and section title.
	// Values > 1 make heading matches rank higher. Use 1.0 for no boost.
	TitleBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2). Default 1.
	Fuzziness int
}

// KeywordIndex defines keyword search operations. Passages are keyed by PassageKey.String().
type KeywordIndex interface {
	Index(ctx context.Context, p *models.Passage) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, key models.PassageKey) error
	Close() error
	// DocCount returns the total number of passages in the index.
	DocCount() (uint64, error)
}

// KeywordResult is a single keyword search hit with its raw BM25-derived score.
type KeywordResult struct {
	Key   models.PassageKey
	Score float64
}
