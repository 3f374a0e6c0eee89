// Package search provides hybrid retrieval over the indexed corpus,
// combining semantic similarity with keyword overlap, and assembles
// token-budgeted context for generation.
package search

import (
	"context"
	"time"

	"github.com/Aman-CERP/driverag/internal/chunk"
)

// SearchResult is a scored chunk returned by the engine.
type SearchResult struct {
	Chunk chunk.Chunk

	// Score is the combined relevance in [0,1]:
	// weight*Semantic + (1-weight)*Lexical.
	Score float64

	// Semantic is the normalized vector similarity in [0,1]. Zero for
	// candidates admitted by keyword recall only.
	Semantic float64

	// Lexical is the fraction of query tokens present in the chunk.
	Lexical float64

	// DocumentName is the source document's display name.
	DocumentName string

	// IndexedAt is when the source document was last indexed. The
	// reranker uses it as a recency signal.
	IndexedAt time.Time
}

// Options tunes a single search call. Zero values fall back to the
// engine's configured defaults.
type Options struct {
	TopK int

	// SemanticWeight overrides the engine default for this call. Nil
	// keeps the default; a set value must be in [0,1], where 0 ranks
	// by lexical overlap alone.
	SemanticWeight *float64

	// DocumentIDs restricts results to chunks from these documents.
	// Empty means no restriction.
	DocumentIDs []string
}

// Config holds the engine defaults.
type Config struct {
	TopK           int
	SemanticWeight float64
}

func DefaultConfig() Config {
	return Config{
		TopK:           5,
		SemanticWeight: 0.7,
	}
}

// Searcher is the query-side interface exposed to the CLI and the
// context builder.
type Searcher interface {
	Search(ctx context.Context, query string, opts Options) ([]*SearchResult, error)
}

// Citation names the source span backing a context segment.
type Citation struct {
	DocumentID   string
	DocumentName string
	ChunkID      string
	Page         int
	Truncated    bool // segment was cut to fit the token budget
}

// Context is the assembled, token-bounded input for generation.
type Context struct {
	Text       string
	TokenCount int
	Citations  []Citation
}
