package search

import (
	"context"
	"sort"
	"time"

	"github.com/Aman-CERP/driverag/internal/chunk"
)

// Reranker reorders the top-K results. It never adds, removes, or
// rescores entries; Score fields are left untouched so the combined
// ranking stays auditable.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []*SearchResult) []*SearchResult
}

// HeuristicReranker reorders by match density (query-token matches per
// chunk token) with a recency boost for recently indexed documents.
// Cheap enough to run on every query, unlike a cross-encoder.
type HeuristicReranker struct {
	now func() time.Time
}

var _ Reranker = (*HeuristicReranker)(nil)

const (
	recencyBoost  = 0.1
	recencyWindow = 7 * 24 * time.Hour
)

func NewHeuristicReranker() *HeuristicReranker {
	return &HeuristicReranker{now: time.Now}
}

func (r *HeuristicReranker) Rerank(ctx context.Context, query string, results []*SearchResult) []*SearchResult {
	if len(results) < 2 {
		return results
	}

	queryTokens := tokenizeQuery(query)
	keys := make(map[string]float64, len(results))
	for _, res := range results {
		keys[res.Chunk.ID] = r.orderKey(queryTokens, res)
	}

	reordered := make([]*SearchResult, len(results))
	copy(reordered, results)
	sort.SliceStable(reordered, func(i, j int) bool {
		return keys[reordered[i].Chunk.ID] > keys[reordered[j].Chunk.ID]
	})
	return reordered
}

func (r *HeuristicReranker) orderKey(queryTokens []string, res *SearchResult) float64 {
	key := matchDensity(queryTokens, res.Chunk)
	if age := r.now().Sub(res.IndexedAt); age >= 0 && age < recencyWindow {
		key += recencyBoost * (1 - age.Seconds()/recencyWindow.Seconds())
	}
	return key
}

// matchDensity counts query-token occurrences per chunk token, so a
// short chunk dense with the query's terms outranks a long chunk that
// mentions them once.
func matchDensity(queryTokens []string, c chunk.Chunk) float64 {
	if c.TokenCount == 0 {
		return 0
	}

	querySet := make(map[string]struct{}, len(queryTokens))
	for _, q := range queryTokens {
		querySet[q] = struct{}{}
	}

	var matches int
	for _, tok := range tokenizeText(c.Text) {
		if _, ok := querySet[tok]; ok {
			matches++
		}
	}
	return float64(matches) / float64(c.TokenCount)
}

// tokenizeText is tokenizeQuery without deduplication: every
// occurrence counts.
func tokenizeText(text string) []string {
	return splitAlnum(text)
}
