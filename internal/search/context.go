package search

import (
	"strings"

	"github.com/Aman-CERP/driverag/internal/chunk"
)

// segmentSeparator joins context segments. It costs no tokens under
// whitespace token counting.
const segmentSeparator = "\n\n"

// NearDuplicateThreshold is the token-set Jaccard similarity at or
// above which two chunks are considered the same content. Overlapping
// neighbors from the same document sit well below this; re-fetched or
// mirrored content sits above it.
const NearDuplicateThreshold = 0.90

// ContextBuilder assembles ranked results into a generation context
// that never exceeds the token budget.
type ContextBuilder struct {
	maxTokens int
}

func NewContextBuilder(maxTokens int) *ContextBuilder {
	return &ContextBuilder{maxTokens: maxTokens}
}

// Build walks results in rank order, adding each chunk that fits the
// remaining budget whole. Chunks that do not fit are skipped, not
// truncated; a later smaller chunk may still be admitted. Near
// duplicates of already-included chunks are skipped regardless of
// budget. If nothing fits at all, the top result is truncated to the
// budget and its citation flagged, so the context is never empty when
// there are results.
func (b *ContextBuilder) Build(results []*SearchResult) Context {
	if len(results) == 0 || b.maxTokens <= 0 {
		return Context{}
	}

	var segments []string
	var citations []Citation
	var included [][]string
	used := 0

	for _, r := range results {
		tokens := r.Chunk.TokenCount
		if tokens == 0 {
			tokens = chunk.CountTokens(r.Chunk.Text)
		}
		if tokens > b.maxTokens-used {
			continue
		}

		candidate := tokenSet(r.Chunk.Text)
		if isNearDuplicate(candidate, included) {
			continue
		}

		segments = append(segments, r.Chunk.Text)
		citations = append(citations, citation(r, false))
		included = append(included, candidate)
		used += tokens
	}

	if len(segments) == 0 {
		top := results[0]
		words := strings.Fields(top.Chunk.Text)
		if len(words) > b.maxTokens {
			words = words[:b.maxTokens]
		}
		text := strings.Join(words, " ")
		return Context{
			Text:       text,
			TokenCount: len(words),
			Citations:  []Citation{citation(top, true)},
		}
	}

	return Context{
		Text:       strings.Join(segments, segmentSeparator),
		TokenCount: used,
		Citations:  citations,
	}
}

func citation(r *SearchResult, truncated bool) Citation {
	return Citation{
		DocumentID:   r.Chunk.DocumentID,
		DocumentName: r.DocumentName,
		ChunkID:      r.Chunk.ID,
		Page:         r.Chunk.Page,
		Truncated:    truncated,
	}
}

func tokenSet(text string) []string {
	seen := make(map[string]struct{})
	var set []string
	for _, tok := range splitAlnum(text) {
		if _, dup := seen[tok]; !dup {
			seen[tok] = struct{}{}
			set = append(set, tok)
		}
	}
	return set
}

func isNearDuplicate(candidate []string, included [][]string) bool {
	for _, existing := range included {
		if jaccard(candidate, existing) >= NearDuplicateThreshold {
			return true
		}
	}
	return false
}

// jaccard computes intersection over union of two token sets.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}

	var intersection int
	for _, t := range b {
		if _, ok := setA[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 1
	}
	return float64(intersection) / float64(union)
}
