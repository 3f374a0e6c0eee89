package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/driverag/internal/chunk"
	"github.com/Aman-CERP/driverag/internal/embed"
	pipeerrors "github.com/Aman-CERP/driverag/internal/errors"
	"github.com/Aman-CERP/driverag/internal/store"
)

// testCorpus wires an in-memory index stack around the static embedder.
type testCorpus struct {
	vector   *store.HNSWStore
	keyword  *store.BleveKeywordIndex
	metadata *store.SQLiteMetadataStore
	embedder embed.Embedder
	engine   *Engine
}

func newTestCorpus(t *testing.T, cfg Config) *testCorpus {
	t.Helper()

	embedder := embed.NewStaticEmbedder()
	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	require.NoError(t, err)
	keyword, err := store.NewBleveKeywordIndex("")
	require.NoError(t, err)
	metadata, err := store.NewSQLiteMetadataStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)

	engine, err := NewEngine(vector, keyword, metadata, embedder, cfg, nil)
	require.NoError(t, err)

	tc := &testCorpus{vector: vector, keyword: keyword, metadata: metadata, embedder: embedder, engine: engine}
	t.Cleanup(func() {
		_ = vector.Close()
		_ = keyword.Close()
		_ = metadata.Close()
	})
	return tc
}

func (tc *testCorpus) index(t *testing.T, docID, docName string, chunks ...chunk.Chunk) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, tc.metadata.SaveDocument(ctx, &store.DocumentRecord{
		ID:         docID,
		Name:       docName,
		Checksum:   "sum-" + docID,
		ChunkCount: len(chunks),
		IndexedAt:  time.Now().UTC(),
	}))
	require.NoError(t, tc.metadata.SaveChunks(ctx, chunks))
	require.NoError(t, tc.keyword.Index(ctx, chunks))

	ids := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		texts[i] = c.Text
	}
	vecs, err := tc.embedder.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.NoError(t, tc.vector.Add(ctx, ids, vecs))
}

func mkChunk(id, docID string, seq int, text string) chunk.Chunk {
	return chunk.Chunk{
		ID:         id,
		DocumentID: docID,
		Seq:        seq,
		Text:       text,
		TokenCount: chunk.CountTokens(text),
		Page:       1,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestSearch_EmptyCorpusReturnsNoResults(t *testing.T) {
	tc := newTestCorpus(t, DefaultConfig())

	results, err := tc.engine.Search(context.Background(), "anything at all", Options{})

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_EmptyQueryIsRejected(t *testing.T) {
	tc := newTestCorpus(t, DefaultConfig())

	_, err := tc.engine.Search(context.Background(), "   ", Options{})

	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeQueryEmpty, pipeerrors.GetCode(err))
}

func TestSearch_FindsRelevantChunk(t *testing.T) {
	tc := newTestCorpus(t, DefaultConfig())
	tc.index(t, "d1", "handbook.txt",
		mkChunk("c1", "d1", 0, "vacation policy allows twenty days of paid leave per year"),
		mkChunk("c2", "d1", 1, "the kitchen is cleaned every friday by the office service"),
		mkChunk("c3", "d1", 2, "expense reports are due by the fifth of each month"),
	)

	results, err := tc.engine.Search(context.Background(), "vacation paid leave policy", Options{TopK: 2})

	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "c1", results[0].Chunk.ID)
	assert.Equal(t, "handbook.txt", results[0].DocumentName)
	assert.Greater(t, results[0].Lexical, 0.9)
}

func TestSearch_CombinedScoreIsWeightedSum(t *testing.T) {
	tc := newTestCorpus(t, Config{TopK: 5, SemanticWeight: 0.7})
	tc.index(t, "d1", "doc.txt",
		mkChunk("c1", "d1", 0, "alpha beta gamma delta"),
		mkChunk("c2", "d1", 1, "completely unrelated words here"),
	)

	results, err := tc.engine.Search(context.Background(), "alpha beta", Options{})

	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.InDelta(t, 0.7*r.Semantic+0.3*r.Lexical, r.Score, 1e-9)
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
	// Both query tokens appear in c1, none in c2.
	byID := map[string]*SearchResult{}
	for _, r := range results {
		byID[r.Chunk.ID] = r
	}
	require.Contains(t, byID, "c1")
	assert.InDelta(t, 1.0, byID["c1"].Lexical, 1e-9)
	if r, ok := byID["c2"]; ok {
		assert.InDelta(t, 0.0, r.Lexical, 1e-9)
	}
}

func TestSearch_TopKLargerThanCorpusReturnsAll(t *testing.T) {
	tc := newTestCorpus(t, DefaultConfig())
	tc.index(t, "d1", "doc.txt",
		mkChunk("c1", "d1", 0, "first chunk of content"),
		mkChunk("c2", "d1", 1, "second chunk of content"),
	)

	results, err := tc.engine.Search(context.Background(), "chunk content", Options{TopK: 50})

	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func weightOf(w float64) *float64 { return &w }

func TestSearch_SemanticWeightOverride(t *testing.T) {
	tc := newTestCorpus(t, Config{TopK: 5, SemanticWeight: 0.7})
	tc.index(t, "d1", "doc.txt",
		mkChunk("c1", "d1", 0, "alpha beta gamma"),
	)

	// Weight 1.0 makes the lexical component irrelevant.
	results, err := tc.engine.Search(context.Background(), "alpha beta",
		Options{SemanticWeight: weightOf(1.0)})

	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.InDelta(t, results[0].Semantic, results[0].Score, 1e-9)
}

func TestSearch_ZeroWeightRanksByLexicalAlone(t *testing.T) {
	tc := newTestCorpus(t, Config{TopK: 5, SemanticWeight: 0.7})
	tc.index(t, "d1", "doc.txt",
		mkChunk("c1", "d1", 0, "alpha beta gamma"),
		mkChunk("c2", "d1", 1, "entirely different vocabulary here"),
	)

	// Weight 0 is a valid override, not a fallback to the default.
	results, err := tc.engine.Search(context.Background(), "alpha beta",
		Options{SemanticWeight: weightOf(0)})

	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "c1", results[0].Chunk.ID)
	for _, r := range results {
		assert.InDelta(t, r.Lexical, r.Score, 1e-9)
	}
}

func TestSearch_OutOfRangeWeightIsRejected(t *testing.T) {
	tc := newTestCorpus(t, DefaultConfig())
	tc.index(t, "d1", "doc.txt",
		mkChunk("c1", "d1", 0, "alpha beta gamma"),
	)

	_, err := tc.engine.Search(context.Background(), "alpha",
		Options{SemanticWeight: weightOf(1.5)})

	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeInvalidInput, pipeerrors.GetCode(err))
}

func TestSearch_DocumentFilterRestrictsBothLegs(t *testing.T) {
	// Given the same phrasing indexed under two documents
	tc := newTestCorpus(t, DefaultConfig())
	tc.index(t, "d1", "wanted.txt",
		mkChunk("c1", "d1", 0, "incident response checklist for the on call rotation"),
	)
	tc.index(t, "d2", "other.txt",
		mkChunk("c2", "d2", 0, "incident response checklist for the on call rotation archive"),
	)

	// When searching with a document filter
	results, err := tc.engine.Search(context.Background(), "incident response checklist",
		Options{DocumentIDs: []string{"d1"}})

	// Then only the filtered document's chunks come back
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "d1", r.Chunk.DocumentID)
	}
}

func TestSearch_DeterministicOrdering(t *testing.T) {
	tc := newTestCorpus(t, DefaultConfig())
	tc.index(t, "d1", "doc.txt",
		mkChunk("c1", "d1", 0, "budget planning session notes"),
		mkChunk("c2", "d1", 1, "budget planning review notes"),
		mkChunk("c3", "d1", 2, "budget planning final notes"),
	)

	first, err := tc.engine.Search(context.Background(), "budget planning", Options{})
	require.NoError(t, err)
	second, err := tc.engine.Search(context.Background(), "budget planning", Options{})
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Chunk.ID, second[i].Chunk.ID)
	}
}

func TestTokenizeQuery_DeduplicatesAndLowercases(t *testing.T) {
	tokens := tokenizeQuery("The Policy, the POLICY!")

	assert.Equal(t, []string{"the", "policy"}, tokens)
}

func TestOverlapRatio(t *testing.T) {
	tests := []struct {
		name  string
		query string
		text  string
		want  float64
	}{
		{"all present", "alpha beta", "alpha beta gamma", 1.0},
		{"half present", "alpha zeta", "alpha beta gamma", 0.5},
		{"none present", "x y", "alpha beta gamma", 0.0},
		{"case insensitive", "ALPHA", "alpha beta", 1.0},
		{"punctuation ignored", "alpha-beta", "alpha. beta!", 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := overlapRatio(tokenizeQuery(tt.query), tt.text)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}
