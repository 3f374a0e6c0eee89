package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/driverag/internal/embed"
	"github.com/Aman-CERP/driverag/internal/errors"
	"github.com/Aman-CERP/driverag/internal/store"
)

// candidateMultiplier controls recall: both retrieval legs fetch
// TopK * candidateMultiplier candidates before scoring.
const candidateMultiplier = 3

// Engine combines semantic and keyword retrieval. The vector leg
// supplies similarity scores; the keyword leg admits candidates the
// vector search missed. Every candidate is then scored by the same
// weighted formula, so rankings are reproducible from the chunk text
// and the query alone.
type Engine struct {
	vector   store.VectorStore
	keyword  store.KeywordIndex
	metadata store.MetadataStore
	embedder embed.Embedder
	reranker Reranker
	config   Config
	logger   *slog.Logger
}

var _ Searcher = (*Engine)(nil)

// EngineOption configures optional engine behavior.
type EngineOption func(*Engine)

// WithReranker replaces the default heuristic reranker.
func WithReranker(r Reranker) EngineOption {
	return func(e *Engine) { e.reranker = r }
}

func NewEngine(vector store.VectorStore, keyword store.KeywordIndex,
	metadata store.MetadataStore, embedder embed.Embedder,
	cfg Config, logger *slog.Logger, opts ...EngineOption) (*Engine, error) {

	if vector == nil || keyword == nil || metadata == nil || embedder == nil {
		return nil, errors.New(errors.ErrCodeInternal, "search engine requires all dependencies")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultConfig().TopK
	}
	if cfg.SemanticWeight < 0 || cfg.SemanticWeight > 1 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "semantic weight must be in [0,1]")
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		vector:   vector,
		keyword:  keyword,
		metadata: metadata,
		embedder: embedder,
		reranker: NewHeuristicReranker(),
		config:   cfg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Search returns the top-K chunks for the query. An empty corpus is a
// valid zero-result response, not an error. TopK larger than the
// corpus returns everything, ranked. Options.DocumentIDs restricts
// both retrieval legs to chunks of those documents.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]*SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New(errors.ErrCodeQueryEmpty, "query must not be empty")
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = e.config.TopK
	}
	weight := e.config.SemanticWeight
	if opts.SemanticWeight != nil {
		w := *opts.SemanticWeight
		if w < 0 || w > 1 {
			return nil, errors.New(errors.ErrCodeInvalidInput, "semantic weight must be in [0,1]")
		}
		weight = w
	}

	var docFilter map[string]struct{}
	if len(opts.DocumentIDs) > 0 {
		docFilter = make(map[string]struct{}, len(opts.DocumentIDs))
		for _, id := range opts.DocumentIDs {
			docFilter[id] = struct{}{}
		}
	}

	total, err := e.metadata.CountChunks(ctx)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return []*SearchResult{}, nil
	}

	fetch := topK * candidateMultiplier

	// Both legs run concurrently. A failed keyword leg degrades to
	// semantic-only results; a failed vector leg is fatal because
	// semantic scores anchor the ranking.
	var vecResults []*store.VectorResult
	var kwResults []*store.KeywordResult
	var kwErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		embedding, err := e.embedder.Embed(gctx, query)
		if err != nil {
			return err
		}
		vecResults, err = e.vector.Search(gctx, embedding, fetch)
		return err
	})
	g.Go(func() error {
		kwResults, kwErr = e.keyword.Search(gctx, query, fetch, opts.DocumentIDs)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if kwErr != nil {
		e.logger.Warn("keyword recall failed, continuing semantic-only",
			"error", kwErr)
	}

	// Candidate union keyed by chunk ID. Keyword-only candidates carry
	// zero semantic score and still compete on the lexical component.
	semantic := make(map[string]float64, len(vecResults))
	ids := make([]string, 0, len(vecResults)+len(kwResults))
	for _, r := range vecResults {
		semantic[r.ID] = float64(r.Score)
		ids = append(ids, r.ID)
	}
	for _, r := range kwResults {
		if _, seen := semantic[r.ID]; !seen {
			semantic[r.ID] = 0
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return []*SearchResult{}, nil
	}

	chunks, err := e.metadata.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	queryTokens := tokenizeQuery(query)
	results := make([]*SearchResult, 0, len(chunks))
	for _, c := range chunks {
		// The vector leg cannot filter by document; drop candidates
		// outside the filter before they compete for the top K.
		if docFilter != nil {
			if _, ok := docFilter[c.DocumentID]; !ok {
				continue
			}
		}
		lexical := overlapRatio(queryTokens, c.Text)
		sem := semantic[c.ID]
		results = append(results, &SearchResult{
			Chunk:    c,
			Semantic: sem,
			Lexical:  lexical,
			Score:    weight*sem + (1-weight)*lexical,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Chunk.Seq != results[j].Chunk.Seq {
			return results[i].Chunk.Seq < results[j].Chunk.Seq
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})

	if len(results) > topK {
		results = results[:topK]
	}

	if err := e.attachDocuments(ctx, results); err != nil {
		return nil, err
	}

	if e.reranker != nil {
		results = e.reranker.Rerank(ctx, query, results)
	}

	return results, nil
}

// attachDocuments resolves document names and index times, one fetch
// per distinct document.
func (e *Engine) attachDocuments(ctx context.Context, results []*SearchResult) error {
	docs := make(map[string]*store.DocumentRecord)
	for _, r := range results {
		doc, ok := docs[r.Chunk.DocumentID]
		if !ok {
			var err error
			doc, err = e.metadata.GetDocument(ctx, r.Chunk.DocumentID)
			if err != nil {
				return err
			}
			docs[r.Chunk.DocumentID] = doc
		}
		if doc != nil {
			r.DocumentName = doc.Name
			r.IndexedAt = doc.IndexedAt
		}
	}
	return nil
}

// splitAlnum lowercases text and splits on everything that is not a
// letter or digit.
func splitAlnum(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}

// tokenizeQuery returns the set of distinct query tokens.
func tokenizeQuery(query string) []string {
	fields := splitAlnum(query)

	seen := make(map[string]struct{}, len(fields))
	tokens := fields[:0]
	for _, f := range fields {
		if _, dup := seen[f]; !dup {
			seen[f] = struct{}{}
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// overlapRatio is the fraction of query tokens that appear in the
// text. Hand-computable, which keeps ranking explainable.
func overlapRatio(queryTokens []string, text string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}

	textTokens := make(map[string]struct{})
	for _, f := range splitAlnum(text) {
		textTokens[f] = struct{}{}
	}

	var hits int
	for _, q := range queryTokens {
		if _, ok := textTokens[q]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}
