package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/Aman-CERP/driverag/internal/chunk"
	"github.com/Aman-CERP/driverag/internal/errors"
)

// BleveKeywordIndex wraps Bleve v2 for BM25-scored keyword recall over
// chunk text. Document text is prose, so the standard analyzer
// (unicode tokenizer, lowercase, English stop words) is a fit.
type BleveKeywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// bleveChunk is the indexed document shape.
type bleveChunk struct {
	Content    string `json:"content"`
	DocumentID string `json:"document_id"`
}

// validateIndexIntegrity checks a Bleve index directory before opening
// so a corrupted index is rebuilt instead of failing every query.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// NewBleveKeywordIndex opens or creates a keyword index at path. An
// empty path creates an in-memory index for tests. A corrupted
// on-disk index is cleared and recreated; its content comes back on
// the next ingestion pass.
func NewBleveKeywordIndex(path string) (*BleveKeywordIndex, error) {
	indexMapping := createIndexMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeIndexWrite, "create index directory")
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("keyword_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, errors.Wrap(removeErr, errors.ErrCodeIndexWrite, "clear corrupted keyword index")
			}
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("keyword_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, errors.Wrap(removeErr, errors.ErrCodeIndexWrite, "clear corrupted keyword index")
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeIndexWrite, "open keyword index")
	}

	return &BleveKeywordIndex{index: idx, path: path}, nil
}

func createIndexMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = standard.Name

	docMapping := bleve.NewDocumentMapping()

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", contentField)

	// document_id is filtered on for per-document deletes, never scored.
	docIDField := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("document_id", docIDField)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// Index upserts chunks in one batch. Bleve replaces documents whose ID
// already exists, which keeps re-ingestion idempotent.
func (b *BleveKeywordIndex) Index(ctx context.Context, chunks []chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New(errors.ErrCodeIndexWrite, "keyword index is closed")
	}

	batch := b.index.NewBatch()
	for _, c := range chunks {
		doc := bleveChunk{Content: c.Text, DocumentID: c.DocumentID}
		if err := batch.Index(c.ID, doc); err != nil {
			return errors.Wrap(err, errors.ErrCodeIndexWrite,
				fmt.Sprintf("index chunk %s", c.ID))
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "execute index batch")
	}
	return nil
}

// Search returns chunks matching the query, scored by BM25. A non-empty
// docIDs restricts hits to chunks of those documents. An empty query
// returns no hits rather than an error.
func (b *BleveKeywordIndex) Search(ctx context.Context, queryStr string, limit int, docIDs []string) ([]*KeywordResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, errors.New(errors.ErrCodeIndexWrite, "keyword index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return []*KeywordResult{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	matchQuery.SetField("content")

	var searchQuery query.Query = matchQuery
	if len(docIDs) > 0 {
		docFilter := bleve.NewDisjunctionQuery()
		for _, id := range docIDs {
			term := bleve.NewTermQuery(id)
			term.SetField("document_id")
			docFilter.AddQuery(term)
		}
		searchQuery = bleve.NewConjunctionQuery(matchQuery, docFilter)
	}

	req := bleve.NewSearchRequest(searchQuery)
	req.Size = limit
	req.IncludeLocations = true

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeIndexWrite, "keyword search")
	}

	results := make([]*KeywordResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		var terms []string
		for _, locations := range hit.Locations {
			for term := range locations {
				terms = append(terms, term)
			}
		}
		results = append(results, &KeywordResult{
			ID:           hit.ID,
			Score:        hit.Score,
			MatchedTerms: terms,
		})
	}
	return results, nil
}

// Delete removes chunks from the index.
func (b *BleveKeywordIndex) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New(errors.ErrCodeIndexWrite, "keyword index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range chunkIDs {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "delete from keyword index")
	}
	return nil
}

func (b *BleveKeywordIndex) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}
	count, _ := b.index.DocCount()
	return int(count)
}

// Close releases the underlying index. Bleve persists writes as they
// happen, so there is no flush step.
func (b *BleveKeywordIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

var _ KeywordIndex = (*BleveKeywordIndex)(nil)
