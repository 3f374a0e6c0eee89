// Package store is the persistence layer for indexed data: the HNSW
// vector index, the Bleve keyword index, and SQLite chunk metadata.
package store

import (
	"context"
	"time"

	"github.com/Aman-CERP/driverag/internal/chunk"
)

// State keys for the metadata store.
const (
	// StateKeyIndexDimension stores the embedding dimension used to
	// build the index. A differing embedder forces a rebuild.
	StateKeyIndexDimension = "index_embedding_dimension"
	// StateKeyIndexModel stores the embedding model name used for the index.
	StateKeyIndexModel = "index_embedding_model"
	// StateKeyLastSync stores the RFC3339 timestamp of the last
	// completed ingestion pass.
	StateKeyLastSync = "last_sync_completed"
)

// DocumentRecord tracks an indexed remote document.
type DocumentRecord struct {
	ID           string // remote file ID
	Name         string
	Checksum     string
	MimeType     string
	Size         int64
	ModifiedTime time.Time
	ChunkCount   int
	IndexedAt    time.Time
}

// VectorResult is a single nearest-neighbor hit.
type VectorResult struct {
	ID       string  // chunk ID
	Distance float32 // lower is more similar, 0-2 for cosine
	Score    float32 // normalized similarity in [0,1]
}

// KeywordResult is a single keyword index hit.
type KeywordResult struct {
	ID           string // chunk ID
	Score        float64
	MatchedTerms []string
}

// VectorStore provides approximate nearest-neighbor search.
type VectorStore interface {
	// Add inserts vectors with their IDs. An existing ID is replaced;
	// replacement never grows the live vector count.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds the k nearest neighbors to the query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	Contains(id string) bool
	Count() int

	Save(path string) error
	Load(path string) error
	Close() error
}

// KeywordIndex provides BM25-scored keyword recall over chunk text.
type KeywordIndex interface {
	Index(ctx context.Context, chunks []chunk.Chunk) error

	// Search runs a BM25 query. A non-empty docIDs restricts hits to
	// chunks belonging to those documents.
	Search(ctx context.Context, query string, limit int, docIDs []string) ([]*KeywordResult, error)
	Delete(ctx context.Context, chunkIDs []string) error
	Count() int
	Close() error
}

// MetadataStore persists documents and chunk metadata in SQLite.
type MetadataStore interface {
	SaveDocument(ctx context.Context, doc *DocumentRecord) error
	GetDocument(ctx context.Context, id string) (*DocumentRecord, error)
	ListDocuments(ctx context.Context) ([]*DocumentRecord, error)
	DeleteDocument(ctx context.Context, id string) error // cascades to chunks

	SaveChunks(ctx context.Context, chunks []chunk.Chunk) error
	GetChunks(ctx context.Context, ids []string) ([]chunk.Chunk, error)
	GetChunksByDocument(ctx context.Context, docID string) ([]chunk.Chunk, error)
	ChunkIDsByDocument(ctx context.Context, docID string) ([]string, error)
	CountChunks(ctx context.Context) (int, error)

	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	Close() error
}

// VectorStoreConfig configures the HNSW vector store.
type VectorStoreConfig struct {
	Dimensions int

	// M is the HNSW max connections per layer.
	M int

	// EfSearch is the HNSW query-time search width.
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for the given dimension.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   64,
	}
}
