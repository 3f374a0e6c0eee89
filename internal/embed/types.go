// Package embed generates fixed-dimension vectors for chunk text and
// queries. The production backend is Ollama's embedding API; a
// deterministic static embedder exists for offline use and tests.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultBatchSize is the number of texts sent per embedding request.
	DefaultBatchSize = 32

	// MaxBatchSize caps batch size to prevent memory exhaustion.
	MaxBatchSize = 256

	// DefaultTimeout bounds a single embedding request.
	DefaultTimeout = 60 * time.Second

	// DefaultDimensions matches bge-small-en-v1.5.
	DefaultDimensions = 384

	// StaticDimensions is the static embedder's vector size.
	StaticDimensions = 256
)

// Embedder turns text into fixed-dimension vectors. All returned
// vectors are unit-normalized. Implementations are safe for
// concurrent use.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving
	// input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the backend is reachable.
	Available(ctx context.Context) bool

	Close() error
}

// normalizeVector scales v to unit length. The zero vector is
// returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
	return v
}
