package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/Aman-CERP/driverag/internal/errors"
)

// StaticEmbedder generates deterministic hash-based embeddings with no
// network or model dependency. Semantic quality is limited but
// similarity of shared vocabulary is preserved, which is enough for
// offline operation and tests.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

const (
	staticTokenWeight = 0.7
	staticNgramWeight = 0.3
	staticNgramSize   = 3
)

func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed, "embedder is closed")
	}

	trimmed := strings.TrimSpace(strings.ToLower(text))
	if trimmed == "" {
		return make([]float32, StaticDimensions), nil
	}

	vector := make([]float32, StaticDimensions)
	for _, tok := range strings.Fields(trimmed) {
		addHashed(vector, tok, staticTokenWeight)
		for i := 0; i+staticNgramSize <= len(tok); i++ {
			addHashed(vector, tok[i:i+staticNgramSize], staticNgramWeight)
		}
	}
	return normalizeVector(vector), nil
}

func addHashed(vector []float32, s string, weight float32) {
	h := fnv.New32a()
	h.Write([]byte(s))
	idx := h.Sum32() % uint32(len(vector))
	// Sign from a second hash bit spreads mass across both directions.
	if h.Sum32()&0x80000000 != 0 {
		vector[idx] -= weight
	} else {
		vector[idx] += weight
	}
}

func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

func (e *StaticEmbedder) Dimensions() int { return StaticDimensions }

func (e *StaticEmbedder) ModelName() string { return "static-hash" }

func (e *StaticEmbedder) Available(ctx context.Context) bool { return true }

func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
