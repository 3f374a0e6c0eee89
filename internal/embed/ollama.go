package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Aman-CERP/driverag/internal/errors"
)

// OllamaConfig configures the Ollama embedding backend.
type OllamaConfig struct {
	Host       string // e.g. http://localhost:11434
	Model      string
	Dimensions int // 0 = detect from the first embedding
	BatchSize  int
	Timeout    time.Duration

	// SkipHealthCheck bypasses the startup connectivity probe. Tests
	// pointing at an httptest server set this.
	SkipHealthCheck bool
}

// ollamaEmbedRequest is the /api/embed request body.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string
}

// ollamaEmbedResponse is the /api/embed response body.
type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaEmbedder generates embeddings over Ollama's HTTP API.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an embedder and verifies the backend is
// reachable. When Dimensions is 0 the dimension is detected by
// embedding a probe string.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.Model == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "embedding model name is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	// Keep-alive pool sized for the ingestion worker count. The
	// client carries no static timeout; each request gets a context
	// deadline instead.
	transport := &http.Transport{
		MaxIdleConns:        8,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     10 * time.Second,
	}

	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		probeCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()

		vec, err := e.requestEmbeddings(probeCtx, []string{"dimension probe"})
		if err != nil {
			transport.CloseIdleConnections()
			return nil, err
		}
		if len(vec) == 0 {
			transport.CloseIdleConnections()
			return nil, errors.New(errors.ErrCodeEmbeddingFailed, "backend returned no embeddings for probe")
		}
		if e.dims == 0 {
			e.dims = len(vec[0])
		} else if len(vec[0]) != e.dims {
			transport.CloseIdleConnections()
			return nil, errors.DimensionMismatch(e.dims, len(vec[0]))
		}
	}
	if e.dims == 0 {
		e.dims = DefaultDimensions
	}

	return e, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in BatchSize groups. Order is preserved.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, errors.New(errors.ErrCodeEmbeddingFailed, "embedder is closed")
	}
	e.mu.RUnlock()

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		vecs, err := e.requestEmbeddings(reqCtx, texts[start:end])
		cancel()
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, errors.New(errors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("backend returned %d embeddings for %d texts", len(vecs), end-start))
		}

		for _, v := range vecs {
			if e.dims != 0 && len(v) != e.dims {
				return nil, errors.DimensionMismatch(e.dims, len(v))
			}
			results = append(results, v)
		}
	}
	return results, nil
}

func (e *OllamaEmbedder) requestEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	var input any
	if len(texts) == 1 {
		input = texts[0]
	} else {
		input = texts
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Input: input})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeEmbeddingFailed, "marshal embed request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeEmbeddingFailed, "create embed request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrap(err, errors.ErrCodeFetchTimeout, "embedding request timed out")
		}
		return nil, errors.Wrap(err, errors.ErrCodeEmbeddingFailed, "embedding request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.New(errors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedding failed with status %d: %s", resp.StatusCode, string(respBody)))
	}

	var apiResult ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeEmbeddingFailed, "decode embed response")
	}

	embeddings := make([][]float32, len(apiResult.Embeddings))
	for i, emb := range apiResult.Embeddings {
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		embeddings[i] = normalizeVector(vec)
	}
	return embeddings, nil
}

func (e *OllamaEmbedder) Dimensions() int {
	return e.dims
}

func (e *OllamaEmbedder) ModelName() string {
	return e.config.Model
}

// Available probes the backend's tags endpoint.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
