package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/driverag/internal/cache"
	"github.com/Aman-CERP/driverag/internal/config"
	"github.com/Aman-CERP/driverag/internal/embed"
	"github.com/Aman-CERP/driverag/internal/search"
	"github.com/Aman-CERP/driverag/internal/store"
)

// Index file names under the data directory.
const (
	vectorFileName   = "vectors.hnsw"
	keywordDirName   = "keyword.bleve"
	metadataFileName = "metadata.db"
)

// appStack holds the opened storage and embedding dependencies a
// command needs. Close releases them in reverse dependency order.
type appStack struct {
	cfg      *config.Config
	cache    *cache.Store
	vector   *store.HNSWStore
	keyword  *store.BleveKeywordIndex
	metadata *store.SQLiteMetadataStore
	embedder embed.Embedder

	vectorPath string
}

func (s *appStack) Close() {
	if s.embedder != nil {
		_ = s.embedder.Close()
	}
	if s.vector != nil {
		_ = s.vector.Close()
	}
	if s.keyword != nil {
		_ = s.keyword.Close()
	}
	if s.metadata != nil {
		_ = s.metadata.Close()
	}
	if s.cache != nil {
		_ = s.cache.Close()
	}
}

// openStack opens every store plus the embedder. An existing vector
// index is loaded from disk and its recorded dimension must match the
// embedder; a mismatch means the index was built with a different
// model and needs a forced resync.
func openStack(ctx context.Context, cfg *config.Config, opts *rootOptions, logger *slog.Logger) (*appStack, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &appStack{cfg: cfg, vectorPath: filepath.Join(cfg.DataDir, vectorFileName)}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	var err error
	s.cache, err = cache.New(cfg.Cache.Dir, cfg.Cache.TTL)
	if err != nil {
		return nil, err
	}
	s.metadata, err = store.NewSQLiteMetadataStore(filepath.Join(cfg.DataDir, metadataFileName))
	if err != nil {
		return nil, err
	}
	s.keyword, err = store.NewBleveKeywordIndex(filepath.Join(cfg.DataDir, keywordDirName))
	if err != nil {
		return nil, err
	}

	s.embedder, err = newEmbedder(ctx, cfg, opts, logger)
	if err != nil {
		return nil, err
	}

	storedDims, err := store.ReadStoredDimensions(s.vectorPath)
	if err != nil {
		return nil, err
	}
	if storedDims != 0 && storedDims != s.embedder.Dimensions() {
		return nil, fmt.Errorf(
			"index was built with %d-dimension embeddings but the current model produces %d; run 'driverag sync --force' to rebuild",
			storedDims, s.embedder.Dimensions())
	}

	s.vector, err = store.NewHNSWStore(store.DefaultVectorStoreConfig(s.embedder.Dimensions()))
	if err != nil {
		return nil, err
	}
	if storedDims != 0 {
		if err := s.vector.Load(s.vectorPath); err != nil {
			return nil, err
		}
	}

	ok = true
	return s, nil
}

// newEmbedder builds the embedding backend. Offline mode swaps in the
// deterministic static embedder; both paths get an LRU cache in front.
func newEmbedder(ctx context.Context, cfg *config.Config, opts *rootOptions, logger *slog.Logger) (embed.Embedder, error) {
	var inner embed.Embedder
	if opts.offline {
		logger.Info("using static embeddings", "dimensions", embed.StaticDimensions)
		inner = embed.NewStaticEmbedder()
	} else {
		ollama, err := embed.NewOllamaEmbedder(ctx, embed.OllamaConfig{
			Host:       cfg.Ollama.Host,
			Model:      cfg.Ollama.EmbeddingModel,
			Dimensions: cfg.Ollama.Dimensions,
			BatchSize:  cfg.Ollama.BatchSize,
			Timeout:    cfg.Ollama.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to Ollama at %s (use --offline for static embeddings): %w", cfg.Ollama.Host, err)
		}
		inner = ollama
	}
	return embed.NewCachedEmbedder(inner, embed.DefaultEmbeddingCacheSize), nil
}

// newSearchEngine wires the hybrid engine over an opened stack.
func newSearchEngine(s *appStack, logger *slog.Logger) (*search.Engine, error) {
	return search.NewEngine(s.vector, s.keyword, s.metadata, s.embedder, search.Config{
		TopK:           s.cfg.Search.TopK,
		SemanticWeight: s.cfg.Search.SemanticWeight,
	}, logger)
}

// requireIndex fails fast with guidance when no sync has run yet.
func requireIndex(cfg *config.Config) error {
	if _, err := os.Stat(filepath.Join(cfg.DataDir, metadataFileName)); os.IsNotExist(err) {
		return fmt.Errorf("no index found in %s; run 'driverag sync' first", cfg.DataDir)
	}
	return nil
}
