// Package pipeline coordinates ingestion: classify remote changes,
// then fetch, extract, chunk, embed, and index changed files with a
// bounded worker pool. Files are independent; one file failing never
// aborts the pass unless storage capacity is exhausted.
package pipeline

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/driverag/internal/cache"
	"github.com/Aman-CERP/driverag/internal/chunk"
	"github.com/Aman-CERP/driverag/internal/embed"
	"github.com/Aman-CERP/driverag/internal/errors"
	"github.com/Aman-CERP/driverag/internal/extract"
	"github.com/Aman-CERP/driverag/internal/remote"
	"github.com/Aman-CERP/driverag/internal/store"
	"github.com/Aman-CERP/driverag/internal/watcher"
)

// Config tunes a sync pass.
type Config struct {
	Workers        int
	MaxRetries     int
	FileTimeout    time.Duration
	ChunkSize      int
	ChunkOverlap   int
	MinChunkTokens int
}

func DefaultSyncConfig() Config {
	return Config{
		Workers:        4,
		MaxRetries:     3,
		FileTimeout:    5 * time.Minute,
		ChunkSize:      500,
		ChunkOverlap:   50,
		MinChunkTokens: 20,
	}
}

// EventType classifies progress events.
type EventType string

const (
	// EventPlanned fires once per pass, after classification, carrying
	// the total number of files the pass will touch.
	EventPlanned   EventType = "planned"
	EventFetching  EventType = "fetching"
	EventIndexed   EventType = "indexed"
	EventSkipped   EventType = "skipped"
	EventFailed    EventType = "failed"
	EventDeleted   EventType = "deleted"
	EventUnchanged EventType = "unchanged"
)

// Event reports per-file progress. Delivery is via an optional
// channel observer; a pass with no observer behaves identically.
type Event struct {
	Type   EventType
	FileID string
	Name   string
	Chunks int
	Total  int // set on EventPlanned only
	Err    error
}

// Summary is the per-pass outcome report. Partial failure is a
// summary, not an error.
type Summary struct {
	PassID    string
	Processed int // files fetched, chunked, and indexed
	Unchanged int // checksum matched, nothing to do
	Deleted   int // removed from index after disappearing remotely
	Failed    int // per-file errors, skipped for this pass
	Chunks    int // chunks written across processed files
	Duration  time.Duration
}

// Pipeline wires the ingestion dependencies together.
type Pipeline struct {
	source   remote.Source
	cache    *cache.Store
	extract  extract.Extractor
	splitter *chunk.Splitter
	embedder embed.Embedder
	vector   store.VectorStore
	keyword  store.KeywordIndex
	metadata store.MetadataStore

	config Config
	retry  errors.RetryConfig
	logger *slog.Logger
	events chan<- Event

	now func() time.Time
}

// Option configures optional pipeline behavior.
type Option func(*Pipeline)

// WithObserver registers a progress event channel. Sends never block:
// an event is dropped when the observer is not keeping up. The caller
// owns the channel and closes it after Sync returns.
func WithObserver(ch chan<- Event) Option {
	return func(p *Pipeline) { p.events = ch }
}

// WithRetryConfig overrides backoff settings for fetch and embed calls.
func WithRetryConfig(rc errors.RetryConfig) Option {
	return func(p *Pipeline) { p.retry = rc }
}

func New(source remote.Source, cacheStore *cache.Store, extractor extract.Extractor,
	embedder embed.Embedder, vector store.VectorStore, keyword store.KeywordIndex,
	metadata store.MetadataStore, cfg Config, logger *slog.Logger, opts ...Option) (*Pipeline, error) {

	if source == nil || cacheStore == nil || extractor == nil || embedder == nil ||
		vector == nil || keyword == nil || metadata == nil {
		return nil, errors.New(errors.ErrCodeInternal, "pipeline requires all dependencies")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultSyncConfig().Workers
	}
	if cfg.FileTimeout <= 0 {
		cfg.FileTimeout = DefaultSyncConfig().FileTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	splitter, err := chunk.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap, cfg.MinChunkTokens)
	if err != nil {
		return nil, err
	}

	retry := errors.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxRetries = cfg.MaxRetries
	}

	p := &Pipeline{
		source:   source,
		cache:    cacheStore,
		extract:  extractor,
		splitter: splitter,
		embedder: embedder,
		vector:   vector,
		keyword:  keyword,
		metadata: metadata,
		config:   cfg,
		retry:    retry,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Pipeline) emit(ev Event) {
	if p.events == nil {
		return
	}
	select {
	case p.events <- ev:
	default:
	}
}

// Sync runs one ingestion pass over the remote folder. With force set,
// every listed file is re-fetched and re-indexed regardless of
// checksum. A capacity error aborts the pass; any other per-file
// error marks that file failed and the pass continues.
func (p *Pipeline) Sync(ctx context.Context, folderID string, force bool) (*Summary, error) {
	start := p.now()
	summary := &Summary{PassID: uuid.NewString()}
	logger := p.logger.With("pass_id", summary.PassID, "folder_id", folderID)

	listing, err := errors.RetryWithResult(ctx, p.retry, func() ([]remote.RemoteFile, error) {
		return p.source.ListFolder(ctx, folderID)
	})
	if err != nil {
		return nil, err
	}

	changes := watcher.Diff(listing, p.cache.Manifest())
	if force {
		changes.Updated = append(changes.Updated, changes.Unchanged...)
		changes.Unchanged = nil
	}
	logger.Info("sync pass classified",
		"new", len(changes.New),
		"updated", len(changes.Updated),
		"unchanged", len(changes.Unchanged),
		"deleted", len(changes.Deleted))

	p.emit(Event{Type: EventPlanned,
		Total: len(changes.New) + len(changes.Updated) + len(changes.Deleted)})

	summary.Unchanged = len(changes.Unchanged)
	for _, f := range changes.Unchanged {
		p.emit(Event{Type: EventUnchanged, FileID: f.ID, Name: f.Name})
	}

	for _, id := range changes.Deleted {
		if err := p.removeDocument(ctx, id); err != nil {
			logger.Error("failed to remove deleted document", "file_id", id, "error", err)
			summary.Failed++
			p.emit(Event{Type: EventFailed, FileID: id, Err: err})
			continue
		}
		summary.Deleted++
		p.emit(Event{Type: EventDeleted, FileID: id})
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)

	work := append(append([]remote.RemoteFile{}, changes.New...), changes.Updated...)
	for _, file := range work {
		file := file
		g.Go(func() error {
			fileCtx, cancel := context.WithTimeout(gctx, p.config.FileTimeout)
			defer cancel()

			chunks, err := p.processFile(fileCtx, file)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Capacity exhaustion is fatal to the whole pass.
				if errors.GetCode(err) == errors.ErrCodeCapacity ||
					errors.GetCode(err) == errors.ErrCodeDiskFull {
					return err
				}
				logger.Error("file failed", "file_id", file.ID, "name", file.Name, "error", err)
				summary.Failed++
				p.emit(Event{Type: EventFailed, FileID: file.ID, Name: file.Name, Err: err})
				return nil
			}
			summary.Processed++
			summary.Chunks += chunks
			p.emit(Event{Type: EventIndexed, FileID: file.ID, Name: file.Name, Chunks: chunks})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		summary.Duration = p.now().Sub(start)
		return summary, err
	}

	if err := p.metadata.SetState(ctx, store.StateKeyLastSync, p.now().UTC().Format(time.RFC3339)); err != nil {
		logger.Warn("failed to record sync timestamp", "error", err)
	}
	if err := p.metadata.SetState(ctx, store.StateKeyIndexDimension, strconv.Itoa(p.embedder.Dimensions())); err != nil {
		logger.Warn("failed to record index dimension", "error", err)
	}
	if err := p.metadata.SetState(ctx, store.StateKeyIndexModel, p.embedder.ModelName()); err != nil {
		logger.Warn("failed to record index model", "error", err)
	}
	if evicted, err := p.cache.EvictExpired(); err != nil {
		logger.Warn("cache eviction failed", "error", err)
	} else if evicted > 0 {
		logger.Info("evicted expired cache entries", "count", evicted)
	}

	summary.Duration = p.now().Sub(start)
	logger.Info("sync pass complete",
		"processed", summary.Processed,
		"unchanged", summary.Unchanged,
		"deleted", summary.Deleted,
		"failed", summary.Failed,
		"chunks", summary.Chunks,
		"duration", summary.Duration)
	return summary, nil
}

// processFile runs the full per-file pipeline. The cache manifest entry
// commits last, after every index write: a failure anywhere leaves the
// file classified as changed, so the next pass retries it.
func (p *Pipeline) processFile(ctx context.Context, file remote.RemoteFile) (int, error) {
	p.emit(Event{Type: EventFetching, FileID: file.ID, Name: file.Name})

	data, err := errors.RetryWithResult(ctx, p.retry, func() ([]byte, error) {
		data, err := p.source.Fetch(ctx, file.ID)
		if err != nil {
			return nil, err
		}
		if file.ContentChecksum && cache.Checksum(data) != file.Checksum {
			return nil, errors.TransientIO(
				"fetched bytes do not match declared checksum for "+file.Name, nil)
		}
		return data, nil
	})
	if err != nil {
		return 0, err
	}

	doc, err := p.extract.Extract(file.Name, file.MimeType, data)
	if err != nil {
		return 0, err
	}

	chunks := p.splitter.Split(file.ID, doc)
	if len(chunks) == 0 {
		return 0, errors.CorruptInput(file.Name, nil)
	}

	texts := make([]string, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
		ids[i] = c.ID
	}

	vectors, err := errors.RetryWithResult(ctx, p.retry, func() ([][]float32, error) {
		return p.embedder.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return 0, err
	}

	if err := p.indexChunks(ctx, file, ids, vectors, chunks); err != nil {
		// A partial index write leaves the stores inconsistent for this
		// file; drop its manifest entry so the next pass rebuilds it
		// from scratch instead of trusting the stale checksum.
		if evictErr := p.cache.Evict(file.ID); evictErr != nil {
			p.logger.Warn("failed to evict cache entry after index failure",
				"file_id", file.ID, "error", evictErr)
		}
		return 0, err
	}

	if _, err := p.cache.Put(file.ID, file.Name, data, file.Checksum); err != nil {
		return 0, err
	}

	return len(chunks), nil
}

// indexChunks commits one file's chunks to all three stores, metadata
// last. Updated documents first shed their previous chunks; chunk IDs
// are content-derived, so text edits change them.
func (p *Pipeline) indexChunks(ctx context.Context, file remote.RemoteFile,
	ids []string, vectors [][]float32, chunks []chunk.Chunk) error {

	oldIDs, err := p.metadata.ChunkIDsByDocument(ctx, file.ID)
	if err != nil {
		return err
	}
	if len(oldIDs) > 0 {
		if err := p.vector.Delete(ctx, oldIDs); err != nil {
			return err
		}
		if err := p.keyword.Delete(ctx, oldIDs); err != nil {
			return err
		}
		if err := p.metadata.DeleteDocument(ctx, file.ID); err != nil {
			return err
		}
	}

	if err := p.vector.Add(ctx, ids, vectors); err != nil {
		return err
	}
	if err := p.keyword.Index(ctx, chunks); err != nil {
		return err
	}

	record := &store.DocumentRecord{
		ID:           file.ID,
		Name:         file.Name,
		Checksum:     file.Checksum,
		MimeType:     file.MimeType,
		Size:         file.Size,
		ModifiedTime: file.ModifiedTime,
		ChunkCount:   len(chunks),
		IndexedAt:    p.now().UTC(),
	}
	if err := p.metadata.SaveDocument(ctx, record); err != nil {
		return err
	}
	return p.metadata.SaveChunks(ctx, chunks)
}

// removeDocument clears a vanished file from every store.
func (p *Pipeline) removeDocument(ctx context.Context, fileID string) error {
	chunkIDs, err := p.metadata.ChunkIDsByDocument(ctx, fileID)
	if err != nil {
		return err
	}
	if len(chunkIDs) > 0 {
		if err := p.vector.Delete(ctx, chunkIDs); err != nil {
			return err
		}
		if err := p.keyword.Delete(ctx, chunkIDs); err != nil {
			return err
		}
	}
	if err := p.metadata.DeleteDocument(ctx, fileID); err != nil {
		return err
	}
	if err := p.cache.Evict(fileID); err != nil {
		p.logger.Warn("failed to evict cached object", "file_id", fileID, "error", err)
	}
	return nil
}
