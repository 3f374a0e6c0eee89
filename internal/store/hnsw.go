package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/Aman-CERP/driverag/internal/errors"
)

// HNSWStore implements VectorStore on coder/hnsw, a pure Go HNSW graph.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	// string chunk ID <-> internal uint64 key
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	closed bool
}

// hnswMetadata persists the ID mappings alongside the graph file.
type hnswMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  VectorStoreConfig
}

func newGraph(cfg VectorStoreConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// NewHNSWStore creates an empty vector store.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "vector dimensions must be positive")
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	return &HNSWStore{
		graph:  newGraph(cfg),
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}, nil
}

// Add upserts vectors. Replacing an existing ID uses lazy deletion:
// the old graph node is orphaned rather than removed, because
// coder/hnsw misbehaves when the last node is deleted. Orphans are
// dropped at Save time, so upserting never grows the persisted index.
func (s *HNSWStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New(errors.ErrCodeIndexWrite, "vector store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return errors.DimensionMismatch(s.config.Dimensions, len(v))
		}
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrCodeIndexWrite, "vector add cancelled")
		}

		if oldKey, exists := s.idMap[id]; exists {
			delete(s.keyMap, oldKey)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
	}

	return nil
}

// Search returns up to k nearest neighbors ordered by descending
// score. Ties are broken by chunk ID so result order is reproducible.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errors.New(errors.ErrCodeIndexWrite, "vector store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, errors.DimensionMismatch(s.config.Dimensions, len(query))
	}
	if len(s.idMap) == 0 {
		return []*VectorResult{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	// Over-fetch to compensate for orphaned nodes still in the graph.
	fetch := k + (s.graph.Len() - len(s.idMap))
	nodes := s.graph.Search(normalized, fetch)

	results := make([]*VectorResult, 0, k)
	for _, node := range nodes {
		id, live := s.keyMap[node.Key]
		if !live {
			continue
		}
		distance := s.graph.Distance(normalized, node.Value)
		results = append(results, &VectorResult{
			ID:       id,
			Distance: distance,
			Score:    1.0 - distance/2.0,
		})
		if len(results) == k {
			break
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	return results, nil
}

// Delete orphans the graph nodes for the given IDs.
func (s *HNSWStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New(errors.ErrCodeIndexWrite, "vector store is closed")
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
	}
	return nil
}

func (s *HNSWStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.idMap[id]
	return exists
}

func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// Orphans reports lazily deleted nodes still held by the graph.
func (s *HNSWStore) Orphans() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.graph.Len() - len(s.idMap)
}

// Save persists the index atomically (temp file + rename). When the
// graph carries orphaned nodes it is compacted first, so the on-disk
// index holds exactly the live vectors.
func (s *HNSWStore) Save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New(errors.ErrCodeIndexWrite, "vector store is closed")
	}

	if s.graph.Len() > len(s.idMap) {
		if err := s.compact(); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "create index directory")
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "create index file")
	}
	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "export graph")
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "close index file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "rename index file")
	}

	if err := s.saveMetadata(path + ".meta"); err != nil {
		return err
	}
	return nil
}

// compact rebuilds the graph from live vectors only. Internal keys are
// reassigned densely. Caller holds the write lock.
func (s *HNSWStore) compact() error {
	fresh := newGraph(s.config)
	idMap := make(map[string]uint64, len(s.idMap))
	keyMap := make(map[uint64]string, len(s.idMap))

	// Deterministic key assignment keeps saved files reproducible.
	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var next uint64
	for _, id := range ids {
		vec, ok := s.graph.Lookup(s.idMap[id])
		if !ok {
			return errors.New(errors.ErrCodeIndexWrite,
				fmt.Sprintf("vector missing from graph for id %s", id))
		}
		fresh.Add(hnsw.MakeNode(next, vec))
		idMap[id] = next
		keyMap[next] = id
		next++
	}

	s.graph = fresh
	s.idMap = idMap
	s.keyMap = keyMap
	s.nextKey = next
	return nil
}

func (s *HNSWStore) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "create metadata file")
	}

	meta := hnswMetadata{IDMap: s.idMap, NextKey: s.nextKey, Config: s.config}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "encode metadata")
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "close metadata file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "rename metadata file")
	}
	return nil
}

// Load restores the index from disk.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New(errors.ErrCodeIndexWrite, "vector store is closed")
	}

	if err := s.loadMetadata(path + ".meta"); err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "open index file")
	}
	defer file.Close()

	// coder/hnsw Import requires an io.ByteReader.
	s.graph = newGraph(s.config)
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "import graph")
	}
	return nil
}

func (s *HNSWStore) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "open metadata file")
	}
	defer file.Close()

	var meta hnswMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "decode metadata")
	}

	s.idMap = meta.IDMap
	s.nextKey = meta.NextKey
	s.config = meta.Config
	s.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		s.keyMap[key] = id
	}
	return nil
}

func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

// ReadStoredDimensions reads the dimension recorded in an existing
// index's metadata file. Returns 0 when no index exists yet.
func ReadStoredDimensions(vectorPath string) (int, error) {
	file, err := os.Open(vectorPath + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, errors.ErrCodeIndexWrite, "open hnsw metadata")
	}
	defer file.Close()

	var meta hnswMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeIndexWrite, "decode hnsw metadata")
	}
	return meta.Config.Dimensions, nil
}

var _ VectorStore = (*HNSWStore)(nil)

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
