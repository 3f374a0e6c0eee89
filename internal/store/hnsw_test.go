package store

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "github.com/Aman-CERP/driverag/internal/errors"
)

const testDims = 8

func newTestStore(t *testing.T) *HNSWStore {
	t.Helper()
	s, err := NewHNSWStore(DefaultVectorStoreConfig(testDims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// randomVectors produces deterministic pseudo-random unit-ish vectors.
func randomVectors(n int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	vecs := make([][]float32, n)
	for i := range vecs {
		v := make([]float32, testDims)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		vecs[i] = v
	}
	return vecs
}

func TestHNSW_SelfSimilarityRanksFirst(t *testing.T) {
	// Given: a store with several distinct vectors
	s := newTestStore(t)
	ctx := context.Background()
	vecs := randomVectors(20, 42)
	ids := make([]string, len(vecs))
	for i := range ids {
		ids[i] = string(rune('a'+i%26)) + string(rune('0'+i/26))
	}
	require.NoError(t, s.Add(ctx, ids, vecs))

	// When: searching with an indexed vector as the query
	results, err := s.Search(ctx, vecs[7], 5)

	// Then: the vector itself is rank 0 with near-perfect score
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, ids[7], results[0].ID)
	assert.GreaterOrEqual(t, float64(results[0].Score), 0.99)
}

func TestHNSW_DimensionMismatchRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Add(ctx, []string{"x"}, [][]float32{make([]float32, testDims+1)})
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeDimensionMismatch, pipeerrors.GetCode(err))

	_, err = s.Search(ctx, make([]float32, testDims-1), 3)
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeDimensionMismatch, pipeerrors.GetCode(err))
}

func TestHNSW_UpsertDoesNotGrowCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	vecs := randomVectors(2, 7)

	require.NoError(t, s.Add(ctx, []string{"a"}, vecs[:1]))
	require.NoError(t, s.Add(ctx, []string{"a"}, vecs[1:]))

	assert.Equal(t, 1, s.Count())
	assert.Equal(t, 1, s.Orphans())

	// The replacement vector wins.
	results, err := s.Search(ctx, vecs[1], 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.GreaterOrEqual(t, float64(results[0].Score), 0.99)
}

func TestHNSW_DeleteHidesVector(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	vecs := randomVectors(3, 11)

	require.NoError(t, s.Add(ctx, []string{"a", "b", "c"}, vecs))
	require.NoError(t, s.Delete(ctx, []string{"b", "missing"}))

	assert.Equal(t, 2, s.Count())
	assert.False(t, s.Contains("b"))

	results, err := s.Search(ctx, vecs[1], 3)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "b", r.ID)
	}
}

func TestHNSW_EmptyStoreSearchReturnsNoResults(t *testing.T) {
	s := newTestStore(t)

	results, err := s.Search(context.Background(), make([]float32, testDims), 5)

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHNSW_SaveCompactsAndReloads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	vecs := randomVectors(10, 99)
	ids := []string{"c0", "c1", "c2", "c3", "c4", "c5", "c6", "c7", "c8", "c9"}
	require.NoError(t, s.Add(ctx, ids, vecs))

	// Upserts and deletes leave orphans in the graph.
	require.NoError(t, s.Add(ctx, ids[:3], randomVectors(3, 100)))
	require.NoError(t, s.Delete(ctx, []string{"c9"}))
	require.Greater(t, s.Orphans(), 0)

	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	require.NoError(t, s.Save(path))

	// Save compacts the live graph.
	assert.Equal(t, 0, s.Orphans())
	assert.Equal(t, 9, s.Count())

	loaded, err := NewHNSWStore(DefaultVectorStoreConfig(testDims))
	require.NoError(t, err)
	defer loaded.Close()
	require.NoError(t, loaded.Load(path))

	assert.Equal(t, 9, loaded.Count())
	assert.False(t, loaded.Contains("c9"))

	results, err := loaded.Search(ctx, vecs[5], 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c5", results[0].ID)
}

func TestReadStoredDimensions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")

	dims, err := ReadStoredDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, 0, dims)

	s := newTestStore(t)
	require.NoError(t, s.Add(context.Background(), []string{"a"}, randomVectors(1, 1)))
	require.NoError(t, s.Save(path))

	dims, err = ReadStoredDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, testDims, dims)
}
