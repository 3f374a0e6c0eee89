package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	s, err := New(t.TempDir(), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_PutAndGet(t *testing.T) {
	// Given: an empty store
	s := newTestStore(t, time.Hour)

	// When: a file is cached
	data := []byte("refund policy document body")
	entry, err := s.Put("file-a", "policy.pdf", data, Checksum(data))
	require.NoError(t, err)

	// Then: the entry checksum matches the bytes on disk
	onDisk, err := os.ReadFile(entry.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, Checksum(onDisk), entry.Checksum)

	// And: Get returns the same bytes
	got, ok, err := s.Get("file-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, data, got)
}

func TestStore_GetAbsent(t *testing.T) {
	s := newTestStore(t, time.Hour)

	_, ok, err := s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_PutOverwritesPriorEntry(t *testing.T) {
	s := newTestStore(t, time.Hour)

	_, err := s.Put("file-a", "doc.pdf", []byte("v1"), Checksum([]byte("v1")))
	require.NoError(t, err)
	_, err = s.Put("file-a", "doc.pdf", []byte("v2"), Checksum([]byte("v2")))
	require.NoError(t, err)

	got, ok, err := s.Get("file-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), got)
	assert.Equal(t, 1, s.Len())
}

func TestStore_IsFreshRespectsTTL(t *testing.T) {
	s := newTestStore(t, time.Hour)

	_, err := s.Put("file-a", "doc.pdf", []byte("body"), "sum")
	require.NoError(t, err)
	assert.True(t, s.IsFresh("file-a"))

	// When: the clock advances past the TTL
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	// Then: the entry is stale but still present
	assert.False(t, s.IsFresh("file-a"))
	_, ok, err := s.Get("file-a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_EvictExpired(t *testing.T) {
	s := newTestStore(t, time.Hour)

	_, err := s.Put("old", "old.pdf", []byte("old"), "sum-old")
	require.NoError(t, err)

	// New entry written with a later clock stays fresh.
	s.now = func() time.Time { return time.Now().Add(90 * time.Minute) }
	entry, err := s.Put("new", "new.pdf", []byte("new"), "sum-new")
	require.NoError(t, err)

	count, err := s.EvictExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Expired bytes are gone, fresh bytes remain.
	_, ok, _ := s.Get("old")
	assert.False(t, ok)
	_, statErr := os.Stat(entry.LocalPath)
	assert.NoError(t, statErr)
}

func TestStore_ManifestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := New(dir, time.Hour)
	require.NoError(t, err)
	data := []byte("persisted body")
	_, err = s.Put("file-a", "doc.pdf", data, Checksum(data))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// When: the store reopens from the same directory
	s2, err := New(dir, time.Hour)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	// Then: the manifest entry and bytes are intact
	got, ok, err := s2.Get("file-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, data, got)
}

func TestStore_CorruptManifestRebuildsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestName), []byte("{not json"), 0o644))

	s, err := New(dir, time.Hour)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	assert.Equal(t, 0, s.Len())

	// And: the rebuilt manifest on disk is valid JSON
	raw, err := os.ReadFile(filepath.Join(dir, manifestName))
	require.NoError(t, err)
	var m manifest
	assert.NoError(t, json.Unmarshal(raw, &m))
}

func TestStore_ManifestSnapshotIsCopy(t *testing.T) {
	s := newTestStore(t, time.Hour)
	_, err := s.Put("file-a", "doc.pdf", []byte("x"), "sum")
	require.NoError(t, err)

	snap := s.Manifest()
	delete(snap, "file-a")

	_, ok := s.Entry("file-a")
	assert.True(t, ok, "mutating the snapshot must not affect the store")
}
