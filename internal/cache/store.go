// Package cache persists fetched document bytes with a TTL manifest.
//
// The manifest is the single source of cache truth: one JSON file mapping
// file ID to its cache entry, rewritten wholesale after every mutation.
// Bytes are written to a temp file and renamed into place before the
// manifest records them, so a crash never leaves a manifest entry without
// backing bytes.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	pkgerrors "github.com/Aman-CERP/driverag/internal/errors"
)

const (
	manifestName = "manifest.json"
	lockName     = "manifest.lock"
	objectsDir   = "objects"
)

// Entry records one cached file. Owned exclusively by Store; mutated only
// through Put and eviction. Checksum always matches the bytes at LocalPath
// while the entry exists.
type Entry struct {
	FileID    string    `json:"file_id"`
	Name      string    `json:"name"`
	LocalPath string    `json:"local_path"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	FetchedAt time.Time `json:"fetched_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// manifest is the persisted shape of the cache state.
type manifest struct {
	Files       map[string]Entry `json:"files"`
	LastCleanup time.Time        `json:"last_cleanup"`
}

// Store is a TTL document cache. Safe for concurrent use by ingestion
// workers; a file lock guards the manifest against concurrent processes.
type Store struct {
	dir string
	ttl time.Duration

	mu       sync.RWMutex
	entries  map[string]Entry
	fileLock *flock.Flock

	// now is replaceable in tests.
	now func() time.Time
}

// New opens (or creates) a cache store at dir. A corrupt manifest is
// discarded and rebuilt empty rather than failing startup.
func New(dir string, ttl time.Duration) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, objectsDir), 0o755); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrCodeCacheWrite, "create cache dir")
	}

	fl := flock.New(filepath.Join(dir, lockName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire cache lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("cache at %s is locked by another process", dir)
	}

	s := &Store{
		dir:      dir,
		ttl:      ttl,
		entries:  make(map[string]Entry),
		fileLock: fl,
		now:      time.Now,
	}

	if err := s.loadManifest(); err != nil {
		slog.Error("manifest corrupt, rebuilding",
			slog.String("dir", dir),
			slog.String("error", err.Error()))
		s.entries = make(map[string]Entry)
		if err := s.persistManifest(); err != nil {
			_ = fl.Unlock()
			return nil, err
		}
	}

	return s, nil
}

// Close releases the cache lock.
func (s *Store) Close() error {
	return s.fileLock.Unlock()
}

// Checksum returns the hex MD5 of data, matching the checksum Drive reports
// for binary files.
func Checksum(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached bytes for fileID, or ok=false if absent.
// Expiry does not affect Get; staleness is IsFresh's concern.
func (s *Store) Get(fileID string) ([]byte, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[fileID]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	data, err := os.ReadFile(entry.LocalPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Backing bytes vanished out from under the manifest.
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read cached bytes: %w", err)
	}
	return data, true, nil
}

// Put stores bytes for fileID, overwriting any prior entry. Bytes are
// durably written before the manifest is updated; on failure the prior
// entry remains valid. Disk errors are surfaced, not retried.
func (s *Store) Put(fileID, name string, data []byte, checksum string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, objectsDir, fileID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return Entry{}, pkgerrors.Wrap(err, pkgerrors.ErrCodeCacheWrite,
			fmt.Sprintf("write cache object %s", fileID))
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return Entry{}, pkgerrors.Wrap(err, pkgerrors.ErrCodeCacheWrite,
			fmt.Sprintf("commit cache object %s", fileID))
	}

	now := s.now()
	entry := Entry{
		FileID:    fileID,
		Name:      name,
		LocalPath: path,
		Checksum:  checksum,
		Size:      int64(len(data)),
		FetchedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	prior, hadPrior := s.entries[fileID]
	s.entries[fileID] = entry
	if err := s.persistManifest(); err != nil {
		// Roll the in-memory view back so manifest and map stay consistent.
		if hadPrior {
			s.entries[fileID] = prior
		} else {
			delete(s.entries, fileID)
		}
		return Entry{}, err
	}

	return entry, nil
}

// IsFresh reports whether fileID has an unexpired entry with backing bytes.
func (s *Store) IsFresh(fileID string) bool {
	s.mu.RLock()
	entry, ok := s.entries[fileID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if _, err := os.Stat(entry.LocalPath); err != nil {
		return false
	}
	return s.now().Before(entry.ExpiresAt)
}

// Entry returns the manifest entry for fileID.
func (s *Store) Entry(fileID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[fileID]
	return entry, ok
}

// Manifest returns a snapshot copy of all entries, keyed by file ID.
func (s *Store) Manifest() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(map[string]Entry, len(s.entries))
	for id, e := range s.entries {
		snapshot[id] = e
	}
	return snapshot
}

// Evict removes fileID's entry and its backing bytes.
// Missing entries are a no-op.
func (s *Store) Evict(fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[fileID]
	if !ok {
		return nil
	}

	if err := os.Remove(entry.LocalPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cached bytes: %w", err)
	}
	delete(s.entries, fileID)
	return s.persistManifest()
}

// EvictExpired removes every expired entry and returns the count evicted.
func (s *Store) EvictExpired() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	evicted := 0
	for id, entry := range s.entries {
		if !now.Before(entry.ExpiresAt) {
			if err := os.Remove(entry.LocalPath); err != nil && !os.IsNotExist(err) {
				return evicted, fmt.Errorf("remove cached bytes: %w", err)
			}
			delete(s.entries, id)
			evicted++
		}
	}

	if evicted > 0 {
		if err := s.persistManifest(); err != nil {
			return evicted, err
		}
	}
	return evicted, nil
}

// Len returns the number of manifest entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) manifestPath() string {
	return filepath.Join(s.dir, manifestName)
}

func (s *Store) loadManifest() error {
	data, err := os.ReadFile(s.manifestPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrCodeCorruptManifest, "parse manifest")
	}
	if m.Files != nil {
		s.entries = m.Files
	}
	return nil
}

// persistManifest rewrites the manifest wholesale via temp-and-rename.
// Callers hold s.mu.
func (s *Store) persistManifest() error {
	m := manifest{Files: s.entries, LastCleanup: s.now()}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tmp := s.manifestPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrCodeCacheWrite, "write manifest")
	}
	if err := os.Rename(tmp, s.manifestPath()); err != nil {
		_ = os.Remove(tmp)
		return pkgerrors.Wrap(err, pkgerrors.ErrCodeCacheWrite, "commit manifest")
	}
	return nil
}
