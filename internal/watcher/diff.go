// Package watcher classifies remote files against the cache manifest.
package watcher

import (
	"sort"

	"github.com/Aman-CERP/driverag/internal/cache"
	"github.com/Aman-CERP/driverag/internal/remote"
)

// Changes partitions the union of remote and cached file IDs: every ID lands
// in exactly one bucket.
type Changes struct {
	New       []remote.RemoteFile
	Updated   []remote.RemoteFile
	Unchanged []remote.RemoteFile
	// Deleted holds cached file IDs with no matching remote file.
	Deleted []string
}

// Total returns the number of classified IDs.
func (c Changes) Total() int {
	return len(c.New) + len(c.Updated) + len(c.Unchanged) + len(c.Deleted)
}

// Diff classifies each remote file against the manifest by checksum:
// unchanged when an entry exists with the same checksum, updated when the
// checksum differs, new when no entry exists. Cached files absent from the
// listing are deleted; an empty listing classifies every cached file as
// deleted, and callers decide whether that means purge or transient failure.
//
// Pure function: deterministic given its inputs, order-independent over the
// listing. Output slices are sorted by file ID for reproducibility.
func Diff(listing []remote.RemoteFile, manifest map[string]cache.Entry) Changes {
	var changes Changes

	seen := make(map[string]struct{}, len(listing))
	for _, rf := range listing {
		seen[rf.ID] = struct{}{}

		entry, ok := manifest[rf.ID]
		switch {
		case !ok:
			changes.New = append(changes.New, rf)
		case entry.Checksum == rf.Checksum:
			changes.Unchanged = append(changes.Unchanged, rf)
		default:
			changes.Updated = append(changes.Updated, rf)
		}
	}

	for id := range manifest {
		if _, ok := seen[id]; !ok {
			changes.Deleted = append(changes.Deleted, id)
		}
	}

	sortByID(changes.New)
	sortByID(changes.Updated)
	sortByID(changes.Unchanged)
	sort.Strings(changes.Deleted)

	return changes
}

func sortByID(files []remote.RemoteFile) {
	sort.Slice(files, func(i, j int) bool {
		return files[i].ID < files[j].ID
	})
}
