// Package remote defines the remote document repository boundary and its
// Google Drive implementation.
package remote

import (
	"context"
	"time"
)

// RemoteFile is an immutable snapshot of a remote file's listing entry,
// taken once per ingestion pass. Checksum is the repository's content
// checksum (MD5 for Drive binary files) and is the freshness authority.
type RemoteFile struct {
	ID           string
	Name         string
	Checksum     string
	ModifiedTime time.Time
	MimeType     string
	Size         int64

	// ContentChecksum is true when Checksum is an MD5 of the file
	// bytes; fetched data can then be verified against it. False for
	// the modified-time surrogate used by Google-native files.
	ContentChecksum bool
}

// Source is the remote repository boundary: list a folder, fetch bytes,
// and look up metadata for a single file. Implementations must be safe for
// concurrent use by ingestion workers.
type Source interface {
	// ListFolder returns a snapshot of all ingestible files in the folder.
	ListFolder(ctx context.Context, folderID string) ([]RemoteFile, error)

	// Fetch downloads the file's bytes.
	Fetch(ctx context.Context, fileID string) ([]byte, error)

	// Metadata returns the current listing entry for one file.
	Metadata(ctx context.Context, fileID string) (RemoteFile, error)
}
