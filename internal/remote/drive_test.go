package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// newStubDrive spins up a Drive v3 stub and a source pointed at it.
func newStubDrive(t *testing.T, handler http.HandlerFunc) *DriveSource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := drive.NewService(context.Background(),
		option.WithoutAuthentication(),
		option.WithEndpoint(srv.URL))
	require.NoError(t, err)

	return NewDriveSourceWithService(svc)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestListFolder_SkipsFoldersAndFollowsPagination(t *testing.T) {
	// Given a folder listing split across two pages, including a subfolder
	source := newStubDrive(t, func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Query().Get("q"), "'folder-1' in parents")
		switch r.URL.Query().Get("pageToken") {
		case "":
			writeJSON(t, w, &drive.FileList{
				NextPageToken: "page-2",
				Files: []*drive.File{
					{Id: "f1", Name: "alpha.txt", Md5Checksum: "aaa", MimeType: "text/plain", Size: 10},
					{Id: "sub", Name: "nested", MimeType: MimeTypeFolder},
				},
			})
		case "page-2":
			writeJSON(t, w, &drive.FileList{
				Files: []*drive.File{
					{Id: "f2", Name: "beta.txt", Md5Checksum: "bbb", MimeType: "text/plain", Size: 20},
				},
			})
		default:
			t.Fatalf("unexpected page token %q", r.URL.Query().Get("pageToken"))
		}
	})

	// When the folder is listed
	files, err := source.ListFolder(context.Background(), "folder-1")

	// Then both pages contribute and the subfolder is skipped
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "f1", files[0].ID)
	assert.Equal(t, "aaa", files[0].Checksum)
	assert.Equal(t, "f2", files[1].ID)
}

func TestListFolder_ServerErrorHasListCode(t *testing.T) {
	source := newStubDrive(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "backend unavailable", http.StatusInternalServerError)
	})

	_, err := source.ListFolder(context.Background(), "folder-1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "list folder folder-1")
}

func TestToRemoteFile_ChecksumFallsBackToModifiedTimeAndSize(t *testing.T) {
	// Given a Google-native file without an md5 checksum
	modified := "2026-08-29T10:00:00Z"
	f := &drive.File{
		Id:           "doc-1",
		Name:         "Notes",
		MimeType:     MimeTypeGoogleDoc,
		ModifiedTime: modified,
		Size:         1234,
	}

	// When converted to a listing entry
	rf := toRemoteFile(f)

	// Then modified time plus size stands in as the freshness checksum
	assert.Equal(t, modified+":1234", rf.Checksum)
	assert.False(t, rf.ContentChecksum)
	want, err := time.Parse(time.RFC3339, modified)
	require.NoError(t, err)
	assert.True(t, rf.ModifiedTime.Equal(want))
}

func TestToRemoteFile_PrefersMd5(t *testing.T) {
	rf := toRemoteFile(&drive.File{
		Id:          "f1",
		Md5Checksum: "abc123",
	})

	assert.Equal(t, "abc123", rf.Checksum)
	assert.True(t, rf.ContentChecksum)
}
