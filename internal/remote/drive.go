package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	pkgerrors "github.com/Aman-CERP/driverag/internal/errors"
)

// Google Workspace MIME types that are exported rather than downloaded.
const (
	MimeTypeGoogleDoc    = "application/vnd.google-apps.document"
	MimeTypeGoogleSheet  = "application/vnd.google-apps.spreadsheet"
	MimeTypeGoogleSlides = "application/vnd.google-apps.presentation"
	MimeTypeFolder       = "application/vnd.google-apps.folder"

	ExportMimeText = "text/plain"
	ExportMimeCSV  = "text/csv"
)

// MaxFetchSize caps a single file download (20MB).
const MaxFetchSize = 20 * 1024 * 1024

// listFields selects the listing attributes used for change detection.
const listFields = "nextPageToken, files(id, name, md5Checksum, modifiedTime, mimeType, size)"

// DriveSource implements Source against the Google Drive v3 API.
type DriveSource struct {
	svc *drive.Service
}

var _ Source = (*DriveSource)(nil)

// NewDriveSource builds a Drive client from OAuth client credentials and a
// previously stored token. The token must already exist (run the auth flow
// out of band); there is no interactive prompt here.
func NewDriveSource(ctx context.Context, credentialsFile, tokenFile string) (*DriveSource, error) {
	creds, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	oauthCfg, err := google.ConfigFromJSON(creds, drive.DriveReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	tok, err := loadToken(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("load oauth token: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithTokenSource(oauthCfg.TokenSource(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &DriveSource{svc: svc}, nil
}

// NewDriveSourceWithService wraps an existing Drive service (used by tests
// against a stub HTTP backend).
func NewDriveSourceWithService(svc *drive.Service) *DriveSource {
	return &DriveSource{svc: svc}
}

func loadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return tok, nil
}

// ListFolder returns a snapshot of the folder's files, following pagination.
// Folders are skipped. Google-native files carry no md5Checksum; their
// modified time plus size stands in as the freshness checksum.
func (s *DriveSource) ListFolder(ctx context.Context, folderID string) ([]RemoteFile, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false", folderID)

	var files []RemoteFile
	pageToken := ""
	for {
		call := s.svc.Files.List().
			Q(query).
			Fields(listFields).
			PageSize(100).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.ErrCodeRemoteList,
				fmt.Sprintf("list folder %s", folderID))
		}

		for _, f := range resp.Files {
			if f.MimeType == MimeTypeFolder {
				continue
			}
			files = append(files, toRemoteFile(f))
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	slog.Debug("drive_folder_listed",
		slog.String("folder_id", folderID),
		slog.Int("files", len(files)))

	return files, nil
}

// Metadata returns the current listing entry for one file.
func (s *DriveSource) Metadata(ctx context.Context, fileID string) (RemoteFile, error) {
	f, err := s.svc.Files.Get(fileID).
		Fields("id, name, md5Checksum, modifiedTime, mimeType, size").
		Context(ctx).
		Do()
	if err != nil {
		return RemoteFile{}, pkgerrors.TransientIO(
			fmt.Sprintf("get metadata for %s: %v", fileID, err), err)
	}
	return toRemoteFile(f), nil
}

// Fetch downloads a file's bytes. Google Workspace files are exported to a
// text format; everything else is downloaded as-is, capped at MaxFetchSize.
func (s *DriveSource) Fetch(ctx context.Context, fileID string) ([]byte, error) {
	meta, err := s.svc.Files.Get(fileID).Fields("id, mimeType").Context(ctx).Do()
	if err != nil {
		return nil, pkgerrors.TransientIO(fmt.Sprintf("stat file %s: %v", fileID, err), err)
	}

	switch meta.MimeType {
	case MimeTypeGoogleDoc, MimeTypeGoogleSlides:
		return s.export(ctx, fileID, ExportMimeText)
	case MimeTypeGoogleSheet:
		return s.export(ctx, fileID, ExportMimeCSV)
	}

	httpResp, err := s.svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, pkgerrors.TransientIO(fmt.Sprintf("download %s: %v", fileID, err), err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, MaxFetchSize))
	if err != nil {
		return nil, pkgerrors.TransientIO(fmt.Sprintf("read %s: %v", fileID, err), err)
	}
	return data, nil
}

func (s *DriveSource) export(ctx context.Context, fileID, exportMime string) ([]byte, error) {
	httpResp, err := s.svc.Files.Export(fileID, exportMime).Context(ctx).Download()
	if err != nil {
		return nil, pkgerrors.TransientIO(fmt.Sprintf("export %s: %v", fileID, err), err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, MaxFetchSize))
	if err != nil {
		return nil, pkgerrors.TransientIO(fmt.Sprintf("read export %s: %v", fileID, err), err)
	}
	return data, nil
}

func toRemoteFile(f *drive.File) RemoteFile {
	modified, _ := time.Parse(time.RFC3339, f.ModifiedTime)

	checksum := f.Md5Checksum
	content := checksum != ""
	if !content {
		// Google-native files have no content checksum in the listing;
		// modified time plus size stands in as the freshness key.
		checksum = fmt.Sprintf("%s:%d", f.ModifiedTime, f.Size)
	}

	return RemoteFile{
		ID:              f.Id,
		Name:            f.Name,
		Checksum:        checksum,
		ModifiedTime:    modified,
		MimeType:        f.MimeType,
		Size:            f.Size,
		ContentChecksum: content,
	}
}
