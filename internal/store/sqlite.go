package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Aman-CERP/driverag/internal/chunk"
	"github.com/Aman-CERP/driverag/internal/errors"
)

// SQLiteMetadataStore persists documents, chunks, and runtime state.
// Uses modernc.org/sqlite (pure Go, no CGO).
type SQLiteMetadataStore struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// NewSQLiteMetadataStore opens or creates the metadata database at
// path. Use ":memory:" for tests.
func NewSQLiteMetadataStore(path string) (*SQLiteMetadataStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeIndexWrite, "open metadata database")
	}

	// Single writer avoids lock contention under the worker pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Pragmas must be set via statements; modernc.org/sqlite ignores
	// most DSN parameters.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, errors.ErrCodeIndexWrite, "set pragma")
		}
	}

	s := &SQLiteMetadataStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrCodeIndexWrite, "initialize schema")
	}
	return s, nil
}

func (s *SQLiteMetadataStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		checksum      TEXT NOT NULL,
		mime_type     TEXT NOT NULL DEFAULT '',
		size          INTEGER NOT NULL DEFAULT 0,
		modified_time TEXT NOT NULL DEFAULT '',
		chunk_count   INTEGER NOT NULL DEFAULT 0,
		indexed_at    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id          TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		seq         INTEGER NOT NULL,
		text        TEXT NOT NULL,
		token_count INTEGER NOT NULL,
		page        INTEGER NOT NULL DEFAULT 1,
		start_char  INTEGER NOT NULL,
		end_char    INTEGER NOT NULL,
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, seq);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveDocument upserts a document record.
func (s *SQLiteMetadataStore) SaveDocument(ctx context.Context, doc *DocumentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, name, checksum, mime_type, size, modified_time, chunk_count, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			checksum = excluded.checksum,
			mime_type = excluded.mime_type,
			size = excluded.size,
			modified_time = excluded.modified_time,
			chunk_count = excluded.chunk_count,
			indexed_at = excluded.indexed_at`,
		doc.ID, doc.Name, doc.Checksum, doc.MimeType, doc.Size,
		doc.ModifiedTime.UTC().Format(time.RFC3339Nano),
		doc.ChunkCount,
		doc.IndexedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "save document")
	}
	return nil
}

func (s *SQLiteMetadataStore) GetDocument(ctx context.Context, id string) (*DocumentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, checksum, mime_type, size, modified_time, chunk_count, indexed_at
		FROM documents WHERE id = ?`, id)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeIndexWrite, "get document")
	}
	return doc, nil
}

func (s *SQLiteMetadataStore) ListDocuments(ctx context.Context) ([]*DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, checksum, mime_type, size, modified_time, chunk_count, indexed_at
		FROM documents ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeIndexWrite, "list documents")
	}
	defer rows.Close()

	var docs []*DocumentRecord
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeIndexWrite, "scan document")
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document; its chunks go with it via the
// foreign key cascade.
func (s *SQLiteMetadataStore) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "delete document")
	}
	return nil
}

// SaveChunks upserts chunk metadata in one transaction.
func (s *SQLiteMetadataStore) SaveChunks(ctx context.Context, chunks []chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, seq, text, token_count, page, start_char, end_char, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			seq = excluded.seq,
			text = excluded.text,
			token_count = excluded.token_count,
			page = excluded.page,
			start_char = excluded.start_char,
			end_char = excluded.end_char`)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "prepare chunk insert")
	}
	defer stmt.Close()

	for _, c := range chunks {
		_, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Seq, c.Text,
			c.TokenCount, c.Page, c.StartChar, c.EndChar,
			c.CreatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeIndexWrite,
				fmt.Sprintf("insert chunk %s", c.ID))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "commit chunks")
	}
	return nil
}

// GetChunks fetches chunks by ID. Missing IDs are silently absent from
// the result; order follows (document_id, seq).
func (s *SQLiteMetadataStore) GetChunks(ctx context.Context, ids []string) ([]chunk.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, document_id, seq, text, token_count, page, start_char, end_char, created_at
		FROM chunks WHERE id IN (%s) ORDER BY document_id, seq`, placeholders), args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeIndexWrite, "get chunks")
	}
	defer rows.Close()

	return scanChunks(rows)
}

func (s *SQLiteMetadataStore) GetChunksByDocument(ctx context.Context, docID string) ([]chunk.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, seq, text, token_count, page, start_char, end_char, created_at
		FROM chunks WHERE document_id = ? ORDER BY seq`, docID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeIndexWrite, "get chunks by document")
	}
	defer rows.Close()

	return scanChunks(rows)
}

func (s *SQLiteMetadataStore) ChunkIDsByDocument(ctx context.Context, docID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM chunks WHERE document_id = ? ORDER BY seq`, docID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeIndexWrite, "list chunk ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeIndexWrite, "scan chunk id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteMetadataStore) CountChunks(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeIndexWrite, "count chunks")
	}
	return count, nil
}

// GetState returns the value for key, or "" when unset.
func (s *SQLiteMetadataStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeIndexWrite, "get state")
	}
	return value, nil
}

func (s *SQLiteMetadataStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexWrite, "set state")
	}
	return nil
}

func (s *SQLiteMetadataStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*DocumentRecord, error) {
	var doc DocumentRecord
	var modified, indexed string
	err := row.Scan(&doc.ID, &doc.Name, &doc.Checksum, &doc.MimeType,
		&doc.Size, &modified, &doc.ChunkCount, &indexed)
	if err != nil {
		return nil, err
	}
	doc.ModifiedTime, _ = time.Parse(time.RFC3339Nano, modified)
	doc.IndexedAt, _ = time.Parse(time.RFC3339Nano, indexed)
	return &doc, nil
}

func scanChunks(rows *sql.Rows) ([]chunk.Chunk, error) {
	var chunks []chunk.Chunk
	for rows.Next() {
		var c chunk.Chunk
		var created string
		err := rows.Scan(&c.ID, &c.DocumentID, &c.Seq, &c.Text,
			&c.TokenCount, &c.Page, &c.StartChar, &c.EndChar, &created)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeIndexWrite, "scan chunk")
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

var _ MetadataStore = (*SQLiteMetadataStore)(nil)
