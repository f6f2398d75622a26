package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	rlerrors "github.com/raglite/raglite/internal/errors"
	"github.com/raglite/raglite/internal/model"
)

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 2

// Metadata is the SQLite-backed relational store for documents, chunks, the
// system-info singleton, content blobs, and the persisted id map.
//
// The id_map table persists the embedding_id <-> numeric_id bijection so the
// in-memory map is a cache, not a reconstruction that depends on hashing
// probe order. Rows are read back ORDER BY rowid, which preserves insertion
// order.
type Metadata struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// NewMetadata wraps a shared connection. The caller keeps ownership of the
// connection's lifecycle (via the ConnManager handle).
func NewMetadata(db *sql.DB) *Metadata {
	return &Metadata{db: db}
}

// Init creates the schema if missing and runs the idempotent migration.
func (s *Metadata) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return rlerrors.Newf(rlerrors.ErrCodeDatabase, "store is closed")
	}

	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		title TEXT NOT NULL,
		content_type TEXT NOT NULL,
		content_id TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		embedding_id TEXT NOT NULL UNIQUE,
		content TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		content_type TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_embedding_id ON chunks(embedding_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);

	CREATE TABLE IF NOT EXISTS system_info (
		id INTEGER PRIMARY KEY CHECK(id = 1),
		mode TEXT NOT NULL,
		model_name TEXT NOT NULL,
		model_type TEXT NOT NULL,
		model_dimensions INTEGER NOT NULL,
		supported_content_types TEXT NOT NULL,
		reranking_strategy TEXT NOT NULL,
		model_version TEXT
	);

	CREATE TABLE IF NOT EXISTS content_blobs (
		content_id TEXT PRIMARY KEY,
		byte_size INTEGER NOT NULL,
		mime TEXT NOT NULL,
		on_disk_path TEXT NOT NULL,
		ref_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS id_map (
		embedding_id TEXT PRIMARY KEY,
		numeric_id INTEGER NOT NULL UNIQUE
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (` + fmt.Sprint(CurrentSchemaVersion) + `);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		if isNotADatabase(err) {
			return rlerrors.New(rlerrors.ErrCodeDatabaseCorrupt, "file is not a database", err)
		}
		return rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}

	return s.migrate(ctx)
}

// migrate adds columns introduced after v1. Each step checks for the column
// first, so reruns are no-ops.
func (s *Metadata) migrate(ctx context.Context) error {
	additions := []struct {
		table, column, ddl string
	}{
		{"documents", "content_id", "ALTER TABLE documents ADD COLUMN content_id TEXT"},
		{"system_info", "model_version", "ALTER TABLE system_info ADD COLUMN model_version TEXT"},
		{"content_blobs", "ref_count", "ALTER TABLE content_blobs ADD COLUMN ref_count INTEGER NOT NULL DEFAULT 0"},
	}

	for _, a := range additions {
		has, err := s.hasColumn(ctx, a.table, a.column)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := s.db.ExecContext(ctx, a.ddl); err != nil {
			return rlerrors.New(rlerrors.ErrCodeDatabase,
				fmt.Sprintf("migrate %s.%s: %v", a.table, a.column, err), err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO schema_version (version) VALUES (?)", CurrentSchemaVersion)
	if err != nil {
		return rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	return nil
}

func (s *Metadata) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return false, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// SystemInfo returns the stored singleton, or nil if the dataset has never
// been ingested into.
func (s *Metadata) SystemInfo(ctx context.Context) (*model.SystemInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT mode, model_name, model_type, model_dimensions,
		       supported_content_types, reranking_strategy, model_version
		FROM system_info WHERE id = 1`)

	var (
		info         model.SystemInfo
		typesJSON    string
		modelVersion sql.NullString
	)
	err := row.Scan(&info.Mode, &info.ModelName, &info.ModelType, &info.ModelDimensions,
		&typesJSON, &info.RerankingStrategy, &modelVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}

	if err := json.Unmarshal([]byte(typesJSON), &info.SupportedContentTypes); err != nil {
		return nil, rlerrors.New(rlerrors.ErrCodeDatabaseCorrupt,
			"system_info.supported_content_types is not valid JSON", err)
	}
	info.ModelVersion = modelVersion.String
	return &info, nil
}

// StoreSystemInfo writes the singleton with INSERT OR REPLACE.
func (s *Metadata) StoreSystemInfo(ctx context.Context, info model.SystemInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	typesJSON, err := json.Marshal(info.SupportedContentTypes)
	if err != nil {
		return rlerrors.Wrap(rlerrors.ErrCodeInternal, err)
	}

	var modelVersion any
	if info.ModelVersion != "" {
		modelVersion = info.ModelVersion
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO system_info
			(id, mode, model_name, model_type, model_dimensions,
			 supported_content_types, reranking_strategy, model_version)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)`,
		info.Mode, info.ModelName, info.ModelType, info.ModelDimensions,
		string(typesJSON), info.RerankingStrategy, modelVersion)
	if err != nil {
		return rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	return nil
}

// InsertDocument writes one document, its chunks, and their id-map rows in a
// single immediate transaction. Chunk insertion order is the slice order,
// which matches vector insertion order in the index.
func (s *Metadata) InsertDocument(ctx context.Context, doc *Document, chunks []*Chunk, mappings []IDMapping) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, rlerrors.Newf(rlerrors.ErrCodeDatabase, "store is closed")
	}
	if len(chunks) != len(mappings) {
		return 0, rlerrors.Newf(rlerrors.ErrCodeInternal,
			"chunk/mapping count mismatch: %d vs %d", len(chunks), len(mappings))
	}

	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO documents (source, title, content_type, content_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		doc.Source, doc.Title, doc.ContentType, nullable(doc.ContentID), doc.CreatedAt.Unix())
	if err != nil {
		return 0, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	docID, err := res.LastInsertId()
	if err != nil {
		return 0, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}

	chunkStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (document_id, embedding_id, content, chunk_index, content_type, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	defer chunkStmt.Close()

	mapStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO id_map (embedding_id, numeric_id) VALUES (?, ?)`)
	if err != nil {
		return 0, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	defer mapStmt.Close()

	for i, c := range chunks {
		metaJSON, err := json.Marshal(orEmpty(c.Metadata))
		if err != nil {
			return 0, rlerrors.Wrap(rlerrors.ErrCodeInternal, err)
		}
		if _, err := chunkStmt.ExecContext(ctx, docID, c.EmbeddingID, c.Content,
			c.ChunkIndex, c.ContentType, string(metaJSON)); err != nil {
			return 0, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
		}
		if _, err := mapStmt.ExecContext(ctx, mappings[i].EmbeddingID, int64(mappings[i].NumericID)); err != nil {
			return 0, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	return docID, nil
}

// DeleteDocument removes a document, its chunks (via cascade), and their
// id-map rows. Returns the deleted embedding ids and the document's content
// id so the caller can clean up the vector index and blob refcounts.
func (s *Metadata) DeleteDocument(ctx context.Context, docID int64) (embeddingIDs []string, contentID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = tx.Rollback() }()

	var cid sql.NullString
	err = tx.QueryRowContext(ctx, "SELECT content_id FROM documents WHERE id = ?", docID).Scan(&cid)
	if err == sql.ErrNoRows {
		return nil, "", rlerrors.Newf(rlerrors.ErrCodePathNotFound, "document %d not found", docID)
	}
	if err != nil {
		return nil, "", rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}

	rows, err := tx.QueryContext(ctx, "SELECT embedding_id FROM chunks WHERE document_id = ?", docID)
	if err != nil {
		return nil, "", rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, "", rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
		}
		embeddingIDs = append(embeddingIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, "", rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	rows.Close()

	if len(embeddingIDs) > 0 {
		placeholders := strings.Repeat("?,", len(embeddingIDs))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, len(embeddingIDs))
		for i, id := range embeddingIDs {
			args[i] = id
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM id_map WHERE embedding_id IN ("+placeholders+")", args...); err != nil {
			return nil, "", rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", docID); err != nil {
		return nil, "", rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, "", rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	return embeddingIDs, cid.String, nil
}

// ChunksByEmbeddingIDs joins chunks with their documents for search results.
// The result is keyed by embedding id; missing ids are absent, not errors.
func (s *Metadata) ChunksByEmbeddingIDs(ctx context.Context, ids []string) (map[string]*ChunkWithDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*ChunkWithDocument, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.embedding_id, c.content, c.chunk_index,
		       c.content_type, c.metadata,
		       d.id, d.source, d.title, d.content_type, d.content_id, d.created_at
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.embedding_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cw        ChunkWithDocument
			metaJSON  string
			contentID sql.NullString
			createdAt int64
		)
		if err := rows.Scan(
			&cw.Chunk.ID, &cw.Chunk.DocumentID, &cw.Chunk.EmbeddingID, &cw.Chunk.Content,
			&cw.Chunk.ChunkIndex, &cw.Chunk.ContentType, &metaJSON,
			&cw.Document.ID, &cw.Document.Source, &cw.Document.Title,
			&cw.Document.ContentType, &contentID, &createdAt,
		); err != nil {
			return nil, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &cw.Chunk.Metadata); err != nil {
			cw.Chunk.Metadata = map[string]string{}
		}
		cw.Document.ContentID = contentID.String
		cw.Document.CreatedAt = time.Unix(createdAt, 0)
		row := cw
		out[cw.Chunk.EmbeddingID] = &row
	}
	return out, rows.Err()
}

// AllChunksOrdered returns every chunk ordered by primary key, i.e. by
// original insertion order. Rebuild iterates this to re-embed.
func (s *Metadata) AllChunksOrdered(ctx context.Context) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, embedding_id, content, chunk_index, content_type, metadata
		FROM chunks ORDER BY id`)
	if err != nil {
		return nil, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		var (
			c        Chunk
			metaJSON string
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.EmbeddingID, &c.Content,
			&c.ChunkIndex, &c.ContentType, &metaJSON); err != nil {
			return nil, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &c.Metadata); err != nil {
			c.Metadata = map[string]string{}
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// AllMappings returns the persisted id map in insertion order.
func (s *Metadata) AllMappings(ctx context.Context) ([]IDMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT embedding_id, numeric_id FROM id_map ORDER BY rowid")
	if err != nil {
		return nil, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	defer rows.Close()

	var mappings []IDMapping
	for rows.Next() {
		var (
			m   IDMapping
			nid int64
		)
		if err := rows.Scan(&m.EmbeddingID, &nid); err != nil {
			return nil, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
		}
		m.NumericID = uint32(nid)
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// ReplaceMappings atomically replaces the whole id map (rebuild path).
func (s *Metadata) ReplaceMappings(ctx context.Context, mappings []IDMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM id_map"); err != nil {
		return rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO id_map (embedding_id, numeric_id) VALUES (?, ?)")
	if err != nil {
		return rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	defer stmt.Close()

	for _, m := range mappings {
		if _, err := stmt.ExecContext(ctx, m.EmbeddingID, int64(m.NumericID)); err != nil {
			return rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	return nil
}

// DocumentsBySource returns documents whose source matches exactly.
func (s *Metadata) DocumentsBySource(ctx context.Context, source string) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, title, content_type, content_id, created_at
		FROM documents WHERE source = ? ORDER BY id`, source)
	if err != nil {
		return nil, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// ListDocuments returns every document ordered by id.
func (s *Metadata) ListDocuments(ctx context.Context) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, title, content_type, content_id, created_at
		FROM documents ORDER BY id`)
	if err != nil {
		return nil, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

func scanDocuments(rows *sql.Rows) ([]*Document, error) {
	var docs []*Document
	for rows.Next() {
		var (
			d         Document
			contentID sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&d.ID, &d.Source, &d.Title, &d.ContentType, &contentID, &createdAt); err != nil {
			return nil, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
		}
		d.ContentID = contentID.String
		d.CreatedAt = time.Unix(createdAt, 0)
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}

// Stats returns document and chunk totals.
func (s *Metadata) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&st.TotalDocuments); err != nil {
		return st, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&st.TotalChunks); err != nil {
		return st, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	return st, nil
}

// UpsertBlob records a content blob if it is new. Returns true when the row
// was inserted, false when an identical blob already existed (dedup).
func (s *Metadata) UpsertBlob(ctx context.Context, blob Blob) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO content_blobs (content_id, byte_size, mime, on_disk_path, ref_count)
		VALUES (?, ?, ?, ?, 0)`,
		blob.ContentID, blob.ByteSize, blob.MIME, blob.OnDiskPath)
	if err != nil {
		return false, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	return n > 0, nil
}

// GetBlob returns the blob row or nil when unknown.
func (s *Metadata) GetBlob(ctx context.Context, contentID string) (*Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b Blob
	err := s.db.QueryRowContext(ctx, `
		SELECT content_id, byte_size, mime, on_disk_path, ref_count
		FROM content_blobs WHERE content_id = ?`, contentID).
		Scan(&b.ContentID, &b.ByteSize, &b.MIME, &b.OnDiskPath, &b.RefCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	return &b, nil
}

// RefBlob increments a blob's refcount.
func (s *Metadata) RefBlob(ctx context.Context, contentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE content_blobs SET ref_count = ref_count + 1 WHERE content_id = ?", contentID)
	if err != nil {
		return rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	return nil
}

// UnrefBlob decrements a blob's refcount and returns the new count. At zero
// the row is deleted and the caller removes the on-disk file.
func (s *Metadata) UnrefBlob(ctx context.Context, contentID string) (int, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		count int
		path  string
	)
	err = tx.QueryRowContext(ctx,
		"SELECT ref_count, on_disk_path FROM content_blobs WHERE content_id = ?", contentID).
		Scan(&count, &path)
	if err == sql.ErrNoRows {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}

	count--
	if count <= 0 {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM content_blobs WHERE content_id = ?", contentID); err != nil {
			return 0, "", rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
		}
		count = 0
	} else {
		if _, err := tx.ExecContext(ctx,
			"UPDATE content_blobs SET ref_count = ? WHERE content_id = ?", count, contentID); err != nil {
			return 0, "", rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, "", rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	return count, path, nil
}

// Close marks the store closed. The underlying connection is owned by the
// ConnManager handle, not by this store.
func (s *Metadata) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// beginImmediate starts a write transaction. Connections are opened with
// _txlock=immediate, so the write lock is taken up front and contention
// surfaces here as a busy error.
func (s *Metadata) beginImmediate(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if IsBusy(err) {
			return nil, rlerrors.New(rlerrors.ErrCodeBusy, "database is busy", err)
		}
		return nil, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	return tx, nil
}

func isNotADatabase(err error) bool {
	return err != nil && strings.Contains(err.Error(), "file is not a database")
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
