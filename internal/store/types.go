// Package store is the persistence layer: the SQLite metadata store, the
// shared writer connection manager, and the content-addressed blob store.
package store

import (
	"time"

	"github.com/raglite/raglite/internal/model"
)

// Document is a source file or in-memory blob that was ingested. Immutable
// after creation except for deletion.
type Document struct {
	ID          int64
	Source      string
	Title       string
	ContentType model.ContentType
	ContentID   string // content blob hash, empty when the content store is disabled
	CreatedAt   time.Time
}

// Chunk is a bounded span of a document, mapped to exactly one vector in the
// index via EmbeddingID.
type Chunk struct {
	ID          int64
	DocumentID  int64
	EmbeddingID string
	Content     string
	ChunkIndex  int
	ContentType model.ContentType
	Metadata    map[string]string
}

// ChunkWithDocument joins a chunk with its parent document for search results.
type ChunkWithDocument struct {
	Chunk    Chunk
	Document Document
}

// IDMapping is one persisted embedding_id -> numeric_id pair.
type IDMapping struct {
	EmbeddingID string
	NumericID   uint32
}

// Blob describes a content-addressed blob row.
type Blob struct {
	ContentID  string
	ByteSize   int64
	MIME       string
	OnDiskPath string
	RefCount   int
}

// Stats summarizes the dataset contents.
type Stats struct {
	TotalDocuments int
	TotalChunks    int
}
