package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raglite/raglite/internal/model"
)

func newTestMetadata(t *testing.T) (*Metadata, *ConnManager) {
	t.Helper()

	mgr := NewConnManager(WithoutSweeper())
	t.Cleanup(func() { _ = mgr.Close() })

	handle, err := mgr.Acquire(filepath.Join(t.TempDir(), "db.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = handle.Close() })

	meta := NewMetadata(handle.DB)
	require.NoError(t, meta.Init(context.Background()))
	return meta, mgr
}

func testSystemInfo() model.SystemInfo {
	return model.SystemInfo{
		Mode:                  model.ModeText,
		ModelName:             "MiniLM-L6-v2",
		ModelType:             model.TypeSentenceTransformer,
		ModelDimensions:       384,
		SupportedContentTypes: []model.ContentType{model.ContentTypeText, model.ContentTypeMarkdown},
		RerankingStrategy:     model.RerankCrossEncoder,
	}
}

func TestInit_Idempotent(t *testing.T) {
	meta, _ := newTestMetadata(t)
	// Rerunning schema init and migration must be a no-op.
	require.NoError(t, meta.Init(context.Background()))
	require.NoError(t, meta.Init(context.Background()))
}

func TestSystemInfo_MissingReturnsNil(t *testing.T) {
	meta, _ := newTestMetadata(t)

	info, err := meta.SystemInfo(context.Background())
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestSystemInfo_RoundTrip(t *testing.T) {
	meta, _ := newTestMetadata(t)
	ctx := context.Background()

	want := testSystemInfo()
	require.NoError(t, meta.StoreSystemInfo(ctx, want))

	got, err := meta.SystemInfo(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)

	// INSERT OR REPLACE keeps it a singleton.
	want.ModelName = "mpnet-base-v2"
	want.ModelDimensions = 768
	require.NoError(t, meta.StoreSystemInfo(ctx, want))

	got, err = meta.SystemInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mpnet-base-v2", got.ModelName)
	assert.Equal(t, 768, got.ModelDimensions)
}

func insertTestDocument(t *testing.T, meta *Metadata, source string, embeddingIDs []string, numericIDs []uint32) int64 {
	t.Helper()

	doc := &Document{
		Source:      source,
		Title:       filepath.Base(source),
		ContentType: model.ContentTypeText,
		CreatedAt:   time.Now(),
	}
	chunks := make([]*Chunk, len(embeddingIDs))
	mappings := make([]IDMapping, len(embeddingIDs))
	for i, id := range embeddingIDs {
		chunks[i] = &Chunk{
			EmbeddingID: id,
			Content:     "content of " + id,
			ChunkIndex:  i,
			ContentType: model.ContentTypeText,
			Metadata:    map[string]string{"k": "v"},
		}
		mappings[i] = IDMapping{EmbeddingID: id, NumericID: numericIDs[i]}
	}

	docID, err := meta.InsertDocument(context.Background(), doc, chunks, mappings)
	require.NoError(t, err)
	return docID
}

func TestInsertDocument_AndJoin(t *testing.T) {
	meta, _ := newTestMetadata(t)
	ctx := context.Background()

	docID := insertTestDocument(t, meta, "/tmp/a.txt", []string{"e1", "e2"}, []uint32{10, 11})
	assert.Greater(t, docID, int64(0))

	joined, err := meta.ChunksByEmbeddingIDs(ctx, []string{"e1", "e2", "missing"})
	require.NoError(t, err)
	require.Len(t, joined, 2)

	cw := joined["e1"]
	require.NotNil(t, cw)
	assert.Equal(t, "content of e1", cw.Chunk.Content)
	assert.Equal(t, 0, cw.Chunk.ChunkIndex)
	assert.Equal(t, "/tmp/a.txt", cw.Document.Source)
	assert.Equal(t, map[string]string{"k": "v"}, cw.Chunk.Metadata)
}

func TestInsertDocument_DuplicateEmbeddingIDFails(t *testing.T) {
	meta, _ := newTestMetadata(t)

	insertTestDocument(t, meta, "/tmp/a.txt", []string{"dup"}, []uint32{1})

	doc := &Document{Source: "/tmp/b.txt", Title: "b", ContentType: model.ContentTypeText, CreatedAt: time.Now()}
	_, err := meta.InsertDocument(context.Background(), doc,
		[]*Chunk{{EmbeddingID: "dup", Content: "x", ContentType: model.ContentTypeText}},
		[]IDMapping{{EmbeddingID: "dup", NumericID: 2}})
	assert.Error(t, err, "embedding_id is unique")
}

func TestAllMappings_InsertionOrder(t *testing.T) {
	meta, _ := newTestMetadata(t)

	insertTestDocument(t, meta, "/tmp/a.txt", []string{"z", "a"}, []uint32{9, 3})
	insertTestDocument(t, meta, "/tmp/b.txt", []string{"m"}, []uint32{5})

	mappings, err := meta.AllMappings(context.Background())
	require.NoError(t, err)
	require.Len(t, mappings, 3)

	// ORDER BY rowid preserves insertion order, not lexical order.
	assert.Equal(t, "z", mappings[0].EmbeddingID)
	assert.Equal(t, "a", mappings[1].EmbeddingID)
	assert.Equal(t, "m", mappings[2].EmbeddingID)
	assert.Equal(t, uint32(9), mappings[0].NumericID)
}

func TestReplaceMappings(t *testing.T) {
	meta, _ := newTestMetadata(t)
	ctx := context.Background()

	insertTestDocument(t, meta, "/tmp/a.txt", []string{"e1"}, []uint32{1})

	require.NoError(t, meta.ReplaceMappings(ctx, []IDMapping{
		{EmbeddingID: "e1", NumericID: 42},
	}))

	mappings, err := meta.AllMappings(ctx)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, uint32(42), mappings[0].NumericID)
}

func TestDeleteDocument_CascadesAndCleansIDMap(t *testing.T) {
	meta, _ := newTestMetadata(t)
	ctx := context.Background()

	docID := insertTestDocument(t, meta, "/tmp/a.txt", []string{"e1", "e2"}, []uint32{1, 2})
	insertTestDocument(t, meta, "/tmp/b.txt", []string{"e3"}, []uint32{3})

	removed, _, err := meta.DeleteDocument(ctx, docID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"e1", "e2"}, removed)

	joined, err := meta.ChunksByEmbeddingIDs(ctx, []string{"e1", "e2", "e3"})
	require.NoError(t, err)
	assert.Len(t, joined, 1, "chunks cascade with the document")

	mappings, err := meta.AllMappings(ctx)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "e3", mappings[0].EmbeddingID)

	st, err := meta.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalDocuments)
	assert.Equal(t, 1, st.TotalChunks)
}

func TestDeleteDocument_Missing(t *testing.T) {
	meta, _ := newTestMetadata(t)
	_, _, err := meta.DeleteDocument(context.Background(), 12345)
	assert.Error(t, err)
}

func TestAllChunksOrdered(t *testing.T) {
	meta, _ := newTestMetadata(t)

	insertTestDocument(t, meta, "/tmp/a.txt", []string{"e1", "e2"}, []uint32{1, 2})
	insertTestDocument(t, meta, "/tmp/b.txt", []string{"e3"}, []uint32{3})

	chunks, err := meta.AllChunksOrdered(context.Background())
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "e1", chunks[0].EmbeddingID)
	assert.Equal(t, "e2", chunks[1].EmbeddingID)
	assert.Equal(t, "e3", chunks[2].EmbeddingID)
}

func TestDocumentsBySource(t *testing.T) {
	meta, _ := newTestMetadata(t)

	insertTestDocument(t, meta, "/tmp/a.txt", []string{"e1"}, []uint32{1})
	insertTestDocument(t, meta, "/tmp/a.txt", []string{"e2"}, []uint32{2})

	docs, err := meta.DocumentsBySource(context.Background(), "/tmp/a.txt")
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = meta.DocumentsBySource(context.Background(), "/tmp/other.txt")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestBlobs_RefCounting(t *testing.T) {
	meta, _ := newTestMetadata(t)
	ctx := context.Background()

	inserted, err := meta.UpsertBlob(ctx, Blob{
		ContentID: "abc", ByteSize: 3, MIME: "text/plain", OnDiskPath: "/tmp/abc.txt",
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same hash again is deduplication.
	inserted, err = meta.UpsertBlob(ctx, Blob{
		ContentID: "abc", ByteSize: 3, MIME: "text/plain", OnDiskPath: "/tmp/abc.txt",
	})
	require.NoError(t, err)
	assert.False(t, inserted)

	require.NoError(t, meta.RefBlob(ctx, "abc"))
	require.NoError(t, meta.RefBlob(ctx, "abc"))

	count, path, err := meta.UnrefBlob(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, "/tmp/abc.txt", path)

	count, _, err = meta.UnrefBlob(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	blob, err := meta.GetBlob(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, blob, "row deleted at zero refcount")
}
