package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raglite/raglite/internal/embed"
	rlerrors "github.com/raglite/raglite/internal/errors"
	"github.com/raglite/raglite/internal/index"
	"github.com/raglite/raglite/internal/model"
	"github.com/raglite/raglite/internal/rerank"
	"github.com/raglite/raglite/internal/store"
)

type fixture struct {
	meta     *store.Metadata
	manager  *index.Manager
	embedder embed.Embedder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	connMgr := store.NewConnManager(store.WithoutSweeper())
	t.Cleanup(func() { _ = connMgr.Close() })

	handle, err := connMgr.Acquire(filepath.Join(t.TempDir(), "db.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = handle.Close() })

	meta := store.NewMetadata(handle.DB)
	require.NoError(t, meta.Init(ctx))

	spec, err := model.Lookup(model.MiniLML6V2)
	require.NoError(t, err)

	manager, err := index.Open(ctx, filepath.Join(t.TempDir(), "index.bin"), meta, spec, nil, index.OpenOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	embedder, err := embed.ForModel(ctx, spec)
	require.NoError(t, err)

	return &fixture{meta: meta, manager: manager, embedder: embedder}
}

// seed stores one single-chunk document and its vector.
func (f *fixture) seed(t *testing.T, source, content string) {
	t.Helper()
	ctx := context.Background()

	res, err := f.embedder.EmbedText(ctx, content)
	require.NoError(t, err)

	mappings, err := f.manager.Add([]index.Item{{
		EmbeddingID: res.EmbeddingID,
		Vector:      res.Vector,
		ContentType: model.ContentTypeText,
	}})
	require.NoError(t, err)

	doc := &store.Document{Source: source, Title: filepath.Base(source), ContentType: model.ContentTypeText}
	chunks := []*store.Chunk{{
		EmbeddingID: res.EmbeddingID,
		Content:     content,
		ContentType: model.ContentTypeText,
	}}
	_, err = f.meta.InsertDocument(ctx, doc, chunks, mappings)
	require.NoError(t, err)
}

func (f *fixture) engine(r rerank.Reranker) *Engine {
	return NewEngine(f.meta, f.manager, f.embedder, r)
}

func TestSearch_EmptyQueryReturnsEmptyNotError(t *testing.T) {
	e := newFixture(t).engine(&rerank.Disabled{})

	for _, q := range []string{"", "   ", "\n\t"} {
		results, err := e.Search(context.Background(), q, Options{TopK: 5})
		require.NoError(t, err)
		assert.Empty(t, results)
	}
}

func TestSearch_EmptyDataset(t *testing.T) {
	e := newFixture(t).engine(&rerank.Disabled{})

	results, err := e.Search(context.Background(), "anything", Options{TopK: 5})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_RanksRelevantFirst(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "/docs/a.md", "Cats sleep a lot.")
	f.seed(t, "/docs/b.md", "Dogs chase balls.")

	e := f.engine(&rerank.Disabled{})
	results, err := e.Search(context.Background(), "cats sleep", Options{TopK: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Contains(t, results[0].Document.Source, "a.md")
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Equal(t, "Cats sleep a lot.", results[0].Content)
	assert.Equal(t, "a.md", results[0].Document.Title)
}

func TestSearch_TopKCapsResults(t *testing.T) {
	f := newFixture(t)
	for i, content := range []string{"alpha one", "beta two", "gamma three", "delta four"} {
		f.seed(t, filepath.Join("/docs", string(rune('a'+i))+".txt"), content)
	}

	e := f.engine(&rerank.Disabled{})
	for _, k := range []int{1, 2, 3, 10} {
		results, err := e.Search(context.Background(), "alpha", Options{TopK: k})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(results), k)
	}
}

func TestSearch_NegativeTopKRejected(t *testing.T) {
	e := newFixture(t).engine(&rerank.Disabled{})
	_, err := e.Search(context.Background(), "q", Options{TopK: -1})
	require.Error(t, err)
	assert.Equal(t, rlerrors.ErrCodeInvalidRange, rlerrors.GetCode(err))
}

func TestSearchVector_SkipsEmbedding(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "/docs/a.md", "Cats sleep a lot.")

	res, err := f.embedder.EmbedText(context.Background(), "cats sleep")
	require.NoError(t, err)

	e := f.engine(&rerank.Disabled{})
	results, err := e.SearchVector(context.Background(), res.Vector, Options{TopK: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Document.Source, "a.md")

	// Nil vector short-circuits.
	results, err = e.SearchVector(context.Background(), nil, Options{TopK: 1})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_RerankOptIn(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "/docs/a.md", "Cats sleep a lot on sofas.")
	f.seed(t, "/docs/b.md", "Dogs chase balls at the park.")

	e := f.engine(&rerank.CrossEncoder{})
	results, err := e.Search(context.Background(), "cats sleep", Options{TopK: 2, Rerank: true})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Document.Source, "a.md")
}

// failingReranker always errors, proving fallback behavior.
type failingReranker struct{}

func (failingReranker) Rerank(_ context.Context, _ string, _ []rerank.Candidate, _ model.ContentType) ([]rerank.Candidate, error) {
	return nil, rlerrors.Newf(rlerrors.ErrCodeRerankFailed, "model exploded")
}
func (failingReranker) Strategy() model.RerankStrategy { return model.RerankCrossEncoder }
func (failingReranker) Close() error                   { return nil }

func TestSearch_RerankFailureFallsBackToANNOrder(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "/docs/a.md", "Cats sleep a lot.")
	f.seed(t, "/docs/b.md", "Dogs chase balls.")

	e := f.engine(failingReranker{})
	results, err := e.Search(context.Background(), "cats sleep", Options{TopK: 2, Rerank: true})
	require.NoError(t, err, "rerank failure is recoverable")
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Document.Source, "a.md", "pre-rerank order preserved")
}

// shrinkingReranker returns fewer candidates than it was given.
type shrinkingReranker struct{}

func (shrinkingReranker) Rerank(_ context.Context, _ string, in []rerank.Candidate, _ model.ContentType) ([]rerank.Candidate, error) {
	return in[:1], nil
}
func (shrinkingReranker) Strategy() model.RerankStrategy { return model.RerankCrossEncoder }
func (shrinkingReranker) Close() error                   { return nil }

func TestSearch_RerankerChangingLengthIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "/docs/a.md", "Cats sleep a lot.")
	f.seed(t, "/docs/b.md", "Dogs chase balls.")

	e := f.engine(shrinkingReranker{})
	results, err := e.Search(context.Background(), "cats sleep", Options{TopK: 2, Rerank: true})
	require.NoError(t, err)
	assert.Len(t, results, 2, "length-changing rerank output is discarded")
}

func TestSearch_ScoreIsOneMinusDistance(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "/docs/a.md", "Cats sleep a lot.")

	e := f.engine(&rerank.Disabled{})

	// Query with the exact chunk text: distance ~0, score ~1.
	results, err := e.Search(context.Background(), "Cats sleep a lot.", Options{TopK: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-3)
}
