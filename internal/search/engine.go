// Package search implements the query pipeline:
// embed -> ANN -> metadata join -> optional rerank -> content-type filter.
package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/raglite/raglite/internal/embed"
	rlerrors "github.com/raglite/raglite/internal/errors"
	"github.com/raglite/raglite/internal/index"
	"github.com/raglite/raglite/internal/model"
	"github.com/raglite/raglite/internal/rerank"
	"github.com/raglite/raglite/internal/store"
)

// DefaultTopK is the default result count.
const DefaultTopK = 10

// kExpand factors: how many ANN candidates to fetch per requested result.
const (
	kExpandDefault = 1
	kExpandRerank  = 3
)

// Options configures one query.
type Options struct {
	// TopK caps the result count (default 10).
	TopK int
	// Rerank opts into the dataset's reranking strategy for this query.
	// Off by default even when a reranker is available.
	Rerank bool
	// ContentType routes multimodal queries ("text" or "image"). Ignored for
	// text-only datasets.
	ContentType model.ContentType
}

// DocumentInfo is the parent document slice of a result.
type DocumentInfo struct {
	ID          int64             `json:"id"`
	Source      string            `json:"source"`
	Title       string            `json:"title"`
	ContentType model.ContentType `json:"content_type"`
	ContentID   string            `json:"content_id,omitempty"`
}

// Result is one search hit.
type Result struct {
	Content     string            `json:"content"`
	Score       float32           `json:"score"`
	ContentType model.ContentType `json:"content_type"`
	Document    DocumentInfo      `json:"document"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Engine runs queries against one dataset. It shares the metadata store and
// index manager with the ingestion pipeline.
type Engine struct {
	meta         *store.Metadata
	manager      *index.Manager
	embedder     embed.Embedder
	reranker     rerank.Reranker
	modelTimeout time.Duration
}

// NewEngine wires a search engine.
func NewEngine(meta *store.Metadata, manager *index.Manager, embedder embed.Embedder, reranker rerank.Reranker) *Engine {
	return &Engine{
		meta:         meta,
		manager:      manager,
		embedder:     embedder,
		reranker:     reranker,
		modelTimeout: embed.DefaultTimeout,
	}
}

// WithModelTimeout overrides the per-call embedder/reranker timeout.
func (e *Engine) WithModelTimeout(d time.Duration) *Engine {
	if d > 0 {
		e.modelTimeout = d
	}
	return e
}

// Search embeds the query and runs the pipeline. Empty or whitespace-only
// queries return an empty result set, not an error.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return []Result{}, nil
	}

	ectx, cancel := context.WithTimeout(ctx, e.modelTimeout)
	defer cancel()
	res, err := e.embedder.EmbedText(ectx, query)
	if err != nil {
		return nil, rlerrors.New(rlerrors.ErrCodeSearchFailed,
			"embed query: "+err.Error(), err)
	}

	return e.run(ctx, query, res.Vector, opts)
}

// SearchVector runs the pipeline on a pre-computed query vector, skipping the
// embedding step. Reranking needs query text, so it is unavailable here.
func (e *Engine) SearchVector(ctx context.Context, vector []float32, opts Options) ([]Result, error) {
	if len(vector) == 0 {
		return []Result{}, nil
	}
	opts.Rerank = false
	return e.run(ctx, "", vector, opts)
}

func (e *Engine) run(ctx context.Context, query string, vector []float32, opts Options) ([]Result, error) {
	topK := opts.TopK
	if topK == 0 {
		topK = DefaultTopK
	}
	if topK < 0 {
		return nil, rlerrors.Newf(rlerrors.ErrCodeInvalidRange, "top_k must not be negative")
	}
	if topK == 0 {
		return []Result{}, nil
	}

	kExpand := kExpandDefault
	if opts.Rerank {
		kExpand = kExpandRerank
	}

	hits, err := e.manager.Search(vector, topK*kExpand, opts.ContentType)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []Result{}, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.EmbeddingID
	}
	joined, err := e.meta.ChunksByEmbeddingIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	metric := e.manager.Metric()
	candidates := make([]rerank.Candidate, 0, len(hits))
	for _, h := range hits {
		cw, ok := joined[h.EmbeddingID]
		if !ok {
			// Vector without a chunk row: skip rather than fail the query.
			slog.Warn("vector has no chunk row", slog.String("embedding_id", h.EmbeddingID))
			continue
		}
		candidates = append(candidates, rerank.Candidate{
			EmbeddingID: h.EmbeddingID,
			Content:     cw.Chunk.Content,
			ContentType: cw.Chunk.ContentType,
			Source:      cw.Document.Source,
			Title:       cw.Document.Title,
			Metadata:    cw.Chunk.Metadata,
			Score:       index.DistanceToScore(h.Distance, metric),
		})
	}

	if opts.Rerank && e.reranker != nil && e.reranker.Strategy() != model.RerankDisabled {
		rctx, cancel := context.WithTimeout(ctx, e.modelTimeout)
		reranked, err := e.reranker.Rerank(rctx, query, candidates, opts.ContentType)
		cancel()
		switch {
		case err != nil:
			// Recoverable: fall back to ANN order with a warning.
			slog.Warn("rerank failed, returning pre-rerank order",
				slog.String("error", err.Error()))
		case len(reranked) != len(candidates):
			slog.Warn("reranker changed candidate count, ignoring its output",
				slog.Int("in", len(candidates)), slog.Int("out", len(reranked)))
		default:
			candidates = reranked
		}
	}

	if e.manager.Info().Mode == model.ModeMultimodal && opts.ContentType != "" {
		candidates = filterByContentGroup(candidates, opts.ContentType)
	}

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		cw := joined[c.EmbeddingID]
		results = append(results, Result{
			Content:     c.Content,
			Score:       c.Score,
			ContentType: c.ContentType,
			Document: DocumentInfo{
				ID:          cw.Document.ID,
				Source:      cw.Document.Source,
				Title:       cw.Document.Title,
				ContentType: cw.Document.ContentType,
				ContentID:   cw.Document.ContentID,
			},
			Metadata: c.Metadata,
		})
	}
	return results, nil
}

// filterByContentGroup keeps candidates in the requested modality group:
// "image" keeps images, anything else keeps all textual types.
func filterByContentGroup(candidates []rerank.Candidate, ct model.ContentType) []rerank.Candidate {
	wantImage := ct == model.ContentTypeImage
	out := candidates[:0]
	for _, c := range candidates {
		if (c.ContentType == model.ContentTypeImage) == wantImage {
			out = append(out, c)
		}
	}
	return out
}

// SortByScore orders results descending by score (used by adapters that merge
// result pages).
func SortByScore(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}
