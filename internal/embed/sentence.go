package embed

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	rlerrors "github.com/raglite/raglite/internal/errors"
	"github.com/raglite/raglite/internal/model"
)

// SentenceTransformer is the text-only embedder family (MiniLM, mpnet). The
// vector is a deterministic hash projection sized to the registry entry's
// dimensionality; a weight-backed runtime plugs in behind the same interface.
type SentenceTransformer struct {
	caps Capabilities

	mu     sync.RWMutex
	loaded bool
}

// NewSentenceTransformer builds an embedder for a sentence-transformer
// registry entry.
func NewSentenceTransformer(spec model.Spec) *SentenceTransformer {
	return &SentenceTransformer{
		caps: Capabilities{
			Name:                  spec.Name,
			Type:                  model.TypeSentenceTransformer,
			Dimensions:            spec.Dimensions,
			SupportedContentTypes: append([]model.ContentType(nil), spec.SupportedContentTypes...),
			MaxTextLength:         spec.MaxTextLength,
			MaxBatchSize:          DefaultBatchSize,
		},
	}
}

// Capabilities returns the embedder capabilities.
func (e *SentenceTransformer) Capabilities() Capabilities { return e.caps }

// EmbedText embeds a single text. Empty or whitespace-only input is rejected.
func (e *SentenceTransformer) EmbedText(ctx context.Context, text string) (Result, error) {
	if err := e.ready(ctx); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Result{}, rlerrors.Newf(rlerrors.ErrCodeInvalidInput, "cannot embed empty text")
	}

	vec := projectText(truncateTokens(text, e.caps.MaxTextLength), e.caps.Dimensions)
	return Result{
		EmbeddingID: uuid.NewString(),
		Vector:      normalizeVector(vec),
		Input:       Input{Content: text, ContentType: model.ContentTypeText},
	}, nil
}

// EmbedBatch embeds the supported subset of items in input order.
func (e *SentenceTransformer) EmbedBatch(ctx context.Context, items []Input) ([]Result, error) {
	if err := e.ready(ctx); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(items))
	for _, item := range items {
		if !e.caps.Supports(item.ContentType) {
			continue
		}
		res, err := e.EmbedText(ctx, item.Content)
		if err != nil {
			return nil, err
		}
		res.Input = item
		results = append(results, res)
	}
	return results, nil
}

// Load marks the model ready. The hash projection has no weights to load.
func (e *SentenceTransformer) Load(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = true
	return nil
}

// Unload releases the model.
func (e *SentenceTransformer) Unload() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = false
	return nil
}

// IsLoaded reports whether Load has been called.
func (e *SentenceTransformer) IsLoaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}

func (e *SentenceTransformer) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !e.IsLoaded() {
		return rlerrors.Newf(rlerrors.ErrCodeModelLoadFailed,
			"embedder %s is not loaded", e.caps.Name)
	}
	return nil
}

// truncateTokens caps text at maxTokens whitespace tokens, the projection's
// stand-in for a model context window.
func truncateTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	fields := strings.Fields(text)
	if len(fields) <= maxTokens {
		return text
	}
	return strings.Join(fields[:maxTokens], " ")
}

var _ Embedder = (*SentenceTransformer)(nil)
