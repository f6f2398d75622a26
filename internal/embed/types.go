// Package embed defines the embedder contract and the built-in deterministic
// embedder families. Real model runtimes live behind the same interface and
// are loaded by external builders; the core never pulls in inference code.
package embed

import (
	"context"
	"math"
	"time"

	"github.com/raglite/raglite/internal/model"
)

// Batch limits.
const (
	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion).
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultTimeout is the default timeout for a single embedder call.
	DefaultTimeout = 300 * time.Second
)

// Capabilities advertises what an embedder can do.
type Capabilities struct {
	Name                  string
	Type                  model.Type
	Dimensions            int
	SupportedContentTypes []model.ContentType
	MaxTextLength         int
	MaxBatchSize          int
}

// Supports reports whether the embedder accepts a content type.
func (c Capabilities) Supports(ct model.ContentType) bool {
	for _, t := range c.SupportedContentTypes {
		if t == ct {
			return true
		}
	}
	return false
}

// Input is one item in a batch. For image content types, Content is the image
// file path.
type Input struct {
	Content     string
	ContentType model.ContentType
}

// Result is one produced embedding.
type Result struct {
	EmbeddingID string
	Vector      []float32
	Input       Input
}

// Embedder generates fixed-dimension vectors. Implementations must be safe
// for concurrent calls up to their MaxBatchSize, and every returned vector
// has length Capabilities().Dimensions. EmbedText is deterministic under
// identical inputs and model version.
type Embedder interface {
	Capabilities() Capabilities

	// EmbedText embeds a single text. Empty or whitespace-only input is
	// rejected with a validation error.
	EmbedText(ctx context.Context, text string) (Result, error)

	// EmbedBatch embeds multiple items. Items whose content type is not
	// supported are filtered out; results come back in input order for the
	// subset that was processed.
	EmbedBatch(ctx context.Context, items []Input) ([]Result, error)

	// Load prepares the model. Unload releases it. IsLoaded reports state.
	Load(ctx context.Context) error
	Unload() error
	IsLoaded() bool
}

// ImageEmbedder is implemented by multimodal embedders.
type ImageEmbedder interface {
	Embedder

	// EmbedImage embeds the image at path into the shared vector space.
	EmbedImage(ctx context.Context, path string) (Result, error)
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
