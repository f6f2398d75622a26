package embed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	rlerrors "github.com/raglite/raglite/internal/errors"
	"github.com/raglite/raglite/internal/model"
)

// Clip is the multimodal embedder family. Text and images share one vector
// space: text goes through the hash projection, images are projected from
// their name-derived description plus a byte signature, so a caption-like
// query lands near the image it describes. A CLIP runtime with real weights
// plugs in behind the same interface.
type Clip struct {
	caps         Capabilities
	imageFormats []string

	mu     sync.RWMutex
	loaded bool
}

// NewClip builds an embedder for a CLIP registry entry.
func NewClip(spec model.Spec) *Clip {
	return &Clip{
		caps: Capabilities{
			Name:                  spec.Name,
			Type:                  model.TypeClip,
			Dimensions:            spec.Dimensions,
			SupportedContentTypes: append([]model.ContentType(nil), spec.SupportedContentTypes...),
			MaxTextLength:         spec.MaxTextLength,
			MaxBatchSize:          DefaultBatchSize,
		},
		imageFormats: append([]string(nil), spec.SupportedImageFormats...),
	}
}

// Capabilities returns the embedder capabilities.
func (e *Clip) Capabilities() Capabilities { return e.caps }

// EmbedText embeds a single text. Empty or whitespace-only input is rejected.
func (e *Clip) EmbedText(ctx context.Context, text string) (Result, error) {
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

// EmbedImage embeds the image at path into the shared vector space.
func (e *Clip) EmbedImage(ctx context.Context, path string) (Result, error) {
	if err := e.ready(ctx); err != nil {
		return Result{}, err
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if !e.supportsImageFormat(ext) {
		return Result{}, rlerrors.Newf(rlerrors.ErrCodeInvalidInput,
			"unsupported image format %q (supported: %s)", ext, strings.Join(e.imageFormats, ", "))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, rlerrors.New(rlerrors.ErrCodePathNotFound,
			"read image "+path+": "+err.Error(), err)
	}

	// Project the name-derived description so text queries land nearby, then
	// mix in a byte signature so distinct images with one name stay distinct.
	description := imageDescription(path)
	vec := projectText(description, e.caps.Dimensions)
	mixByteSignature(vec, data)

	return Result{
		EmbeddingID: uuid.NewString(),
		Vector:      normalizeVector(vec),
		Input:       Input{Content: path, ContentType: model.ContentTypeImage},
	}, nil
}

// EmbedBatch embeds the supported subset of items in input order. Image items
// carry the file path in Content.
func (e *Clip) EmbedBatch(ctx context.Context, items []Input) ([]Result, error) {
	if err := e.ready(ctx); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(items))
	for _, item := range items {
		if !e.caps.Supports(item.ContentType) {
			continue
		}

		var (
			res Result
			err error
		)
		if item.ContentType == model.ContentTypeImage {
			res, err = e.EmbedImage(ctx, item.Content)
		} else {
			res, err = e.EmbedText(ctx, item.Content)
		}
		if err != nil {
			return nil, err
		}
		res.Input = item
		results = append(results, res)
	}
	return results, nil
}

// Load marks the model ready.
func (e *Clip) Load(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = true
	return nil
}

// Unload releases the model.
func (e *Clip) Unload() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = false
	return nil
}

// IsLoaded reports whether Load has been called.
func (e *Clip) IsLoaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}

func (e *Clip) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !e.IsLoaded() {
		return rlerrors.Newf(rlerrors.ErrCodeModelLoadFailed,
			"embedder %s is not loaded", e.caps.Name)
	}
	return nil
}

func (e *Clip) supportsImageFormat(ext string) bool {
	for _, f := range e.imageFormats {
		if f == ext {
			return true
		}
	}
	return false
}

// imageDescription turns a file path into caption-like text:
// "photos/red-car.jpg" -> "red car".
func imageDescription(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	stem = strings.NewReplacer("-", " ", "_", " ", ".", " ").Replace(stem)
	return strings.TrimSpace(stem)
}

// mixByteSignature adds a low-weight component derived from the image bytes.
func mixByteSignature(vec []float32, data []byte) {
	const signatureWeight = 0.05
	const stride = 64

	for i := 0; i < len(data); i += stride {
		end := i + stride
		if end > len(data) {
			end = len(data)
		}
		vec[hashToIndex(string(data[i:end]), len(vec))] += signatureWeight
	}
}

var _ ImageEmbedder = (*Clip)(nil)
