package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	rlerrors "github.com/raglite/raglite/internal/errors"
	"github.com/raglite/raglite/internal/model"
)

// DefaultVectorCacheSize is the default number of cached vectors.
// At 768 dimensions * 4 bytes * 1000 entries it is roughly 3MB of memory.
const DefaultVectorCacheSize = 1000

// Cached wraps an Embedder with LRU caching of text vectors, so repeated
// queries skip the model. Only the vector is cached; every result still gets
// a fresh embedding id, since ids must be unique per chunk.
type Cached struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCached creates a caching wrapper. cacheSize <= 0 uses the default.
func NewCached(inner Embedder, cacheSize int) *Cached {
	if cacheSize <= 0 {
		cacheSize = DefaultVectorCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &Cached{inner: inner, cache: cache}
}

// cacheKey mixes the text with the model name so one cache can serve several
// embedders.
func (c *Cached) cacheKey(text string) string {
	combined := text + "\x00" + c.inner.Capabilities().Name
	sum := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(sum[:])
}

// Capabilities passes through to the inner embedder.
func (c *Cached) Capabilities() Capabilities { return c.inner.Capabilities() }

// EmbedText returns a cached vector when available.
func (c *Cached) EmbedText(ctx context.Context, text string) (Result, error) {
	key := c.cacheKey(text)

	if vec, ok := c.cache.Get(key); ok {
		return Result{
			EmbeddingID: uuid.NewString(),
			Vector:      vec,
			Input:       Input{Content: text, ContentType: model.ContentTypeText},
		}, nil
	}

	res, err := c.inner.EmbedText(ctx, text)
	if err != nil {
		return Result{}, err
	}

	c.cache.Add(key, res.Vector)
	return res, nil
}

// EmbedBatch checks the cache per item and only sends misses to the model.
func (c *Cached) EmbedBatch(ctx context.Context, items []Input) ([]Result, error) {
	if len(items) == 0 {
		return []Result{}, nil
	}

	results := make([]Result, len(items))
	hit := make([]bool, len(items))
	var missed []Input
	var missedIdx []int

	for i, item := range items {
		if item.ContentType != model.ContentTypeImage {
			if vec, ok := c.cache.Get(c.cacheKey(item.Content)); ok {
				results[i] = Result{EmbeddingID: uuid.NewString(), Vector: vec, Input: item}
				hit[i] = true
				continue
			}
		}
		missed = append(missed, item)
		missedIdx = append(missedIdx, i)
	}

	if len(missed) > 0 {
		fresh, err := c.inner.EmbedBatch(ctx, missed)
		if err != nil {
			return nil, err
		}

		// The inner embedder filters unsupported types, so walk both slices.
		fi := 0
		for _, idx := range missedIdx {
			if fi >= len(fresh) {
				break
			}
			if fresh[fi].Input == items[idx] {
				results[idx] = fresh[fi]
				hit[idx] = true
				if items[idx].ContentType != model.ContentTypeImage {
					c.cache.Add(c.cacheKey(items[idx].Content), fresh[fi].Vector)
				}
				fi++
			}
		}
	}

	out := make([]Result, 0, len(items))
	for i := range items {
		if hit[i] {
			out = append(out, results[i])
		}
	}
	return out, nil
}

// EmbedImage passes through when the inner embedder is multimodal. Image
// vectors are not cached; image bytes change independently of the path.
func (c *Cached) EmbedImage(ctx context.Context, path string) (Result, error) {
	ie, ok := c.inner.(ImageEmbedder)
	if !ok {
		return Result{}, rlerrors.Newf(rlerrors.ErrCodeInvalidInput,
			"embedder %s does not support images", c.inner.Capabilities().Name)
	}
	return ie.EmbedImage(ctx, path)
}

// Load passes through to the inner embedder.
func (c *Cached) Load(ctx context.Context) error { return c.inner.Load(ctx) }

// Unload passes through to the inner embedder.
func (c *Cached) Unload() error { return c.inner.Unload() }

// IsLoaded passes through to the inner embedder.
func (c *Cached) IsLoaded() bool { return c.inner.IsLoaded() }

// Inner returns the wrapped embedder.
func (c *Cached) Inner() Embedder { return c.inner }

var _ Embedder = (*Cached)(nil)
