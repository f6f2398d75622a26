package embed

import (
	"context"

	rlerrors "github.com/raglite/raglite/internal/errors"
	"github.com/raglite/raglite/internal/model"
)

// ForModel constructs and loads the embedder for a registry entry. This is
// the only place that decides between model families; callers hold a plain
// Embedder afterwards.
func ForModel(ctx context.Context, spec model.Spec) (Embedder, error) {
	var e Embedder
	switch spec.Type {
	case model.TypeSentenceTransformer:
		e = NewSentenceTransformer(spec)
	case model.TypeClip:
		e = NewClip(spec)
	default:
		return nil, rlerrors.Newf(rlerrors.ErrCodeModelUnsupported,
			"unknown model type %q", spec.Type)
	}

	if err := e.Load(ctx); err != nil {
		return nil, rlerrors.New(rlerrors.ErrCodeModelLoadFailed,
			"load model "+spec.Name+": "+err.Error(), err)
	}
	return e, nil
}
