package model

import (
	"sort"
	"strings"

	rlerrors "github.com/raglite/raglite/internal/errors"
)

// Model names in the registry.
const (
	MiniLML6V2       = "MiniLM-L6-v2"
	MPNetBaseV2      = "mpnet-base-v2"
	ClipVitBPatch32  = "clip-vit-base-patch32"
	ClipVitBPatch16  = "clip-vit-base-patch16"
	DefaultModelName = MiniLML6V2
)

// Spec describes one supported embedding model.
type Spec struct {
	Name                  string
	Type                  Type
	Mode                  Mode
	Dimensions            int
	SupportedContentTypes []ContentType
	MaxTextLength         int
	MinMemoryMiB          int
	DefaultRerankStrategy RerankStrategy
	SupportedImageFormats []string
	CrossModal            bool
}

// SystemInfo derives the dataset identity a fresh ingest with this model
// produces.
func (s Spec) SystemInfo() SystemInfo {
	return SystemInfo{
		Mode:                  s.Mode,
		ModelName:             s.Name,
		ModelType:             s.Type,
		ModelDimensions:       s.Dimensions,
		SupportedContentTypes: append([]ContentType(nil), s.SupportedContentTypes...),
		RerankingStrategy:     s.DefaultRerankStrategy,
	}
}

// SupportsImageFormat reports whether ext (without dot, case-insensitive) is an
// accepted image format.
func (s Spec) SupportsImageFormat(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, f := range s.SupportedImageFormats {
		if f == ext {
			return true
		}
	}
	return false
}

var textContentTypes = []ContentType{
	ContentTypeText, ContentTypeMarkdown, ContentTypePDF, ContentTypeDocx,
}

var multimodalContentTypes = []ContentType{
	ContentTypeText, ContentTypeMarkdown, ContentTypePDF, ContentTypeDocx, ContentTypeImage,
}

var clipImageFormats = []string{"jpg", "jpeg", "png", "webp", "gif"}

// registry is the static catalog built at startup.
var registry = map[string]Spec{
	MiniLML6V2: {
		Name:                  MiniLML6V2,
		Type:                  TypeSentenceTransformer,
		Mode:                  ModeText,
		Dimensions:            384,
		SupportedContentTypes: textContentTypes,
		MaxTextLength:         512,
		MinMemoryMiB:          256,
		DefaultRerankStrategy: RerankCrossEncoder,
	},
	MPNetBaseV2: {
		Name:                  MPNetBaseV2,
		Type:                  TypeSentenceTransformer,
		Mode:                  ModeText,
		Dimensions:            768,
		SupportedContentTypes: textContentTypes,
		MaxTextLength:         512,
		MinMemoryMiB:          512,
		DefaultRerankStrategy: RerankCrossEncoder,
	},
	ClipVitBPatch32: {
		Name:                  ClipVitBPatch32,
		Type:                  TypeClip,
		Mode:                  ModeMultimodal,
		Dimensions:            512,
		SupportedContentTypes: multimodalContentTypes,
		MaxTextLength:         77,
		MinMemoryMiB:          1024,
		DefaultRerankStrategy: RerankTextDerived,
		SupportedImageFormats: clipImageFormats,
		CrossModal:            true,
	},
	ClipVitBPatch16: {
		Name:                  ClipVitBPatch16,
		Type:                  TypeClip,
		Mode:                  ModeMultimodal,
		Dimensions:            512,
		SupportedContentTypes: multimodalContentTypes,
		MaxTextLength:         77,
		MinMemoryMiB:          2048,
		DefaultRerankStrategy: RerankTextDerived,
		SupportedImageFormats: clipImageFormats,
		CrossModal:            true,
	},
}

// Names returns the catalog names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the registry entry for name, or a ModelUnsupported error
// listing the catalog.
func Lookup(name string) (Spec, error) {
	if spec, ok := registry[name]; ok {
		return spec, nil
	}
	err := rlerrors.Newf(rlerrors.ErrCodeModelUnsupported,
		"model %q is not supported (available: %s)", name, strings.Join(Names(), ", "))
	err.Suggestion = "pick one of the listed models"
	return Spec{}, err
}

// DefaultChunkParams returns the chunk size and overlap defaults for a model's
// dimensionality.
func DefaultChunkParams(dimensions int) (size, overlap int) {
	if dimensions >= 768 {
		return 400, 80
	}
	return 250, 50
}
