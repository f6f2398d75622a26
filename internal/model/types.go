// Package model holds the static catalog of supported embedding models and
// the mode/model identity a dataset is locked to.
package model

// Mode is the dataset-wide embedder family choice.
type Mode string

const (
	ModeText       Mode = "text"
	ModeMultimodal Mode = "multimodal"
)

// Type identifies the model family.
type Type string

const (
	TypeSentenceTransformer Type = "sentence-transformer"
	TypeClip                Type = "clip"
)

// ContentType classifies ingested content.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypePDF      ContentType = "pdf"
	ContentTypeDocx     ContentType = "docx"
	ContentTypeImage    ContentType = "image"
)

// RerankStrategy is the post-ANN reordering policy baked into a dataset.
type RerankStrategy string

const (
	RerankCrossEncoder RerankStrategy = "cross-encoder"
	RerankTextDerived  RerankStrategy = "text-derived"
	RerankDisabled     RerankStrategy = "disabled"
)

// SystemInfo is the singleton row that fixes the identity of a dataset.
// Written once on first ingest; changed only by an explicit rebuild.
type SystemInfo struct {
	Mode                  Mode
	ModelName             string
	ModelType             Type
	ModelDimensions       int
	SupportedContentTypes []ContentType
	RerankingStrategy     RerankStrategy
	ModelVersion          string
}

// SupportsContentType reports whether ct is in the dataset's supported set.
func (s SystemInfo) SupportsContentType(ct ContentType) bool {
	for _, c := range s.SupportedContentTypes {
		if c == ct {
			return true
		}
	}
	return false
}
