// Package chunk splits document text into token-bounded, overlapping chunks.
// Sentence boundaries are preserved where possible; markdown gets header-aware
// preprocessing before token windowing.
package chunk

// Default chunking parameters per model dimensionality.
const (
	// DefaultChunkSize384 and DefaultOverlap384 apply to 384-d models.
	DefaultChunkSize384 = 250
	DefaultOverlap384   = 50

	// DefaultChunkSize768 and DefaultOverlap768 apply to 768-d models.
	DefaultChunkSize768 = 400
	DefaultOverlap768   = 80
)

// Options configures the chunker.
type Options struct {
	// Size is the target chunk size in tokens.
	Size int
	// Overlap is the number of tokens shared between adjacent chunks.
	Overlap int
}

// Chunk is one produced span.
type Chunk struct {
	// Content is the chunk text.
	Content string
	// Index is the zero-based position within the document.
	Index int
	// Metadata carries extraction context (e.g. markdown header path).
	Metadata map[string]string
}

// TokenCounter counts tokens in a string.
type TokenCounter interface {
	Count(text string) int
}

// SentenceSplitter splits text into sentences.
type SentenceSplitter func(text string) []string
