package chunk

import (
	"strings"

	rlerrors "github.com/raglite/raglite/internal/errors"
)

// TextChunker is a token-aware sentence-window splitter. Sentences are packed
// into chunks up to Size tokens; each new chunk starts with the trailing
// sentences of the previous one, up to Overlap tokens.
type TextChunker struct {
	opts     Options
	counter  TokenCounter
	splitter SentenceSplitter
}

// NewTextChunker creates a chunker. A zero Size uses the 384-d default size;
// a zero Overlap means no overlap. Counter and splitter default to the
// package-level ones.
func NewTextChunker(opts Options) (*TextChunker, error) {
	if opts.Size == 0 {
		opts.Size = DefaultChunkSize384
	}
	if opts.Size < 0 || opts.Overlap < 0 {
		return nil, rlerrors.Newf(rlerrors.ErrCodeInvalidRange,
			"chunk size and overlap must not be negative")
	}
	if opts.Overlap >= opts.Size {
		return nil, rlerrors.Newf(rlerrors.ErrCodeInvalidRange,
			"chunk overlap %d must be smaller than chunk size %d", opts.Overlap, opts.Size)
	}

	return &TextChunker{
		opts:     opts,
		counter:  DefaultTokenCounter(),
		splitter: DefaultSentenceSplitter(),
	}, nil
}

// WithTokenCounter overrides the token counter (tests use the heuristic for
// determinism).
func (c *TextChunker) WithTokenCounter(counter TokenCounter) *TextChunker {
	c.counter = counter
	return c
}

// WithSentenceSplitter overrides the sentence splitter.
func (c *TextChunker) WithSentenceSplitter(splitter SentenceSplitter) *TextChunker {
	c.splitter = splitter
	return c
}

// Options returns the effective options.
func (c *TextChunker) Options() Options { return c.opts }

// Chunk splits plain text. Empty or whitespace-only input yields no chunks.
func (c *TextChunker) Chunk(text string) []Chunk {
	return c.chunkWithMetadata(text, nil, 0)
}

// chunkWithMetadata packs sentences into token windows, attaching meta to
// every produced chunk and numbering from startIndex.
func (c *TextChunker) chunkWithMetadata(text string, meta map[string]string, startIndex int) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	sentences := c.splitter(text)
	if len(sentences) == 0 {
		return nil
	}

	tokenCounts := make([]int, len(sentences))
	for i, s := range sentences {
		tokenCounts[i] = c.counter.Count(s)
	}

	var (
		chunks  []Chunk
		start   = 0 // first sentence of the current chunk
		current = 0 // token count of the current chunk
		end     = 0 // one past the last sentence in the current chunk
	)

	flush := func() {
		if end <= start {
			return
		}
		content := strings.TrimSpace(strings.Join(sentences[start:end], " "))
		if content == "" {
			return
		}
		chunks = append(chunks, Chunk{
			Content:  content,
			Index:    startIndex + len(chunks),
			Metadata: cloneMeta(meta),
		})
	}

	for i := range sentences {
		// An oversized single sentence becomes its own chunk rather than
		// being dropped.
		if current > 0 && current+tokenCounts[i] > c.opts.Size {
			flush()

			// Walk back to build the overlap window.
			overlapStart := end
			overlapTokens := 0
			for overlapStart > start && overlapTokens+tokenCounts[overlapStart-1] <= c.opts.Overlap {
				overlapStart--
				overlapTokens += tokenCounts[overlapStart]
			}
			start = overlapStart
			current = overlapTokens
		}
		current += tokenCounts[i]
		end = i + 1
	}
	flush()

	return chunks
}

func cloneMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
