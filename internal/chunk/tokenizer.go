package chunk

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/neurosnap/sentences/english"
	"github.com/pkoukk/tiktoken-go"
)

// TiktokenCounter counts tokens with the cl100k_base BPE encoding.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter creates a tiktoken-backed counter. Fails when the BPE
// data is unavailable (e.g. offline without a cache); callers fall back to
// the heuristic counter.
func NewTiktokenCounter() (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{encoding: enc}, nil
}

// Count returns the BPE token count.
func (t *TiktokenCounter) Count(text string) int {
	return len(t.encoding.Encode(text, nil, nil))
}

// HeuristicCounter approximates token counts from whitespace words. English
// prose averages roughly 0.75 words per BPE token, so the word count is
// scaled by 4/3.
type HeuristicCounter struct{}

// Count returns the approximate token count.
func (HeuristicCounter) Count(text string) int {
	words := len(strings.Fields(text))
	return (words*4 + 2) / 3
}

var (
	counterOnce    sync.Once
	defaultCounter TokenCounter
)

// DefaultTokenCounter returns the process-wide counter: tiktoken when its
// encoding data is available, the heuristic otherwise.
func DefaultTokenCounter() TokenCounter {
	counterOnce.Do(func() {
		tk, err := NewTiktokenCounter()
		if err != nil {
			slog.Debug("tiktoken unavailable, using heuristic token counter",
				slog.String("error", err.Error()))
			defaultCounter = HeuristicCounter{}
			return
		}
		defaultCounter = tk
	})
	return defaultCounter
}

// DefaultSentenceSplitter segments text with the embedded English Punkt data.
// Falls back to punctuation splitting if the tokenizer cannot be built.
func DefaultSentenceSplitter() SentenceSplitter {
	tokenizer, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		slog.Debug("sentence tokenizer unavailable, using punctuation splitter",
			slog.String("error", err.Error()))
		return punctuationSplitter
	}
	return func(text string) []string {
		sents := tokenizer.Tokenize(text)
		out := make([]string, 0, len(sents))
		for _, s := range sents {
			if t := strings.TrimSpace(s.Text); t != "" {
				out = append(out, t)
			}
		}
		return out
	}
}

// punctuationSplitter is the crude fallback: split on ., !, ? keeping
// non-empty parts.
func punctuationSplitter(text string) []string {
	var out []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if t := strings.TrimSpace(current.String()); t != "" {
				out = append(out, t)
			}
			current.Reset()
		}
	}
	if t := strings.TrimSpace(current.String()); t != "" {
		out = append(out, t)
	}
	return out
}
