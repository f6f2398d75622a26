// Package rerank implements the post-ANN reordering strategies. Rerank
// failures are recoverable: callers fall back to the pre-rerank order and
// surface a warning instead of failing the query.
package rerank

import (
	"context"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	rlerrors "github.com/raglite/raglite/internal/errors"
	"github.com/raglite/raglite/internal/model"
)

// Candidate is one search result entering the reranker.
type Candidate struct {
	EmbeddingID string
	Content     string
	ContentType model.ContentType
	Source      string
	Title       string
	Metadata    map[string]string
	Score       float32
}

// Reranker reorders candidates by relevance to the query. The output is a
// permutation of the input with possibly updated scores; the length never
// changes and no candidates are fabricated.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate, contentType model.ContentType) ([]Candidate, error)
	Strategy() model.RerankStrategy
	Close() error
}

// ForStrategy returns the reranker for a dataset's stored strategy.
func ForStrategy(strategy model.RerankStrategy) Reranker {
	switch strategy {
	case model.RerankCrossEncoder:
		return &CrossEncoder{}
	case model.RerankTextDerived:
		return &TextDerived{}
	default:
		return &Disabled{}
	}
}

// CrossEncoder scores each (query, candidate text) pair jointly. The built-in
// scorer is lexical; a weight-backed cross-encoder plugs in behind the same
// interface.
type CrossEncoder struct{}

// Rerank scores candidates against the query and sorts descending. The
// original ANN score is blended in so lexical ties keep their vector order.
func (r *CrossEncoder) Rerank(ctx context.Context, query string, candidates []Candidate, _ model.ContentType) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []Candidate{}, nil
	}

	queryTokens := tokenSet(query)
	if len(queryTokens) == 0 {
		return nil, rlerrors.Newf(rlerrors.ErrCodeRerankFailed, "query has no scorable tokens")
	}

	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		lexical := overlapScore(queryTokens, out[i].Content)
		out[i].Score = 0.5*out[i].Score + 0.5*lexical
	}

	sortByScore(out)
	return out, nil
}

// Strategy identifies this reranker.
func (r *CrossEncoder) Strategy() model.RerankStrategy { return model.RerankCrossEncoder }

// Close releases resources.
func (r *CrossEncoder) Close() error { return nil }

// TextDerived scores image candidates through a textual description derived
// from the file name and metadata (plus a caption when one was extracted at
// ingest time). Text candidates score like the cross-encoder.
type TextDerived struct{}

// Rerank scores candidates and sorts descending.
func (r *TextDerived) Rerank(ctx context.Context, query string, candidates []Candidate, _ model.ContentType) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []Candidate{}, nil
	}

	queryTokens := tokenSet(query)
	if len(queryTokens) == 0 {
		return nil, rlerrors.Newf(rlerrors.ErrCodeRerankFailed, "query has no scorable tokens")
	}

	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		text := out[i].Content
		if out[i].ContentType == model.ContentTypeImage {
			text = describeImage(out[i])
		}
		lexical := overlapScore(queryTokens, text)
		out[i].Score = 0.5*out[i].Score + 0.5*lexical
	}

	sortByScore(out)
	return out, nil
}

// Strategy identifies this reranker.
func (r *TextDerived) Strategy() model.RerankStrategy { return model.RerankTextDerived }

// Close releases resources.
func (r *TextDerived) Close() error { return nil }

// describeImage builds the scoring text for an image candidate.
func describeImage(c Candidate) string {
	var parts []string
	stem := strings.TrimSuffix(filepath.Base(c.Source), filepath.Ext(c.Source))
	parts = append(parts, strings.NewReplacer("-", " ", "_", " ").Replace(stem))
	if c.Title != "" {
		parts = append(parts, c.Title)
	}
	if caption, ok := c.Metadata["caption"]; ok {
		parts = append(parts, caption)
	}
	return strings.Join(parts, " ")
}

// Disabled returns candidates unchanged.
type Disabled struct{}

// Rerank is the identity.
func (r *Disabled) Rerank(_ context.Context, _ string, candidates []Candidate, _ model.ContentType) ([]Candidate, error) {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	return out, nil
}

// Strategy identifies this reranker.
func (r *Disabled) Strategy() model.RerankStrategy { return model.RerankDisabled }

// Close releases resources.
func (r *Disabled) Close() error { return nil }

var wordPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if len(w) > 1 {
			set[w] = true
		}
	}
	return set
}

// overlapScore is the fraction of query tokens present in the text.
func overlapScore(queryTokens map[string]bool, text string) float32 {
	if len(queryTokens) == 0 {
		return 0
	}
	textTokens := tokenSet(text)
	matched := 0
	for t := range queryTokens {
		if textTokens[t] {
			matched++
		}
	}
	return float32(matched) / float32(len(queryTokens))
}

// sortByScore sorts descending, breaking ties by embedding id for
// deterministic output.
func sortByScore(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].EmbeddingID < candidates[j].EmbeddingID
	})
}

var (
	_ Reranker = (*CrossEncoder)(nil)
	_ Reranker = (*TextDerived)(nil)
	_ Reranker = (*Disabled)(nil)
)
