package rerank

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raglite/raglite/internal/model"
)

func textCandidates() []Candidate {
	return []Candidate{
		{EmbeddingID: "a", Content: "dogs chase balls in the park", Score: 0.9},
		{EmbeddingID: "b", Content: "cats sleep on warm windowsills", Score: 0.8},
		{EmbeddingID: "c", Content: "stock markets closed higher today", Score: 0.7},
	}
}

func TestForStrategy(t *testing.T) {
	assert.Equal(t, model.RerankCrossEncoder, ForStrategy(model.RerankCrossEncoder).Strategy())
	assert.Equal(t, model.RerankTextDerived, ForStrategy(model.RerankTextDerived).Strategy())
	assert.Equal(t, model.RerankDisabled, ForStrategy(model.RerankDisabled).Strategy())
	assert.Equal(t, model.RerankDisabled, ForStrategy("unknown").Strategy())
}

func TestDisabled_IsIdentity(t *testing.T) {
	in := textCandidates()
	out, err := (&Disabled{}).Rerank(context.Background(), "cats", in, "")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCrossEncoder_PromotesLexicalMatch(t *testing.T) {
	in := textCandidates()

	out, err := (&CrossEncoder{}).Rerank(context.Background(), "cats sleep", in, "")
	require.NoError(t, err)
	require.Len(t, out, len(in), "length never changes")

	assert.Equal(t, "b", out[0].EmbeddingID, "full lexical match wins despite lower ANN score")

	// A permutation of the input, no fabricated candidates.
	seen := map[string]bool{}
	for _, c := range out {
		seen[c.EmbeddingID] = true
	}
	assert.Len(t, seen, 3)
}

func TestCrossEncoder_FailsOnUnscorableQuery(t *testing.T) {
	_, err := (&CrossEncoder{}).Rerank(context.Background(), "!!!", textCandidates(), "")
	assert.Error(t, err, "caller falls back to pre-rerank order")
}

func TestCrossEncoder_EmptyCandidates(t *testing.T) {
	out, err := (&CrossEncoder{}).Rerank(context.Background(), "query", nil, "")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCrossEncoder_DoesNotMutateInput(t *testing.T) {
	in := textCandidates()
	origFirst := in[0].EmbeddingID
	origScore := in[0].Score

	_, err := (&CrossEncoder{}).Rerank(context.Background(), "cats sleep", in, "")
	require.NoError(t, err)

	assert.Equal(t, origFirst, in[0].EmbeddingID)
	assert.Equal(t, origScore, in[0].Score)
}

func TestTextDerived_ScoresImagesFromNameAndCaption(t *testing.T) {
	in := []Candidate{
		{
			EmbeddingID: "img-tree",
			Content:     "/data/content/green-tree.png",
			ContentType: model.ContentTypeImage,
			Source:      "/photos/green-tree.png",
			Score:       0.9,
		},
		{
			EmbeddingID: "img-car",
			Content:     "/data/content/red-car.jpg",
			ContentType: model.ContentTypeImage,
			Source:      "/photos/red-car.jpg",
			Metadata:    map[string]string{"caption": "red car"},
			Score:       0.85,
		},
	}

	out, err := (&TextDerived{}).Rerank(context.Background(), "red sports car", in, model.ContentTypeImage)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "img-car", out[0].EmbeddingID,
		"filename and caption text outweigh the prior ANN score")
}

func TestTextDerived_TextCandidatesScoreLikeCrossEncoder(t *testing.T) {
	out, err := (&TextDerived{}).Rerank(context.Background(), "cats sleep", textCandidates(), "")
	require.NoError(t, err)
	assert.Equal(t, "b", out[0].EmbeddingID)
}

func TestRerank_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&CrossEncoder{}).Rerank(ctx, "query", textCandidates(), "")
	assert.Error(t, err)
}
