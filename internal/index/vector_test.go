package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rlerrors "github.com/raglite/raglite/internal/errors"
)

func newTestIndex(t *testing.T, dims int) *VectorIndex {
	t.Helper()
	x, err := New(DefaultConfig(dims))
	require.NoError(t, err)
	return x
}

func TestVectorIndex_AddAndSearch(t *testing.T) {
	x := newTestIndex(t, 3)

	require.NoError(t, x.Add([]Entry{
		{ID: 1, Vector: []float32{1, 0, 0}},
		{ID: 2, Vector: []float32{0, 1, 0}},
		{ID: 3, Vector: []float32{0.9, 0.1, 0}},
	}))
	assert.Equal(t, 3, x.Count())

	ids, dists, err := x.Search([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.Len(t, dists, 2)

	assert.Equal(t, uint32(1), ids[0], "exact match first")
	assert.Equal(t, uint32(3), ids[1])
	assert.Less(t, dists[0], dists[1], "distances ascend")
}

func TestVectorIndex_SearchEmptyGraph(t *testing.T) {
	x := newTestIndex(t, 4)

	ids, dists, err := x.Search([]float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, dists)
}

func TestVectorIndex_DimensionMismatch(t *testing.T) {
	x := newTestIndex(t, 4)

	err := x.Add([]Entry{{ID: 1, Vector: []float32{1, 2}}})
	require.Error(t, err)
	assert.Equal(t, rlerrors.ErrCodeIndexDimensionMismatch, rlerrors.GetCode(err))

	_, _, err = x.Search([]float32{1, 2, 3}, 1)
	require.Error(t, err)
	assert.Equal(t, rlerrors.ErrCodeIndexDimensionMismatch, rlerrors.GetCode(err))
}

func TestVectorIndex_ZeroDimensionsRejected(t *testing.T) {
	_, err := New(Config{Dimensions: 0})
	assert.Error(t, err)
}

func TestVectorIndex_CapacityGrowth(t *testing.T) {
	cfg := DefaultConfig(2)
	cfg.MaxElements = 9
	x, err := New(cfg)
	require.NoError(t, err)

	entries := make([]Entry, 9)
	for i := range entries {
		entries[i] = Entry{ID: uint32(i), Vector: []float32{float32(i), 1}}
	}
	// 9 > 0.9 * 9 = 8.1 crosses the occupancy threshold: capacity grows to
	// ceil(9 * 1.5) = 14.
	require.NoError(t, x.Add(entries))

	assert.Equal(t, uint32(14), x.Config().MaxElements)
	assert.Equal(t, 9, x.Count())

	// Every prior id survives the growth.
	for i := range entries {
		assert.True(t, x.Contains(uint32(i)))
	}
}

func TestVectorIndex_CapacityStableBelowThreshold(t *testing.T) {
	cfg := DefaultConfig(2)
	cfg.MaxElements = 1000
	x, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, x.Add([]Entry{{ID: 1, Vector: []float32{1, 2}}}))
	assert.Equal(t, uint32(1000), x.Config().MaxElements)
}

func TestVectorIndex_EntriesKeepInsertionOrder(t *testing.T) {
	x := newTestIndex(t, 2)

	require.NoError(t, x.Add([]Entry{
		{ID: 5, Vector: []float32{1, 0}},
		{ID: 2, Vector: []float32{0, 1}},
		{ID: 9, Vector: []float32{1, 1}},
	}))

	entries := x.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, uint32(5), entries[0].ID)
	assert.Equal(t, uint32(2), entries[1].ID)
	assert.Equal(t, uint32(9), entries[2].ID)
}

func TestVectorIndex_CosineNormalization(t *testing.T) {
	x := newTestIndex(t, 2)

	// Same direction, different magnitude: cosine treats them as identical.
	require.NoError(t, x.Add([]Entry{{ID: 1, Vector: []float32{10, 0}}}))

	_, dists, err := x.Search([]float32{0.5, 0}, 1)
	require.NoError(t, err)
	require.Len(t, dists, 1)
	assert.InDelta(t, 0.0, float64(dists[0]), 1e-5)
}

func TestVectorIndex_ExportImportRoundTrip(t *testing.T) {
	x := newTestIndex(t, 3)
	require.NoError(t, x.Add([]Entry{
		{ID: 1, Vector: []float32{1, 0, 0}},
		{ID: 2, Vector: []float32{0, 1, 0}},
	}))

	blob, err := x.ExportGraph()
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	restored, err := FromBlob(DefaultConfig(3), blob)
	require.NoError(t, err)

	ids, _, err := restored.Search([]float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, uint32(1), ids[0])
}

func TestVectorIndex_ClosedErrors(t *testing.T) {
	x := newTestIndex(t, 2)
	require.NoError(t, x.Close())
	require.NoError(t, x.Close(), "close is idempotent")

	assert.Error(t, x.Add([]Entry{{ID: 1, Vector: []float32{1, 0}}}))
	_, _, err := x.Search([]float32{1, 0}, 1)
	assert.Error(t, err)
}

func TestDistanceToScore(t *testing.T) {
	assert.InDelta(t, 1.0, float64(DistanceToScore(0, MetricCosine)), 1e-6)
	assert.InDelta(t, 0.5, float64(DistanceToScore(0.5, MetricCosine)), 1e-6)
	assert.InDelta(t, 1.0, float64(DistanceToScore(0, MetricL2)), 1e-6)
	assert.InDelta(t, 0.5, float64(DistanceToScore(1, MetricL2)), 1e-6)
}
