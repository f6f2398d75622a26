package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rlerrors "github.com/raglite/raglite/internal/errors"
)

func TestLookup_CatalogEntries(t *testing.T) {
	tests := []struct {
		name       string
		dimensions int
		mode       Mode
		maxText    int
		rerank     RerankStrategy
	}{
		{MiniLML6V2, 384, ModeText, 512, RerankCrossEncoder},
		{MPNetBaseV2, 768, ModeText, 512, RerankCrossEncoder},
		{ClipVitBPatch32, 512, ModeMultimodal, 77, RerankTextDerived},
		{ClipVitBPatch16, 512, ModeMultimodal, 77, RerankTextDerived},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Lookup(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.dimensions, spec.Dimensions)
			assert.Equal(t, tt.mode, spec.Mode)
			assert.Equal(t, tt.maxText, spec.MaxTextLength)
			assert.Equal(t, tt.rerank, spec.DefaultRerankStrategy)
		})
	}
}

func TestLookup_UnknownListsCatalog(t *testing.T) {
	_, err := Lookup("bert-no-such-model")
	require.Error(t, err)
	assert.Equal(t, rlerrors.ErrCodeModelUnsupported, rlerrors.GetCode(err))
	for _, name := range Names() {
		assert.Contains(t, err.Error(), name)
	}
}

func TestClipEntries_AreCrossModal(t *testing.T) {
	for _, name := range []string{ClipVitBPatch32, ClipVitBPatch16} {
		spec, err := Lookup(name)
		require.NoError(t, err)
		assert.True(t, spec.CrossModal)
		assert.True(t, spec.SupportsImageFormat("jpg"))
		assert.True(t, spec.SupportsImageFormat(".PNG"))
		assert.False(t, spec.SupportsImageFormat("tiff"))
		assert.True(t, spec.SystemInfo().SupportsContentType(ContentTypeImage))
	}
}

func TestClipPatch16_NeedsMoreMemory(t *testing.T) {
	p32, err := Lookup(ClipVitBPatch32)
	require.NoError(t, err)
	p16, err := Lookup(ClipVitBPatch16)
	require.NoError(t, err)
	assert.Greater(t, p16.MinMemoryMiB, p32.MinMemoryMiB)
}

func TestDefaultChunkParams(t *testing.T) {
	size, overlap := DefaultChunkParams(384)
	assert.Equal(t, 250, size)
	assert.Equal(t, 50, overlap)

	size, overlap = DefaultChunkParams(768)
	assert.Equal(t, 400, size)
	assert.Equal(t, 80, overlap)
}

// fakeInfoStore implements SystemInfoStore in memory.
type fakeInfoStore struct {
	info *SystemInfo
}

func (f *fakeInfoStore) SystemInfo(_ context.Context) (*SystemInfo, error) {
	return f.info, nil
}

func (f *fakeInfoStore) StoreSystemInfo(_ context.Context, info SystemInfo) error {
	f.info = &info
	return nil
}

func TestDetect_DefaultIsNotMaterialized(t *testing.T) {
	s := &fakeInfoStore{}

	info, stored, err := Detect(context.Background(), s)
	require.NoError(t, err)

	assert.False(t, stored)
	assert.Equal(t, MiniLML6V2, info.ModelName)
	assert.Equal(t, 384, info.ModelDimensions)
	assert.Equal(t, RerankCrossEncoder, info.RerankingStrategy)
	assert.Nil(t, s.info, "detection must not write the singleton")
}

func TestDetect_ReturnsStoredInfo(t *testing.T) {
	s := &fakeInfoStore{}
	spec, err := Lookup(MPNetBaseV2)
	require.NoError(t, err)
	require.NoError(t, Store(context.Background(), s, spec.SystemInfo()))

	info, stored, err := Detect(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.Equal(t, MPNetBaseV2, info.ModelName)
	assert.Equal(t, 768, info.ModelDimensions)
}
