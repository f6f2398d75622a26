package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rlerrors "github.com/raglite/raglite/internal/errors"
)

func testHeader(dims uint16) Header {
	return Header{
		Version:        FormatVersion,
		Dimensions:     dims,
		MaxElements:    100_000,
		M:              16,
		EfConstruction: 200,
		Seed:           100,
		CurrentSize:    2,
	}
}

func TestFormat_RoundTripWithoutGroups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")

	in := &File{
		Header:   testHeader(4),
		HNSWBlob: []byte{0xde, 0xad, 0xbe, 0xef, 0x01},
	}
	require.NoError(t, Write(path, in))

	out, err := Read(path)
	require.NoError(t, err)

	assert.Equal(t, in.Header.Version, out.Header.Version)
	assert.Equal(t, in.Header.Dimensions, out.Header.Dimensions)
	assert.Equal(t, in.Header.MaxElements, out.Header.MaxElements)
	assert.Equal(t, in.Header.M, out.Header.M)
	assert.Equal(t, in.Header.EfConstruction, out.Header.EfConstruction)
	assert.Equal(t, in.Header.Seed, out.Header.Seed)
	assert.Equal(t, in.Header.CurrentSize, out.Header.CurrentSize)
	assert.Equal(t, in.HNSWBlob, out.HNSWBlob)
	assert.False(t, out.HasGroups())
	assert.Nil(t, out.Groups)
}

func TestFormat_RoundTripWithGroups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")

	in := &File{
		Header:   testHeader(3),
		HNSWBlob: []byte{1, 2, 3},
		Groups: &GroupedVectors{
			Text: []VectorEntry{
				{ID: 7, Vector: []float32{0.1, 0.2, 0.3}},
				{ID: 9, Vector: []float32{-1, 0, 1}},
			},
			Image: []VectorEntry{
				{ID: 42, Vector: []float32{0.5, 0.5, 0.5}},
			},
		},
	}
	require.NoError(t, Write(path, in))

	out, err := Read(path)
	require.NoError(t, err)

	assert.True(t, out.HasGroups())
	require.NotNil(t, out.Groups)
	assert.Equal(t, in.Groups.Text, out.Groups.Text)
	assert.Equal(t, in.Groups.Image, out.Groups.Image)
}

func TestFormat_EmptyGroupsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")

	in := &File{
		Header:   testHeader(2),
		HNSWBlob: nil,
		Groups:   &GroupedVectors{Text: []VectorEntry{}, Image: []VectorEntry{}},
	}
	require.NoError(t, Write(path, in))

	out, err := Read(path)
	require.NoError(t, err)
	assert.True(t, out.HasGroups())
	assert.Empty(t, out.Groups.Text)
	assert.Empty(t, out.Groups.Image)
}

func TestFormat_BadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")
	require.NoError(t, os.WriteFile(path, []byte("NOPE followed by junk data"), 0o644))

	_, err := Read(path)
	require.Error(t, err)
	assert.Equal(t, rlerrors.ErrCodeIndexCorrupt, rlerrors.GetCode(err))
}

func TestFormat_UnsupportedVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")

	in := &File{Header: testHeader(4), HNSWBlob: []byte{1}}
	in.Header.Version = 99
	require.NoError(t, Write(path, in))

	_, err := Read(path)
	require.Error(t, err)
	assert.Equal(t, rlerrors.ErrCodeIndexCorrupt, rlerrors.GetCode(err))
}

func TestFormat_TruncatedPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")

	in := &File{Header: testHeader(4), HNSWBlob: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	require.NoError(t, Write(path, in))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-4], 0o644))

	_, err = Read(path)
	require.Error(t, err)
	assert.Equal(t, rlerrors.ErrCodeIndexTruncated, rlerrors.GetCode(err))
}

func TestFormat_TruncatedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")
	require.NoError(t, os.WriteFile(path, []byte("RLI2\x02\x00"), 0o644))

	_, err := Read(path)
	require.Error(t, err)
	assert.Equal(t, rlerrors.ErrCodeIndexTruncated, rlerrors.GetCode(err))
}

func TestFormat_MissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.bin"))
	require.Error(t, err)
	assert.Equal(t, rlerrors.ErrCodePathNotFound, rlerrors.GetCode(err))
}

func TestFormat_AtomicWriteLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.bin")

	require.NoError(t, Write(path, &File{Header: testHeader(4), HNSWBlob: []byte{1}}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "index.bin", entries[0].Name())
}
