// Package index owns the persistent vector index: the RLI2 binary file
// format, the HNSW graph wrapper, and the per-dataset index manager.
package index

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	rlerrors "github.com/raglite/raglite/internal/errors"
)

// Binary format constants. One file, little-endian, fixed header then payload.
const (
	// Magic identifies a raglite index file.
	Magic = "RLI2"
	// FormatVersion is the current format version.
	FormatVersion uint16 = 2

	// FlagContentTypeGroups marks the optional grouped-vector payload section.
	FlagContentTypeGroups uint16 = 1 << 0
)

// Header is the fixed-size index file header.
type Header struct {
	Version        uint16
	Dimensions     uint16
	MaxElements    uint32
	M              uint16
	EfConstruction uint16
	Seed           uint32
	CurrentSize    uint32
	Flags          uint16
	HNSWBlobLen    uint64
}

// VectorEntry is one (numeric id, vector) tuple in a grouped payload.
type VectorEntry struct {
	ID     uint32
	Vector []float32
}

// GroupedVectors is the optional per-content-type payload written for
// multimodal datasets. It enables dual-graph search without re-deriving the
// grouping from the metadata store.
type GroupedVectors struct {
	Text  []VectorEntry
	Image []VectorEntry
}

// File is a decoded index file.
type File struct {
	Header   Header
	HNSWBlob []byte
	Groups   *GroupedVectors
}

// HasGroups reports whether the grouped payload section is present.
func (f *File) HasGroups() bool {
	return f.Header.Flags&FlagContentTypeGroups != 0
}

// Write serializes the file to path atomically (temp file + rename).
func Write(path string, f *File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return rlerrors.Wrap(rlerrors.ErrCodePermissionDenied, err)
	}

	var buf bytes.Buffer
	if err := encode(&buf, f); err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o644); err != nil {
		return rlerrors.Wrap(rlerrors.ErrCodePermissionDenied, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return rlerrors.Wrap(rlerrors.ErrCodePermissionDenied, err)
	}
	return nil
}

// Read loads and validates an index file. Files without the grouped payload
// section (flag bit 0 cleared) are accepted.
func Read(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, rlerrors.Wrap(rlerrors.ErrCodePathNotFound, err)
		}
		return nil, rlerrors.Wrap(rlerrors.ErrCodePermissionDenied, err)
	}
	defer fh.Close()

	return decode(bufio.NewReader(fh))
}

func encode(w io.Writer, f *File) error {
	if _, err := w.Write([]byte(Magic)); err != nil {
		return rlerrors.Wrap(rlerrors.ErrCodeInternal, err)
	}

	h := f.Header
	h.HNSWBlobLen = uint64(len(f.HNSWBlob))
	if f.Groups != nil {
		h.Flags |= FlagContentTypeGroups
	} else {
		h.Flags &^= FlagContentTypeGroups
	}

	fields := []any{
		h.Version, h.Dimensions, h.MaxElements, h.M, h.EfConstruction,
		h.Seed, h.CurrentSize, h.Flags, h.HNSWBlobLen,
	}
	for _, field := range fields {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return rlerrors.Wrap(rlerrors.ErrCodeInternal, err)
		}
	}

	if _, err := w.Write(f.HNSWBlob); err != nil {
		return rlerrors.Wrap(rlerrors.ErrCodeInternal, err)
	}

	if f.Groups != nil {
		for _, group := range [][]VectorEntry{f.Groups.Text, f.Groups.Image} {
			if err := binary.Write(w, binary.LittleEndian, uint32(len(group))); err != nil {
				return rlerrors.Wrap(rlerrors.ErrCodeInternal, err)
			}
			for _, entry := range group {
				if len(entry.Vector) != int(h.Dimensions) {
					return rlerrors.Newf(rlerrors.ErrCodeIndexDimensionMismatch,
						"grouped vector %d has %d dimensions, header says %d",
						entry.ID, len(entry.Vector), h.Dimensions)
				}
				if err := binary.Write(w, binary.LittleEndian, entry.ID); err != nil {
					return rlerrors.Wrap(rlerrors.ErrCodeInternal, err)
				}
				for _, v := range entry.Vector {
					if err := binary.Write(w, binary.LittleEndian, math.Float32bits(v)); err != nil {
						return rlerrors.Wrap(rlerrors.ErrCodeInternal, err)
					}
				}
			}
		}
	}

	return nil
}

func decode(r io.Reader) (*File, error) {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, truncated(err)
	}
	if string(magic) != Magic {
		return nil, rlerrors.Newf(rlerrors.ErrCodeIndexCorrupt,
			"bad magic %q (want %q)", magic, Magic)
	}

	var h Header
	fields := []any{
		&h.Version, &h.Dimensions, &h.MaxElements, &h.M, &h.EfConstruction,
		&h.Seed, &h.CurrentSize, &h.Flags, &h.HNSWBlobLen,
	}
	for _, field := range fields {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return nil, truncated(err)
		}
	}

	if h.Version != FormatVersion {
		return nil, rlerrors.Newf(rlerrors.ErrCodeIndexCorrupt,
			"unsupported index version %d (want %d)", h.Version, FormatVersion)
	}
	if h.Dimensions == 0 {
		return nil, rlerrors.Newf(rlerrors.ErrCodeIndexCorrupt, "header declares zero dimensions")
	}

	blob := make([]byte, h.HNSWBlobLen)
	if _, err := io.ReadFull(r, blob); err != nil {
		return nil, truncated(err)
	}

	f := &File{Header: h, HNSWBlob: blob}

	if h.Flags&FlagContentTypeGroups != 0 {
		groups := &GroupedVectors{}
		for _, dst := range []*[]VectorEntry{&groups.Text, &groups.Image} {
			var count uint32
			if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
				return nil, truncated(err)
			}
			entries := make([]VectorEntry, 0, count)
			for i := uint32(0); i < count; i++ {
				var entry VectorEntry
				if err := binary.Read(r, binary.LittleEndian, &entry.ID); err != nil {
					return nil, truncated(err)
				}
				entry.Vector = make([]float32, h.Dimensions)
				for d := range entry.Vector {
					var bits uint32
					if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
						return nil, truncated(err)
					}
					entry.Vector[d] = math.Float32frombits(bits)
				}
				entries = append(entries, entry)
			}
			*dst = entries
		}
		f.Groups = groups
	}

	return f, nil
}

func truncated(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return rlerrors.New(rlerrors.ErrCodeIndexTruncated, "index file is truncated", err)
	}
	return rlerrors.New(rlerrors.ErrCodeIndexCorrupt, fmt.Sprintf("read index: %v", err), err)
}
