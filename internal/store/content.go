package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	rlerrors "github.com/raglite/raglite/internal/errors"
)

// ContentStore keeps ingested bytes under <root>/.raglite/content/, named by
// their SHA-256 hash. Blobs are deduplicated by hash and reference-counted by
// documents; a blob with no remaining references is removed from disk.
type ContentStore struct {
	dir  string
	meta *Metadata
}

// NewContentStore creates a content store rooted at dir, using meta for the
// content_blobs rows.
func NewContentStore(dir string, meta *Metadata) *ContentStore {
	return &ContentStore{dir: dir, meta: meta}
}

// Put stores data and returns its content id (sha256 hex). A hash collision
// with an existing blob of identical size is deduplication: the existing blob
// is reused and no bytes are written. The mime argument may be empty; it is
// then detected from the bytes.
func (c *ContentStore) Put(ctx context.Context, data []byte, mime string) (string, error) {
	sum := sha256.Sum256(data)
	contentID := hex.EncodeToString(sum[:])

	detected := mimetype.Detect(data)
	if mime == "" {
		mime = detected.String()
	}
	ext := extensionFor(mime, detected.Extension())

	existing, err := c.meta.GetBlob(ctx, contentID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if existing.ByteSize != int64(len(data)) {
			return "", rlerrors.Newf(rlerrors.ErrCodeInternal,
				"content id %s exists with different size (%d vs %d)",
				contentID, existing.ByteSize, len(data))
		}
		return contentID, nil
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", rlerrors.Wrap(rlerrors.ErrCodePermissionDenied, err)
	}

	finalPath := filepath.Join(c.dir, contentID+ext)
	tmpPath := finalPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return "", rlerrors.Wrap(rlerrors.ErrCodePermissionDenied, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", rlerrors.Wrap(rlerrors.ErrCodePermissionDenied, err)
	}

	inserted, err := c.meta.UpsertBlob(ctx, Blob{
		ContentID:  contentID,
		ByteSize:   int64(len(data)),
		MIME:       mime,
		OnDiskPath: finalPath,
	})
	if err != nil {
		_ = os.Remove(finalPath)
		return "", err
	}
	if !inserted {
		// Another writer won the race; our copy is identical by hash.
		_ = os.Remove(finalPath)
	}

	return contentID, nil
}

// Get returns the stored bytes for a content id.
func (c *ContentStore) Get(ctx context.Context, contentID string) ([]byte, error) {
	blob, err := c.meta.GetBlob(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, rlerrors.Newf(rlerrors.ErrCodePathNotFound, "content %s not found", contentID)
	}
	data, err := os.ReadFile(blob.OnDiskPath)
	if err != nil {
		return nil, rlerrors.Wrap(rlerrors.ErrCodePathNotFound, err)
	}
	return data, nil
}

// Path returns the on-disk path view of a blob without reading it.
func (c *ContentStore) Path(ctx context.Context, contentID string) (string, error) {
	blob, err := c.meta.GetBlob(ctx, contentID)
	if err != nil {
		return "", err
	}
	if blob == nil {
		return "", rlerrors.Newf(rlerrors.ErrCodePathNotFound, "content %s not found", contentID)
	}
	return blob.OnDiskPath, nil
}

// Ref records one more document referencing the blob.
func (c *ContentStore) Ref(ctx context.Context, contentID string) error {
	return c.meta.RefBlob(ctx, contentID)
}

// Unref drops one reference; at zero the blob row and file are removed.
func (c *ContentStore) Unref(ctx context.Context, contentID string) error {
	count, path, err := c.meta.UnrefBlob(ctx, contentID)
	if err != nil {
		return err
	}
	if count == 0 && path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove unreferenced blob",
				slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	return nil
}

// extensionFor picks the stored file extension: prefer the one implied by the
// declared mime, fall back to the detected one.
func extensionFor(mime, detectedExt string) string {
	switch {
	case strings.HasPrefix(mime, "text/markdown"):
		return ".md"
	case strings.HasPrefix(mime, "text/plain"):
		return ".txt"
	case strings.HasPrefix(mime, "application/pdf"):
		return ".pdf"
	case strings.HasPrefix(mime, "image/jpeg"):
		return ".jpg"
	case strings.HasPrefix(mime, "image/png"):
		return ".png"
	case strings.HasPrefix(mime, "image/webp"):
		return ".webp"
	case strings.HasPrefix(mime, "image/gif"):
		return ".gif"
	case strings.HasPrefix(mime, "application/vnd.openxmlformats-officedocument.wordprocessingml.document"):
		return ".docx"
	}
	if detectedExt != "" {
		return detectedExt
	}
	return ".bin"
}
