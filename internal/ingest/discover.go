// Package ingest implements the ingestion pipeline: discover files, parse,
// chunk, embed in batches, and commit each file atomically.
package ingest

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	rlerrors "github.com/raglite/raglite/internal/errors"
	"github.com/raglite/raglite/internal/model"
)

// MaxFileSize caps ingested files at 10 MiB.
const MaxFileSize = 10 << 20

// extToContentType maps file extensions onto content types. The effective
// whitelist is the intersection with the dataset's supported content types.
var extToContentType = map[string]model.ContentType{
	".md":       model.ContentTypeMarkdown,
	".markdown": model.ContentTypeMarkdown,
	".mdx":      model.ContentTypeMarkdown,
	".txt":      model.ContentTypeText,
	".text":     model.ContentTypeText,
	".pdf":      model.ContentTypePDF,
	".docx":     model.ContentTypeDocx,
	".jpg":      model.ContentTypeImage,
	".jpeg":     model.ContentTypeImage,
	".png":      model.ContentTypeImage,
	".webp":     model.ContentTypeImage,
	".gif":      model.ContentTypeImage,
}

// ContentTypeForPath classifies a path by extension. ok is false for unknown
// extensions.
func ContentTypeForPath(path string) (model.ContentType, bool) {
	ct, ok := extToContentType[strings.ToLower(filepath.Ext(path))]
	return ct, ok
}

// DiscoveredFile is one candidate for ingestion.
type DiscoveredFile struct {
	Path        string
	Size        int64
	ContentType model.ContentType
}

// Discover walks dir recursively and returns ingestable files in a stable
// (sorted) order. Files over the size cap, unknown extensions, content types
// outside the dataset's supported set, and dot-directories are skipped.
func Discover(dir string, info model.SystemInfo) ([]DiscoveredFile, error) {
	stat, err := os.Stat(dir)
	if err != nil {
		return nil, rlerrors.New(rlerrors.ErrCodePathNotFound, "ingest path "+dir+": "+err.Error(), err)
	}
	if !stat.IsDir() {
		return nil, rlerrors.Newf(rlerrors.ErrCodeInvalidInput, "%s is not a directory", dir)
	}

	var files []DiscoveredFile
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Skip dot-directories below the root (the root itself may be one).
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		ct, ok := ContentTypeForPath(path)
		if !ok || !info.SupportsContentType(ct) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		if fi.Size() > MaxFileSize {
			return nil
		}

		files = append(files, DiscoveredFile{Path: path, Size: fi.Size(), ContentType: ct})
		return nil
	})
	if err != nil {
		return nil, rlerrors.Wrap(rlerrors.ErrCodePathNotFound, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}
