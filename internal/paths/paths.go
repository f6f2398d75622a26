// Package paths resolves the canonical on-disk layout of a raglite dataset:
//
//	<root>/.raglite/
//	  db.sqlite
//	  index.bin
//	  content/
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DirName is the dataset directory created under the root.
	DirName = ".raglite"

	dbFileName    = "db.sqlite"
	indexFileName = "index.bin"
	contentDir    = "content"
	lockFileName  = ".lock"
)

// Layout holds the resolved paths for one dataset.
type Layout struct {
	// Root is the user-supplied root directory.
	Root string
	// Dir is <root>/.raglite.
	Dir string
	// DBPath is the SQLite metadata store.
	DBPath string
	// IndexPath is the binary vector index.
	IndexPath string
	// ContentDir holds content-addressed blobs.
	ContentDir string
	// LockPath is the best-effort single-writer lock file.
	LockPath string
}

// Resolve computes the layout for a root directory. The root does not have to
// exist yet; nothing is created.
func Resolve(root string) (Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Layout{}, fmt.Errorf("resolve root %q: %w", root, err)
	}

	dir := filepath.Join(abs, DirName)
	return Layout{
		Root:       abs,
		Dir:        dir,
		DBPath:     filepath.Join(dir, dbFileName),
		IndexPath:  filepath.Join(dir, indexFileName),
		ContentDir: filepath.Join(dir, contentDir),
		LockPath:   filepath.Join(dir, lockFileName),
	}, nil
}

// FromLegacy maps a legacy (dbPath, indexPath) pair onto the canonical layout
// rooted at the parent of dbPath. The returned layout keeps the legacy file
// locations so existing datasets stay readable.
func FromLegacy(dbPath, indexPath string) (Layout, error) {
	absDB, err := filepath.Abs(dbPath)
	if err != nil {
		return Layout{}, fmt.Errorf("resolve db path %q: %w", dbPath, err)
	}
	absIndex, err := filepath.Abs(indexPath)
	if err != nil {
		return Layout{}, fmt.Errorf("resolve index path %q: %w", indexPath, err)
	}

	dir := filepath.Dir(absDB)
	return Layout{
		Root:       filepath.Dir(dir),
		Dir:        dir,
		DBPath:     absDB,
		IndexPath:  absIndex,
		ContentDir: filepath.Join(dir, contentDir),
		LockPath:   filepath.Join(dir, lockFileName),
	}, nil
}

// Ensure creates the dataset directories. Safe to call repeatedly.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.Dir, l.ContentDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists reports whether the dataset has been created (the metadata store
// exists on disk).
func (l Layout) Exists() bool {
	_, err := os.Stat(l.DBPath)
	return err == nil
}
