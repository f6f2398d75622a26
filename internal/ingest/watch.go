package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	rlerrors "github.com/raglite/raglite/internal/errors"
)

// DefaultWatchDebounce batches rapid filesystem events into one re-ingest.
const DefaultWatchDebounce = 2 * time.Second

// Watcher re-ingests a directory whenever files under it change. Events are
// debounced so an editor save storm triggers a single run.
type Watcher struct {
	pipeline *Pipeline
	dir      string
	opts     Options
	debounce time.Duration
}

// NewWatcher creates a watcher over dir. debounce <= 0 uses the default.
func NewWatcher(pipeline *Pipeline, dir string, opts Options, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	return &Watcher{pipeline: pipeline, dir: dir, opts: opts, debounce: debounce}
}

// Run watches until the context is cancelled. Each debounced change batch
// triggers one IngestDirectory call; ingest errors are logged, not fatal.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return rlerrors.Wrap(rlerrors.ErrCodeInternal, err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return rlerrors.New(rlerrors.ErrCodePathNotFound, "watch "+w.dir+": "+err.Error(), err)
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch error", slog.String("error", err.Error()))

		case <-timerC:
			timer = nil
			timerC = nil

			result, err := w.pipeline.IngestDirectory(ctx, w.dir, w.opts)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Warn("watch re-ingest failed", slog.String("error", err.Error()))
				continue
			}
			slog.Info("watch re-ingest complete",
				slog.Int("documents", result.DocumentsProcessed),
				slog.Int("chunks", result.ChunksCreated))
		}
	}
}

// relevant filters events down to ones that change ingestable content.
func relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	_, ok := ContentTypeForPath(event.Name)
	return ok
}
