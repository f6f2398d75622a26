package raglite

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/raglite/raglite/internal/config"
	"github.com/raglite/raglite/internal/embed"
	rlerrors "github.com/raglite/raglite/internal/errors"
	"github.com/raglite/raglite/internal/index"
	"github.com/raglite/raglite/internal/ingest"
	"github.com/raglite/raglite/internal/model"
	"github.com/raglite/raglite/internal/paths"
	"github.com/raglite/raglite/internal/rerank"
	"github.com/raglite/raglite/internal/search"
	"github.com/raglite/raglite/internal/store"
)

// State is the dataset handle lifecycle state.
type State string

const (
	StateOpening    State = "opening"
	StateReady      State = "ready"
	StateIngesting  State = "ingesting"
	StateRebuilding State = "rebuilding"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// IngestOptions configures Dataset ingestion calls.
type IngestOptions struct {
	ChunkSize    int
	ChunkOverlap int
	// ForceRebuild evicts cached connections, deletes the dataset files, and
	// starts over as a fresh ingest.
	ForceRebuild bool
}

// SearchOptions mirrors search.Options on the public surface.
type SearchOptions = search.Options

// SearchResult mirrors search.Result on the public surface.
type SearchResult = search.Result

// IngestResult mirrors ingest.Result on the public surface.
type IngestResult = ingest.Result

// Stats summarizes a dataset.
type Stats struct {
	TotalChunks      int               `json:"total_chunks"`
	TotalDocuments   int               `json:"total_documents"`
	RerankingEnabled bool              `json:"reranking_enabled"`
	Mode             model.Mode        `json:"mode"`
	ModelName        string            `json:"model_name"`
	ModelDimensions  int               `json:"model_dimensions"`
	RerankStrategy   model.RerankStrategy `json:"reranking_strategy"`
	DBSize           int64             `json:"db_size"`
	IndexSize        int64             `json:"index_size"`
}

// Dataset is one open handle on a dataset. Readers run concurrently; writes
// (ingest, rebuild) are serialized on a cooperative queue, at most one at a
// time per handle.
type Dataset struct {
	cfg            config.Config
	layout         paths.Layout
	connMgr        *store.ConnManager
	requestedModel string
	contentStoreOn bool

	// writeMu is the per-handle write queue.
	writeMu sync.Mutex
	// stateMu guards state and the component pointers during reopen.
	stateMu sync.RWMutex
	state   State

	handle   *store.Handle
	meta     *store.Metadata
	content  *store.ContentStore
	manager  *index.Manager
	embedder embed.Embedder
	reranker rerank.Reranker
	pipeline *ingest.Pipeline
	engine   *search.Engine

	writeLock *flock.Flock
}

func (d *Dataset) resolveLayout(root string) error {
	var (
		layout paths.Layout
		err    error
	)
	if d.cfg.Paths.DBFile != "" && d.cfg.Paths.IndexFile != "" {
		layout, err = paths.FromLegacy(d.cfg.Paths.DBFile, d.cfg.Paths.IndexFile)
	} else {
		layout, err = paths.Resolve(root)
	}
	if err != nil {
		return err
	}
	d.layout = layout
	return nil
}

// initComponents opens (or reopens) every shared component. forceRecreate
// bypasses the model gate; the rebuild paths use it.
func (d *Dataset) initComponents(ctx context.Context, forceRecreate bool) error {
	if err := d.layout.Ensure(); err != nil {
		return rlerrors.Wrap(rlerrors.ErrCodePermissionDenied, err)
	}

	// Contention with another subsystem opening the same dataset resolves
	// within the deadline; past it the Busy error surfaces.
	handle, err := d.connMgr.BusyWait(ctx, d.layout.DBPath, time.Now().Add(5*time.Second))
	if err != nil {
		return err
	}

	meta := store.NewMetadata(handle.DB)
	if err := meta.Init(ctx); err != nil {
		_ = handle.Close()
		return err
	}

	detected, isStored, err := model.Detect(ctx, meta)
	if err != nil {
		_ = handle.Close()
		return err
	}
	var stored *model.SystemInfo
	if isStored {
		stored = &detected
	}

	spec, err := requestedSpec(d.requestedModel, stored)
	if err != nil {
		_ = handle.Close()
		return err
	}

	manager, err := index.Open(ctx, d.layout.IndexPath, meta, spec, stored, index.OpenOptions{
		ForceRecreate: forceRecreate,
	})
	if err != nil {
		_ = handle.Close()
		return err
	}

	embedder, err := d.loadEmbedder(ctx, spec)
	if err != nil {
		_ = handle.Close()
		return err
	}
	cached := embed.NewCached(embedder, embed.DefaultVectorCacheSize)

	info := manager.Info()
	reranker := rerank.ForStrategy(info.RerankingStrategy)

	var content *store.ContentStore
	if d.contentStoreOn {
		content = store.NewContentStore(d.layout.ContentDir, meta)
	}

	d.stateMu.Lock()
	d.handle = handle
	d.meta = meta
	d.content = content
	d.manager = manager
	d.embedder = cached
	d.reranker = reranker
	d.pipeline = ingest.NewPipeline(meta, content, manager, cached, d.cfg.Embedding.BatchSize)
	d.engine = search.NewEngine(meta, manager, cached, reranker)
	d.stateMu.Unlock()

	// Best-effort single-writer discipline across processes.
	if d.writeLock == nil {
		d.writeLock = flock.New(d.layout.LockPath)
		if locked, err := d.writeLock.TryLock(); err != nil || !locked {
			slog.Debug("dataset write lock held elsewhere, continuing best-effort",
				slog.String("path", d.layout.LockPath))
			d.writeLock = nil
		}
	}

	return nil
}

// loadEmbedder builds and loads the embedder for a spec, holding the model
// cache lock so concurrent processes do not fetch the same artifacts twice.
func (d *Dataset) loadEmbedder(ctx context.Context, spec model.Spec) (embed.Embedder, error) {
	cacheLock := embed.NewFileLock(d.cfg.Embedding.ModelCachePath)
	if err := cacheLock.Lock(); err != nil {
		return nil, rlerrors.New(rlerrors.ErrCodeModelLoadFailed,
			"lock model cache: "+err.Error(), err)
	}
	defer func() { _ = cacheLock.Unlock() }()

	return embed.ForModel(ctx, spec)
}

// closeComponents tears down shared components without touching the handle
// state machine.
func (d *Dataset) closeComponents() {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	if d.manager != nil {
		_ = d.manager.Close()
		d.manager = nil
	}
	if d.meta != nil {
		_ = d.meta.Close()
		d.meta = nil
	}
	if d.embedder != nil {
		_ = d.embedder.Unload()
		d.embedder = nil
	}
	if d.reranker != nil {
		_ = d.reranker.Close()
		d.reranker = nil
	}
	if d.handle != nil {
		_ = d.handle.Close()
		d.handle = nil
	}
}

// State returns the current lifecycle state.
func (d *Dataset) State() State {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.state
}

// Layout exposes the resolved dataset paths.
func (d *Dataset) Layout() paths.Layout { return d.layout }

// IngestDirectory ingests every supported file under dir.
func (d *Dataset) IngestDirectory(ctx context.Context, dir string, opts IngestOptions) (IngestResult, error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if d.State() == StateClosed {
		return IngestResult{}, errClosed()
	}

	if opts.ForceRebuild {
		if err := d.forceRecreate(ctx); err != nil {
			return IngestResult{}, err
		}
	}

	d.setState(StateIngesting)
	defer d.setState(StateReady)

	effective := ingest.Options{ChunkSize: opts.ChunkSize, ChunkOverlap: opts.ChunkOverlap}
	if effective.ChunkSize == 0 {
		effective.ChunkSize = d.cfg.Chunking.ChunkSize
	}
	if effective.ChunkOverlap == 0 {
		effective.ChunkOverlap = d.cfg.Chunking.ChunkOverlap
	}

	return d.pipeline.IngestDirectory(ctx, dir, effective)
}

// IngestMemory ingests an in-memory blob and returns its content id.
func (d *Dataset) IngestMemory(ctx context.Context, data []byte, displayName, mime string) (string, error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if d.State() == StateClosed {
		return "", errClosed()
	}

	d.setState(StateIngesting)
	defer d.setState(StateReady)

	return d.pipeline.IngestMemory(ctx, data, displayName, mime)
}

// Search runs a text query. Reranking is opt-in per query via options.
func (d *Dataset) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	d.stateMu.RLock()
	engine := d.engine
	closed := d.state == StateClosed
	d.stateMu.RUnlock()

	if closed || engine == nil {
		return nil, errClosed()
	}
	if opts.TopK == 0 {
		opts.TopK = d.cfg.Search.TopK
	}
	if d.cfg.Search.RerankEnabled {
		opts.Rerank = true
	}
	return engine.Search(ctx, query, opts)
}

// SearchVector runs a query from a pre-computed vector.
func (d *Dataset) SearchVector(ctx context.Context, vector []float32, opts SearchOptions) ([]SearchResult, error) {
	d.stateMu.RLock()
	engine := d.engine
	closed := d.state == StateClosed
	d.stateMu.RUnlock()

	if closed || engine == nil {
		return nil, errClosed()
	}
	if opts.TopK == 0 {
		opts.TopK = d.cfg.Search.TopK
	}
	return engine.SearchVector(ctx, vector, opts)
}

// Watch re-ingests dir on filesystem changes until ctx is cancelled.
func (d *Dataset) Watch(ctx context.Context, dir string, opts IngestOptions, debounce time.Duration) error {
	d.stateMu.RLock()
	pipeline := d.pipeline
	d.stateMu.RUnlock()
	if pipeline == nil {
		return errClosed()
	}

	w := ingest.NewWatcher(pipeline, dir,
		ingest.Options{ChunkSize: opts.ChunkSize, ChunkOverlap: opts.ChunkOverlap}, debounce)
	return w.Run(ctx)
}

// DeleteDocument removes a document, its chunks, and its vectors. Documents
// are never edited in place: an edit is a delete followed by a re-ingest.
// The vectors are unmapped lazily; the next rebuild drops their graph nodes.
func (d *Dataset) DeleteDocument(ctx context.Context, docID int64) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if d.State() == StateClosed {
		return errClosed()
	}

	embeddingIDs, contentID, err := d.meta.DeleteDocument(ctx, docID)
	if err != nil {
		return err
	}
	d.manager.Remove(embeddingIDs)

	if contentID != "" && d.content != nil {
		if err := d.content.Unref(ctx, contentID); err != nil {
			slog.Warn("failed to unreference content blob",
				slog.String("content_id", contentID), slog.String("error", err.Error()))
		}
	}

	return d.manager.Save()
}

// Rebuild re-embeds every chunk with the named model (or the current one if
// empty) and rewrites the index and system info. The relational store keeps
// its documents and chunks.
func (d *Dataset) Rebuild(ctx context.Context, modelName string) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if d.State() == StateClosed {
		return errClosed()
	}

	d.setState(StateRebuilding)
	defer d.setState(StateReady)

	if modelName == "" {
		modelName = d.manager.Info().ModelName
	}
	spec, err := model.Lookup(modelName)
	if err != nil {
		return err
	}

	embedder, err := d.loadEmbedder(ctx, spec)
	if err != nil {
		return err
	}
	cached := embed.NewCached(embedder, embed.DefaultVectorCacheSize)

	newInfo := spec.SystemInfo()
	if err := d.manager.RebuildWith(ctx, cached, newInfo, d.cfg.Embedding.BatchSize); err != nil {
		return err
	}
	if err := model.Store(ctx, d.meta, newInfo); err != nil {
		return err
	}

	// Swap the query path onto the new model.
	d.stateMu.Lock()
	d.embedder = cached
	d.reranker = rerank.ForStrategy(newInfo.RerankingStrategy)
	d.engine = search.NewEngine(d.meta, d.manager, cached, d.reranker)
	d.pipeline = ingest.NewPipeline(d.meta, d.content, d.manager, cached, d.cfg.Embedding.BatchSize)
	d.stateMu.Unlock()

	slog.Info("rebuild complete",
		slog.String("model", newInfo.ModelName),
		slog.Int("dimensions", newInfo.ModelDimensions))
	return nil
}

// forceRecreate is the destructive preflight for force_rebuild: evict every
// cached writer connection, verify the dataset files are deletable, delete
// them, and reopen fresh.
func (d *Dataset) forceRecreate(ctx context.Context) error {
	d.setState(StateRebuilding)
	defer d.setState(StateReady)

	d.closeComponents()

	if err := d.connMgr.ForceClose(d.layout.DBPath); err != nil {
		return err
	}

	// Deletability preflight before touching anything.
	for _, p := range []string{d.layout.DBPath, d.layout.IndexPath} {
		if _, err := os.Stat(p); err == nil {
			f, err := os.OpenFile(p, os.O_WRONLY, 0)
			if err != nil {
				return rlerrors.New(rlerrors.ErrCodePermissionDenied,
					"dataset file not writable, cannot force rebuild: "+p, err)
			}
			_ = f.Close()
		}
	}

	targets := []string{
		d.layout.DBPath, d.layout.DBPath + "-wal", d.layout.DBPath + "-shm",
		d.layout.IndexPath,
	}
	for _, p := range targets {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return rlerrors.Wrap(rlerrors.ErrCodePermissionDenied, err)
		}
	}

	return d.initComponents(ctx, true)
}

// Stats reports dataset totals and on-disk sizes.
func (d *Dataset) Stats(ctx context.Context) (Stats, error) {
	d.stateMu.RLock()
	meta := d.meta
	manager := d.manager
	closed := d.state == StateClosed
	d.stateMu.RUnlock()

	if closed || meta == nil {
		return Stats{}, errClosed()
	}

	st, err := meta.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}

	info := manager.Info()
	out := Stats{
		TotalChunks:      st.TotalChunks,
		TotalDocuments:   st.TotalDocuments,
		RerankingEnabled: info.RerankingStrategy != model.RerankDisabled,
		Mode:             info.Mode,
		ModelName:        info.ModelName,
		ModelDimensions:  info.ModelDimensions,
		RerankStrategy:   info.RerankingStrategy,
	}
	if fi, err := os.Stat(d.layout.DBPath); err == nil {
		out.DBSize = fi.Size()
	}
	if fi, err := os.Stat(d.layout.IndexPath); err == nil {
		out.IndexSize = fi.Size()
	}
	return out, nil
}

// Close releases the handle: pending saves are already flushed per batch, so
// this only drops refcounts and unlocks. Idempotent.
func (d *Dataset) Close() error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if d.State() == StateClosed {
		return nil
	}
	d.setState(StateClosing)

	d.closeComponents()

	if d.writeLock != nil {
		_ = d.writeLock.Unlock()
		d.writeLock = nil
	}

	d.setState(StateClosed)
	return nil
}

func (d *Dataset) setState(s State) {
	d.stateMu.Lock()
	d.state = s
	d.stateMu.Unlock()
}
