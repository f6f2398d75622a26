package ingest

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raglite/raglite/internal/chunk"
	"github.com/raglite/raglite/internal/embed"
	rlerrors "github.com/raglite/raglite/internal/errors"
	"github.com/raglite/raglite/internal/index"
	"github.com/raglite/raglite/internal/model"
	"github.com/raglite/raglite/internal/store"
)

// Options tunes one ingestion run. Zero values use the per-model defaults.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
}

// Result carries the ingestion counters.
type Result struct {
	DocumentsProcessed   int   `json:"documents_processed"`
	ChunksCreated        int   `json:"chunks_created"`
	EmbeddingsGenerated  int   `json:"embeddings_generated"`
	DocumentErrors       int   `json:"document_errors"`
	EmbeddingErrors      int   `json:"embedding_errors"`
	ProcessingTimeMillis int64 `json:"processing_time_ms"`
}

// Pipeline ingests documents into one dataset. It shares the metadata store
// and index manager with the search engine; only one ingest runs at a time
// per dataset.
type Pipeline struct {
	meta         *store.Metadata
	content      *store.ContentStore
	manager      *index.Manager
	embedder     embed.Embedder
	batchSize    int
	embedTimeout time.Duration

	// ingestMu serializes ingestion per dataset handle.
	ingestMu sync.Mutex
}

// NewPipeline wires an ingestion pipeline.
func NewPipeline(meta *store.Metadata, content *store.ContentStore, manager *index.Manager, embedder embed.Embedder, batchSize int) *Pipeline {
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}
	if batchSize > embed.MaxBatchSize {
		batchSize = embed.MaxBatchSize
	}
	return &Pipeline{
		meta:         meta,
		content:      content,
		manager:      manager,
		embedder:     embedder,
		batchSize:    batchSize,
		embedTimeout: embed.DefaultTimeout,
	}
}

// WithEmbedTimeout overrides the per-call embedder timeout.
func (p *Pipeline) WithEmbedTimeout(d time.Duration) *Pipeline {
	if d > 0 {
		p.embedTimeout = d
	}
	return p
}

// parsedFile pairs a discovered file with its extracted content.
type parsedFile struct {
	file   DiscoveredFile
	data   []byte
	parsed Parsed
	err    error
}

// IngestDirectory walks dir, then chunks, embeds, and commits each file in
// its own transaction. One bad file counts as a document error and does not
// abort the run; fatal storage errors do. A cancelled ingest keeps every
// fully-committed file and nothing of the current one.
func (p *Pipeline) IngestDirectory(ctx context.Context, dir string, opts Options) (Result, error) {
	p.ingestMu.Lock()
	defer p.ingestMu.Unlock()

	start := time.Now()
	var result Result

	info := p.manager.Info()
	files, err := Discover(dir, info)
	if err != nil {
		return result, err
	}

	if err := p.materializeSystemInfo(ctx, info); err != nil {
		return result, err
	}

	// Parse in parallel, commit in stable file order below.
	parsed := make([]parsedFile, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			parsed[i] = p.parseFile(f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	chunker, err := p.newChunker(info, opts)
	if err != nil {
		return result, err
	}

	for i := range parsed {
		if err := ctx.Err(); err != nil {
			// Already-committed files are retained.
			result.ProcessingTimeMillis = time.Since(start).Milliseconds()
			return result, err
		}

		pf := &parsed[i]
		if pf.err != nil {
			slog.Warn("skipping document",
				slog.String("path", pf.file.Path), slog.String("error", pf.err.Error()))
			result.DocumentErrors++
			continue
		}

		fileRes, err := p.commitFile(ctx, pf, chunker)
		if err != nil {
			if rlerrors.IsFatal(err) || ctx.Err() != nil {
				result.ProcessingTimeMillis = time.Since(start).Milliseconds()
				return result, err
			}
			slog.Warn("document failed",
				slog.String("path", pf.file.Path), slog.String("error", err.Error()))
			result.DocumentErrors++
			continue
		}

		result.DocumentsProcessed++
		result.ChunksCreated += fileRes.chunks
		result.EmbeddingsGenerated += fileRes.embeddings
		result.EmbeddingErrors += fileRes.embeddingErrors
	}

	result.ProcessingTimeMillis = time.Since(start).Milliseconds()
	slog.Info("ingest complete",
		slog.String("dir", dir),
		slog.Int("documents", result.DocumentsProcessed),
		slog.Int("chunks", result.ChunksCreated),
		slog.Int("document_errors", result.DocumentErrors),
		slog.Int("embedding_errors", result.EmbeddingErrors))
	return result, nil
}

// IngestMemory ingests an in-memory blob and returns its content id.
func (p *Pipeline) IngestMemory(ctx context.Context, data []byte, displayName, mime string) (string, error) {
	p.ingestMu.Lock()
	defer p.ingestMu.Unlock()

	if p.content == nil {
		return "", rlerrors.Newf(rlerrors.ErrCodeInvalidInput,
			"in-memory ingestion requires the content store")
	}

	info := p.manager.Info()
	ct, ok := MIMEToContentType(mime)
	if !ok {
		return "", rlerrors.Newf(rlerrors.ErrCodeInvalidInput, "unsupported mime type %q", mime)
	}
	if !info.SupportsContentType(ct) {
		return "", rlerrors.Newf(rlerrors.ErrCodeInvalidInput,
			"content type %q is not supported in %s mode", ct, info.Mode)
	}

	if err := p.materializeSystemInfo(ctx, info); err != nil {
		return "", err
	}

	contentID, err := p.content.Put(ctx, data, mime)
	if err != nil {
		return "", err
	}

	// Images in memory are embedded from their stored blob path.
	sourcePath := displayName
	if ct == model.ContentTypeImage {
		if sourcePath, err = p.content.Path(ctx, contentID); err != nil {
			return "", err
		}
	}

	parsedDoc, err := Parse(sourcePath, data, ct)
	if err != nil {
		return "", err
	}
	parsedDoc.Title = displayName

	chunker, err := p.newChunker(info, Options{})
	if err != nil {
		return "", err
	}

	pf := &parsedFile{
		file:   DiscoveredFile{Path: displayName, Size: int64(len(data)), ContentType: ct},
		data:   data,
		parsed: parsedDoc,
	}

	if _, err := p.commitFileWithContent(ctx, pf, chunker, contentID); err != nil {
		return "", err
	}
	return contentID, nil
}

// materializeSystemInfo writes the singleton on the first ingest. Reads never
// materialize it, so opening a missing dataset stays read-only.
func (p *Pipeline) materializeSystemInfo(ctx context.Context, info model.SystemInfo) error {
	stored, err := p.meta.SystemInfo(ctx)
	if err != nil {
		return err
	}
	if stored == nil {
		return p.meta.StoreSystemInfo(ctx, info)
	}
	return nil
}

func (p *Pipeline) newChunker(info model.SystemInfo, opts Options) (*chunk.TextChunker, error) {
	size, overlap := model.DefaultChunkParams(info.ModelDimensions)
	if opts.ChunkSize > 0 {
		size = opts.ChunkSize
	}
	if opts.ChunkOverlap > 0 {
		overlap = opts.ChunkOverlap
	}
	return chunk.NewTextChunker(chunk.Options{Size: size, Overlap: overlap})
}

func (p *Pipeline) parseFile(f DiscoveredFile) parsedFile {
	pf := parsedFile{file: f}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		pf.err = rlerrors.New(rlerrors.ErrCodePathNotFound, "read "+f.Path+": "+err.Error(), err)
		return pf
	}
	pf.data = data

	pf.parsed, pf.err = Parse(f.Path, data, f.ContentType)
	return pf
}

type fileResult struct {
	chunks          int
	embeddings      int
	embeddingErrors int
}

// commitFile stores the file's blob, then commits document + chunks + vectors.
func (p *Pipeline) commitFile(ctx context.Context, pf *parsedFile, chunker *chunk.TextChunker) (fileResult, error) {
	var contentID string
	if p.content != nil {
		var err error
		if contentID, err = p.content.Put(ctx, pf.data, ""); err != nil {
			return fileResult{}, err
		}
	}
	return p.commitFileWithContent(ctx, pf, chunker, contentID)
}

// commitFileWithContent runs chunk -> embed -> commit for one file. The
// vectors are added to the index first (yielding the id mappings); the
// document row, chunk rows, and id-map rows then land in one transaction,
// and the index save follows. If the insert fails, the vectors are unmapped
// again. If the save fails, the
// document is deleted again (the compensating form of rolling back the
// transaction), leaving the dataset at its pre-file state.
func (p *Pipeline) commitFileWithContent(ctx context.Context, pf *parsedFile, chunker *chunk.TextChunker, contentID string) (fileResult, error) {
	var res fileResult

	chunks := p.chunkFile(pf, chunker)
	if len(chunks) == 0 {
		// Nothing embeddable; still record the document.
		doc := p.documentFor(pf, contentID)
		if _, err := p.meta.InsertDocument(ctx, doc, nil, nil); err != nil {
			return res, err
		}
		p.refContent(ctx, contentID)
		return res, nil
	}
	res.chunks = len(chunks)

	embedded, embedErrors, err := p.embedChunks(ctx, chunks, pf.file.ContentType)
	if err != nil {
		return res, err
	}
	res.embeddingErrors = embedErrors
	res.embeddings = len(embedded)

	doc := p.documentFor(pf, contentID)

	items := make([]index.Item, len(embedded))
	rows := make([]*store.Chunk, len(embedded))
	for i, e := range embedded {
		items[i] = index.Item{
			EmbeddingID: e.result.EmbeddingID,
			Vector:      e.result.Vector,
			ContentType: pf.file.ContentType,
		}
		rows[i] = &store.Chunk{
			EmbeddingID: e.result.EmbeddingID,
			Content:     e.chunk.Content,
			ChunkIndex:  e.chunk.Index,
			ContentType: pf.file.ContentType,
			Metadata:    e.chunk.Metadata,
		}
	}

	mappings, err := p.manager.Add(items)
	if err != nil {
		return res, err
	}

	docID, err := p.meta.InsertDocument(ctx, doc, rows, mappings)
	if err != nil {
		p.manager.Remove(embeddingIDs(mappings))
		return res, err
	}

	if err := p.manager.Save(); err != nil {
		// Roll the file back: remove the document and unmap its vectors.
		if _, _, delErr := p.meta.DeleteDocument(ctx, docID); delErr != nil {
			slog.Error("rollback after failed index save also failed",
				slog.String("path", pf.file.Path), slog.String("error", delErr.Error()))
		}
		p.manager.Remove(embeddingIDs(mappings))
		return res, err
	}

	p.refContent(ctx, contentID)
	return res, nil
}

func (p *Pipeline) documentFor(pf *parsedFile, contentID string) *store.Document {
	return &store.Document{
		Source:      pf.file.Path,
		Title:       pf.parsed.Title,
		ContentType: pf.file.ContentType,
		ContentID:   contentID,
		CreatedAt:   time.Now(),
	}
}

func (p *Pipeline) refContent(ctx context.Context, contentID string) {
	if p.content == nil || contentID == "" {
		return
	}
	if err := p.content.Ref(ctx, contentID); err != nil {
		slog.Warn("failed to reference content blob",
			slog.String("content_id", contentID), slog.String("error", err.Error()))
	}
}

// chunkFile produces the chunk list for a parsed file. Images yield a single
// chunk whose content is the image path.
func (p *Pipeline) chunkFile(pf *parsedFile, chunker *chunk.TextChunker) []chunk.Chunk {
	if pf.file.ContentType == model.ContentTypeImage {
		return []chunk.Chunk{{
			Content:  pf.parsed.ImagePath,
			Index:    0,
			Metadata: map[string]string{"caption": imageCaption(pf.parsed.Title)},
		}}
	}

	if pf.file.ContentType == model.ContentTypeMarkdown {
		return chunk.NewMarkdownChunker(chunker).Chunk(pf.parsed.Text)
	}
	return chunker.Chunk(pf.parsed.Text)
}

// imageCaption derives a caption-like description from the title for
// text-derived reranking.
func imageCaption(title string) string {
	return strings.NewReplacer("-", " ", "_", " ").Replace(title)
}

type embeddedChunk struct {
	chunk  chunk.Chunk
	result embed.Result
}

// embedChunks embeds in groups of at most the batch size. A failing batch is
// retried item by item so a single bad chunk is counted and skipped instead
// of sinking the file.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []chunk.Chunk, ct model.ContentType) ([]embeddedChunk, int, error) {
	var (
		out       []embeddedChunk
		errCount  int
		inputType = ct
	)

	for start := 0; start < len(chunks); start += p.batchSize {
		end := start + p.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		inputs := make([]embed.Input, len(batch))
		for i, c := range batch {
			inputs[i] = embed.Input{Content: c.Content, ContentType: inputType}
		}

		bctx, cancel := context.WithTimeout(ctx, p.embedTimeout)
		results, err := p.embedder.EmbedBatch(bctx, inputs)
		cancel()
		if err == nil && len(results) == len(batch) {
			for i := range batch {
				out = append(out, embeddedChunk{chunk: batch[i], result: results[i]})
			}
			continue
		}
		if ctx.Err() != nil {
			return nil, errCount, ctx.Err()
		}

		// Per-item fallback: isolate the failing chunk(s).
		for i := range batch {
			res, itemErr := p.embedOne(ctx, inputs[i])
			if itemErr != nil {
				if ctx.Err() != nil {
					return nil, errCount, ctx.Err()
				}
				slog.Warn("chunk embedding failed",
					slog.Int("chunk_index", batch[i].Index), slog.String("error", itemErr.Error()))
				errCount++
				continue
			}
			out = append(out, embeddedChunk{chunk: batch[i], result: res})
		}
	}

	return out, errCount, nil
}

func (p *Pipeline) embedOne(ctx context.Context, input embed.Input) (embed.Result, error) {
	var res embed.Result

	retryCfg := embed.RetryConfig{MaxRetries: 2, InitialDelay: 100 * time.Millisecond,
		MaxDelay: time.Second, Multiplier: 2.0}
	err := embed.WithRetry(ctx, retryCfg, func() error {
		ictx, cancel := context.WithTimeout(ctx, p.embedTimeout)
		defer cancel()

		var embedErr error
		if input.ContentType == model.ContentTypeImage {
			ie, ok := p.embedder.(embed.ImageEmbedder)
			if !ok {
				return rlerrors.Newf(rlerrors.ErrCodeEmbedding, "embedder does not support images")
			}
			res, embedErr = ie.EmbedImage(ictx, input.Content)
		} else {
			res, embedErr = p.embedder.EmbedText(ictx, input.Content)
		}
		return embedErr
	})
	if err != nil {
		return embed.Result{}, rlerrors.New(rlerrors.ErrCodeEmbedding, err.Error(), err)
	}
	return res, nil
}

func embeddingIDs(mappings []store.IDMapping) []string {
	ids := make([]string, len(mappings))
	for i, m := range mappings {
		ids[i] = m.EmbeddingID
	}
	return ids
}
