package index

import (
	"context"
	"log/slog"
	"sync"

	"github.com/raglite/raglite/internal/embed"
	rlerrors "github.com/raglite/raglite/internal/errors"
	"github.com/raglite/raglite/internal/model"
	"github.com/raglite/raglite/internal/store"
)

// numericIDSpace bounds numeric ids to [0, 2^31); the open-address probe
// increments modulo this value.
const numericIDSpace = uint32(1) << 31

// Item is one embedding handed to the manager for insertion.
type Item struct {
	EmbeddingID string
	Vector      []float32
	ContentType model.ContentType
}

// Hit is one search result at the index level.
type Hit struct {
	EmbeddingID string
	NumericID   uint32
	Distance    float32
}

// Manager ties one vector index to one dataset. It enforces the model
// compatibility gate, assigns numeric ids, keeps the embedding_id <->
// numeric_id map, and routes multimodal searches to per-content-type
// sub-indexes.
//
// The bijection is persisted in the id_map table; the in-memory maps are a
// cache loaded on open (ORDER BY rowid, i.e. insertion order).
type Manager struct {
	mu        sync.RWMutex
	indexPath string
	meta      *store.Metadata
	info      model.SystemInfo

	combined *VectorIndex
	textIdx  *VectorIndex // multimodal read-side routing
	imageIdx *VectorIndex

	idToNum  map[string]uint32
	numToID  map[uint32]string
	typeByID map[uint32]model.ContentType
}

// OpenOptions controls Open behavior.
type OpenOptions struct {
	// ForceRecreate bypasses the model compatibility gate; used by the
	// rebuild path, which is about to truncate the index anyway.
	ForceRecreate bool
}

// Open loads or initializes the index for a dataset.
//
// The stored system info (nil for a never-ingested dataset) is compared with
// the requested model before any index bytes are read; a name or dimension
// mismatch fails with ModelIncompatible unless ForceRecreate is set.
func Open(ctx context.Context, indexPath string, meta *store.Metadata, requested model.Spec, stored *model.SystemInfo, opts OpenOptions) (*Manager, error) {
	if stored != nil && !opts.ForceRecreate {
		if stored.ModelName != requested.Name || stored.ModelDimensions != requested.Dimensions {
			return nil, rlerrors.ModelIncompatible(
				stored.ModelName, stored.ModelDimensions,
				requested.Name, requested.Dimensions)
		}
	}

	info := requested.SystemInfo()
	if stored != nil && !opts.ForceRecreate {
		info = *stored
	}

	m := &Manager{
		indexPath: indexPath,
		meta:      meta,
		info:      info,
		idToNum:   make(map[string]uint32),
		numToID:   make(map[uint32]string),
		typeByID:  make(map[uint32]model.ContentType),
	}

	mappings, err := meta.AllMappings(ctx)
	if err != nil {
		return nil, err
	}
	for _, mapping := range mappings {
		m.idToNum[mapping.EmbeddingID] = mapping.NumericID
		m.numToID[mapping.NumericID] = mapping.EmbeddingID
	}

	if err := m.loadOrInit(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) loadOrInit() error {
	cfg := DefaultConfig(m.info.ModelDimensions)

	f, err := Read(m.indexPath)
	if rlerrors.HasCode(err, rlerrors.ErrCodePathNotFound) {
		combined, newErr := New(cfg)
		if newErr != nil {
			return newErr
		}
		m.combined = combined
		return m.initSubIndexes(nil)
	}
	if err != nil {
		return err
	}

	if int(f.Header.Dimensions) != m.info.ModelDimensions {
		return rlerrors.Newf(rlerrors.ErrCodeIndexDimensionMismatch,
			"index file has %d dimensions, system info says %d",
			f.Header.Dimensions, m.info.ModelDimensions)
	}

	cfg.M = int(f.Header.M)
	cfg.EfConstruction = int(f.Header.EfConstruction)
	cfg.Seed = f.Header.Seed
	cfg.MaxElements = f.Header.MaxElements

	combined, err := FromBlob(cfg, f.HNSWBlob)
	if err != nil {
		return err
	}
	m.combined = combined

	if f.Groups != nil {
		// The grouped arrays cover every vector, so they double as the
		// mirror for future grouped saves.
		for _, e := range f.Groups.Text {
			m.typeByID[e.ID] = model.ContentTypeText
		}
		for _, e := range f.Groups.Image {
			m.typeByID[e.ID] = model.ContentTypeImage
		}
		m.combined.RestoreVectors(append(entriesFromVectorEntries(f.Groups.Text), entriesFromVectorEntries(f.Groups.Image)...))
	}

	return m.initSubIndexes(f.Groups)
}

// entriesFromVectorEntries converts the on-disk VectorEntry payload to the
// in-memory Entry shape used by VectorIndex.
func entriesFromVectorEntries(ves []VectorEntry) []Entry {
	entries := make([]Entry, len(ves))
	for i, ve := range ves {
		entries[i] = Entry{ID: ve.ID, Vector: ve.Vector}
	}
	return entries
}

// initSubIndexes materializes the dual-graph routing for multimodal datasets.
func (m *Manager) initSubIndexes(groups *GroupedVectors) error {
	if m.info.Mode != model.ModeMultimodal {
		return nil
	}

	cfg := DefaultConfig(m.info.ModelDimensions)
	var err error
	if m.textIdx, err = New(cfg); err != nil {
		return err
	}
	if m.imageIdx, err = New(cfg); err != nil {
		return err
	}

	if groups != nil {
		if err := m.textIdx.Add(entriesFromVectorEntries(groups.Text)); err != nil {
			return err
		}
		if err := m.imageIdx.Add(entriesFromVectorEntries(groups.Image)); err != nil {
			return err
		}
	}
	return nil
}

// Info returns the effective system info.
func (m *Manager) Info() model.SystemInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info
}

// Count returns the number of live vectors (mapped ids).
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.idToNum)
}

// hashEmbeddingID is the 32-bit polynomial hash over the id string.
func hashEmbeddingID(id string) uint32 {
	var h uint32
	for i := 0; i < len(id); i++ {
		h = h*31 + uint32(id[i])
	}
	return h % numericIDSpace
}

// assignLocked maps an embedding id to a free numeric id, resolving
// collisions by open addressing: increment modulo 2^31 until a free slot.
// Deterministic for fresh inserts given identical insertion order; reopened
// datasets read the persisted map instead of re-deriving it.
func (m *Manager) assignLocked(embeddingID string) uint32 {
	if num, ok := m.idToNum[embeddingID]; ok {
		return num
	}

	num := hashEmbeddingID(embeddingID)
	for {
		if _, taken := m.numToID[num]; !taken {
			break
		}
		num = (num + 1) % numericIDSpace
	}

	m.idToNum[embeddingID] = num
	m.numToID[num] = embeddingID
	return num
}

// Add assigns numeric ids and inserts the batch into the combined graph (and,
// in multimodal mode, the matching sub-index). Returns the id mappings in
// batch order so the caller can persist them in the same transaction as the
// chunk rows. The index file is not saved; call Save after the batch.
func (m *Manager) Add(items []Item) ([]store.IDMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mappings := make([]store.IDMapping, 0, len(items))
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		if len(item.Vector) != m.info.ModelDimensions {
			return nil, rlerrors.Newf(rlerrors.ErrCodeIndexDimensionMismatch,
				"embedding %s has %d dimensions, dataset expects %d",
				item.EmbeddingID, len(item.Vector), m.info.ModelDimensions)
		}
		num := m.assignLocked(item.EmbeddingID)
		m.typeByID[num] = item.ContentType
		mappings = append(mappings, store.IDMapping{EmbeddingID: item.EmbeddingID, NumericID: num})
		entries = append(entries, Entry{ID: num, Vector: item.Vector})
	}

	if err := m.combined.Add(entries); err != nil {
		return nil, err
	}

	if m.info.Mode == model.ModeMultimodal {
		for i, item := range items {
			sub := m.textIdx
			if item.ContentType == model.ContentTypeImage {
				sub = m.imageIdx
			}
			if err := sub.Add(entries[i : i+1]); err != nil {
				return nil, err
			}
		}
	}

	return mappings, nil
}

// Remove unmaps embedding ids. The graph keeps the nodes (lazy deletion);
// unmapped hits are skipped at search time and dropped by the next rebuild.
func (m *Manager) Remove(embeddingIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range embeddingIDs {
		if num, ok := m.idToNum[id]; ok {
			delete(m.idToNum, id)
			delete(m.numToID, num)
			delete(m.typeByID, num)
		}
	}
}

// Search runs k-NN against the route for contentType: the text or image
// sub-index in multimodal mode, the combined graph otherwise. In text mode
// the contentType argument is ignored.
func (m *Manager) Search(query []float32, k int, contentType model.ContentType) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	target := m.combined
	if m.info.Mode == model.ModeMultimodal {
		switch contentType {
		case model.ContentTypeText:
			target = m.textIdx
		case model.ContentTypeImage:
			target = m.imageIdx
		}
	}

	// Over-fetch to compensate for lazily-deleted (unmapped) nodes.
	ids, dists, err := target.Search(query, k*2)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, k)
	for i, num := range ids {
		embeddingID, ok := m.numToID[num]
		if !ok {
			continue
		}
		hits = append(hits, Hit{EmbeddingID: embeddingID, NumericID: num, Distance: dists[i]})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Save persists the index file atomically. Multimodal datasets carry the
// grouped vector arrays; text datasets clear the flag and omit them.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	blob, err := m.combined.ExportGraph()
	if err != nil {
		return err
	}

	cfg := m.combined.Config()
	f := &File{
		Header: Header{
			Version:        FormatVersion,
			Dimensions:     uint16(cfg.Dimensions),
			MaxElements:    cfg.MaxElements,
			M:              uint16(cfg.M),
			EfConstruction: uint16(cfg.EfConstruction),
			Seed:           cfg.Seed,
			CurrentSize:    uint32(m.combined.Count()),
		},
		HNSWBlob: blob,
	}

	if m.info.Mode == model.ModeMultimodal {
		groups := &GroupedVectors{Text: []VectorEntry{}, Image: []VectorEntry{}}
		for _, entry := range m.combined.Entries() {
			ve := VectorEntry{ID: entry.ID, Vector: entry.Vector}
			if m.typeByID[entry.ID] == model.ContentTypeImage {
				groups.Image = append(groups.Image, ve)
			} else {
				groups.Text = append(groups.Text, ve)
			}
		}
		f.Groups = groups
	}

	return Write(m.indexPath, f)
}

// Metric returns the dataset distance metric.
func (m *Manager) Metric() string {
	return m.combined.Config().Metric
}

// RebuildWith truncates the graph and re-embeds every chunk in insertion
// order with the given embedder. Chunks keep their embedding ids; numeric
// ids are reassigned and the persisted id map replaced. Document and chunk
// rows are untouched; the system-info singleton is left for the caller to
// update after a successful rebuild.
func (m *Manager) RebuildWith(ctx context.Context, embedder embed.Embedder, newInfo model.SystemInfo, batchSize int) error {
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}
	if caps := embedder.Capabilities(); caps.Dimensions != newInfo.ModelDimensions {
		return rlerrors.Newf(rlerrors.ErrCodeIndexDimensionMismatch,
			"embedder produces %d dimensions, new system info says %d",
			caps.Dimensions, newInfo.ModelDimensions)
	}

	chunks, err := m.meta.AllChunksOrdered(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.info = newInfo
	m.idToNum = make(map[string]uint32)
	m.numToID = make(map[uint32]string)
	m.typeByID = make(map[uint32]model.ContentType)

	cfg := DefaultConfig(newInfo.ModelDimensions)
	if m.combined, err = New(cfg); err != nil {
		return err
	}
	if err := m.initSubIndexes(nil); err != nil {
		return err
	}

	var allMappings []store.IDMapping
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		inputs := make([]embed.Input, len(batch))
		for i, c := range batch {
			inputs[i] = embed.Input{Content: c.Content, ContentType: contentInputType(c.ContentType)}
		}

		bctx, cancel := context.WithTimeout(ctx, embed.DefaultTimeout)
		results, err := embedder.EmbedBatch(bctx, inputs)
		cancel()
		if err != nil {
			return rlerrors.New(rlerrors.ErrCodeEmbedding, "rebuild embedding batch failed: "+err.Error(), err)
		}
		if len(results) != len(batch) {
			return rlerrors.Newf(rlerrors.ErrCodeEmbedding,
				"rebuild batch returned %d embeddings for %d chunks", len(results), len(batch))
		}

		for i, c := range batch {
			num := m.assignLocked(c.EmbeddingID)
			m.typeByID[num] = c.ContentType
			entry := Entry{ID: num, Vector: results[i].Vector}
			if err := m.combined.Add([]Entry{entry}); err != nil {
				return err
			}
			if m.info.Mode == model.ModeMultimodal {
				sub := m.textIdx
				if c.ContentType == model.ContentTypeImage {
					sub = m.imageIdx
				}
				if err := sub.Add([]Entry{entry}); err != nil {
					return err
				}
			}
			allMappings = append(allMappings, store.IDMapping{EmbeddingID: c.EmbeddingID, NumericID: num})
		}

		slog.Debug("rebuild progress",
			slog.Int("embedded", end), slog.Int("total", len(chunks)))
	}

	if err := m.meta.ReplaceMappings(ctx, allMappings); err != nil {
		return err
	}
	return m.saveLocked()
}

// contentInputType maps stored chunk content types onto what the embedder
// expects: everything textual embeds as text, images as image paths.
func contentInputType(ct model.ContentType) model.ContentType {
	if ct == model.ContentTypeImage {
		return ct
	}
	return model.ContentTypeText
}

// Close releases the graphs.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.combined != nil {
		_ = m.combined.Close()
	}
	if m.textIdx != nil {
		_ = m.textIdx.Close()
	}
	if m.imageIdx != nil {
		_ = m.imageIdx.Close()
	}
	return nil
}
