package index

import (
	"bufio"
	"bytes"
	"math"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	rlerrors "github.com/raglite/raglite/internal/errors"
)

// Default HNSW parameters, fixed at dataset creation.
const (
	DefaultM              = 16
	DefaultEfConstruction = 200
	DefaultEfSearch       = 64
	DefaultSeed           = 100
	DefaultMaxElements    = 100_000

	// growthFactor and occupancyThreshold control capacity growth: crossing
	// 90% occupancy grows the recorded capacity to ceil(1.5 * needed).
	growthFactor       = 1.5
	occupancyThreshold = 0.9
)

// Metric names.
const (
	MetricCosine = "cos"
	MetricL2     = "l2"
)

// Config parameterizes a vector index.
type Config struct {
	Dimensions     int
	M              int
	EfConstruction int
	EfSearch       int
	Seed           uint32
	MaxElements    uint32
	Metric         string
}

// DefaultConfig returns the fixed dataset-creation defaults for a dimension.
func DefaultConfig(dimensions int) Config {
	return Config{
		Dimensions:     dimensions,
		M:              DefaultM,
		EfConstruction: DefaultEfConstruction,
		EfSearch:       DefaultEfSearch,
		Seed:           DefaultSeed,
		MaxElements:    DefaultMaxElements,
		Metric:         MetricCosine,
	}
}

// Entry is one (numeric id, vector) pair.
type Entry struct {
	ID     uint32
	Vector []float32
}

// VectorIndex wraps a coder/hnsw graph with dimension checks, capacity
// bookkeeping, and deterministic result ordering. All methods are synchronous
// and cpu-bound; callers schedule them.
type VectorIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint32]
	cfg    Config
	closed bool

	// vectors mirrors the graph contents so grouped payloads can be
	// regenerated on save and sub-indexes rebuilt on load.
	vectors map[uint32][]float32
	// order preserves insertion order for deterministic serialization.
	order []uint32
}

// New creates an empty index.
func New(cfg Config) (*VectorIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, rlerrors.Newf(rlerrors.ErrCodeInvalidRange,
			"dimensions must be positive, got %d", cfg.Dimensions)
	}
	applyDefaults(&cfg)

	return &VectorIndex{
		graph:   newGraph(cfg),
		cfg:     cfg,
		vectors: make(map[uint32][]float32),
	}, nil
}

func applyDefaults(cfg *Config) {
	if cfg.M == 0 {
		cfg.M = DefaultM
	}
	if cfg.EfConstruction == 0 {
		cfg.EfConstruction = DefaultEfConstruction
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = DefaultEfSearch
	}
	if cfg.MaxElements == 0 {
		cfg.MaxElements = DefaultMaxElements
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}
	if cfg.Seed == 0 {
		cfg.Seed = DefaultSeed
	}
}

func newGraph(cfg Config) *hnsw.Graph[uint32] {
	graph := hnsw.NewGraph[uint32]()
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25
	switch cfg.Metric {
	case MetricL2:
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	return graph
}

// FromBlob restores an index from an exported graph blob.
func FromBlob(cfg Config, blob []byte) (*VectorIndex, error) {
	x, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		return x, nil
	}
	if err := x.graph.Import(bufio.NewReader(bytes.NewReader(blob))); err != nil {
		return nil, rlerrors.New(rlerrors.ErrCodeIndexCorrupt, "import hnsw graph: "+err.Error(), err)
	}
	return x, nil
}

// RestoreVectors seeds the mirror map after a load (the graph blob alone does
// not expose iteration).
func (x *VectorIndex) RestoreVectors(entries []Entry) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, e := range entries {
		if _, ok := x.vectors[e.ID]; !ok {
			x.order = append(x.order, e.ID)
		}
		x.vectors[e.ID] = e.Vector
	}
}

// Add bulk-inserts vectors. Crossing 90% of the recorded capacity grows it to
// ceil((current+n)*1.5) before inserting; existing ids are preserved (the
// graph itself is never rebuilt on resize).
func (x *VectorIndex) Add(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return rlerrors.Newf(rlerrors.ErrCodeInternal, "index is closed")
	}

	for _, e := range entries {
		if len(e.Vector) != x.cfg.Dimensions {
			return rlerrors.Newf(rlerrors.ErrCodeIndexDimensionMismatch,
				"vector %d has %d dimensions, index expects %d",
				e.ID, len(e.Vector), x.cfg.Dimensions)
		}
	}

	needed := uint32(x.graph.Len() + len(entries))
	if float64(needed) > occupancyThreshold*float64(x.cfg.MaxElements) {
		x.cfg.MaxElements = uint32(math.Ceil(float64(needed) * growthFactor))
	}

	for _, e := range entries {
		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		if x.cfg.Metric == MetricCosine {
			normalizeInPlace(vec)
		}

		x.graph.Add(hnsw.MakeNode(e.ID, vec))
		if _, ok := x.vectors[e.ID]; !ok {
			x.order = append(x.order, e.ID)
		}
		x.vectors[e.ID] = vec
	}

	return nil
}

// Search returns up to k ids and distances, closest first. Ties are broken by
// numeric id ascending.
func (x *VectorIndex) Search(query []float32, k int) ([]uint32, []float32, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, nil, rlerrors.Newf(rlerrors.ErrCodeInternal, "index is closed")
	}
	if len(query) != x.cfg.Dimensions {
		return nil, nil, rlerrors.Newf(rlerrors.ErrCodeIndexDimensionMismatch,
			"query has %d dimensions, index expects %d", len(query), x.cfg.Dimensions)
	}
	if k <= 0 || x.graph.Len() == 0 {
		return []uint32{}, []float32{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	if x.cfg.Metric == MetricCosine {
		normalizeInPlace(q)
	}

	nodes := x.graph.Search(q, k)

	type hit struct {
		id   uint32
		dist float32
	}
	hits := make([]hit, 0, len(nodes))
	for _, node := range nodes {
		hits = append(hits, hit{id: node.Key, dist: x.graph.Distance(q, node.Value)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].id < hits[j].id
	})

	ids := make([]uint32, len(hits))
	dists := make([]float32, len(hits))
	for i, h := range hits {
		ids[i] = h.id
		dists[i] = h.dist
	}
	return ids, dists, nil
}

// Count returns the number of vectors in the graph. The mirror map may lag
// behind after a load (text datasets carry no grouped payload to restore it
// from), so the graph is authoritative.
func (x *VectorIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return 0
	}
	return x.graph.Len()
}

// Contains reports whether a numeric id is present.
func (x *VectorIndex) Contains(id uint32) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.vectors[id]
	return ok
}

// Vector returns the stored (normalized) vector for an id, or nil.
func (x *VectorIndex) Vector(id uint32) []float32 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.vectors[id]
}

// Entries returns all entries in insertion order.
func (x *VectorIndex) Entries() []Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()

	entries := make([]Entry, 0, len(x.order))
	for _, id := range x.order {
		entries = append(entries, Entry{ID: id, Vector: x.vectors[id]})
	}
	return entries
}

// Config returns the effective configuration (capacity reflects growth).
func (x *VectorIndex) Config() Config {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.cfg
}

// ExportGraph serializes the graph payload blob.
func (x *VectorIndex) ExportGraph() ([]byte, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var buf bytes.Buffer
	if err := x.graph.Export(&buf); err != nil {
		return nil, rlerrors.Wrap(rlerrors.ErrCodeInternal, err)
	}
	return buf.Bytes(), nil
}

// Close releases the graph.
func (x *VectorIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	x.graph = nil
	return nil
}

// normalizeInPlace scales a vector to unit length in place.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// DistanceToScore converts a distance to a similarity score in [0,1].
func DistanceToScore(distance float32, metric string) float32 {
	switch metric {
	case MetricL2:
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance
	}
}
