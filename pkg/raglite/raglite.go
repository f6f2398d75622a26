// Package raglite is the embeddable entry point: Open wires a dataset's
// stores, index, embedder, and reranker into one handle exposing ingestion
// and search.
package raglite

import (
	"context"
	"sync"

	"github.com/raglite/raglite/internal/config"
	rlerrors "github.com/raglite/raglite/internal/errors"
	"github.com/raglite/raglite/internal/model"
	"github.com/raglite/raglite/internal/store"
)

// defaultConnManager is the process-wide writer broker shared by every Open
// call that does not bring its own manager. It is a package variable rather
// than a hard global dependency: tests and embedders can pass their own via
// WithConnManager.
var (
	defaultConnOnce sync.Once
	defaultConnMgr  *store.ConnManager
)

func sharedConnManager(cliMode bool) *store.ConnManager {
	defaultConnOnce.Do(func() {
		if cliMode {
			defaultConnMgr = store.NewConnManager(store.WithoutSweeper())
		} else {
			defaultConnMgr = store.NewConnManager()
		}
	})
	return defaultConnMgr
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	cfg        config.Config
	cfgSet     bool
	modelName  string
	connMgr    *store.ConnManager
	disableCAS bool
}

// WithModel requests a specific registry model. Mismatch with a stored
// dataset fails with ModelIncompatible.
func WithModel(name string) Option {
	return func(o *openOptions) { o.modelName = name }
}

// WithConfig supplies a pre-loaded configuration (otherwise the environment
// is consulted).
func WithConfig(cfg config.Config) Option {
	return func(o *openOptions) {
		o.cfg = cfg
		o.cfgSet = true
	}
}

// WithConnManager shares an externally owned connection manager.
func WithConnManager(m *store.ConnManager) Option {
	return func(o *openOptions) { o.connMgr = m }
}

// WithoutContentStore disables content-addressed blob storage.
func WithoutContentStore() Option {
	return func(o *openOptions) { o.disableCAS = true }
}

// Open resolves the dataset layout under root, runs mode detection, and
// returns a ready handle. For a never-ingested dataset nothing is written
// until the first ingest.
func Open(ctx context.Context, root string, opts ...Option) (*Dataset, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	if !o.cfgSet {
		cfg, err := config.Load("")
		if err != nil {
			return nil, err
		}
		o.cfg = cfg
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	if o.modelName == "" {
		o.modelName = o.cfg.Embedding.Model
	}

	connMgr := o.connMgr
	if connMgr == nil {
		connMgr = sharedConnManager(o.cfg.CLIMode)
	}

	d := &Dataset{
		cfg:            o.cfg,
		connMgr:        connMgr,
		requestedModel: o.modelName,
		contentStoreOn: !o.disableCAS,
		state:          StateOpening,
	}

	if err := d.resolveLayout(root); err != nil {
		return nil, err
	}
	if err := d.initComponents(ctx, false); err != nil {
		return nil, err
	}

	d.state = StateReady
	return d, nil
}

// requestedSpec picks the effective model spec: the explicit request wins,
// otherwise the stored dataset model, otherwise the registry default.
func requestedSpec(requested string, stored *model.SystemInfo) (model.Spec, error) {
	name := requested
	if name == "" {
		if stored != nil {
			name = stored.ModelName
		} else {
			name = model.DefaultModelName
		}
	}
	return model.Lookup(name)
}

// errClosed is returned by operations on a closed dataset.
func errClosed() error {
	return rlerrors.Newf(rlerrors.ErrCodeInvalidInput, "dataset is closed")
}
