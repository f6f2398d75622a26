package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	rlerrors "github.com/raglite/raglite/internal/errors"
)

const (
	// defaultIdleTimeout is how long a zero-refcount connection stays warm.
	defaultIdleTimeout = 60 * time.Second

	// busyBackoff is the retry interval for BusyWait.
	busyBackoff = 100 * time.Millisecond
)

// ConnManager is the single writer broker for a process. It keeps one shared
// SQLite connection per canonical database path, ref-counted across the
// search engine, the ingestion pipeline, and the UI backend. It is a plain
// struct rather than a package global so tests can instantiate their own.
type ConnManager struct {
	mu      sync.Mutex
	entries map[string]*connEntry

	idleTimeout time.Duration
	sweeperOff  bool
	stopSweep   chan struct{}
	sweepOnce   sync.Once
}

type connEntry struct {
	db       *sql.DB
	refCount int
	lastUsed time.Time
	closing  bool
}

// ConnManagerOption configures a ConnManager.
type ConnManagerOption func(*ConnManager)

// WithoutSweeper disables the idle sweeper; used by one-shot CLI invocations
// where the process exits right after the command.
func WithoutSweeper() ConnManagerOption {
	return func(m *ConnManager) { m.sweeperOff = true }
}

// WithIdleTimeout overrides the idle close timeout.
func WithIdleTimeout(d time.Duration) ConnManagerOption {
	return func(m *ConnManager) { m.idleTimeout = d }
}

// NewConnManager creates a connection manager. Unless disabled, a background
// sweeper closes connections that have been unreferenced for the idle timeout.
func NewConnManager(opts ...ConnManagerOption) *ConnManager {
	m := &ConnManager{
		entries:     make(map[string]*connEntry),
		idleTimeout: defaultIdleTimeout,
		stopSweep:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if !m.sweeperOff {
		go m.sweepLoop()
	}
	return m
}

// Handle is a ref-counted lease on a shared connection. Close releases the
// lease; the connection itself stays warm until the sweeper reclaims it.
type Handle struct {
	DB   *sql.DB
	path string
	mgr  *ConnManager

	once sync.Once
}

// Close releases the handle's reference. Idempotent.
func (h *Handle) Close() error {
	h.once.Do(func() { h.mgr.release(h.path) })
	return nil
}

// Path returns the canonical database path this handle is bound to.
func (h *Handle) Path() string { return h.path }

// canonicalize resolves a database path to its canonical absolute form so all
// subsystems share one entry per dataset regardless of how they spelled the
// path.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("canonicalize %q: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	// The file may not exist yet; canonicalize the parent instead.
	dir, base := filepath.Split(abs)
	if resolved, err := filepath.EvalSymlinks(filepath.Clean(dir)); err == nil {
		return filepath.Join(resolved, base), nil
	}
	return abs, nil
}

// Acquire returns a handle on the shared connection for path, opening it if
// needed. If the database file was deleted underneath a cached entry (e.g. by
// a force rebuild), the stale entry is force-closed and a fresh one is opened.
func (m *ConnManager) Acquire(path string) (*Handle, error) {
	canonical, err := canonicalize(path)
	if err != nil {
		return nil, rlerrors.Wrap(rlerrors.ErrCodePathNotFound, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.entries[canonical]; ok && !entry.closing {
		if _, statErr := os.Stat(canonical); statErr != nil && os.IsNotExist(statErr) {
			// File deleted under us: the cached connection points at unlinked
			// storage and must not be reused.
			slog.Warn("database file deleted under cached connection, reopening",
				slog.String("path", canonical))
			_ = entry.db.Close()
			delete(m.entries, canonical)
		} else {
			entry.refCount++
			entry.lastUsed = time.Now()
			return &Handle{DB: entry.db, path: canonical, mgr: m}, nil
		}
	}

	db, err := openSQLite(canonical)
	if err != nil {
		return nil, err
	}

	m.entries[canonical] = &connEntry{db: db, refCount: 1, lastUsed: time.Now()}
	return &Handle{DB: db, path: canonical, mgr: m}, nil
}

// BusyWait acquires a handle, retrying on contention errors with a fixed
// backoff until the deadline. Past the deadline the last Busy error surfaces.
func (m *ConnManager) BusyWait(ctx context.Context, path string, deadline time.Time) (*Handle, error) {
	for {
		h, err := m.Acquire(path)
		if err == nil {
			return h, nil
		}
		if !IsBusy(err) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, rlerrors.New(rlerrors.ErrCodeBusy,
				fmt.Sprintf("database %s still busy after deadline", path), err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(busyBackoff):
		}
	}
}

func (m *ConnManager) release(canonical string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[canonical]
	if !ok {
		return
	}
	if entry.refCount > 0 {
		entry.refCount--
	}
	entry.lastUsed = time.Now()
}

// ForceClose evicts the connection for path regardless of refcount. Used
// before destructive rebuilds so no cached writer survives dataset deletion.
func (m *ConnManager) ForceClose(path string) error {
	canonical, err := canonicalize(path)
	if err != nil {
		return rlerrors.Wrap(rlerrors.ErrCodePathNotFound, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[canonical]
	if !ok {
		return nil
	}
	entry.closing = true
	delete(m.entries, canonical)
	if err := entry.db.Close(); err != nil {
		return rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}
	return nil
}

// Close shuts down the sweeper and closes every cached connection.
func (m *ConnManager) Close() error {
	m.sweepOnce.Do(func() { close(m.stopSweep) })

	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for path, entry := range m.entries {
		if err := entry.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.entries, path)
	}
	return firstErr
}

// OpenCount reports the number of cached connections (for tests and stats).
func (m *ConnManager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *ConnManager) sweepLoop() {
	ticker := time.NewTicker(m.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.sweepIdle()
		}
	}
}

func (m *ConnManager) sweepIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for path, entry := range m.entries {
		if entry.refCount == 0 && now.Sub(entry.lastUsed) > m.idleTimeout {
			_ = entry.db.Close()
			delete(m.entries, path)
			slog.Debug("closed idle database connection", slog.String("path", path))
		}
	}
}

// openSQLite opens a database with the pragmas every raglite connection needs.
// WAL must be set via PRAGMA statements; DSN parameters are not honored by
// modernc.org/sqlite.
func openSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, rlerrors.Wrap(rlerrors.ErrCodePermissionDenied, err)
	}

	// _txlock=immediate makes write transactions take the write lock up
	// front, so concurrent writers fail fast with SQLITE_BUSY instead of at
	// commit time.
	db, err := sql.Open("sqlite", path+"?_txlock=immediate")
	if err != nil {
		return nil, rlerrors.Wrap(rlerrors.ErrCodeDatabase, err)
	}

	// Single writer to prevent lock contention; readers share the same
	// connection through the manager.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, rlerrors.New(rlerrors.ErrCodeDatabase,
				fmt.Sprintf("set pragma %q: %v", pragma, err), err)
		}
	}

	return db, nil
}

// IsBusy reports whether err looks like SQLite lock contention.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if rlerrors.HasCode(err, rlerrors.ErrCodeBusy) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}
