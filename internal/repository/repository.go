// Package repository implements the Repository and its process-wide
// registry: the unit of allocation a client binds to via alloc_pid
// (spec section 3). A Repository owns exactly one corpus.Corpus and one
// watcher.Tracker; the Registry reference-counts Repositories by their
// canonicalised root path so concurrent clients on the same directory
// share one corpus instead of mapping it twice.
package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/memsearchd/memsearchd/internal/corpus"
	"github.com/memsearchd/memsearchd/internal/watcher"
)

// Repository is one allocated, live-indexed codebase.
type Repository struct {
	root    string
	corpus  *corpus.Corpus
	tracker *watcher.Tracker

	refs int64
}

// Root returns the canonicalised directory path this repository indexes.
func (r *Repository) Root() string { return r.root }

// Corpus returns the live corpus backing this repository's searches.
func (r *Repository) Corpus() *corpus.Corpus { return r.corpus }

// Resync rebuilds the repository's watcher and re-walks its corpus,
// recovering from a watcher failure. It runs only when called; nothing
// in the daemon calls it when the tracker turns stale.
func (r *Repository) Resync(ctx context.Context) error {
	return r.tracker.Resync(ctx)
}

func (r *Repository) close() {
	if err := r.tracker.Close(); err != nil {
		// best-effort: the process is tearing this repository down anyway
		_ = err
	}
	r.corpus.Close()
}

// Options configures Registry construction, chiefly for tests that need
// to substitute a Watcher factory or tune the coalesce window.
type Options struct {
	WatcherFactory  func() (watcher.Watcher, error)
	CoalesceWindow  time.Duration
	FileSizeCeiling int64
	// IdleGrace delays teardown of a Repository that drops to zero
	// references, so a client that reacquires the same path moments
	// later (common in short-lived agent sessions) does not pay the
	// walk cost again. Zero means immediate teardown (spec section 3's
	// default choice; see DESIGN.md).
	IdleGrace time.Duration
}

// Registry holds the set of currently-allocated Repositories, keyed by
// canonicalised root path, and reference-counts client bindings to each.
type Registry struct {
	opts Options

	mu    sync.Mutex
	repos map[string]*Repository
	idle  map[string]*time.Timer
}

// NewRegistry constructs an empty Registry.
func NewRegistry(opts Options) *Registry {
	if opts.WatcherFactory == nil {
		opts.WatcherFactory = watcher.NewFSNotifyWatcher
	}
	return &Registry{
		opts:  opts,
		repos: make(map[string]*Repository),
		idle:  make(map[string]*time.Timer),
	}
}

// Canonicalize resolves path the way alloc_pid must (spec section 4.5):
// absolute, with symlinks resolved, and verified to be an existing
// directory.
func Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("stat repository path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("repository path %s is not a directory", resolved)
	}
	return resolved, nil
}

// Acquire binds one more client to the repository rooted at path,
// creating and arming it on first access. The watcher is synchronously
// started before Acquire returns (spec section 4.3: "alloc_pid must not
// return success until the watcher is actually armed").
func (reg *Registry) Acquire(ctx context.Context, path string) (*Repository, error) {
	root, err := Canonicalize(path)
	if err != nil {
		return nil, err
	}

	reg.mu.Lock()
	if repo, ok := reg.repos[root]; ok {
		atomic.AddInt64(&repo.refs, 1)
		reg.cancelIdleLocked(root)
		reg.mu.Unlock()
		return repo, nil
	}
	reg.mu.Unlock()

	// Build the new repository outside the registry lock: the walk can
	// take a while on a large tree and must not stall unrelated clients.
	corp := corpus.New(root, reg.opts.FileSizeCeiling)
	tr := watcher.New(corp, reg.opts.WatcherFactory, reg.opts.CoalesceWindow)
	if err := tr.Start(ctx); err != nil {
		corp.Close()
		return nil, fmt.Errorf("arm watcher for %s: %w", root, err)
	}
	repo := &Repository{root: root, corpus: corp, tracker: tr, refs: 1}

	reg.mu.Lock()
	existing, raced := reg.repos[root]
	if raced {
		// Lost a race with a concurrent Acquire for the same path; keep
		// the winner, tear down our redundant build.
		atomic.AddInt64(&existing.refs, 1)
		reg.cancelIdleLocked(root)
	} else {
		reg.repos[root] = repo
	}
	reg.mu.Unlock()

	if raced {
		repo.close()
		return existing, nil
	}
	return repo, nil
}

// Release drops one reference to repo. At zero references the
// repository is torn down — immediately, or after IdleGrace if
// configured — releasing its watcher and unmapping its corpus.
func (reg *Registry) Release(repo *Repository) {
	remaining := atomic.AddInt64(&repo.refs, -1)
	if remaining > 0 {
		return
	}

	if reg.opts.IdleGrace <= 0 {
		reg.mu.Lock()
		delete(reg.repos, repo.root)
		reg.mu.Unlock()
		repo.close()
		return
	}

	reg.mu.Lock()
	root := repo.root
	reg.idle[root] = time.AfterFunc(reg.opts.IdleGrace, func() {
		reg.mu.Lock()
		current, ok := reg.repos[root]
		if !ok || current != repo || atomic.LoadInt64(&repo.refs) > 0 {
			delete(reg.idle, root)
			reg.mu.Unlock()
			return
		}
		delete(reg.repos, root)
		delete(reg.idle, root)
		reg.mu.Unlock()
		repo.close()
	})
	reg.mu.Unlock()
}

func (reg *Registry) cancelIdleLocked(root string) {
	if timer, ok := reg.idle[root]; ok {
		timer.Stop()
		delete(reg.idle, root)
	}
}

// Len reports the number of currently-allocated repositories, for tests
// and diagnostics.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.repos)
}

// Shutdown tears down every repository the registry still holds,
// regardless of reference count, for clean daemon exit.
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	repos := make([]*Repository, 0, len(reg.repos))
	for root, r := range reg.repos {
		repos = append(repos, r)
		delete(reg.repos, root)
	}
	for _, timer := range reg.idle {
		timer.Stop()
	}
	reg.idle = make(map[string]*time.Timer)
	reg.mu.Unlock()

	for _, r := range repos {
		r.close()
	}
}
