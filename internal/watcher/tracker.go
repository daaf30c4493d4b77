package watcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/memsearchd/memsearchd/internal/classify"
	"github.com/memsearchd/memsearchd/internal/corpus"
)

// DefaultCoalesceWindow is how long the tracker waits for a path to go
// quiet before applying its net effect to the corpus (spec section 4.3).
const DefaultCoalesceWindow = 50 * time.Millisecond

type eventKind int

const (
	kindWrite eventKind = iota
	kindCreate
	kindRemove
	kindRename
)

// precedence ranks event kinds so a later, lower-priority event never
// overwrites a pending higher-priority one: once a path is marked gone,
// a trailing write event for the same path must not resurrect it.
func precedence(k eventKind) int {
	switch k {
	case kindRemove, kindRename:
		return 2
	case kindCreate:
		return 1
	default:
		return 0
	}
}

type pendingEvent struct {
	kind  eventKind
	timer *time.Timer
}

// Tracker is the ChangeTracker: it arms a recursive fsnotify watch over
// a corpus's root, coalesces bursts of events per path, and applies the
// net effect of each burst to the corpus after the path goes quiet.
type Tracker struct {
	corpus         *corpus.Corpus
	watcherFactory func() (Watcher, error)
	coalesceWindow time.Duration

	mu       sync.Mutex
	pending  map[string]*pendingEvent
	dirIndex map[string]struct{}

	watcher Watcher
	stale   bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Tracker for corp. factory builds the underlying
// Watcher; pass NewFSNotifyWatcher in production or a stub in tests.
// window <= 0 uses DefaultCoalesceWindow.
func New(corp *corpus.Corpus, factory func() (Watcher, error), window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultCoalesceWindow
	}
	return &Tracker{
		corpus:         corp,
		watcherFactory: factory,
		coalesceWindow: window,
		pending:        make(map[string]*pendingEvent),
		dirIndex:       make(map[string]struct{}),
	}
}

// Start arms the watcher, then performs the initial walk, then drains
// whatever the watcher buffered while the walk ran (spec section 4.3:
// "must begin observing events before the initial walk completes"). It
// does not return until all three phases are finished, so callers that
// only proceed after Start returns are guaranteed the watcher is
// already live.
func (t *Tracker) Start(ctx context.Context) error {
	w, err := t.watcherFactory()
	if err != nil {
		return fmt.Errorf("arm watcher: %w", err)
	}
	t.watcher = w

	t.ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	go t.watchLoop()

	if err := t.addWatch(t.corpus.Root()); err != nil {
		log.Printf("watcher: failed to watch root %s: %v", t.corpus.Root(), err)
	}

	if err := t.corpus.WalkWithDirHook(func(dir string) {
		if dir == t.corpus.Root() {
			return
		}
		if err := t.addWatch(dir); err != nil {
			log.Printf("watcher: failed to watch %s: %v", dir, err)
		}
	}); err != nil {
		return fmt.Errorf("initial walk: %w", err)
	}

	// Events that landed on directories discovered mid-walk, or on any
	// path at all while the walk was still running, are already queued
	// on t.pending with their coalesce timers running; nothing further
	// to drain explicitly here since watchLoop has been live throughout.
	return nil
}

// Close stops the watch loop and releases the underlying watcher.
func (t *Tracker) Close() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.done != nil {
		<-t.done
	}
	t.mu.Lock()
	for _, pe := range t.pending {
		pe.timer.Stop()
	}
	t.pending = make(map[string]*pendingEvent)
	t.mu.Unlock()
	if t.watcher != nil {
		return t.watcher.Close()
	}
	return nil
}

func (t *Tracker) addWatch(path string) error {
	t.mu.Lock()
	if _, ok := t.dirIndex[path]; ok {
		t.mu.Unlock()
		return nil
	}
	t.dirIndex[path] = struct{}{}
	t.mu.Unlock()
	return t.watcher.Add(path)
}

func (t *Tracker) dropWatch(path string) {
	t.mu.Lock()
	delete(t.dirIndex, path)
	t.mu.Unlock()
}

func (t *Tracker) watchLoop() {
	defer close(t.done)
	for {
		select {
		case <-t.ctx.Done():
			return
		case evt, ok := <-t.watcher.Events():
			if !ok {
				t.markStale()
				return
			}
			t.handleEvent(evt)
		case err, ok := <-t.watcher.Errors():
			if !ok {
				t.markStale()
				return
			}
			log.Printf("watcher: error: %v", err)
			t.markStale()
		}
	}
}

func (t *Tracker) handleEvent(evt fsnotify.Event) {
	switch {
	case evt.Op&fsnotify.Create == fsnotify.Create:
		t.markDirty(evt.Name, kindCreate)
	case evt.Op&fsnotify.Write == fsnotify.Write:
		t.markDirty(evt.Name, kindWrite)
	case evt.Op&fsnotify.Remove == fsnotify.Remove:
		t.markDirty(evt.Name, kindRemove)
		t.dropWatch(evt.Name)
	case evt.Op&fsnotify.Rename == fsnotify.Rename:
		t.markDirty(evt.Name, kindRename)
		t.dropWatch(evt.Name)
	}
}

func (t *Tracker) markDirty(path string, kind eventKind) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if pe, ok := t.pending[path]; ok {
		if precedence(kind) >= precedence(pe.kind) {
			pe.kind = kind
		}
		pe.timer.Reset(t.coalesceWindow)
		return
	}

	pe := &pendingEvent{kind: kind}
	pe.timer = time.AfterFunc(t.coalesceWindow, func() { t.flush(path) })
	t.pending[path] = pe
}

func (t *Tracker) flush(path string) {
	t.mu.Lock()
	pe, ok := t.pending[path]
	if ok {
		delete(t.pending, path)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	t.apply(path, pe.kind)
}

func (t *Tracker) apply(path string, kind eventKind) {
	switch kind {
	case kindRemove, kindRename:
		t.corpus.RemoveTree(path) // covers both a removed file and a removed directory subtree
		if kind == kindRename {
			// A rename may be a file moving in, not just out; rescan the
			// parent so anything that landed there gets picked up,
			// mirroring the teacher's rescanDir-on-rename behavior.
			_ = t.rescanDir(filepath.Dir(path), false)
		}
	default:
		info, err := os.Stat(path)
		if err != nil {
			t.corpus.Remove(path)
			return
		}
		if info.IsDir() {
			if classify.SkipDir(filepath.Base(path)) {
				return
			}
			if err := t.addWatch(path); err != nil {
				log.Printf("watcher: failed to watch new directory %s: %v", path, err)
			}
			_ = t.rescanDir(path, true)
			return
		}
		if err := t.corpus.Replace(path); err != nil {
			log.Printf("watcher: failed to index %s: %v", path, err)
		}
	}
}

// rescanDir refreshes every file directly inside dir and, if recursive,
// arms watches on and descends into its subdirectories. Used when a new
// directory appears (it may already contain files, e.g. from a git
// checkout or archive extraction) and after a rename settles.
func (t *Tracker) rescanDir(dir string, recursive bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil // vanished again already; nothing to do
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if recursive && !classify.SkipDir(entry.Name()) {
				if err := t.addWatch(path); err != nil {
					log.Printf("watcher: failed to watch %s: %v", path, err)
				}
				_ = t.rescanDir(path, true)
			}
			continue
		}
		if err := t.corpus.Insert(path); err != nil {
			log.Printf("watcher: failed to index %s: %v", path, err)
		}
	}
	return nil
}

func (t *Tracker) markStale() {
	t.mu.Lock()
	t.stale = true
	t.mu.Unlock()
}

// Stale reports whether the watcher has failed and a full resync is
// needed to restore confidence in the corpus's contents.
func (t *Tracker) Stale() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stale
}

// Resync rebuilds the watcher from scratch and re-walks the corpus root,
// recovering from a failed or closed watcher (spec section 7: "Watcher
// delivery loss ... trigger a best-effort rescan").
func (t *Tracker) Resync(ctx context.Context) error {
	if err := t.Close(); err != nil {
		log.Printf("watcher: error closing stale watcher: %v", err)
	}

	t.mu.Lock()
	t.stale = false
	t.dirIndex = make(map[string]struct{})
	t.pending = make(map[string]*pendingEvent)
	t.mu.Unlock()

	return t.Start(ctx)
}
