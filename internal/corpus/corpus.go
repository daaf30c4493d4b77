// Package corpus implements the live, memory-mapped view of one
// repository's text files: an immutable, key-ordered snapshot that is
// atomically swapped on every mutation so that scanners and the
// filesystem watcher never block each other on the common path (spec
// section 5).
package corpus

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/memsearchd/memsearchd/internal/classify"
)

// snapshot is an immutable, path-sorted view of the corpus at one point
// in time. Every MappedFile it lists is retained for the lifetime of the
// snapshot; the snapshot itself is pinned for the duration of any scan
// that acquired it, via acquire/release below. The decision to unmap
// (superseded AND no outstanding acquires) and the act of acquiring a
// pin are serialised under mu so a reader can never observe a snapshot
// as "live" after its files have already been torn down: acquire()
// fails once released is true, forcing the caller to reload the
// current snapshot instead of scanning freed memory.
type snapshot struct {
	files  []*MappedFile
	byPath map[string]int

	mu         sync.Mutex
	acquired   int
	superseded bool
	released   bool
}

func newSnapshot(files []*MappedFile) *snapshot {
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	byPath := make(map[string]int, len(files))
	for i, f := range files {
		byPath[f.Path] = i
		f.retain()
	}
	return &snapshot{files: files, byPath: byPath}
}

// acquire pins the snapshot, reporting false if it has already been
// unmapped (the caller must reload Corpus.current and retry).
func (s *snapshot) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	s.acquired++
	return true
}

func (s *snapshot) release() {
	s.mu.Lock()
	s.acquired--
	s.maybeReleaseLocked()
	s.mu.Unlock()
}

func (s *snapshot) supersede() {
	s.mu.Lock()
	s.superseded = true
	s.maybeReleaseLocked()
	s.mu.Unlock()
}

func (s *snapshot) maybeReleaseLocked() {
	if !s.superseded || s.acquired > 0 || s.released {
		return
	}
	s.released = true
	for _, f := range s.files {
		f.release()
	}
}

// Snapshot is a caller-held handle on one immutable view of the corpus.
// Callers MUST call Release when they are done reading from it, or the
// files it pins will never be unmapped.
type Snapshot struct {
	snap *snapshot
}

// Files returns the snapshot's MappedFiles in ascending path order.
func (s *Snapshot) Files() []*MappedFile { return s.snap.files }

// Release drops this handle's pin on the snapshot's files.
func (s *Snapshot) Release() { s.snap.release() }

// Corpus owns the set of currently-mapped files for one repository root.
type Corpus struct {
	root    string
	ceiling int64 // max bytes per mapped file; 0 means unlimited

	writeMu sync.Mutex
	current atomic.Pointer[snapshot]
}

// New constructs an empty Corpus rooted at root. ceiling caps the size of
// any single file the corpus will map (spec section 5's resource cap);
// pass 0 for no limit.
func New(root string, ceiling int64) *Corpus {
	c := &Corpus{root: root, ceiling: ceiling}
	c.current.Store(newSnapshot(nil))
	return c
}

// Root returns the repository root this corpus indexes.
func (c *Corpus) Root() string { return c.root }

// Snapshot returns a pinned, consistent view of the corpus for one scan.
// Cheap: it never blocks on concurrent mutations. If the snapshot that
// was current at load time got superseded and fully unmapped before the
// pin landed, the current pointer is reloaded and retried — this can
// only happen a bounded number of times per call, once per intervening
// publish.
func (c *Corpus) Snapshot() *Snapshot {
	for {
		s := c.current.Load()
		if s.acquire() {
			return &Snapshot{snap: s}
		}
	}
}

// Len reports the number of files currently in the corpus.
func (c *Corpus) Len() int {
	return len(c.current.Load().files)
}

func (c *Corpus) publishLocked(files []*MappedFile) {
	next := newSnapshot(files)
	old := c.current.Swap(next)
	if old != nil {
		old.supersede()
	}
}

// Insert classifies, stats, and maps path, adding it to the corpus. For
// a path that is already present it behaves exactly like Replace: the
// file is mapped again and its generation is bumped. A path that does
// not qualify for indexing is not added and no error is returned; if
// the path is present but the file is now missing, empty, or above the
// size ceiling, its entry is dropped. Callers that want to know why
// should check classify.Indexable and stat the file themselves first.
func (c *Corpus) Insert(path string) error {
	return c.upsert(path)
}

// Replace is equivalent to Remove followed by Insert but is applied as a
// single snapshot publish so no scanner ever observes a gap where path
// is briefly absent between the two.
func (c *Corpus) Replace(path string) error {
	return c.upsert(path)
}

func (c *Corpus) upsert(path string) error {
	if !classify.Indexable(path) {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.Remove(path)
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil
	}
	if info.Size() == 0 {
		// Zero-length files are never represented (spec section 3).
		c.Remove(path)
		return nil
	}
	if !classify.FitsSizeCeiling(info.Size(), c.ceiling) {
		log.Printf("corpus: skipping %s: %d bytes exceeds ceiling %d", path, info.Size(), c.ceiling)
		c.Remove(path)
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	old := c.current.Load()
	var generation uint64 = 1
	if idx, ok := old.byPath[path]; ok {
		generation = old.files[idx].Generation + 1
	}

	newFile, err := mapFile(path, generation)
	if err != nil {
		return fmt.Errorf("map %s: %w", path, err)
	}

	files := make([]*MappedFile, 0, len(old.files)+1)
	for _, f := range old.files {
		if f.Path == path {
			continue
		}
		files = append(files, f)
	}
	files = append(files, newFile)
	c.publishLocked(files)
	return nil
}

// Remove unmaps and drops path if present. A no-op if path is not in the
// corpus. The underlying mapping is not torn down until any in-flight
// scanner that pinned a snapshot containing it releases that snapshot.
func (c *Corpus) Remove(path string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	old := c.current.Load()
	if _, ok := old.byPath[path]; !ok {
		return
	}
	files := make([]*MappedFile, 0, len(old.files)-1)
	for _, f := range old.files {
		if f.Path != path {
			files = append(files, f)
		}
	}
	c.publishLocked(files)
}

// RemoveTree drops every file whose path is dir itself or lies beneath
// it, used when a directory is deleted out from under the watcher.
func (c *Corpus) RemoveTree(dir string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	old := c.current.Load()
	prefix := strings.TrimSuffix(dir, string(filepath.Separator)) + string(filepath.Separator)
	files := make([]*MappedFile, 0, len(old.files))
	changed := false
	for _, f := range old.files {
		if f.Path == dir || strings.HasPrefix(f.Path, prefix) {
			changed = true
			continue
		}
		files = append(files, f)
	}
	if changed {
		c.publishLocked(files)
	}
}

// bulkReplace atomically installs files as the entire corpus contents,
// used once by Walk to avoid O(n^2) copy-on-write during the initial
// crawl of a large repository.
func (c *Corpus) bulkReplace(files []*MappedFile) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.publishLocked(files)
}

// Close unmaps every file currently in the corpus. Intended for shutdown
// once the caller is certain no scan holds an outstanding snapshot.
func (c *Corpus) Close() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.publishLocked(nil)
}
