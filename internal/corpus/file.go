package corpus

import (
	"fmt"
	"os"
	"sync/atomic"

	mmap "github.com/edsrzf/mmap-go"
)

// MappedFile is a single indexed file: an absolute path, its byte length
// at mapping time, a read-only mapping handle covering the whole file,
// and a generation counter bumped whenever the mapping is replaced.
//
// A MappedFile is shared-lifetime: it may be referenced by more than one
// published snapshot at once (an insert publishes a snapshot containing
// it; a later snapshot that doesn't touch this path still points at the
// same *MappedFile). Its mapping is torn down only once refs drops to
// zero, which happens when every snapshot that ever referenced it has
// been superseded and released.
type MappedFile struct {
	Path       string
	Size       int64
	Generation uint64

	mapping mmap.MMap
	refs    atomic.Int64
}

// mapFile opens path read-only and memory-maps its full contents. The
// caller is responsible for checking that the file is indexable and
// non-empty before calling this.
func mapFile(path string, generation uint64) (*MappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s: is a directory", path)
	}
	size := info.Size()
	if size == 0 {
		return nil, fmt.Errorf("%s: zero-length file", path)
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	if int64(len(m)) != size {
		_ = m.Unmap()
		return nil, fmt.Errorf("%s: mapped length %d does not match stat size %d", path, len(m), size)
	}

	mf := &MappedFile{
		Path:       path,
		Size:       size,
		Generation: generation,
		mapping:    m,
	}
	return mf, nil
}

// Bytes returns the file's mapped contents. The slice is valid for as
// long as the caller (or the snapshot it came from) holds a reference;
// callers obtained from a Snapshot hold an implicit reference for the
// duration of the scan.
func (f *MappedFile) Bytes() []byte {
	return f.mapping
}

// retain increments the reference count; called once per snapshot that
// includes this file.
func (f *MappedFile) retain() {
	f.refs.Add(1)
}

// release decrements the reference count and unmaps the file once the
// last reference is gone. Safe to call only once per matching retain.
func (f *MappedFile) release() {
	if f.refs.Add(-1) == 0 {
		_ = f.mapping.Unmap()
	}
}
