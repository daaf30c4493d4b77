package corpus

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/memsearchd/memsearchd/internal/classify"
)

// Walk performs the one-time depth-first crawl described in spec section
// 4.2: it prunes at skipped directories, maps every indexable
// non-empty file it finds, and never fails the walk as a whole because
// of one bad file — mapping errors are logged and the file is omitted.
//
// Symlinked directories are followed but cycles are broken by tracking
// which directories have already been visited (compared via
// os.SameFile, which works even across symlink boundaries).
func (c *Corpus) Walk() error {
	return c.WalkWithDirHook(nil)
}

// WalkWithDirHook is Walk, except onDir (if non-nil) is invoked with the
// absolute path of every directory as it is entered, before its entries
// are read. The watcher uses this to arm a recursive watch on exactly
// the directories the corpus ends up caring about, in the same pass
// that discovers them, rather than racing a second directory listing
// after the fact.
func (c *Corpus) WalkWithDirHook(onDir func(dir string)) error {
	visited := make(map[string]os.FileInfo)
	var files []*MappedFile

	var walkDir func(dir string) error
	walkDir = func(dir string) error {
		info, err := os.Stat(dir)
		if err != nil {
			return nil // vanished mid-walk; nothing to index here
		}
		for _, seen := range visited {
			if os.SameFile(seen, info) {
				return nil // cycle: already visited this physical directory
			}
		}
		visited[dir] = info
		if onDir != nil {
			onDir(dir)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			log.Printf("corpus: skipping directory %s: %v", dir, err)
			return nil
		}

		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			entryInfo, err := entry.Info()
			if err != nil {
				continue
			}

			isDir := entryInfo.IsDir()
			if entryInfo.Mode()&os.ModeSymlink != 0 {
				target, err := os.Stat(path)
				if err != nil {
					continue // broken symlink
				}
				isDir = target.IsDir()
			}

			if isDir {
				if classify.SkipDir(entry.Name()) {
					continue
				}
				if err := walkDir(path); err != nil {
					return err
				}
				continue
			}

			if !classify.Indexable(path) {
				continue
			}
			mf, err := c.buildMappedFile(path)
			if err != nil {
				log.Printf("corpus: skipping %s: %v", path, err)
				continue
			}
			if mf != nil {
				files = append(files, mf)
			}
		}
		return nil
	}

	if err := walkDir(c.root); err != nil {
		return err
	}
	c.bulkReplace(files)
	return nil
}

func (c *Corpus) buildMappedFile(path string) (*MappedFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Mode()&fs.ModeType != 0 {
		return nil, nil // not a regular file (device, pipe, socket, ...)
	}
	if info.Size() == 0 {
		log.Printf("corpus: skipping %s: zero-length file", path)
		return nil, nil
	}
	if !classify.FitsSizeCeiling(info.Size(), c.ceiling) {
		log.Printf("corpus: skipping %s: %d bytes exceeds ceiling %d", path, info.Size(), c.ceiling)
		return nil, nil
	}
	return mapFile(path, 1)
}
