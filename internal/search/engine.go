// Package search implements the SearchEngine: concurrent byte-level
// regex scanning over a corpus snapshot with bounded, deterministic
// results (spec section 4.4).
package search

import (
	"bytes"
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/memsearchd/memsearchd/internal/corpus"
)

// Match is one (path, 1-based line number, decoded line text) hit.
type Match struct {
	Path    string
	Line    int
	Content string
}

// Result is the outcome of one Search call.
type Result struct {
	Matches    []Match
	Truncated  bool
	MaxResults int
}

// DefaultMaxResults is the server-wide default for request_ripgrep's raw
// match path (spec section 4.5 resolves the reference implementation's
// inconsistent 1000-vs-100 defaults in favor of 1000).
const DefaultMaxResults = 1000

// DefaultFormattedMaxResults is the default used by a formatted-only
// convenience entrypoint (the reference implementation's demo default),
// exposed via internal/config for callers that want it.
const DefaultFormattedMaxResults = 100

// Search scans every file in snap, in ascending path order, testing the
// compiled pattern against each \n-delimited line. Per spec section 4.4
// the result is path-ascending, then line-ascending within a file, with
// no duplicates, truncated to maxResults. Files are scanned concurrently
// in contiguous, order-preserving chunks (spec section 5: "a single
// search may further parallelise across files"); each chunk checks ctx
// once before it starts, so a cancelled ctx skips chunks that have not
// begun, while a chunk already scanning runs to its end.
func Search(ctx context.Context, snap *corpus.Snapshot, pattern *CompiledPattern, maxResults int) Result {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	files := snap.Files()
	if len(files) == 0 {
		return Result{MaxResults: maxResults}
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > len(files) {
		workers = len(files)
	}
	if workers < 1 {
		workers = 1
	}
	chunkSize := (len(files) + workers - 1) / workers

	perChunk := make([][]Match, workers)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for w := 0; w < workers; w++ {
		start := w * chunkSize
		if start >= len(files) {
			break
		}
		end := start + chunkSize
		if end > len(files) {
			end = len(files)
		}
		chunk := files[start:end]
		idx := w

		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			perChunk[idx] = scanFiles(chunk, pattern)
			return nil
		})
	}
	_ = g.Wait() // best-effort cancellation only; partial results still valid

	var all []Match
	for _, chunk := range perChunk {
		all = append(all, chunk...)
	}

	truncated := false
	if len(all) > maxResults {
		all = all[:maxResults]
		truncated = true
	}

	return Result{Matches: all, Truncated: truncated, MaxResults: maxResults}
}

func scanFiles(files []*corpus.MappedFile, pattern *CompiledPattern) []Match {
	var matches []Match
	for _, f := range files {
		matches = append(matches, scanFile(f, pattern)...)
	}
	return matches
}

// scanFile decomposes the file into lines the same way the reference
// implementation does: split on '\n' (bytes.Split semantics), so a file
// ending in '\n' yields one trailing empty "line" after the last
// separator, same as Python's bytes.split(b"\n") — this keeps line
// numbering identical to original_source/memory_grep.py's grep().
func scanFile(f *corpus.MappedFile, pattern *CompiledPattern) []Match {
	var matches []Match
	for i, line := range bytes.Split(f.Bytes(), []byte{'\n'}) {
		if pattern.re.Match(line) {
			matches = append(matches, Match{
				Path:    f.Path,
				Line:    i + 1,
				Content: decodeLine(stripLineEnding(line)),
			})
		}
	}
	return matches
}
