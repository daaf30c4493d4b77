// Package classify answers the two questions the corpus and the watcher
// both need before touching a path: is this a file worth indexing, and is
// this a directory worth descending into. Both sets are closed and baked
// into the binary; they are part of the daemon's external contract (see
// spec section 6) so changing them changes what clients can find.
package classify

import (
	"path/filepath"
	"strings"
)

// indexedExtensions is the closed set of lowercased file extensions
// (including the leading dot) that the daemon treats as indexable text.
var indexedExtensions = map[string]struct{}{
	".py": {}, ".js": {}, ".ts": {}, ".jsx": {}, ".tsx": {}, ".java": {},
	".c": {}, ".cpp": {}, ".h": {}, ".hpp": {}, ".go": {}, ".rs": {},
	".rb": {}, ".php": {}, ".cs": {}, ".swift": {}, ".kt": {}, ".scala": {},
	".r": {}, ".html": {}, ".css": {}, ".scss": {}, ".sass": {}, ".less": {},
	".json": {}, ".yaml": {}, ".yml": {}, ".md": {}, ".txt": {}, ".xml": {},
	".sql": {}, ".sh": {}, ".bash": {}, ".zsh": {}, ".fish": {}, ".toml": {},
	".ini": {}, ".conf": {}, ".config": {}, ".env": {}, ".proto": {},
	".graphql": {}, ".vue": {}, ".svelte": {}, ".elm": {}, ".ex": {},
	".exs": {}, ".erl": {}, ".hrl": {}, ".clj": {}, ".lua": {}, ".pl": {},
	".pm": {}, ".raku": {}, ".vim": {}, ".el": {}, ".lisp": {}, ".scm": {},
	".gradle": {}, ".properties": {}, ".dockerfile": {}, ".makefile": {},
	".cmake": {},
}

// indexedFilenames is the closed set of lowercased, extension-less base
// names the daemon still treats as indexable text (README, Makefile, ...).
var indexedFilenames = map[string]struct{}{
	"makefile": {}, "dockerfile": {}, "rakefile": {}, "gemfile": {},
	"procfile": {}, "readme": {}, "license": {}, "changelog": {},
	"contributing": {}, "authors": {},
}

// skippedDirectories is the closed set of directory base names the walker
// and the watcher both prune at, never descending into them.
var skippedDirectories = map[string]struct{}{
	".git": {}, ".svn": {}, ".hg": {}, ".bzr": {},
	"node_modules": {}, "bower_components": {},
	"__pycache__": {}, ".pytest_cache": {}, ".mypy_cache": {},
	"venv": {}, ".venv": {}, "env": {}, ".env": {}, "virtualenv": {},
	"target": {}, "build": {}, "dist": {}, "out": {},
	".idea": {}, ".vscode": {}, ".vs": {},
	"coverage": {}, ".coverage": {}, "htmlcov": {},
	".next": {}, ".nuxt": {}, ".cache": {}, "vendor": {},
}

// Indexable reports whether path names a file the daemon should consider
// mapping, based solely on its extension or (for extension-less names)
// its base name. It does not check whether the path exists or its size.
func Indexable(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	ext := filepath.Ext(name)
	// filepath.Ext treats a bare dotfile (e.g. ".env", ".bashrc") as its
	// own extension, since it looks for the last '.' with no regard for
	// position. Python's Path.suffix does not: a name that is nothing
	// but a leading dot plus one token has no suffix. Match the
	// reference so a dotfile is only indexable via indexedFilenames.
	if ext == name {
		ext = ""
	}
	if ext != "" {
		_, ok := indexedExtensions[ext]
		return ok
	}
	_, ok := indexedFilenames[name]
	return ok
}

// SkipDir reports whether a directory with this base name should be
// pruned from any walk or watch.
func SkipDir(name string) bool {
	_, ok := skippedDirectories[name]
	return ok
}

// FitsSizeCeiling reports whether size is small enough to be mapped given
// a configured ceiling. A non-positive ceiling means "no limit".
func FitsSizeCeiling(size, ceiling int64) bool {
	if ceiling <= 0 {
		return true
	}
	return size <= ceiling
}
