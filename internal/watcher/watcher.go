// Package watcher implements the ChangeTracker: it arms an fsnotify
// watch tree over a repository root, coalesces the resulting event
// storm, and applies the net effect to a corpus.Corpus (spec section
// 4.3).
package watcher

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// Watcher abstracts filesystem notifications so tests can substitute a
// stub that never touches a real inotify/kqueue instance.
type Watcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsNotifyWatcher struct {
	*fsnotify.Watcher
}

func (f *fsNotifyWatcher) Events() <-chan fsnotify.Event { return f.Watcher.Events }
func (f *fsNotifyWatcher) Errors() <-chan error          { return f.Watcher.Errors }

// NewFSNotifyWatcher is the production Watcher factory.
func NewFSNotifyWatcher() (Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &fsNotifyWatcher{Watcher: w}, nil
}
