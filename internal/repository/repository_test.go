package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/require"

	"github.com/memsearchd/memsearchd/internal/watcher"
)

type stubWatcher struct {
	events chan fsnotify.Event
	errors chan error
}

func newStubWatcher() (watcher.Watcher, error) {
	return &stubWatcher{
		events: make(chan fsnotify.Event, 16),
		errors: make(chan error, 1),
	}, nil
}

func (w *stubWatcher) Add(string) error             { return nil }
func (w *stubWatcher) Close() error                 { return nil }
func (w *stubWatcher) Events() <-chan fsnotify.Event { return w.events }
func (w *stubWatcher) Errors() <-chan error          { return w.errors }

func testOpts() Options {
	return Options{WatcherFactory: newStubWatcher, CoalesceWindow: 5 * time.Millisecond}
}

func TestAcquireCreatesAndSharesRepository(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x\n"), 0o644))

	reg := NewRegistry(testOpts())
	repo1, err := reg.Acquire(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, 1, reg.Len())

	repo2, err := reg.Acquire(context.Background(), dir)
	require.NoError(t, err)
	require.Same(t, repo1, repo2)
	require.Equal(t, 1, reg.Len())

	reg.Release(repo1)
	require.Equal(t, 1, reg.Len(), "still referenced by repo2")
	reg.Release(repo2)
	require.Equal(t, 0, reg.Len())
}

func TestAcquireRejectsNonexistentPath(t *testing.T) {
	reg := NewRegistry(testOpts())
	_, err := reg.Acquire(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestAcquireRejectsFilePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-a-dir.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	reg := NewRegistry(testOpts())
	_, err := reg.Acquire(context.Background(), path)
	require.Error(t, err)
}

func TestIdleGraceDelaysTeardown(t *testing.T) {
	dir := t.TempDir()
	opts := testOpts()
	opts.IdleGrace = 100 * time.Millisecond
	reg := NewRegistry(opts)

	repo, err := reg.Acquire(context.Background(), dir)
	require.NoError(t, err)
	reg.Release(repo)

	require.Equal(t, 1, reg.Len(), "repository should survive within the grace period")

	repo2, err := reg.Acquire(context.Background(), dir)
	require.NoError(t, err)
	require.Same(t, repo, repo2)

	reg.Release(repo2)
	require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestShutdownTearsDownRegardlessOfRefcount(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(testOpts())
	_, err := reg.Acquire(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, 1, reg.Len())

	reg.Shutdown()
	require.Equal(t, 0, reg.Len())
}
