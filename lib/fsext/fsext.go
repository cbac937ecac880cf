// Package fsext is the pipeline's filesystem abstraction. It exists so
// every component that touches disk (the cache layer, the lockfile, the
// watcher) can be exercised in tests against an in-memory filesystem
// instead of the real one.
package fsext

import (
	"os"
	"time"

	"github.com/spf13/afero"
)

// Fs is the filesystem interface every pipeline component depends on.
// It is a plain alias for afero.Fs: afero already provides the atomic
// building blocks (MemMapFs for tests, OsFs for production, a
// read-through cache layer) the pipeline needs, so there is no reason to
// define a parallel interface.
type Fs = afero.Fs

// NewOsFs returns an Fs backed by the real filesystem.
func NewOsFs() Fs { return afero.NewOsFs() }

// NewMemMapFs returns an in-memory Fs, used throughout the pipeline's own
// test suite in place of a real cache directory.
func NewMemMapFs() Fs { return afero.NewMemMapFs() }

// NewCacheOnReadFs returns an Fs that serves reads from layer when
// present, falling back to and populating from base otherwise. cacheTime
// of 0 means entries never expire from layer.
func NewCacheOnReadFs(base, layer Fs, cacheTime time.Duration) Fs {
	return afero.NewCacheOnReadFs(base, layer, cacheTime)
}

// ReadFile reads the named file's entire contents.
func ReadFile(fs Fs, path string) ([]byte, error) { return afero.ReadFile(fs, path) }

// WriteFile writes data to the named file, creating it if necessary.
// It does not create parent directories and is not atomic; callers that
// need atomic replace-on-write (C2, C5) use a tempfile-then-rename
// sequence of their own instead.
func WriteFile(fs Fs, path string, data []byte, perm os.FileMode) error {
	return afero.WriteFile(fs, path, data, perm)
}

// Exists reports whether path exists on fs.
func Exists(fs Fs, path string) (bool, error) { return afero.Exists(fs, path) }

// DirExists reports whether path exists on fs and is a directory.
func DirExists(fs Fs, path string) (bool, error) { return afero.DirExists(fs, path) }
