// Package cache holds built wheels and unpacked source trees across runs.
//
// Two caches share one root:
//
//	<root>/wheels/<aa>/<digest>/<target>/*.whl   built or downloaded wheels
//	<root>/sources/<aa>/<digest>/                unpacked archives, checkouts
//
// Every entry is published atomically through the store, so a reader never
// observes a partial entry. Missing or corrupt entries are misses.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wheelwright/wheelwright/pkg/store"
)

const (
	wheelsDir  = "wheels"
	sourcesDir = "sources"
	// staging directories older than this are left over from crashed runs
	staleStaging = 24 * time.Hour
)

// ErrNotCacheable is returned when asked to store an entry whose key does
// not pin its content, such as a mutable VCS ref or a local directory.
var ErrNotCacheable = errors.New("entry is not cacheable")

// ErrClosed is returned by operations on a closed Cache.
var ErrClosed = errors.New("cache is closed")

// Cache owns the on-disk caches under one root. It must be opened with Open
// and closed by its owner.
type Cache struct {
	store  store.Store
	Wheels *WheelCache
	Builds *BuildCache

	mu     sync.Mutex
	staged map[string]struct{}
	closed bool
}

// Open opens (creating if needed) the cache rooted at root and removes stale
// staging directories.
func Open(root string) (*Cache, error) {
	s := store.New(root)
	for _, dir := range []string{wheelsDir, sourcesDir, store.StagingDir} {
		if err := s.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("creating cache directory %s: %w", s.Path(dir), err)
		}
	}
	sweepStaging(s.Path(store.StagingDir))

	c := &Cache{store: s, staged: make(map[string]struct{})}
	c.Wheels = &WheelCache{c: c}
	c.Builds = &BuildCache{c: c}
	return c, nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string { return c.store.Root() }

// Close removes staging directories this Cache created but never
// published. Further writes fail with ErrClosed.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var errs []error
	for dir := range c.staged {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
		}
	}
	c.staged = nil
	return errors.Join(errs...)
}

// stage creates a staging directory tracked for cleanup on Close.
func (c *Cache) stage(prefix string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}
	dir, err := c.store.Stage(prefix)
	if err != nil {
		return "", err
	}
	c.staged[dir] = struct{}{}
	return dir, nil
}

// publish moves a staged directory into place.
func (c *Cache) publish(staged string, segments ...string) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	delete(c.staged, staged)
	c.mu.Unlock()
	return c.store.Publish(staged, segments...)
}

// Usage describes one cache area.
type Usage struct {
	Files int
	Bytes int64
}

// Info reports how much each cache area holds.
type Info struct {
	Root    string
	Wheels  Usage
	Sources Usage
}

// Info walks the cache and reports its usage.
func (c *Cache) Info() (Info, error) {
	info := Info{Root: c.Root()}
	var err error
	if info.Wheels.Files, info.Wheels.Bytes, err = c.store.Usage(wheelsDir); err != nil {
		return Info{}, fmt.Errorf("measuring wheel cache: %w", err)
	}
	if info.Sources.Files, info.Sources.Bytes, err = c.store.Usage(sourcesDir); err != nil {
		return Info{}, fmt.Errorf("measuring source cache: %w", err)
	}
	return info, nil
}

// Clear removes every cached entry.
func (c *Cache) Clear() error {
	for _, dir := range []string{wheelsDir, sourcesDir} {
		if err := c.store.Remove(dir); err != nil {
			return fmt.Errorf("removing %s: %w", c.store.Path(dir), err)
		}
		if err := c.store.EnsureDir(dir); err != nil {
			return fmt.Errorf("recreating %s: %w", c.store.Path(dir), err)
		}
	}
	return nil
}

func sweepStaging(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-staleStaging)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		os.RemoveAll(filepath.Join(dir, e.Name()))
	}
}

// shard splits a digest's hex into the two-level directory layout.
func shard(hex string) []string {
	if len(hex) < 3 {
		return []string{hex}
	}
	return []string{hex[:2], hex[2:]}
}
