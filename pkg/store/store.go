// Package store is the on-disk layer under the artifact caches. Entries are
// built in a private staging directory and published by rename, so readers
// only ever see complete entries.
package store

import (
	_ "crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"
)

const (
	dirPerm = 0o755
	// StagingDir holds entries under construction. It is never read as
	// cache content.
	StagingDir = ".staging"
	// MarkerFile records the content digest of a published entry.
	MarkerFile = ".complete"
)

type Store interface {
	// Root returns the store root directory.
	Root() string
	// Path returns the absolute filesystem path for the given segments
	// joined under the store root. Does not create or verify the path.
	Path(segments ...string) string
	// EnsureDir creates the directory at segments, including parents.
	EnsureDir(segments ...string) error
	// Remove deletes the entire tree at segments.
	Remove(segments ...string) error
	// Stage creates a fresh private directory to build an entry in.
	Stage(prefix string) (string, error)
	// Publish writes the completion marker into staged and renames it to
	// segments. When another writer already published a complete entry
	// there, staged is discarded and the existing entry wins. Returns the
	// published path.
	Publish(staged string, segments ...string) (string, error)
	// Complete reports whether segments holds a published entry with a
	// readable marker. Incomplete entries are removed.
	Complete(segments ...string) bool
	// Verify is Complete plus a check that the content still hashes to the
	// digest in the marker. Entries that fail are removed.
	Verify(segments ...string) bool
	// Usage returns the number of files and total bytes under segments.
	Usage(segments ...string) (files int, size int64, err error)
}

func New(root string) Store {
	return &store{root: root}
}

type store struct {
	root string
}

var _ Store = &store{}

func (s *store) Root() string { return s.root }

func (s *store) Path(segments ...string) string {
	return filepath.Join(append([]string{s.root}, segments...)...)
}

func (s *store) EnsureDir(segments ...string) error {
	return os.MkdirAll(s.Path(segments...), dirPerm)
}

func (s *store) Remove(segments ...string) error {
	return os.RemoveAll(s.Path(segments...))
}

func (s *store) Stage(prefix string) (string, error) {
	if err := s.EnsureDir(StagingDir); err != nil {
		return "", fmt.Errorf("creating staging directory: %w", err)
	}
	dir, err := os.MkdirTemp(s.Path(StagingDir), prefix+"-")
	if err != nil {
		return "", fmt.Errorf("creating staging directory: %w", err)
	}
	return dir, nil
}

func (s *store) Publish(staged string, segments ...string) (string, error) {
	sum, err := hashDir(staged)
	if err != nil {
		os.RemoveAll(staged)
		return "", fmt.Errorf("hashing staged entry: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staged, MarkerFile), []byte(sum.String()), 0o644); err != nil {
		os.RemoveAll(staged)
		return "", fmt.Errorf("writing completion marker: %w", err)
	}

	dest := s.Path(segments...)
	if err := os.MkdirAll(filepath.Dir(dest), dirPerm); err != nil {
		os.RemoveAll(staged)
		return "", fmt.Errorf("creating parent of %s: %w", dest, err)
	}

	for attempt := 0; ; attempt++ {
		err := os.Rename(staged, dest)
		if err == nil {
			return dest, nil
		}
		if s.Complete(segments...) {
			// lost the race; the winner's entry is equivalent
			os.RemoveAll(staged)
			return dest, nil
		}
		if attempt > 0 {
			os.RemoveAll(staged)
			return "", fmt.Errorf("publishing %s: %w", dest, err)
		}
	}
}

func (s *store) Complete(segments ...string) bool {
	_, ok := s.marker(segments...)
	return ok
}

func (s *store) Verify(segments ...string) bool {
	want, ok := s.marker(segments...)
	if !ok {
		return false
	}
	dir := s.Path(segments...)
	got, err := hashDir(dir)
	if err != nil || got != want {
		os.RemoveAll(dir)
		return false
	}
	return true
}

// marker reads the digest recorded for a published entry, removing the
// entry when it is not a directory or the marker is missing or unreadable.
func (s *store) marker(segments ...string) (digest.Digest, bool) {
	dir := s.Path(segments...)
	info, err := os.Stat(dir)
	if err != nil {
		return "", false
	}
	if !info.IsDir() {
		os.RemoveAll(dir)
		return "", false
	}

	data, err := os.ReadFile(filepath.Join(dir, MarkerFile))
	if err != nil {
		os.RemoveAll(dir)
		return "", false
	}
	d, err := digest.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		os.RemoveAll(dir)
		return "", false
	}
	return d, true
}

func hashDir(dir string) (digest.Digest, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel != MarkerFile {
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	sort.Strings(files)

	digester := digest.Canonical.Digester()
	h := digester.Hash()
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(f)))
		if err != nil {
			return "", err
		}
		h.Write([]byte(f))
		h.Write(data)
	}
	return digester.Digest(), nil
}

func (s *store) Usage(segments ...string) (int, int64, error) {
	var (
		files int
		size  int64
	)
	err := filepath.WalkDir(s.Path(segments...), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files++
		size += info.Size()
		return nil
	})
	return files, size, err
}
