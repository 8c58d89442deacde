package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/wheelwright/wheelwright/pkg/link"
	"github.com/wheelwright/wheelwright/pkg/tags"
)

// WheelCache stores wheels keyed by the link they were produced from and
// the target they were produced for.
type WheelCache struct {
	c *Cache
}

// segments keys an entry by the link fingerprint, which is the advertised
// hash, the content digest of a local file, or the digest of the
// normalized URL.
func (w *WheelCache) segments(l link.Link, spec tags.TargetSpec) ([]string, error) {
	d, err := l.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("keying %s: %w", l.Redacted(), err)
	}
	segs := append([]string{wheelsDir}, shard(d.Encoded())...)
	return append(segs, spec.String()), nil
}

// PathForLink returns the directory wheels for l and spec are kept in.
func (w *WheelCache) PathForLink(l link.Link, spec tags.TargetSpec) (string, error) {
	segs, err := w.segments(l, spec)
	if err != nil {
		return "", err
	}
	return w.c.store.Path(segs...), nil
}

// Get returns the best cached wheel for l that m accepts. Entries that are
// incomplete or whose content no longer matches are removed and reported
// as misses.
func (w *WheelCache) Get(l link.Link, spec tags.TargetSpec, m *tags.Matcher) (string, bool) {
	segs, err := w.segments(l, spec)
	if err != nil {
		return "", false
	}
	if !w.c.store.Verify(segs...) {
		return "", false
	}
	dir := w.c.store.Path(segs...)
	best, ok := m.Best(wheelNames(dir))
	if !ok {
		return "", false
	}
	return filepath.Join(dir, best.Filename), true
}

// Put copies the wheel at artifact into the cache for l and spec and returns
// the cached path. If another writer published first, that entry is kept.
func (w *WheelCache) Put(l link.Link, spec tags.TargetSpec, artifact string) (string, error) {
	segs, err := w.segments(l, spec)
	if err != nil {
		return "", err
	}
	staged, err := w.c.stage("wheel")
	if err != nil {
		return "", err
	}
	name := filepath.Base(artifact)
	if err := copyFile(artifact, filepath.Join(staged, name)); err != nil {
		os.RemoveAll(staged)
		return "", fmt.Errorf("staging %s: %w", name, err)
	}

	dir, err := w.c.publish(staged, segs...)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
		return filepath.Join(dir, name), nil
	}
	names := wheelNames(dir)
	if len(names) == 0 {
		return "", fmt.Errorf("cache entry %s holds no wheel", dir)
	}
	return filepath.Join(dir, names[0]), nil
}

func wheelNames(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".whl") {
			names = append(names, e.Name())
		}
	}
	return names
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
