package cache

import (
	"fmt"
	"os"

	"github.com/opencontainers/go-digest"

	"github.com/wheelwright/wheelwright/pkg/link"
	"github.com/wheelwright/wheelwright/pkg/vcs"
)

// BuildKey identifies a prepared source tree. Archive keys carry a content
// fingerprint; VCS keys carry the repository, revision and subdirectory.
type BuildKey struct {
	Fingerprint  digest.Digest
	Repo         string
	Revision     string
	Subdirectory string
	// Immutable is set for VCS keys whose revision was pinned by the user.
	Immutable bool
}

// ArchiveKey keys the unpacked contents of an archive link.
func ArchiveKey(l link.Link) (BuildKey, error) {
	d, err := l.Fingerprint()
	if err != nil {
		return BuildKey{}, err
	}
	return BuildKey{Fingerprint: d, Subdirectory: l.Subdirectory()}, nil
}

// VCSKey keys a checkout of repo at rev.
func VCSKey(repo string, rev vcs.Revision, subdirectory string) BuildKey {
	return BuildKey{Repo: repo, Revision: rev.ID, Subdirectory: subdirectory, Immutable: rev.Immutable}
}

// Cacheable reports whether the key pins its content.
func (k BuildKey) Cacheable() bool {
	if k.Fingerprint != "" {
		return true
	}
	return k.Repo != "" && k.Revision != "" && k.Immutable
}

func (k BuildKey) digest() digest.Digest {
	if k.Fingerprint != "" {
		return digest.FromString(k.Fingerprint.String() + "\x00" + k.Subdirectory)
	}
	return digest.FromString(k.Repo + "\x00" + k.Revision + "\x00" + k.Subdirectory)
}

func (k BuildKey) segments() []string {
	return append([]string{sourcesDir}, shard(k.digest().Encoded())...)
}

// BuildCache stores unpacked archives and VCS checkouts.
type BuildCache struct {
	c *Cache
}

// Get returns the cached source tree for key.
func (b *BuildCache) Get(key BuildKey) (string, bool) {
	if !key.Cacheable() {
		return "", false
	}
	if !b.c.store.Complete(key.segments()...) {
		return "", false
	}
	return b.c.store.Path(key.segments()...), true
}

// Stage returns an empty directory to unpack or check out into before Put.
func (b *BuildCache) Stage() (string, error) {
	return b.c.stage("source")
}

// Put publishes a directory returned by Stage under key and returns the
// published path. Non-cacheable keys are refused with ErrNotCacheable and
// staged is left alone.
func (b *BuildCache) Put(key BuildKey, staged string) (string, error) {
	if !key.Cacheable() {
		return "", ErrNotCacheable
	}
	dir, err := b.c.publish(staged, key.segments()...)
	if err != nil {
		return "", fmt.Errorf("caching source tree: %w", err)
	}
	return dir, nil
}

// Discard removes a staged directory that will not be published.
func (b *BuildCache) Discard(staged string) {
	b.c.mu.Lock()
	delete(b.c.staged, staged)
	b.c.mu.Unlock()
	os.RemoveAll(staged)
}
