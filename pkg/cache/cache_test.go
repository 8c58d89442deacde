package cache

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wheelwright/wheelwright/pkg/link"
	"github.com/wheelwright/wheelwright/pkg/store"
	"github.com/wheelwright/wheelwright/pkg/tags"
	"github.com/wheelwright/wheelwright/pkg/vcs"
)

var linuxSpec = tags.TargetSpec{Implementation: "cpython", PythonVersion: "3.11", Platform: "linux", Arch: "x86_64"}

func openCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestWheelCachePutGet(t *testing.T) {
	c := openCache(t)
	src := t.TempDir()
	sdist := link.New("https://example.com/demo-0.0.1.tar.gz")
	built := writeFile(t, src, "demo-0.0.1-py2.py3-none-any.whl", "wheel bytes")

	m := tags.NewMatcher(linuxSpec)
	if _, ok := c.Wheels.Get(sdist, linuxSpec, m); ok {
		t.Fatal("Get() hit on empty cache")
	}

	cached, err := c.Wheels.Put(sdist, linuxSpec, built)
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	dir, err := c.Wheels.PathForLink(sdist, linuxSpec)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(cached) != dir {
		t.Errorf("Put() = %q, want it under %q", cached, dir)
	}

	got, ok := c.Wheels.Get(sdist, linuxSpec, m)
	if !ok {
		t.Fatal("Get() missed after Put()")
	}
	if got != cached {
		t.Errorf("Get() = %q, want %q", got, cached)
	}
}

func TestWheelCacheKeyedByTarget(t *testing.T) {
	c := openCache(t)
	l := link.New("https://example.com/demo-0.0.1.tar.gz")
	windows := linuxSpec.Replace(tags.TargetSpec{Platform: "windows"})

	linuxDir, _ := c.Wheels.PathForLink(l, linuxSpec)
	windowsDir, _ := c.Wheels.PathForLink(l, windows)
	if linuxDir == windowsDir {
		t.Errorf("different targets share cache dir %q", linuxDir)
	}
}

func TestWheelCacheReappliesTags(t *testing.T) {
	c := openCache(t)
	l := link.New("https://example.com/demo-0.0.1.tar.gz")
	built := writeFile(t, t.TempDir(), "demo-0.0.1-cp36-cp36m-win_amd64.whl", "x")

	if _, err := c.Wheels.Put(l, linuxSpec, built); err != nil {
		t.Fatal(err)
	}
	if got, ok := c.Wheels.Get(l, linuxSpec, tags.NewMatcher(linuxSpec)); ok {
		t.Errorf("Get() returned incompatible wheel %q", got)
	}
}

func TestWheelCacheCorruptEntryIsMiss(t *testing.T) {
	c := openCache(t)
	l := link.New("https://example.com/demo-0.0.1.tar.gz")
	built := writeFile(t, t.TempDir(), "demo-0.0.1-py3-none-any.whl", "x")

	cached, err := c.Wheels.Put(l, linuxSpec, built)
	if err != nil {
		t.Fatal(err)
	}
	os.WriteFile(cached, []byte("truncated"), 0o644)

	if _, ok := c.Wheels.Get(l, linuxSpec, tags.NewMatcher(linuxSpec)); ok {
		t.Fatal("Get() hit on corrupt entry")
	}
	if _, err := os.Stat(filepath.Dir(cached)); !os.IsNotExist(err) {
		t.Error("corrupt entry was not removed")
	}
}

func TestBuildKeyCacheable(t *testing.T) {
	tests := map[string]struct {
		key  BuildKey
		want bool
	}{
		"archive": {
			key:  BuildKey{Fingerprint: "sha256:" + strings.Repeat("a", 64)},
			want: true,
		},
		"immutable vcs": {
			key:  VCSKey("https://github.com/test-root/demo.git", vcs.Revision{Ref: strings.Repeat("1", 40), ID: strings.Repeat("1", 40), Immutable: true}, ""),
			want: true,
		},
		"branch": {
			key:  VCSKey("https://github.com/test-root/demo.git", vcs.Revision{Ref: "master", ID: strings.Repeat("1", 40)}, ""),
			want: false,
		},
		"unresolved": {
			key:  BuildKey{Repo: "https://github.com/test-root/demo.git", Immutable: true},
			want: false,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := tc.key.Cacheable(); got != tc.want {
				t.Errorf("Cacheable() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestBuildCache(t *testing.T) {
	c := openCache(t)
	key := VCSKey("https://github.com/test-root/demo.git", vcs.Revision{ID: strings.Repeat("1", 40), Immutable: true}, "sub")

	if _, ok := c.Builds.Get(key); ok {
		t.Fatal("Get() hit on empty cache")
	}

	staged, err := c.Builds.Stage()
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, staged, "pyproject.toml", "[project]\nname = \"demo\"\n")

	dir, err := c.Builds.Put(key, staged)
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if !strings.HasPrefix(dir, c.Root()) {
		t.Errorf("Put() = %q, want under %q", dir, c.Root())
	}

	got, ok := c.Builds.Get(key)
	if !ok || got != dir {
		t.Errorf("Get() = %q, %v; want %q, true", got, ok, dir)
	}

	other := key
	other.Subdirectory = "other"
	if _, ok := c.Builds.Get(other); ok {
		t.Error("subdirectory is not part of the key")
	}
}

func TestBuildCacheRefusesMutable(t *testing.T) {
	c := openCache(t)
	key := VCSKey("https://github.com/test-root/demo.git", vcs.Revision{Ref: "master", ID: strings.Repeat("1", 40)}, "")

	staged, err := c.Builds.Stage()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Builds.Put(key, staged); !errors.Is(err, ErrNotCacheable) {
		t.Errorf("Put() error = %v, want ErrNotCacheable", err)
	}
	c.Builds.Discard(staged)
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Error("Discard() left the staged directory")
	}
}

func TestCloseRemovesUnpublishedStaging(t *testing.T) {
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	staged, err := c.Builds.Stage()
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Error("Close() left an unpublished staging directory")
	}
	if _, err := c.Builds.Stage(); !errors.Is(err, ErrClosed) {
		t.Errorf("Stage() after Close() error = %v, want ErrClosed", err)
	}
}

func TestOpenSweepsStaleStaging(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, store.StagingDir, "source-old")
	fresh := filepath.Join(root, store.StagingDir, "source-new")
	os.MkdirAll(stale, 0o755)
	os.MkdirAll(fresh, 0o755)
	old := time.Now().Add(-48 * time.Hour)
	os.Chtimes(stale, old, old)

	c, err := Open(root)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale staging directory survived Open()")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh staging directory was removed")
	}
}

func TestInfoAndClear(t *testing.T) {
	c := openCache(t)
	l := link.New("https://example.com/demo-0.0.1.tar.gz")
	built := writeFile(t, t.TempDir(), "demo-0.0.1-py3-none-any.whl", "12345")
	if _, err := c.Wheels.Put(l, linuxSpec, built); err != nil {
		t.Fatal(err)
	}

	info, err := c.Info()
	if err != nil {
		t.Fatal(err)
	}
	// the wheel plus its completion marker
	if info.Wheels.Files != 2 {
		t.Errorf("Wheels.Files = %d, want 2", info.Wheels.Files)
	}
	if info.Sources.Files != 0 {
		t.Errorf("Sources.Files = %d, want 0", info.Sources.Files)
	}

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	info, err = c.Info()
	if err != nil {
		t.Fatal(err)
	}
	if info.Wheels.Files != 0 {
		t.Errorf("Wheels.Files after Clear() = %d, want 0", info.Wheels.Files)
	}
}
