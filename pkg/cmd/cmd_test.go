package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wheelwright/wheelwright/internal/fixtures"
	"github.com/wheelwright/wheelwright/pkg/config"
	"github.com/wheelwright/wheelwright/pkg/project"
)

// run executes the root command in dir with an isolated home and cache.
func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(dir)

	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--cache-dir", filepath.Join(t.TempDir(), "cache")}, args...))
	if err := root.Execute(); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out.String()
}

func TestPrepareCommand(t *testing.T) {
	wheel := fixtures.DemoWheel(t, t.TempDir())

	tests := map[string]struct {
		req  string
		want []string
		deny []string
	}{
		"plain": {
			req:  wheel,
			want: []string{"demo 0.0.1", "idna", "chardet"},
			deny: []string{"pytest"},
		},
		"with extras": {
			req:  "demo[tests] @ file://" + filepath.ToSlash(wheel),
			want: []string{"demo 0.0.1", "pytest", "extras tests"},
			deny: []string{"idna"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got := run(t, t.TempDir(), "prepare", tc.req)
			for _, w := range tc.want {
				if !strings.Contains(got, w) {
					t.Errorf("output %q lacks %q", got, w)
				}
			}
			for _, d := range tc.deny {
				if strings.Contains(got, d) {
					t.Errorf("output %q contains %q", got, d)
				}
			}
		})
	}
}

func TestLockCommand(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "dist"), 0o755); err != nil {
		t.Fatal(err)
	}
	wheel := fixtures.DemoWheel(t, filepath.Join(dir, "dist"))
	cfg := &config.Config{
		Project:      config.ProjectConfig{Name: "app"},
		Requirements: []string{wheel},
	}
	if err := config.SaveFile(filepath.Join(dir, project.ManifestFile), cfg); err != nil {
		t.Fatal(err)
	}

	out := run(t, dir, "lock", "-j", "2")
	if !strings.Contains(out, "Locked 1 package(s)") {
		t.Errorf("lock output = %q", out)
	}

	lf, err := config.LoadLockFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(lf.Packages) != 1 {
		t.Fatalf("lock file has %d packages, want 1", len(lf.Packages))
	}
	got := lf.Packages[0]
	if got.Name != "demo" || got.Version != "0.0.1" {
		t.Errorf("locked %s %s, want demo 0.0.1", got.Name, got.Version)
	}
	if got.Path != "./dist/demo-0.0.1-py2.py3-none-any.whl" {
		t.Errorf("locked path = %q", got.Path)
	}
}

func TestCacheInfoCommand(t *testing.T) {
	out := run(t, t.TempDir(), "cache", "info")
	for _, want := range []string{"Location:", "Wheels:   0 files", "Sources:  0 files"} {
		if !strings.Contains(out, want) {
			t.Errorf("cache info output %q lacks %q", out, want)
		}
	}
}

func TestCacheClearCommand(t *testing.T) {
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")
	stale := filepath.Join(cacheDir, "wheels", "aa", "stale.whl")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	out := run(t, dir, "--cache-dir", cacheDir, "cache", "clear", "--yes")
	if !strings.Contains(out, "Cache cleared") {
		t.Errorf("cache clear output = %q", out)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("cached file survived clear: %v", err)
	}
}
