package project

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/wheelwright/wheelwright/pkg/config"
	"github.com/wheelwright/wheelwright/pkg/tags"
)

func TestInit(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir, "demo"); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	cfg, err := config.LoadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Project.Name != "demo" {
		t.Errorf("Project.Name = %q, want demo", cfg.Project.Name)
	}
	if err := Init(dir, "demo"); err == nil {
		t.Error("Init() overwrote an existing manifest")
	}
}

func TestFindRoot(t *testing.T) {
	root := t.TempDir()
	if err := Init(root, "demo"); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "src", "demo")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := FindRoot(nested)
	if err != nil {
		t.Fatalf("FindRoot() error: %v", err)
	}
	want, _ := filepath.EvalSymlinks(root)
	if g, _ := filepath.EvalSymlinks(got); g != want {
		t.Errorf("FindRoot() = %q, want %q", got, root)
	}
}

func TestEnsureGitignore(t *testing.T) {
	tests := map[string]struct {
		existing  string
		entries   []string
		wantAdded []string
		wantFile  string
	}{
		"creates file": {
			entries:   []string{"wheelwright.local.toml", "build/"},
			wantAdded: []string{"wheelwright.local.toml", "build/"},
			wantFile:  "wheelwright.local.toml\nbuild/\n",
		},
		"skips present entries": {
			existing:  "build/\n",
			entries:   []string{"wheelwright.local.toml", "build/"},
			wantAdded: []string{"wheelwright.local.toml"},
			wantFile:  "build/\nwheelwright.local.toml\n",
		},
		"adds missing newline": {
			existing:  "*.pyc",
			entries:   []string{"build/"},
			wantAdded: []string{"build/"},
			wantFile:  "*.pyc\nbuild/\n",
		},
		"nothing to add": {
			existing: "build/\n",
			entries:  []string{"build/"},
			wantFile: "build/\n",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, ".gitignore")
			if tc.existing != "" {
				if err := os.WriteFile(path, []byte(tc.existing), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			added, err := EnsureGitignore(dir, tc.entries)
			if err != nil {
				t.Fatalf("EnsureGitignore() error: %v", err)
			}
			if !reflect.DeepEqual(added, tc.wantAdded) {
				t.Errorf("added = %v, want %v", added, tc.wantAdded)
			}
			data, _ := os.ReadFile(path)
			if string(data) != tc.wantFile {
				t.Errorf(".gitignore = %q, want %q", data, tc.wantFile)
			}
		})
	}
}

func TestEnvironment(t *testing.T) {
	cacheDir := t.TempDir()
	spec := tags.TargetSpec{Implementation: "cpython", PythonVersion: "3.11", Platform: "linux", Arch: "x86_64"}
	env, err := NewEnvironment(t.TempDir(), spec, cacheDir)
	if err != nil {
		t.Fatalf("NewEnvironment() error: %v", err)
	}
	if env.Resolver == nil || env.Unpacker == nil || env.Builder == nil {
		t.Errorf("default collaborators not set: %+v", env)
	}
	if env.Index != nil {
		t.Error("Index set without find-links")
	}
	if !env.Matcher().CompatibleFilename("demo-0.0.1-cp311-cp311-manylinux_2_17_x86_64.whl") {
		t.Error("Matcher() rejects a wheel for the target")
	}

	tmp, err := env.TempDir("unpack")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(filepath.Base(tmp), "unpack-") {
		t.Errorf("TempDir() = %q", tmp)
	}
	if err := env.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Errorf("temp dir %s survived Close()", tmp)
	}
	if _, err := os.Stat(cacheDir); err != nil {
		t.Errorf("cache root removed by Close(): %v", err)
	}
}

func TestFromSettings(t *testing.T) {
	root := t.TempDir()
	s := &config.Settings{
		CacheDir:  filepath.Join(t.TempDir(), "cache"),
		Python:    config.PythonSettings{Version: "3.9", Executable: "python3"},
		Platform:  "windows",
		Arch:      "x86_64",
		FindLinks: []string{"./wheels"},
	}
	env, err := FromSettings(root, s)
	if err != nil {
		t.Fatalf("FromSettings() error: %v", err)
	}
	t.Cleanup(func() { env.Close() })

	if env.Spec.PythonVersion != "3.9" || env.Spec.Platform != "windows" {
		t.Errorf("Spec = %+v", env.Spec)
	}
	if env.Index == nil {
		t.Fatal("Index not set from find_links")
	}
	if env.Cache.Root() != s.CacheDir {
		t.Errorf("Cache.Root() = %q, want %q", env.Cache.Root(), s.CacheDir)
	}
}
