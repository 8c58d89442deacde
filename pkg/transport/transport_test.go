package transport

import (
	"archive/zip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"

	"github.com/wheelwright/wheelwright/internal/fixtures"
	"github.com/wheelwright/wheelwright/pkg/link"
)

func serveDir(t *testing.T, dir string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.FileServer(http.Dir(dir)))
	t.Cleanup(srv.Close)
	return srv
}

func TestUnpack(t *testing.T) {
	artifacts := t.TempDir()
	wheel := fixtures.DemoWheel(t, artifacts)
	sdist := fixtures.DemoSdist(t, artifacts)
	srv := serveDir(t, artifacts)

	wheelData, err := os.ReadFile(wheel)
	if err != nil {
		t.Fatal(err)
	}

	tests := map[string]struct {
		link     link.Link
		wantFile string
		wantErr  string
	}{
		"local wheel used in place": {
			link:     mustFromPath(t, wheel),
			wantFile: "demo-0.0.1-py2.py3-none-any.whl",
		},
		"remote wheel": {
			link:     link.New(srv.URL + "/demo-0.0.1-py2.py3-none-any.whl"),
			wantFile: "demo-0.0.1-py2.py3-none-any.whl",
		},
		"remote wheel with matching hash": {
			link:     link.New(srv.URL + "/demo-0.0.1-py2.py3-none-any.whl#sha256=" + digest.FromBytes(wheelData).Encoded()),
			wantFile: "demo-0.0.1-py2.py3-none-any.whl",
		},
		"local sdist": {
			link:     mustFromPath(t, sdist),
			wantFile: "pyproject.toml",
		},
		"remote sdist": {
			link:     link.New(srv.URL + "/demo-0.0.1.tar.gz"),
			wantFile: "pyproject.toml",
		},
		"hash mismatch": {
			link:    link.New(srv.URL + "/demo-0.0.1-py2.py3-none-any.whl#sha256=" + strings.Repeat("0", 64)),
			wantErr: "hash mismatch",
		},
		"not found": {
			link:    link.New(srv.URL + "/missing-1.0.tar.gz"),
			wantErr: "status 404",
		},
		"vcs": {
			link:    link.New("git+https://github.com/test-root/demo.git"),
			wantErr: "VCS",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := New().Unpack(context.Background(), tc.link, t.TempDir())
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("Unpack() error = %v, want %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unpack() error: %v", err)
			}
			if strings.HasSuffix(tc.wantFile, ".whl") {
				if filepath.Base(got) != tc.wantFile {
					t.Errorf("Unpack() = %q, want a path to %s", got, tc.wantFile)
				}
				return
			}
			if _, err := os.Stat(filepath.Join(got, tc.wantFile)); err != nil {
				t.Errorf("unpacked root %q lacks %s", got, tc.wantFile)
			}
		})
	}
}

func TestUnpackLocalWheelInPlace(t *testing.T) {
	wheel := fixtures.DemoWheel(t, t.TempDir())
	got, err := New().Unpack(context.Background(), mustFromPath(t, wheel), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if got != wheel {
		t.Errorf("Unpack() = %q, want %q", got, wheel)
	}
}

func TestUnpackSubdirectory(t *testing.T) {
	dir := t.TempDir()
	archive := fixtures.Sdist(t, dir, "parent-1.0.tar.gz", map[string]string{
		"package-a/pyproject.toml": "[project]\nname = \"package-a\"\n",
		"package-b/pyproject.toml": "[project]\nname = \"package-b\"\n",
	})
	l, err := link.FromPath(archive)
	if err != nil {
		t.Fatal(err)
	}
	l = link.New(l.String() + "#subdirectory=package-b")

	got, err := New().Unpack(context.Background(), l, t.TempDir())
	if err != nil {
		t.Fatalf("Unpack() error: %v", err)
	}
	if filepath.Base(got) != "package-b" {
		t.Errorf("Unpack() = %q, want the package-b directory", got)
	}
}

func TestExtractRejectsEscapingEntries(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "evil-1.0.zip")
	f, err := os.Create(archive)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, _ := zw.Create("../escaped.txt")
	w.Write([]byte("x"))
	zw.Close()
	f.Close()

	dest := t.TempDir()
	if err := Extract(archive, dest); err == nil {
		t.Fatal("Extract() accepted an entry outside the destination")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dest), "escaped.txt")); err == nil {
		t.Error("entry was written outside the destination")
	}
}

func TestExtractUnsupported(t *testing.T) {
	if err := Extract("demo-0.0.1.rar", t.TempDir()); err == nil {
		t.Error("Extract() accepted an unsupported format")
	}
}

func mustFromPath(t *testing.T, p string) link.Link {
	t.Helper()
	l, err := link.FromPath(p)
	if err != nil {
		t.Fatal(err)
	}
	return l
}
