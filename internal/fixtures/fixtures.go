// Package fixtures writes the demo distributions tests prepare: built
// wheels, source archives and source trees in each supported manifest
// style. Every variant of the demo project declares the same dependencies.
package fixtures

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// DemoDeps are the dependencies of the demo project without extras.
var DemoDeps = []string{`chardet; os_name == "nt"`, "idna"}

// DemoExtraDeps are the dependencies the tests and security extras add.
var DemoExtraDeps = []string{"pytest", `requests; python_version >= "3.6"`}

// DemoMetadata is the METADATA of the demo 0.0.1 wheel.
const DemoMetadata = `Metadata-Version: 2.1
Name: demo
Version: 0.0.1
Summary: A demo project
Requires-Python: >=3.3
Provides-Extra: security
Provides-Extra: tests
Requires-Dist: idna
Requires-Dist: chardet; os_name=='nt'
Requires-Dist: requests; python_version >= '3.6' and extra == 'security'
Requires-Dist: pytest; extra == 'tests'

A demo project.
`

// DemoPyProject is a fully static PEP 621 manifest for demo 0.0.1.
const DemoPyProject = `[build-system]
requires = ["setuptools>=61"]
build-backend = "setuptools.build_meta"

[project]
name = "demo"
version = "0.0.1"
description = "A demo project"
requires-python = ">=3.3"
dependencies = [
    "idna",
    "chardet; os_name=='nt'",
]

[project.optional-dependencies]
tests = ["pytest"]
security = ["requests; python_version>='3.6'"]
`

// DemoDynamicPyProject declares its dependencies dynamic, so only a build
// backend can report them.
const DemoDynamicPyProject = `[build-system]
requires = ["setuptools>=61"]
build-backend = "setuptools.build_meta"

[project]
name = "demo-package"
dynamic = ["version", "dependencies"]
`

// PoetryPyProject is a Poetry manifest for poetry-demo 0.1.0.
const PoetryPyProject = `[tool.poetry]
name = "poetry-demo"
version = "0.1.0"
description = "A poetry demo"

[tool.poetry.dependencies]
python = "^3.6"
requests = "^2.6"
pytest = { version = "^6.0", optional = true }
chardet = { version = "*", markers = "os_name == 'nt'" }
idna = { version = "~2.8", python = "<3.8" }

[tool.poetry.extras]
tests = ["pytest"]

[build-system]
requires = ["poetry-core"]
build-backend = "poetry.core.masonry.api"
`

// FlitPyProject is a legacy flit manifest for pyflit 0.1.0.
const FlitPyProject = `[build-system]
requires = ["flit_core >=2,<4"]
build-backend = "flit_core.buildapi"

[tool.flit.metadata]
module = "flit"
dist-name = "pyflit"
requires-python = ">=3.5"
requires = [
    "requests>=2.6",
    "configparser; python_version == '2.7'",
]

[tool.flit.metadata.requires-extra]
test = ["pytest>=2.7.3"]
`

// FlitModule is the module flit reads the version and summary from.
const FlitModule = `"""An example flit project."""

__version__ = "0.1.0"
`

// WriteFiles writes files (relative slash paths to contents) under dir.
func WriteFiles(t testing.TB, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("writing %s: %v", p, err)
		}
	}
}

// DemoProject writes the static demo source tree into dir/demo.
func DemoProject(t testing.TB, dir string) string {
	t.Helper()
	root := filepath.Join(dir, "demo")
	WriteFiles(t, root, map[string]string{
		"pyproject.toml": DemoPyProject,
		"demo.py":        "print('hello')\n",
	})
	return root
}

// FailingProject writes a demo tree whose legacy setup.py always fails but
// whose manifest is static.
func FailingProject(t testing.TB, dir string) string {
	t.Helper()
	root := filepath.Join(dir, "demo-failure")
	WriteFiles(t, root, map[string]string{
		"pyproject.toml": DemoPyProject,
		"setup.py":       "raise RuntimeError('broken build')\n",
	})
	return root
}

// DynamicProject writes a tree whose manifest leaves fields dynamic.
func DynamicProject(t testing.TB, dir string) string {
	t.Helper()
	root := filepath.Join(dir, "demo-src-package")
	WriteFiles(t, root, map[string]string{
		"pyproject.toml":               DemoDynamicPyProject,
		"src/demo_package/__init__.py": "__version__ = '0.1.0'\n",
	})
	return root
}

// PoetryProject writes the poetry-demo tree.
func PoetryProject(t testing.TB, dir string) string {
	t.Helper()
	root := filepath.Join(dir, "poetry-demo")
	WriteFiles(t, root, map[string]string{
		"pyproject.toml":          PoetryPyProject,
		"poetry_demo/__init__.py": "",
	})
	return root
}

// FlitProject writes the pyflit tree.
func FlitProject(t testing.TB, dir string) string {
	t.Helper()
	root := filepath.Join(dir, "flit-demo")
	WriteFiles(t, root, map[string]string{
		"pyproject.toml":   FlitPyProject,
		"flit/__init__.py": FlitModule,
	})
	return root
}

// Wheel writes a wheel named filename into dir carrying metadata as its
// METADATA file and returns its path.
func Wheel(t testing.TB, dir, filename, metadata string) string {
	t.Helper()
	parts := strings.SplitN(strings.TrimSuffix(filename, ".whl"), "-", 3)
	if len(parts) < 3 {
		t.Fatalf("invalid wheel filename %q", filename)
	}
	distInfo := parts[0] + "-" + parts[1] + ".dist-info/"

	p := filepath.Join(dir, filename)
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	files := map[string]string{
		parts[0] + ".py":       "print('hello')\n",
		distInfo + "METADATA": metadata,
		distInfo + "WHEEL":    "Wheel-Version: 1.0\nRoot-Is-Purelib: true\nTag: " + strings.TrimSuffix(parts[2], ".whl") + "\n",
		distInfo + "RECORD":   "",
	}
	for _, name := range sortedKeys(files) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return p
}

// DemoWheel writes demo-0.0.1-py2.py3-none-any.whl into dir.
func DemoWheel(t testing.TB, dir string) string {
	t.Helper()
	return Wheel(t, dir, "demo-0.0.1-py2.py3-none-any.whl", DemoMetadata)
}

// Sdist writes a gzipped tarball of files under a single top-level
// directory named after the archive, the layout source distributions use.
func Sdist(t testing.TB, dir, filename string, files map[string]string) string {
	t.Helper()
	top := strings.TrimSuffix(filename, ".tar.gz")

	p := filepath.Join(dir, filename)
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, name := range sortedKeys(files) {
		data := []byte(files[name])
		hdr := &tar.Header{
			Name:     top + "/" + name,
			Mode:     0o644,
			Size:     int64(len(data)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return p
}

// DemoSdist writes demo-0.0.1.tar.gz into dir.
func DemoSdist(t testing.TB, dir string) string {
	t.Helper()
	return Sdist(t, dir, "demo-0.0.1.tar.gz", map[string]string{
		"pyproject.toml": DemoPyProject,
		"PKG-INFO":       DemoMetadata,
		"demo.py":        "print('hello')\n",
	})
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
