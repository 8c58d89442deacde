// Package builder drives PEP 517 build backends to prepare metadata and
// build wheels from source trees.
package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"
)

// LegacyBackend is used for source trees without a [build-system] table.
const LegacyBackend = "setuptools.build_meta:__legacy__"

var legacyRequires = []string{"setuptools>=40.8.0", "wheel"}

// BuildSystem is the [build-system] table of pyproject.toml.
type BuildSystem struct {
	Requires     []string `toml:"requires"`
	BuildBackend string   `toml:"build-backend"`
	BackendPath  []string `toml:"backend-path"`
}

// LoadBuildSystem reads the build system of the tree at dir, defaulting to
// the legacy setuptools backend.
func LoadBuildSystem(dir string) (BuildSystem, error) {
	legacy := BuildSystem{Requires: legacyRequires, BuildBackend: LegacyBackend}

	data, err := os.ReadFile(filepath.Join(dir, "pyproject.toml"))
	if err != nil {
		if os.IsNotExist(err) {
			return legacy, nil
		}
		return BuildSystem{}, fmt.Errorf("reading build system of %s: %w", dir, err)
	}
	var doc struct {
		BuildSystem *BuildSystem `toml:"build-system"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return BuildSystem{}, fmt.Errorf("parsing build system of %s: %w", dir, err)
	}
	if doc.BuildSystem == nil {
		return legacy, nil
	}
	bs := *doc.BuildSystem
	if bs.BuildBackend == "" {
		bs.BuildBackend = LegacyBackend
	}
	return bs, nil
}

// BuildRequest is one hook invocation against a source tree.
type BuildRequest struct {
	SourceDir string
	// OutputDir receives the wheel or .dist-info directory.
	OutputDir string
	System    BuildSystem
	// Editable requests an editable wheel where the backend supports one.
	Editable       bool
	ConfigSettings map[string]string
}

type Backend interface {
	// PrepareMetadata writes a .dist-info directory into req.OutputDir and
	// returns its path.
	PrepareMetadata(ctx context.Context, req BuildRequest) (string, error)
	// Build writes a wheel into req.OutputDir and returns its path.
	Build(ctx context.Context, req BuildRequest) (string, error)
}

// Registry maps build-backend names to in-process backends that replace the
// subprocess for those names.
type Registry map[string]Backend

// Register adds a backend for name. It is not safe for concurrent use with
// lookups and should happen during setup.
func (r Registry) Register(name string, b Backend) error {
	if _, ok := r[name]; ok {
		return fmt.Errorf("failed to register backend %q: another backend is already registered", name)
	}
	r[name] = b
	return nil
}

// Get returns the backend registered for name.
func (r Registry) Get(name string) (Backend, bool) {
	b, ok := r[name]
	return b, ok
}

// Names returns the registered backend names, sorted.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
