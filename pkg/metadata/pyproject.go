package metadata

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/pelletier/go-toml/v2"

	werrors "github.com/wheelwright/wheelwright/pkg/errors"
	"github.com/wheelwright/wheelwright/pkg/requirement"
)

// PyProjectFile is the manifest file name of a source tree.
const PyProjectFile = "pyproject.toml"

// PyProject is the subset of pyproject.toml the extractor reads.
type PyProject struct {
	Project *ProjectTable `toml:"project"`
	Tool    struct {
		Poetry *PoetryTable `toml:"poetry"`
		Flit   *struct {
			Metadata *FlitMetadata `toml:"metadata"`
		} `toml:"flit"`
	} `toml:"tool"`
}

// ProjectTable is the PEP 621 [project] table.
type ProjectTable struct {
	Name                 string              `toml:"name"`
	Version              string              `toml:"version"`
	Description          string              `toml:"description"`
	RequiresPython       string              `toml:"requires-python"`
	Dependencies         []string            `toml:"dependencies"`
	OptionalDependencies map[string][]string `toml:"optional-dependencies"`
	Dynamic              []string            `toml:"dynamic"`
}

// LoadPyProject parses dir/pyproject.toml. A missing file is reported as
// MetadataNotFound.
func LoadPyProject(dir string) (*PyProject, error) {
	p := filepath.Join(dir, PyProjectFile)
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, werrors.New(werrors.MetadataNotFound, "%s has no %s", dir, PyProjectFile)
		}
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	pp := &PyProject{}
	if err := toml.Unmarshal(data, pp); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", p, err)
	}
	return pp, nil
}

// staticFields are the [project] fields that must not be dynamic for the
// table alone to describe the distribution.
var staticFields = []string{"version", "dependencies", "optional-dependencies", "requires-python"}

// fromPEP621 maps a fully static [project] table onto core metadata.
func fromPEP621(pp *PyProject) (*Metadata, error) {
	proj := pp.Project
	if proj == nil || proj.Name == "" {
		return nil, werrors.New(werrors.MetadataNotFound, "no [project] table")
	}
	for _, f := range staticFields {
		if slices.Contains(proj.Dynamic, f) {
			return nil, werrors.New(werrors.MetadataNotFound, "[project] field %q is dynamic", f)
		}
	}
	if proj.Version == "" {
		return nil, werrors.New(werrors.MetadataNotFound, "[project] has no version")
	}

	m := &Metadata{
		Name:           proj.Name,
		Version:        proj.Version,
		Summary:        proj.Description,
		RequiresPython: proj.RequiresPython,
	}
	for _, dep := range proj.Dependencies {
		line, err := normalizeDependency(dep)
		if err != nil {
			return nil, err
		}
		m.Requires = append(m.Requires, line)
	}
	extras := make([]string, 0, len(proj.OptionalDependencies))
	for name := range proj.OptionalDependencies {
		extras = append(extras, name)
	}
	sort.Strings(extras)
	for _, name := range extras {
		m.ProvidesExtra = append(m.ProvidesExtra, requirement.NormalizeName(name))
		for _, dep := range proj.OptionalDependencies[name] {
			line, err := withExtra(dep, name)
			if err != nil {
				return nil, err
			}
			m.Requires = append(m.Requires, line)
		}
	}
	return m, nil
}
