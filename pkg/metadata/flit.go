package metadata

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	werrors "github.com/wheelwright/wheelwright/pkg/errors"
	"github.com/wheelwright/wheelwright/pkg/requirement"
)

// FlitMetadata is the legacy [tool.flit.metadata] table.
type FlitMetadata struct {
	Module         string              `toml:"module"`
	DistName       string              `toml:"dist-name"`
	Requires       []string            `toml:"requires"`
	RequiresExtra  map[string][]string `toml:"requires-extra"`
	RequiresPython string              `toml:"requires-python"`
}

var (
	versionAssignRE = regexp.MustCompile(`(?m)^__version__\s*(?::\s*str\s*)?=\s*['"]([^'"]+)['"]`)
	docstringRE     = regexp.MustCompile(`\A(?:\s*#[^\n]*\n)*\s*[rRuU]?(?:"""|''')\s*([^\n]*)`)
)

// fromFlit maps [tool.flit.metadata] onto core metadata. Flit takes the
// version and summary from the module itself; both are read statically.
func fromFlit(pp *PyProject, dir string) (*Metadata, error) {
	if pp.Tool.Flit == nil || pp.Tool.Flit.Metadata == nil || pp.Tool.Flit.Metadata.Module == "" {
		return nil, werrors.New(werrors.MetadataNotFound, "no [tool.flit.metadata] module")
	}
	fm := pp.Tool.Flit.Metadata

	src, err := flitModuleSource(dir, fm.Module)
	if err != nil {
		return nil, err
	}
	v := versionAssignRE.FindSubmatch(src)
	if v == nil {
		return nil, werrors.New(werrors.MetadataNotFound, "module %s has no static __version__", fm.Module)
	}

	m := &Metadata{
		Name:           fm.DistName,
		Version:        string(v[1]),
		RequiresPython: fm.RequiresPython,
	}
	if m.Name == "" {
		m.Name = fm.Module
	}
	if d := docstringRE.FindSubmatch(src); d != nil {
		m.Summary = strings.TrimSpace(strings.TrimRight(string(d[1]), `"'`))
	}

	for _, dep := range fm.Requires {
		line, err := normalizeDependency(dep)
		if err != nil {
			return nil, err
		}
		m.Requires = append(m.Requires, line)
	}
	extras := make([]string, 0, len(fm.RequiresExtra))
	for e := range fm.RequiresExtra {
		extras = append(extras, e)
	}
	sort.Strings(extras)
	for _, e := range extras {
		m.ProvidesExtra = append(m.ProvidesExtra, requirement.NormalizeName(e))
		for _, dep := range fm.RequiresExtra[e] {
			line, err := withExtra(dep, e)
			if err != nil {
				return nil, err
			}
			m.Requires = append(m.Requires, line)
		}
	}
	return m, nil
}

// flitModuleSource returns the source of a package's __init__.py or of a
// single-file module, looking in dir and dir/src.
func flitModuleSource(dir, module string) ([]byte, error) {
	rel := filepath.FromSlash(strings.ReplaceAll(module, ".", "/"))
	for _, base := range []string{dir, filepath.Join(dir, "src")} {
		for _, candidate := range []string{
			filepath.Join(base, rel, "__init__.py"),
			filepath.Join(base, rel+".py"),
		} {
			if data, err := os.ReadFile(candidate); err == nil {
				return data, nil
			}
		}
	}
	return nil, werrors.New(werrors.MetadataNotFound, "flit module %s not found in %s", module, dir)
}
