package metadata

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	werrors "github.com/wheelwright/wheelwright/pkg/errors"
	"github.com/wheelwright/wheelwright/pkg/requirement"
)

// PoetryTable is the [tool.poetry] table. Dependency values are a version
// string, a table, or an array of tables.
type PoetryTable struct {
	Name         string              `toml:"name"`
	Version      string              `toml:"version"`
	Description  string              `toml:"description"`
	Dependencies map[string]any      `toml:"dependencies"`
	Extras       map[string][]string `toml:"extras"`
}

var (
	releaseRE    = regexp.MustCompile(`^\d+(\.\d+)*`)
	poetryOpRE   = regexp.MustCompile(`^(\^|~=|~|===|==|!=|>=|<=|>|<)?\s*(.*)$`)
	bareOpTokens = map[string]bool{"^": true, "~": true, "~=": true, "==": true, "!=": true, ">=": true, "<=": true, ">": true, "<": true}
)

// poetryDep is one converted dependency line and whether it is only
// reachable through an extra.
type poetryDep struct {
	name     string
	line     string
	optional bool
}

// fromPoetry maps a [tool.poetry] table onto core metadata. dir resolves
// relative path dependencies.
func fromPoetry(pp *PyProject, dir string) (*Metadata, error) {
	t := pp.Tool.Poetry
	if t == nil || t.Name == "" || t.Version == "" {
		return nil, werrors.New(werrors.MetadataNotFound, "no [tool.poetry] name and version")
	}
	m := &Metadata{
		Name:    t.Name,
		Version: t.Version,
		Summary: t.Description,
	}

	names := make([]string, 0, len(t.Dependencies))
	for name := range t.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	var optional []poetryDep
	for _, name := range names {
		if strings.EqualFold(name, "python") {
			s, ok := t.Dependencies[name].(string)
			if !ok {
				return nil, fmt.Errorf("[tool.poetry.dependencies] python must be a string")
			}
			spec, err := PoetryConstraint(s)
			if err != nil {
				return nil, err
			}
			m.RequiresPython = spec
			continue
		}
		deps, err := poetryDependency(name, t.Dependencies[name], dir)
		if err != nil {
			return nil, err
		}
		for _, d := range deps {
			if d.optional {
				optional = append(optional, d)
				continue
			}
			m.Requires = append(m.Requires, d.line)
		}
	}

	extras := make([]string, 0, len(t.Extras))
	for e := range t.Extras {
		extras = append(extras, e)
	}
	sort.Strings(extras)
	for _, e := range extras {
		m.ProvidesExtra = append(m.ProvidesExtra, requirement.NormalizeName(e))
		for _, member := range t.Extras[e] {
			for _, d := range optional {
				if d.name != requirement.NormalizeName(member) {
					continue
				}
				line, err := withExtra(d.line, e)
				if err != nil {
					return nil, err
				}
				m.Requires = append(m.Requires, line)
			}
		}
	}
	return m, nil
}

func poetryDependency(name string, v any, dir string) ([]poetryDep, error) {
	switch v := v.(type) {
	case string:
		d, err := poetryTableDependency(name, map[string]any{"version": v}, dir)
		if err != nil {
			return nil, err
		}
		return []poetryDep{d}, nil
	case map[string]any:
		d, err := poetryTableDependency(name, v, dir)
		if err != nil {
			return nil, err
		}
		return []poetryDep{d}, nil
	case []any:
		var out []poetryDep
		for _, item := range v {
			tbl, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("dependency %q: multiple constraints must be tables", name)
			}
			d, err := poetryTableDependency(name, tbl, dir)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("dependency %q: unsupported value %v", name, v)
	}
}

func poetryTableDependency(name string, tbl map[string]any, dir string) (poetryDep, error) {
	str := func(key string) string {
		s, _ := tbl[key].(string)
		return s
	}

	base := name
	if raw, ok := tbl["extras"].([]any); ok && len(raw) > 0 {
		extras := make([]string, 0, len(raw))
		for _, e := range raw {
			if s, ok := e.(string); ok {
				extras = append(extras, s)
			}
		}
		base += "[" + strings.Join(extras, ",") + "]"
	}

	switch {
	case str("git") != "":
		loc := "git+" + str("git")
		for _, key := range []string{"rev", "tag", "branch"} {
			if ref := str(key); ref != "" {
				loc += "@" + ref
				break
			}
		}
		if sub := str("subdirectory"); sub != "" {
			loc += "#subdirectory=" + sub
		}
		base += " @ " + loc
	case str("path") != "":
		p := str("path")
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		base += " @ file://" + filepath.ToSlash(p)
	case str("url") != "":
		base += " @ " + str("url")
	default:
		spec, err := PoetryConstraint(str("version"))
		if err != nil {
			return poetryDep{}, fmt.Errorf("dependency %q: %w", name, err)
		}
		base += spec
	}

	r, err := requirement.Parse(base, false)
	if err != nil {
		return poetryDep{}, err
	}
	if markers := str("markers"); markers != "" {
		mk, err := requirement.ParseMarker(markers)
		if err != nil {
			return poetryDep{}, fmt.Errorf("dependency %q: %w", name, err)
		}
		r.Marker = r.Marker.And(mk)
	}
	if py := str("python"); py != "" {
		mk, err := pythonMarker(py)
		if err != nil {
			return poetryDep{}, fmt.Errorf("dependency %q: %w", name, err)
		}
		r.Marker = r.Marker.And(mk)
	}
	optional, _ := tbl["optional"].(bool)
	return poetryDep{name: requirement.NormalizeName(name), line: r.String(), optional: optional}, nil
}

// pythonMarker turns a Poetry python constraint into python_version
// comparisons joined by "and".
func pythonMarker(constraint string) (*requirement.Marker, error) {
	spec, err := PoetryConstraint(constraint)
	if err != nil {
		return nil, err
	}
	if spec == "" {
		return nil, nil
	}
	parsed, err := requirement.ParseSpecifier(spec)
	if err != nil {
		return nil, err
	}
	parts := make([]string, 0, len(parsed.Clauses))
	for _, c := range parsed.Clauses {
		parts = append(parts, fmt.Sprintf("python_version %s %q", c.Op, c.Version))
	}
	return requirement.ParseMarker(strings.Join(parts, " and "))
}

// PoetryConstraint converts a Poetry version constraint into a PEP 440
// specifier: "^2.6" becomes ">=2.6,<3.0", "~1.2" becomes ">=1.2,<1.3", a
// bare version pins it and "*" accepts anything. Clauses may be separated by
// commas or spaces. Alternatives ("||") have no PEP 440 form and are an
// error.
func PoetryConstraint(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return "", nil
	}
	if strings.Contains(s, "||") {
		return "", werrors.New(werrors.MetadataNotFound, "constraint %q has alternatives", s)
	}

	var tokens []string
	for _, f := range strings.Fields(strings.ReplaceAll(s, ",", " ")) {
		if n := len(tokens); n > 0 && bareOpTokens[tokens[n-1]] {
			tokens[n-1] += f
			continue
		}
		tokens = append(tokens, f)
	}

	var clauses []string
	for _, tok := range tokens {
		m := poetryOpRE.FindStringSubmatch(tok)
		op, v := m[1], strings.TrimSpace(m[2])
		if v == "*" {
			continue
		}
		switch op {
		case "^":
			upper, err := bump(v, caretIndex(v))
			if err != nil {
				return "", err
			}
			clauses = append(clauses, ">="+v, "<"+upper)
		case "~":
			upper, err := bump(v, min(1, len(releaseParts(v))-1))
			if err != nil {
				return "", err
			}
			clauses = append(clauses, ">="+v, "<"+upper)
		case "":
			clauses = append(clauses, "=="+v)
		default:
			clauses = append(clauses, op+v)
		}
	}
	spec, err := requirement.ParseSpecifier(strings.Join(clauses, ","))
	if err != nil {
		return "", err
	}
	return spec.String(), nil
}

func releaseParts(v string) []string {
	rel := releaseRE.FindString(v)
	if rel == "" {
		return nil
	}
	return strings.Split(rel, ".")
}

// caretIndex is the position of the first non-zero release segment, or the
// last segment when all are zero.
func caretIndex(v string) int {
	parts := releaseParts(v)
	for i, p := range parts {
		if p != "0" {
			return i
		}
	}
	return len(parts) - 1
}

// bump increments release segment i, zeroes the ones after it and keeps
// the segment count.
func bump(v string, i int) (string, error) {
	parts := releaseParts(v)
	if len(parts) == 0 || i < 0 {
		return "", fmt.Errorf("invalid version %q", v)
	}
	out := make([]string, len(parts))
	for j := range parts {
		switch {
		case j < i:
			out[j] = parts[j]
		case j == i:
			n, err := strconv.Atoi(parts[j])
			if err != nil {
				return "", fmt.Errorf("invalid version %q: %w", v, err)
			}
			out[j] = strconv.Itoa(n + 1)
		default:
			out[j] = "0"
		}
	}
	return strings.Join(out, "."), nil
}
