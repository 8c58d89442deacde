// Package requirement parses and serializes dependency requirements: named
// PEP 508 requirements and direct references to local paths, VCS
// repositories and archive URLs.
package requirement

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	werrors "github.com/wheelwright/wheelwright/pkg/errors"
	"github.com/wheelwright/wheelwright/pkg/link"
)

// ProjectRootVar is the placeholder that stands for the project root in
// lockfile paths and URLs.
const ProjectRootVar = "${PROJECT_ROOT}"

var (
	nameRE      = regexp.MustCompile(`^([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)\s*(?:\[([^\]]*)\])?\s*(.*)$`)
	normalizeRE = regexp.MustCompile(`[-_.]+`)
)

// Kind classifies where a requirement's source lives.
type Kind int

const (
	// Named requirements are looked up in an index by name and specifier.
	Named Kind = iota
	// Local requirements point at a directory or archive on disk.
	Local
	// VCS requirements point at a version control repository.
	VCS
	// URL requirements point at a remote or file:// archive.
	URL
)

func (k Kind) String() string {
	switch k {
	case Local:
		return "local"
	case VCS:
		return "vcs"
	case URL:
		return "url"
	default:
		return "named"
	}
}

// Requirement is a parsed dependency declaration.
type Requirement struct {
	Name      string
	Specifier Specifier
	Extras    []string
	Marker    *Marker
	Editable  bool
	Kind      Kind

	// Path is the filesystem path of a Local requirement as written. It may
	// be relative or contain ProjectRootVar until Relocate is called.
	Path string
	// URL is the location of a URL or VCS requirement, and of a Local
	// requirement written as a file:// URL. VCS URLs carry no scheme prefix
	// and no ref.
	URL          string
	VCS          string
	Ref          string
	Subdirectory string
	// Hash is the artifact digest advertised in a URL fragment, if any.
	Hash string

	relocated bool
}

// NormalizeName returns the PEP 503 normalized form of a project name.
func NormalizeName(name string) string {
	return strings.ToLower(normalizeRE.ReplaceAllString(strings.TrimSpace(name), "-"))
}

// ParseLine parses a requirement line, honouring a leading "-e" flag.
func ParseLine(line string) (*Requirement, error) {
	line = strings.TrimSpace(line)
	for _, flag := range []string{"-e ", "--editable "} {
		if rest, ok := strings.CutPrefix(line, flag); ok {
			return Parse(rest, true)
		}
	}
	return Parse(line, false)
}

// Parse parses a single requirement. Unparseable input and editable
// requirements that are neither local directories nor VCS checkouts return
// an UnsupportedSource error.
func Parse(line string, editable bool) (*Requirement, error) {
	line = stripComment(strings.TrimSpace(line))
	if line == "" {
		return nil, werrors.New(werrors.UnsupportedSource, "empty requirement")
	}

	body, markerText := splitMarker(line)
	r := &Requirement{Editable: editable}
	if markerText != "" {
		m, err := ParseMarker(markerText)
		if err != nil {
			return nil, werrors.Wrap(werrors.UnsupportedSource, err, "parsing requirement %q", line)
		}
		r.Marker = m
	}

	var err error
	switch {
	case isDirectReference(body):
		err = r.parseNamed(body)
	case isLocation(body):
		err = r.parseLocation(body)
	default:
		err = r.parseNamed(body)
	}
	if err != nil {
		return nil, werrors.Wrap(werrors.UnsupportedSource, err, "parsing requirement %q", line)
	}

	if r.Editable && r.Kind != VCS && !(r.Kind == Local && !isArchiveName(r.Path)) {
		return nil, werrors.New(werrors.UnsupportedSource, "editable requirement %q must be a local directory or VCS checkout", line)
	}
	return r, nil
}

func (r *Requirement) parseNamed(body string) error {
	m := nameRE.FindStringSubmatch(body)
	if m == nil {
		return fmt.Errorf("invalid requirement name in %q", body)
	}
	r.Name = m[1]
	r.Extras = parseExtras(m[2])
	rest := strings.TrimSpace(m[3])

	if loc, ok := strings.CutPrefix(rest, "@"); ok {
		loc = strings.TrimSpace(loc)
		if loc == "" {
			return fmt.Errorf("missing URL after '@'")
		}
		return r.parseLocation(loc)
	}

	spec, err := ParseSpecifier(rest)
	if err != nil {
		return err
	}
	r.Kind = Named
	r.Specifier = spec
	return nil
}

func (r *Requirement) parseLocation(loc string) error {
	l := link.New(loc)
	r.Subdirectory = l.Subdirectory()
	r.Hash = l.Hash().String()
	if r.Name == "" {
		if egg := l.Egg(); egg != "" {
			m := nameRE.FindStringSubmatch(egg)
			if m == nil {
				return fmt.Errorf("invalid egg fragment %q", egg)
			}
			r.Name = m[1]
			if r.Extras == nil {
				r.Extras = parseExtras(m[2])
			}
		}
	}

	switch {
	case l.IsVCS():
		r.Kind = VCS
		r.VCS = l.VCS()
		r.URL, r.Ref = splitRef(l.URL())
		if r.URL == "" {
			return fmt.Errorf("missing repository URL in %q", loc)
		}
	case strings.HasPrefix(strings.ToLower(loc), "file:"):
		p := fileURLPath(l.URL())
		r.URL = l.URL()
		r.Path = p
		if isArchiveName(p) {
			r.Kind = URL
		} else {
			r.Kind = Local
		}
	case strings.Contains(loc, "://"):
		u, err := url.Parse(l.URL())
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid URL %q", loc)
		}
		r.Kind = URL
		r.URL = l.URL()
	default:
		r.Kind = Local
		r.Path = loc
	}
	return nil
}

// Link returns where the requirement's source can be fetched from. Named
// requirements have no link.
func (r *Requirement) Link() link.Link {
	switch r.Kind {
	case VCS:
		s := r.VCS + "+" + r.URL
		if r.Ref != "" {
			s += "@" + r.Ref
		}
		var frag []string
		if r.Name != "" {
			frag = append(frag, "egg="+r.Name)
		}
		if r.Subdirectory != "" {
			frag = append(frag, "subdirectory="+r.Subdirectory)
		}
		if len(frag) > 0 {
			s += "#" + strings.Join(frag, "&")
		}
		return link.New(s)
	case URL:
		return link.New(r.withFragment(r.URL))
	case Local:
		if r.URL != "" {
			return link.New(r.withFragment(r.URL))
		}
		l, err := link.FromPath(r.Path)
		if err != nil {
			return link.New("file://" + filepath.ToSlash(r.Path))
		}
		return link.New(withSubdirectory(l.String(), r.Subdirectory))
	}
	return link.Link{}
}

// AbsPath returns the absolute local path of a Local or file:// requirement.
func (r *Requirement) AbsPath() string {
	if r.Path == "" {
		return ""
	}
	p, err := filepath.Abs(r.Path)
	if err != nil {
		return r.Path
	}
	return p
}

// IsVCS reports whether the requirement points at a VCS repository.
func (r *Requirement) IsVCS() bool { return r.Kind == VCS }

// Key returns a stable identity: the normalized name, or the link for
// unnamed direct references.
func (r *Requirement) Key() string {
	if r.Name != "" {
		return NormalizeName(r.Name)
	}
	return r.Link().Normalized()
}

// Relocate expands ProjectRootVar in the path and URL against root and makes
// relative paths absolute. It has no effect on an already relocated
// requirement.
func (r *Requirement) Relocate(root string) {
	if r.relocated {
		return
	}
	r.relocated = true
	if r.Path != "" {
		r.Path = expandPath(r.Path, root)
	}
	if r.URL != "" && strings.Contains(r.URL, ProjectRootVar) {
		r.URL = expandURL(r.URL, root)
	}
}

// Relocated reports whether Relocate has run.
func (r *Requirement) Relocated() bool { return r.relocated }

// LockPath serializes the local path for a lockfile: "./rel" inside root,
// absolute outside it.
func (r *Requirement) LockPath(root string) string {
	if r.Path == "" {
		return ""
	}
	abs := expandPath(r.Path, root)
	if rel, ok := relInside(root, abs); ok {
		if rel == "." {
			return "."
		}
		return "./" + rel
	}
	return filepath.ToSlash(abs)
}

// LockURL serializes the URL for a lockfile, replacing a file:// location
// inside root with the project root placeholder.
func (r *Requirement) LockURL(root string) string {
	if r.URL == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(r.URL), "file:") {
		return r.URL
	}
	expanded := expandURL(r.URL, root)
	abs := fileURLPath(expanded)
	if rel, ok := relInside(root, abs); ok {
		if rel == "." {
			return "file:///" + ProjectRootVar
		}
		return "file:///" + ProjectRootVar + "/" + rel
	}
	return expanded
}

// ExpandRoot expands a serialized lockfile path or URL against root. It is
// the inverse of LockPath and LockURL.
func ExpandRoot(s, root string) string {
	if strings.HasPrefix(strings.ToLower(s), "file:") {
		return expandURL(s, root)
	}
	if strings.Contains(s, "://") {
		return s
	}
	return expandPath(s, root)
}

// Copy returns a deep copy of r.
func (r *Requirement) Copy() *Requirement {
	c := *r
	c.Extras = append([]string(nil), r.Extras...)
	c.Specifier.Clauses = append([]Clause(nil), r.Specifier.Clauses...)
	return &c
}

// String renders the requirement as a single line: name[extras]specifier;
// marker for named requirements, and "name @ url" or "-e url" forms for
// direct references.
func (r *Requirement) String() string {
	var b strings.Builder
	nameWithExtras := r.Name
	if len(r.Extras) > 0 {
		nameWithExtras += "[" + strings.Join(r.Extras, ",") + "]"
	}

	switch {
	case r.Kind == Named:
		b.WriteString(nameWithExtras)
		b.WriteString(r.Specifier.String())
	case r.Editable:
		b.WriteString("-e ")
		if r.Kind == Local && r.URL == "" {
			b.WriteString(r.Path)
		} else {
			b.WriteString(r.Link().String())
		}
	case r.Name != "":
		b.WriteString(nameWithExtras)
		b.WriteString(" @ ")
		b.WriteString(r.locationString())
	default:
		b.WriteString(r.locationString())
	}

	if m := r.Marker.String(); m != "" {
		b.WriteString("; ")
		b.WriteString(m)
	}
	return b.String()
}

func (r *Requirement) locationString() string {
	switch r.Kind {
	case VCS:
		s := r.VCS + "+" + r.URL
		if r.Ref != "" {
			s += "@" + r.Ref
		}
		return withSubdirectory(s, r.Subdirectory)
	case Local:
		if r.URL == "" {
			return r.Path
		}
	}
	return r.withFragment(r.URL)
}

func parseExtras(s string) []string {
	var out []string
	for _, e := range strings.Split(s, ",") {
		if e = NormalizeName(e); e != "" {
			out = append(out, e)
		}
	}
	sort.Strings(out)
	return out
}

// splitMarker splits "body; marker". For direct references the separator
// must be preceded by whitespace so URLs containing ';' survive.
func splitMarker(line string) (body, marker string) {
	if strings.Contains(line, "://") {
		if i := strings.Index(line, " ;"); i >= 0 {
			return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+2:])
		}
		if i := strings.Index(line, "; "); i >= 0 {
			return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+2:])
		}
		return line, ""
	}
	body, marker, _ = strings.Cut(line, ";")
	return strings.TrimSpace(body), strings.TrimSpace(marker)
}

func stripComment(line string) string {
	if strings.HasPrefix(line, "#") {
		return ""
	}
	if i := strings.Index(line, " #"); i >= 0 {
		return strings.TrimSpace(line[:i])
	}
	return line
}

// isDirectReference reports whether s has the "name[extras] @ url" form.
func isDirectReference(s string) bool {
	m := nameRE.FindStringSubmatch(s)
	return m != nil && strings.HasPrefix(strings.TrimSpace(m[3]), "@")
}

// isLocation reports whether s is a bare URL or filesystem path rather than
// a named requirement.
func isLocation(s string) bool {
	if strings.Contains(s, "://") || strings.HasPrefix(strings.ToLower(s), "file:") {
		return true
	}
	if strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") || filepath.IsAbs(s) ||
		strings.HasPrefix(s, ProjectRootVar) || s == "." {
		return true
	}
	if strings.ContainsAny(s, `/\`) || isArchiveName(s) {
		if _, err := os.Stat(s); err == nil {
			return true
		}
	}
	return false
}

func isArchiveName(p string) bool {
	l := link.New("file:///" + filepath.ToSlash(p))
	return l.IsWheel() || l.IsSdist()
}

// splitRef splits "https://host/repo.git@ref" into the repository URL and
// ref. An '@' before the path belongs to the user info, not the ref.
func splitRef(u string) (repo, ref string) {
	start := 0
	if i := strings.Index(u, "://"); i >= 0 {
		start = i + 3
		if j := strings.Index(u[start:], "/"); j >= 0 {
			start += j
		}
	}
	i := strings.LastIndex(u, "@")
	if i < start {
		return u, ""
	}
	return u[:i], u[i+1:]
}

// fileURLPath converts a file:// URL to a filesystem path, keeping a
// leading ProjectRootVar intact.
func fileURLPath(u string) string {
	p := u
	if i := strings.Index(p, ":"); i >= 0 {
		p = p[i+1:]
	}
	p = strings.TrimPrefix(p, "//")
	if strings.HasPrefix(p, "localhost/") {
		p = strings.TrimPrefix(p, "localhost")
	}
	if rest, ok := strings.CutPrefix(p, "/"+ProjectRootVar); ok {
		p = ProjectRootVar + rest
	}
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}
	return filepath.FromSlash(p)
}

func expandPath(p, root string) string {
	p = strings.Replace(p, ProjectRootVar, filepath.ToSlash(root), 1)
	p = filepath.FromSlash(p)
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	return filepath.Clean(p)
}

func expandURL(u, root string) string {
	slashed := strings.TrimPrefix(filepath.ToSlash(root), "/")
	u = strings.Replace(u, "/"+ProjectRootVar, "/"+slashed, 1)
	return strings.Replace(u, ProjectRootVar, slashed, 1)
}

func relInside(root, abs string) (string, bool) {
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (r *Requirement) withFragment(u string) string {
	var frag []string
	if r.Hash != "" {
		alg, hex, _ := strings.Cut(r.Hash, ":")
		frag = append(frag, alg+"="+hex)
	}
	if r.Subdirectory != "" {
		frag = append(frag, "subdirectory="+r.Subdirectory)
	}
	if len(frag) == 0 {
		return u
	}
	return u + "#" + strings.Join(frag, "&")
}

func withSubdirectory(u, sub string) string {
	if sub == "" {
		return u
	}
	return u + "#subdirectory=" + sub
}
