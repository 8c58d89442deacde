package requirement

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var (
	clauseRE  = regexp.MustCompile(`^(===|==|!=|~=|<=|>=|<|>)\s*([^\s,;]+)$`)
	versionRE = regexp.MustCompile(`^(?:(\d+)!)?(\d+(?:\.\d+)*)` +
		`(?:[-_.]?(a|b|c|rc|alpha|beta|pre|preview)[-_.]?(\d*))?` +
		`(?:-(\d+)|[-_.]?(post|rev|r)[-_.]?(\d*))?` +
		`(?:[-_.]?(dev)[-_.]?(\d*))?$`)
)

// Clause is one comparison of a version specifier, e.g. ">=2.6".
type Clause struct {
	Op      string
	Version string
}

func (c Clause) String() string { return c.Op + c.Version }

// Specifier is a comma-separated set of clauses, all of which must hold.
type Specifier struct {
	Clauses []Clause
}

// ParseSpecifier parses a PEP 440 specifier set such as ">=2.6,<3.0".
// Parentheses around the whole set are accepted.
func ParseSpecifier(s string) (Specifier, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	var spec Specifier
	if strings.TrimSpace(s) == "" {
		return spec, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		m := clauseRE.FindStringSubmatch(part)
		if m == nil {
			return Specifier{}, fmt.Errorf("invalid version specifier %q", part)
		}
		spec.Clauses = append(spec.Clauses, Clause{Op: m[1], Version: m[2]})
	}
	return spec, nil
}

// IsEmpty reports whether the specifier accepts any version.
func (s Specifier) IsEmpty() bool { return len(s.Clauses) == 0 }

// String renders the clauses sorted and comma-joined, which makes the output
// independent of the order the clauses were declared in.
func (s Specifier) String() string {
	parts := make([]string, len(s.Clauses))
	for i, c := range s.Clauses {
		parts[i] = c.String()
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// Pinned returns the version of a single "==" or "===" clause without
// wildcards, or "".
func (s Specifier) Pinned() string {
	if len(s.Clauses) != 1 {
		return ""
	}
	c := s.Clauses[0]
	if (c.Op == "==" || c.Op == "===") && !strings.HasSuffix(c.Version, ".*") {
		return c.Version
	}
	return ""
}

// Contains reports whether version satisfies every clause. Versions that do
// not parse as PEP 440 only match "===" clauses. Pre-releases match only
// when some clause names a pre-release itself.
func (s Specifier) Contains(version string) bool {
	if s.IsEmpty() {
		return true
	}
	v, err := ParseVersion(version)
	if err != nil {
		for _, c := range s.Clauses {
			if c.Op != "===" || c.Version != version {
				return false
			}
		}
		return true
	}
	allowPre := false
	for _, c := range s.Clauses {
		if cv, err := ParseVersion(strings.TrimSuffix(c.Version, ".*")); err == nil && cv.IsPrerelease() {
			allowPre = true
		}
	}
	if v.IsPrerelease() && !allowPre {
		return false
	}
	for _, c := range s.Clauses {
		if c.Op == "===" {
			if c.Version != version {
				return false
			}
			continue
		}
		ok, err := c.matches(v)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// Valid reports an error for the first clause that cannot be evaluated,
// such as a wildcard combined with an ordering operator.
func (s Specifier) Valid() error {
	zero := &Version{Release: []int{0}, Post: -1, Dev: -1}
	for _, c := range s.Clauses {
		if c.Op == "===" {
			continue
		}
		if _, err := c.matches(zero); err != nil {
			return fmt.Errorf("clause %q: %w", c, err)
		}
	}
	return nil
}

// matches evaluates one clause against v following PEP 440.
func (c Clause) matches(v *Version) (bool, error) {
	if prefix, ok := strings.CutSuffix(c.Version, ".*"); ok {
		pv, err := ParseVersion(prefix)
		if err != nil {
			return false, err
		}
		switch c.Op {
		case "==":
			return v.hasPrefix(pv), nil
		case "!=":
			return !v.hasPrefix(pv), nil
		default:
			return false, fmt.Errorf("wildcard not allowed with %s", c.Op)
		}
	}

	cv, err := ParseVersion(c.Version)
	if err != nil {
		return false, err
	}
	public := v.public()
	switch c.Op {
	case "==":
		if len(cv.Local) > 0 {
			return v.Compare(cv) == 0, nil
		}
		return public.Compare(cv) == 0, nil
	case "!=":
		if len(cv.Local) > 0 {
			return v.Compare(cv) != 0, nil
		}
		return public.Compare(cv) != 0, nil
	case "~=":
		if len(cv.Release) < 2 {
			return false, fmt.Errorf("~= requires at least two release segments: %q", c.Version)
		}
		prefix := &Version{Epoch: cv.Epoch, Release: cv.Release[:len(cv.Release)-1], Post: -1, Dev: -1}
		return public.Compare(cv) >= 0 && v.hasPrefix(prefix), nil
	case "<=":
		return public.Compare(cv) <= 0, nil
	case ">=":
		return public.Compare(cv) >= 0, nil
	case "<":
		if public.Compare(cv) >= 0 {
			return false, nil
		}
		// <3.0 excludes 3.0a1 unless the bound is a pre-release itself.
		return cv.IsPrerelease() || !v.IsPrerelease() || !sameRelease(v, cv), nil
	case ">":
		if public.Compare(cv) <= 0 {
			return false, nil
		}
		// >1.0 excludes 1.0.post1 unless the bound is a post-release itself.
		return cv.Post >= 0 || v.Post < 0 || !sameRelease(v, cv), nil
	}
	return false, fmt.Errorf("unknown operator %q", c.Op)
}

// Version is a parsed PEP 440 version. Post and Dev are -1 when absent.
type Version struct {
	Epoch   int
	Release []int
	// pre holds the pre-release segment as a semver pre-release, e.g.
	// 0.0.0-rc.1, so its label and number order the semver way.
	pre   *semver.Version
	Post  int
	Dev   int
	Local []string
}

// ParseVersion parses a PEP 440 version, accepting the usual alternate
// spellings (1.0-alpha1, 1.0.post-1, v1.0).
func ParseVersion(s string) (*Version, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "v")
	base, local, _ := strings.Cut(s, "+")
	m := versionRE.FindStringSubmatch(base)
	if m == nil {
		return nil, fmt.Errorf("invalid version %q", s)
	}

	v := &Version{Release: releaseOf(m[2]), Post: -1, Dev: -1}
	if m[1] != "" {
		v.Epoch, _ = strconv.Atoi(m[1])
	}
	if m[3] != "" {
		pre, err := semver.StrictNewVersion("0.0.0-" + preLabel(m[3]) + "." + numOrZero(m[4]))
		if err != nil {
			return nil, fmt.Errorf("invalid version %q: %w", s, err)
		}
		v.pre = pre
	}
	if m[5] != "" || m[6] != "" {
		v.Post, _ = strconv.Atoi(numOrZero(m[5] + m[7]))
	}
	if m[8] != "" {
		v.Dev, _ = strconv.Atoi(numOrZero(m[9]))
	}
	if local != "" {
		v.Local = strings.FieldsFunc(local, func(r rune) bool { return r == '.' || r == '-' || r == '_' })
	}
	return v, nil
}

// IsPrerelease reports whether v is a pre- or dev release.
func (v *Version) IsPrerelease() bool { return v.pre != nil || v.Dev >= 0 }

// Compare orders v and o: epoch, release, pre, post, dev, then local.
func (v *Version) Compare(o *Version) int {
	if c := cmpInt(v.Epoch, o.Epoch); c != 0 {
		return c
	}
	if c := compareRelease(v.Release, o.Release); c != 0 {
		return c
	}
	if c := cmpInt(v.preRank(), o.preRank()); c != 0 {
		return c
	}
	if v.pre != nil {
		if c := v.pre.Compare(o.pre); c != 0 {
			return c
		}
	}
	if c := cmpInt(v.Post, o.Post); c != 0 {
		return c
	}
	if c := cmpInt(devKey(v.Dev), devKey(o.Dev)); c != 0 {
		return c
	}
	return compareLocal(v.Local, o.Local)
}

// preRank places dev-only releases below pre-releases, and pre-releases
// below finals and post releases.
func (v *Version) preRank() int {
	switch {
	case v.pre != nil:
		return 1
	case v.Dev >= 0 && v.Post < 0:
		return 0
	}
	return 2
}

func (v *Version) public() *Version {
	p := *v
	p.Local = nil
	return &p
}

// hasPrefix reports whether v's release starts with prefix's release, with
// v padded by zeros.
func (v *Version) hasPrefix(prefix *Version) bool {
	if v.Epoch != prefix.Epoch {
		return false
	}
	for i, n := range prefix.Release {
		got := 0
		if i < len(v.Release) {
			got = v.Release[i]
		}
		if got != n {
			return false
		}
	}
	return true
}

func sameRelease(a, b *Version) bool {
	return a.Epoch == b.Epoch && compareRelease(a.Release, b.Release) == 0
}

func compareRelease(a, b []int) int {
	for i := 0; i < len(a) || i < len(b); i++ {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if c := cmpInt(x, y); c != 0 {
			return c
		}
	}
	return 0
}

// compareLocal orders local labels: none sorts first, numeric segments
// above alphanumeric ones, and a longer label above its prefix.
func compareLocal(a, b []string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		na, errA := strconv.Atoi(a[i])
		nb, errB := strconv.Atoi(b[i])
		switch {
		case errA == nil && errB == nil:
			if c := cmpInt(na, nb); c != 0 {
				return c
			}
		case errA == nil:
			return 1
		case errB == nil:
			return -1
		default:
			if c := strings.Compare(a[i], b[i]); c != 0 {
				return c
			}
		}
	}
	return cmpInt(len(a), len(b))
}

func devKey(n int) int {
	if n < 0 {
		return math.MaxInt
	}
	return n
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// CompareVersions orders two PEP 440 versions; unparseable versions sort first.
func CompareVersions(a, b string) int {
	va, errA := ParseVersion(a)
	vb, errB := ParseVersion(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}

func preLabel(s string) string {
	switch s {
	case "a", "alpha":
		return "a"
	case "b", "beta":
		return "b"
	default:
		return "rc"
	}
}

func numOrZero(s string) string {
	if s == "" {
		return "0"
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return "0"
	}
	return strconv.Itoa(n)
}

func releaseOf(v string) []int {
	var out []int
	for _, part := range strings.Split(v, ".") {
		n, err := strconv.Atoi(part)
		if err != nil {
			break
		}
		out = append(out, n)
	}
	return out
}
