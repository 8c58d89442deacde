package tags

import (
	"fmt"
	"strings"

	"github.com/wheelwright/wheelwright/pkg/link"
	"github.com/wheelwright/wheelwright/pkg/requirement"
)

var sdistSuffixes = []string{".tar.gz", ".tgz", ".tar.bz2", ".tar", ".zip"}

// Tag is one interpreter-abi-platform triple, e.g. cp311-cp311-win_amd64.
type Tag struct {
	Interpreter string
	ABI         string
	Platform    string
}

func (t Tag) String() string {
	return t.Interpreter + "-" + t.ABI + "-" + t.Platform
}

// Wheel is a parsed wheel filename.
type Wheel struct {
	Filename string
	Name     string
	Version  string
	Build    string
	// Tags is the expanded tag set; compressed sets like py2.py3 yield one
	// Tag per combination.
	Tags []Tag
}

// Key returns the normalized project name.
func (w Wheel) Key() string { return requirement.NormalizeName(w.Name) }

// ParseWheelFilename parses name-version[-build]-python-abi-platform.whl.
func ParseWheelFilename(filename string) (Wheel, error) {
	base, ok := strings.CutSuffix(filename, ".whl")
	if !ok {
		return Wheel{}, fmt.Errorf("invalid wheel filename %q: missing .whl suffix", filename)
	}
	parts := strings.Split(base, "-")
	if len(parts) != 5 && len(parts) != 6 {
		return Wheel{}, fmt.Errorf("invalid wheel filename %q: want 5 or 6 dash-separated parts, got %d", filename, len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return Wheel{}, fmt.Errorf("invalid wheel filename %q: empty component", filename)
		}
	}

	w := Wheel{Filename: filename, Name: parts[0], Version: parts[1]}
	if len(parts) == 6 {
		w.Build = parts[2]
		if w.Build[0] < '0' || w.Build[0] > '9' {
			return Wheel{}, fmt.Errorf("invalid wheel filename %q: build tag must start with a digit", filename)
		}
	}

	n := len(parts)
	for _, py := range strings.Split(parts[n-3], ".") {
		for _, abi := range strings.Split(parts[n-2], ".") {
			for _, plat := range strings.Split(parts[n-1], ".") {
				w.Tags = append(w.Tags, Tag{Interpreter: py, ABI: abi, Platform: plat})
			}
		}
	}
	return w, nil
}

// Sdist is a parsed source archive filename.
type Sdist struct {
	Filename string
	Name     string
	Version  string
}

// ParseSdistFilename splits name-version.<archive suffix> at the last dash
// that is followed by a digit.
func ParseSdistFilename(filename string) (Sdist, error) {
	lower := strings.ToLower(filename)
	var base string
	for _, suffix := range sdistSuffixes {
		if strings.HasSuffix(lower, suffix) {
			base = filename[:len(filename)-len(suffix)]
			break
		}
	}
	if base == "" {
		return Sdist{}, fmt.Errorf("invalid sdist filename %q: unknown archive format", filename)
	}
	for i := len(base) - 1; i > 0; i-- {
		if base[i] == '-' && i+1 < len(base) && base[i+1] >= '0' && base[i+1] <= '9' {
			return Sdist{Filename: filename, Name: base[:i], Version: base[i+1:]}, nil
		}
	}
	return Sdist{}, fmt.Errorf("invalid sdist filename %q: no version", filename)
}

// NameVersion extracts the project name and version from a wheel or sdist
// link filename. ok is false for links that are neither.
func NameVersion(l link.Link) (name, version string, ok bool) {
	if l.IsWheel() {
		w, err := ParseWheelFilename(l.Filename())
		if err != nil {
			return "", "", false
		}
		return w.Name, w.Version, true
	}
	if l.IsSdist() {
		s, err := ParseSdistFilename(l.Filename())
		if err != nil {
			return "", "", false
		}
		return s.Name, s.Version, true
	}
	return "", "", false
}
