// Package metadata reads a distribution's name, version and declared
// dependencies from a wheel, a source tree manifest or a build backend.
package metadata

import (
	"bytes"
	"fmt"
	"io"
	"net/mail"
	"net/textproto"
	"strings"

	werrors "github.com/wheelwright/wheelwright/pkg/errors"
	"github.com/wheelwright/wheelwright/pkg/requirement"
)

// Metadata is a core metadata record. Requires holds PEP 508 lines; a
// dependency reachable only through an extra keeps its `extra == "..."`
// marker.
type Metadata struct {
	Name           string
	Version        string
	Summary        string
	RequiresPython string
	Requires       []string
	ProvidesExtra  []string

	fields map[string][]string
}

// Get returns the first value of a core metadata field, e.g. "Summary".
// Field names are case-insensitive.
func (m *Metadata) Get(field string) string {
	if vals := m.GetAll(field); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// GetAll returns every value of a multiple-use field such as "Requires-Dist".
func (m *Metadata) GetAll(field string) []string {
	switch key := textproto.CanonicalMIMEHeaderKey(field); key {
	case "Name":
		return nonEmpty(m.Name)
	case "Version":
		return nonEmpty(m.Version)
	case "Summary":
		return nonEmpty(m.Summary)
	case "Requires-Python":
		return nonEmpty(m.RequiresPython)
	case "Requires-Dist":
		return m.Requires
	case "Provides-Extra":
		return m.ProvidesExtra
	default:
		return m.fields[key]
	}
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

// set records an extra field that has no struct counterpart.
func (m *Metadata) set(field string, values ...string) {
	if m.fields == nil {
		m.fields = make(map[string][]string)
	}
	m.fields[textproto.CanonicalMIMEHeaderKey(field)] = values
}

// Parse reads an RFC 822 style METADATA or PKG-INFO document.
func Parse(r io.Reader) (*Metadata, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return nil, fmt.Errorf("parsing core metadata: %w", err)
	}
	h := msg.Header
	m := &Metadata{
		Name:           strings.TrimSpace(h.Get("Name")),
		Version:        strings.TrimSpace(h.Get("Version")),
		Summary:        strings.TrimSpace(h.Get("Summary")),
		RequiresPython: strings.TrimSpace(h.Get("Requires-Python")),
	}
	if m.Name == "" || m.Version == "" {
		return nil, werrors.New(werrors.MetadataNotFound, "core metadata lacks Name or Version")
	}
	for _, dep := range h["Requires-Dist"] {
		line, err := normalizeDependency(dep)
		if err != nil {
			return nil, err
		}
		m.Requires = append(m.Requires, line)
	}
	for _, e := range h["Provides-Extra"] {
		m.ProvidesExtra = append(m.ProvidesExtra, requirement.NormalizeName(e))
	}
	for key, vals := range h {
		switch key {
		case "Name", "Version", "Summary", "Requires-Python", "Requires-Dist", "Provides-Extra":
		default:
			m.set(key, vals...)
		}
	}
	if body, err := io.ReadAll(msg.Body); err == nil && len(bytes.TrimSpace(body)) > 0 {
		m.set("Description", strings.TrimSpace(string(body)))
	}
	return m, nil
}

// Marshal renders m as a METADATA document.
func (m *Metadata) Marshal() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Metadata-Version: 2.1\n")
	fmt.Fprintf(&b, "Name: %s\n", m.Name)
	fmt.Fprintf(&b, "Version: %s\n", m.Version)
	if m.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", m.Summary)
	}
	if m.RequiresPython != "" {
		fmt.Fprintf(&b, "Requires-Python: %s\n", m.RequiresPython)
	}
	for _, e := range m.ProvidesExtra {
		fmt.Fprintf(&b, "Provides-Extra: %s\n", e)
	}
	for _, r := range m.Requires {
		fmt.Fprintf(&b, "Requires-Dist: %s\n", r)
	}
	b.WriteString("\n")
	if d := m.Get("Description"); d != "" {
		b.WriteString(d)
		b.WriteString("\n")
	}
	return b.Bytes()
}

// normalizeDependency re-renders a dependency line so the same declaration
// reads identically whichever manifest it came from.
func normalizeDependency(line string) (string, error) {
	r, err := requirement.Parse(line, false)
	if err != nil {
		return "", fmt.Errorf("invalid dependency %q: %w", line, err)
	}
	return r.String(), nil
}

// withExtra parses line and adds `extra == "name"` to its marker.
func withExtra(line, extra string) (string, error) {
	r, err := requirement.Parse(line, false)
	if err != nil {
		return "", fmt.Errorf("invalid dependency %q: %w", line, err)
	}
	r.Marker = r.Marker.And(requirement.ExtraMarker(extra))
	return r.String(), nil
}
