package requirement

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

var markerVariables = map[string]bool{
	"os_name":                        true,
	"sys_platform":                   true,
	"platform_machine":               true,
	"platform_python_implementation": true,
	"platform_release":               true,
	"platform_system":                true,
	"platform_version":               true,
	"python_version":                 true,
	"python_full_version":            true,
	"implementation_name":            true,
	"implementation_version":         true,
	"extra":                          true,
}

// Marker is a parsed PEP 508 environment marker.
type Marker struct {
	root markerNode
}

type markerNode interface {
	render(parent string) string
}

type markerExpr struct {
	op          string // "and" or "or"
	left, right markerNode
}

type markerCmp struct {
	lhs, op, rhs string
	lhsVar       bool
	rhsVar       bool
}

func (e *markerExpr) render(parent string) string {
	s := e.left.render(e.op) + " " + e.op + " " + e.right.render(e.op)
	if parent == "and" && e.op == "or" {
		return "(" + s + ")"
	}
	return s
}

func (c *markerCmp) render(string) string {
	return renderOperand(c.lhs, c.lhsVar) + " " + c.op + " " + renderOperand(c.rhs, c.rhsVar)
}

func renderOperand(s string, isVar bool) string {
	if isVar {
		return s
	}
	return `"` + s + `"`
}

// ParseMarker parses a marker expression such as `os_name == "nt"`.
func ParseMarker(s string) (*Marker, error) {
	toks, err := tokenizeMarker(s)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, nil
	}
	p := &markerParser{toks: toks}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("invalid marker %q: unexpected %q", s, p.toks[p.pos].text)
	}
	return &Marker{root: node}, nil
}

// String renders the marker with normalized quoting and spacing.
func (m *Marker) String() string {
	if m == nil || m.root == nil {
		return ""
	}
	return m.root.render("")
}

// And joins two markers with "and". Either may be nil.
func (m *Marker) And(other *Marker) *Marker {
	switch {
	case m == nil:
		return other
	case other == nil:
		return m
	}
	return &Marker{root: &markerExpr{op: "and", left: m.root, right: other.root}}
}

// ExtraMarker returns the marker `extra == "name"`.
func ExtraMarker(name string) *Marker {
	return &Marker{root: &markerCmp{lhs: "extra", op: "==", rhs: NormalizeName(name), lhsVar: true}}
}

// SplitExtras removes `extra == "..."` clauses joined by "and" at the top
// level and returns what remains with the extras they named. Alternatives of
// pure extra clauses ("extra == 'a' or extra == 'b'") are removed as a unit.
// The remaining marker is nil when nothing is left.
func (m *Marker) SplitExtras() (*Marker, []string) {
	if m == nil {
		return nil, nil
	}
	rest, extras := splitExtras(m.root)
	sort.Strings(extras)
	if rest == nil {
		return nil, extras
	}
	return &Marker{root: rest}, extras
}

func splitExtras(n markerNode) (markerNode, []string) {
	switch n := n.(type) {
	case *markerCmp:
		if name, ok := n.extra(); ok {
			return nil, []string{name}
		}
		return n, nil
	case *markerExpr:
		if n.op == "or" {
			if names, ok := pureExtras(n); ok {
				return nil, names
			}
			return n, nil
		}
		left, le := splitExtras(n.left)
		right, re := splitExtras(n.right)
		extras := append(le, re...)
		switch {
		case left == nil:
			return right, extras
		case right == nil:
			return left, extras
		}
		return &markerExpr{op: "and", left: left, right: right}, extras
	}
	return n, nil
}

func pureExtras(n markerNode) ([]string, bool) {
	switch n := n.(type) {
	case *markerCmp:
		name, ok := n.extra()
		return []string{name}, ok
	case *markerExpr:
		if n.op != "or" {
			return nil, false
		}
		l, lok := pureExtras(n.left)
		r, rok := pureExtras(n.right)
		return append(l, r...), lok && rok
	}
	return nil, false
}

func (c *markerCmp) extra() (string, bool) {
	if c.op != "==" {
		return "", false
	}
	switch {
	case c.lhsVar && c.lhs == "extra" && !c.rhsVar:
		return NormalizeName(c.rhs), true
	case c.rhsVar && c.rhs == "extra" && !c.lhsVar:
		return NormalizeName(c.lhs), true
	}
	return "", false
}

// Evaluate reports whether the marker holds in env. Variables missing from
// env compare as the empty string. Version comparisons use PEP 440 ordering
// when both sides parse as versions.
func (m *Marker) Evaluate(env map[string]string) bool {
	if m == nil || m.root == nil {
		return true
	}
	return evaluate(m.root, env)
}

func evaluate(n markerNode, env map[string]string) bool {
	switch n := n.(type) {
	case *markerExpr:
		if n.op == "and" {
			return evaluate(n.left, env) && evaluate(n.right, env)
		}
		return evaluate(n.left, env) || evaluate(n.right, env)
	case *markerCmp:
		lhs, rhs := n.lhs, n.rhs
		if n.lhsVar {
			lhs = env[lhs]
		}
		if n.rhsVar {
			rhs = env[rhs]
		}
		return compareMarker(lhs, n.op, rhs)
	}
	return false
}

func compareMarker(lhs, op, rhs string) bool {
	switch op {
	case "in":
		return strings.Contains(rhs, lhs)
	case "not in":
		return !strings.Contains(rhs, lhs)
	case "===":
		return lhs == rhs
	}
	if spec, err := ParseSpecifier(op + rhs); err == nil {
		if _, err := ParseVersion(lhs); err == nil {
			return spec.Contains(lhs)
		}
	}
	switch op {
	case "==":
		return lhs == rhs
	case "!=":
		return lhs != rhs
	case "<":
		return lhs < rhs
	case "<=":
		return lhs <= rhs
	case ">":
		return lhs > rhs
	case ">=":
		return lhs >= rhs
	}
	return false
}

type markerToken struct {
	kind string // "var", "str", "op", "(", ")", "and", "or"
	text string
}

func tokenizeMarker(s string) ([]markerToken, error) {
	var toks []markerToken
	rs := []rune(s)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(' || r == ')':
			toks = append(toks, markerToken{kind: string(r), text: string(r)})
			i++
		case r == '"' || r == '\'':
			j := i + 1
			for j < len(rs) && rs[j] != r {
				j++
			}
			if j == len(rs) {
				return nil, fmt.Errorf("invalid marker %q: unterminated string", s)
			}
			toks = append(toks, markerToken{kind: "str", text: string(rs[i+1 : j])})
			i = j + 1
		case strings.ContainsRune("=!<>~", r):
			j := i
			for j < len(rs) && strings.ContainsRune("=!<>~", rs[j]) {
				j++
			}
			op := string(rs[i:j])
			switch op {
			case "==", "!=", "<", "<=", ">", ">=", "~=", "===":
			default:
				return nil, fmt.Errorf("invalid marker %q: unknown operator %q", s, op)
			}
			toks = append(toks, markerToken{kind: "op", text: op})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j]) || rs[j] == '_' || rs[j] == '.') {
				j++
			}
			word := string(rs[i:j])
			i = j
			switch word {
			case "and", "or":
				toks = append(toks, markerToken{kind: word, text: word})
			case "in":
				toks = append(toks, markerToken{kind: "op", text: "in"})
			case "not":
				toks = append(toks, markerToken{kind: "op", text: "not in"})
				for i < len(rs) && unicode.IsSpace(rs[i]) {
					i++
				}
				if !strings.HasPrefix(string(rs[i:]), "in") {
					return nil, fmt.Errorf("invalid marker %q: expected 'in' after 'not'", s)
				}
				i += 2
			default:
				// legacy dotted spellings: os.name, sys.platform
				word = strings.Replace(word, ".", "_", 1)
				if !markerVariables[word] {
					return nil, fmt.Errorf("invalid marker %q: unknown variable %q", s, word)
				}
				toks = append(toks, markerToken{kind: "var", text: word})
			}
		default:
			return nil, fmt.Errorf("invalid marker %q: unexpected %q", s, r)
		}
	}
	return toks, nil
}

type markerParser struct {
	toks []markerToken
	pos  int
}

func (p *markerParser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos].kind
	}
	return ""
}

func (p *markerParser) parseOr() (markerNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek() == "or" {
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &markerExpr{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *markerParser) parseAnd() (markerNode, error) {
	left, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for p.peek() == "and" {
		p.pos++
		right, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		left = &markerExpr{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *markerParser) parseAtom() (markerNode, error) {
	if p.peek() == "(" {
		p.pos++
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek() != ")" {
			return nil, fmt.Errorf("invalid marker: missing ')'")
		}
		p.pos++
		return n, nil
	}
	if p.pos+3 > len(p.toks) {
		return nil, fmt.Errorf("invalid marker: incomplete comparison")
	}
	lhs, op, rhs := p.toks[p.pos], p.toks[p.pos+1], p.toks[p.pos+2]
	if op.kind != "op" || !isOperand(lhs) || !isOperand(rhs) {
		return nil, fmt.Errorf("invalid marker: bad comparison near %q", lhs.text)
	}
	p.pos += 3
	c := &markerCmp{
		lhs: lhs.text, op: op.text, rhs: rhs.text,
		lhsVar: lhs.kind == "var", rhsVar: rhs.kind == "var",
	}
	if c.lhsVar && c.lhs == "extra" && !c.rhsVar {
		c.rhs = NormalizeName(c.rhs)
	}
	return c, nil
}

func isOperand(t markerToken) bool { return t.kind == "var" || t.kind == "str" }
