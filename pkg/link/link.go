// Package link describes where an artifact or source tree lives: a file://
// or http(s):// URL, optionally prefixed with a VCS scheme such as git+.
package link

import (
	_ "crypto/sha256"
	_ "crypto/sha512"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
)

var sdistSuffixes = []string{".tar.gz", ".tgz", ".tar.bz2", ".tar", ".zip"}

// Link is an immutable artifact location.
type Link struct {
	raw string
}

// New returns a Link for raw. No validation is performed.
func New(raw string) Link {
	return Link{raw: strings.TrimSpace(raw)}
}

// FromPath returns a file:// link for a local filesystem path.
func FromPath(p string) (Link, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return Link{}, fmt.Errorf("resolving absolute path for %q: %w", p, err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return Link{raw: u.String()}, nil
}

// String returns the link as given.
func (l Link) String() string { return l.raw }

// IsZero reports whether l is the empty link.
func (l Link) IsZero() bool { return l.raw == "" }

// URL returns the link without its fragment and without any VCS prefix.
func (l Link) URL() string {
	s, _ := l.split()
	if l.IsVCS() {
		_, s, _ = strings.Cut(s, "+")
	}
	return s
}

// split separates the fragment from the rest of the link. The fragment
// starts at the first '#' followed by a key=value item, so a '#' inside a
// directory name such as "demo#-with-hash" stays part of the path.
func (l Link) split() (base, frag string) {
	for i := strings.IndexByte(l.raw, '#'); i >= 0; {
		item := l.raw[i+1:]
		if j := strings.IndexAny(item, "&#"); j >= 0 {
			item = item[:j]
		}
		if k, _, ok := strings.Cut(item, "="); ok && k != "" && !strings.Contains(k, "/") {
			return l.raw[:i], l.raw[i+1:]
		}
		next := strings.IndexByte(l.raw[i+1:], '#')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return l.raw, ""
}

// parseURL parses s with any '#' taken as part of the path; callers pass
// URLs whose fragment has already been split off.
func parseURL(s string) (*url.URL, error) {
	return url.Parse(strings.ReplaceAll(s, "#", "%23"))
}

// VCS returns the version control scheme ("git") or "".
func (l Link) VCS() string {
	scheme, rest, ok := strings.Cut(l.raw, "+")
	if !ok || !strings.Contains(rest, "://") && !strings.HasPrefix(rest, "file:") {
		return ""
	}
	switch scheme {
	case "git", "hg", "svn", "bzr":
		return scheme
	}
	return ""
}

// IsVCS reports whether l points to a version control repository.
func (l Link) IsVCS() bool { return l.VCS() != "" }

// IsFile reports whether l uses the file scheme.
func (l Link) IsFile() bool {
	return !l.IsVCS() && strings.HasPrefix(strings.ToLower(l.raw), "file:")
}

// FilePath returns the local path of a file:// link.
func (l Link) FilePath() string {
	if !l.IsFile() {
		return ""
	}
	u, err := parseURL(l.URL())
	if err != nil || u.Path == "" {
		return strings.TrimPrefix(l.URL(), "file://")
	}
	p := u.Path
	if u.Host != "" && u.Host != "localhost" {
		p = "//" + u.Host + p
	}
	return filepath.FromSlash(p)
}

// IsDir reports whether l is a file:// link to an existing directory.
func (l Link) IsDir() bool {
	if !l.IsFile() {
		return false
	}
	info, err := os.Stat(l.FilePath())
	return err == nil && info.IsDir()
}

// Filename returns the unescaped last path element of the link URL.
func (l Link) Filename() string {
	u, err := parseURL(l.URL())
	if err != nil {
		return path.Base(l.URL())
	}
	name := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	return name
}

// IsWheel reports whether l points to a binary wheel artifact.
func (l Link) IsWheel() bool {
	return !l.IsVCS() && strings.HasSuffix(strings.ToLower(l.Filename()), ".whl")
}

// IsSdist reports whether l points to a source archive.
func (l Link) IsSdist() bool {
	if l.IsVCS() {
		return false
	}
	name := strings.ToLower(l.Filename())
	for _, suffix := range sdistSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// Fragment returns the key=value pairs of the link fragment. Both '&' and
// '#' separate pairs; items without '=' are ignored.
func (l Link) Fragment() map[string]string {
	_, frag := l.split()
	if frag == "" {
		return nil
	}
	out := make(map[string]string)
	for _, item := range strings.FieldsFunc(frag, func(r rune) bool { return r == '&' || r == '#' }) {
		k, v, ok := strings.Cut(item, "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// Egg returns the #egg= project name hint.
func (l Link) Egg() string { return l.Fragment()["egg"] }

// Subdirectory returns the #subdirectory= value.
func (l Link) Subdirectory() string { return l.Fragment()["subdirectory"] }

// Hash returns the digest advertised in the fragment (sha256=...), if any.
func (l Link) Hash() digest.Digest {
	frag := l.Fragment()
	for _, alg := range []digest.Algorithm{digest.SHA256, digest.SHA512} {
		if v, ok := frag[string(alg)]; ok {
			d := digest.NewDigestFromEncoded(alg, strings.ToLower(v))
			if d.Validate() == nil {
				return d
			}
		}
	}
	return ""
}

// Normalized returns the link identity used for cache keys: lower-cased
// scheme and host, no credentials, and only the subdirectory fragment.
func (l Link) Normalized() string {
	base := l.URL()
	u, err := parseURL(base)
	if err == nil {
		u.Scheme = strings.ToLower(u.Scheme)
		u.Host = strings.ToLower(u.Host)
		u.User = nil
		u.Fragment = ""
		base = u.String()
	}
	if vcs := l.VCS(); vcs != "" {
		base = vcs + "+" + base
	}
	if sub := l.Subdirectory(); sub != "" {
		base += "#subdirectory=" + sub
	}
	return base
}

// Redacted returns the link with any password replaced, for logging.
func (l Link) Redacted() string {
	u, err := parseURL(l.URL())
	if err != nil || u.User == nil {
		return l.raw
	}
	return strings.Replace(l.raw, u.User.String()+"@", u.User.Username()+":***@", 1)
}

// Fingerprint returns a content-derived identity for l. An advertised hash
// wins; local files are digested; anything else digests the normalized URL.
func (l Link) Fingerprint() (digest.Digest, error) {
	if d := l.Hash(); d != "" {
		return d, nil
	}
	if l.IsFile() && !l.IsDir() {
		f, err := os.Open(l.FilePath())
		if err != nil {
			return "", fmt.Errorf("fingerprinting %s: %w", l.FilePath(), err)
		}
		defer f.Close()
		return digest.Canonical.FromReader(f)
	}
	return digest.FromString(l.Normalized()), nil
}

// WithRevision returns a VCS link whose URL is pinned to rev, keeping the
// fragment.
func (l Link) WithRevision(rev string) Link {
	if !l.IsVCS() {
		return l
	}
	base, frag := l.split()
	if i := strings.LastIndex(base, "@"); i > strings.Index(base, "://")+2 && !strings.Contains(base[i:], "/") {
		base = base[:i]
	}
	out := base + "@" + rev
	if frag != "" {
		out += "#" + frag
	}
	return Link{raw: out}
}
