package candidate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/wheelwright/wheelwright/pkg/cache"
	werrors "github.com/wheelwright/wheelwright/pkg/errors"
	"github.com/wheelwright/wheelwright/pkg/link"
	"github.com/wheelwright/wheelwright/pkg/logging"
	"github.com/wheelwright/wheelwright/pkg/metadata"
	"github.com/wheelwright/wheelwright/pkg/project"
	"github.com/wheelwright/wheelwright/pkg/requirement"
	"github.com/wheelwright/wheelwright/pkg/tags"
	"github.com/wheelwright/wheelwright/pkg/vcs"
)

// rootFile records, inside a cached source tree, where the project root
// sits relative to the cache entry.
const rootFile = ".wheelwright-root"

var errReentrant = errors.New("value requested while it is being computed")

type state int

const (
	unset state = iota
	pending
	resolved
)

// lazy is a value computed at most once until reset.
type lazy[T any] struct {
	state state
	value T
}

func (l *lazy[T]) get(compute func() (T, error)) (T, error) {
	var zero T
	switch l.state {
	case resolved:
		return l.value, nil
	case pending:
		return zero, errReentrant
	}
	l.state = pending
	v, err := compute()
	if err != nil {
		l.state = unset
		return zero, err
	}
	l.value, l.state = v, resolved
	return v, nil
}

func (l *lazy[T]) set(v T) {
	l.value, l.state = v, resolved
}

func (l *lazy[T]) reset() {
	*l = lazy[T]{}
}

// PreparedCandidate is a Candidate bound to an Environment. Its results
// are computed on first use and kept for the life of the instance.
// Methods are serialized by a per-instance lock.
type PreparedCandidate struct {
	Candidate *Candidate
	env       *project.Environment

	mu       sync.Mutex
	source   lazy[string]
	artifact lazy[string]
	meta     lazy[*metadata.Metadata]
	revision lazy[vcs.Revision]
	// obtainedFor is the link source and artifact were obtained from.
	obtainedFor link.Link
	artifactDir string
	temps       []string
}

// Obtain makes the candidate's wheel or source tree available locally and
// returns its path. The wheel cache is consulted first, then the source
// cache, then the link is fetched. Unless allowAll is set, a wheel the
// target cannot use is replaced by a compatible artifact of the same
// version from the index, or rejected with IncompatibleArtifact. The check
// is repeated on every call.
func (p *PreparedCandidate) Obtain(ctx context.Context, allowAll bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.obtain(ctx, allowAll); err != nil {
		return "", err
	}
	if p.artifact.state == resolved {
		return p.artifact.value, nil
	}
	return p.source.value, nil
}

// SourceDir returns the source tree obtained for the candidate, or "" when
// only a wheel was needed.
func (p *PreparedCandidate) SourceDir() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.source.state != resolved {
		return ""
	}
	return p.source.value
}

// Metadata returns the candidate's core metadata and fills in its name and
// version.
func (p *PreparedCandidate) Metadata(ctx context.Context) (*metadata.Metadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metadata(ctx)
}

// Dependencies returns the candidate's dependencies. Without requested
// extras these are the dependencies no extra governs. With extras, they
// are the dependencies those extras add, with the extra clause removed
// from their markers.
func (p *PreparedCandidate) Dependencies(ctx context.Context) ([]*requirement.Requirement, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, err := p.metadata(ctx)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool)
	for _, e := range p.Candidate.Req.Extras {
		wanted[requirement.NormalizeName(e)] = true
	}

	var deps []*requirement.Requirement
	for _, line := range m.Requires {
		r, err := requirement.Parse(line, false)
		if err != nil {
			return nil, werrors.Wrap(werrors.UnsupportedSource, err, "dependency %q of %s", line, p.Candidate)
		}
		rest, extras := r.Marker.SplitExtras()
		if len(wanted) == 0 {
			if len(extras) == 0 {
				deps = append(deps, r)
			}
			continue
		}
		for _, e := range extras {
			if wanted[requirement.NormalizeName(e)] {
				r.Marker = rest
				deps = append(deps, r)
				break
			}
		}
	}
	return deps, nil
}

// Build returns a wheel for the target. A compatible cached or fetched
// wheel is returned as is; otherwise the source tree is built and, when
// the source pins its content, the wheel is cached.
func (p *PreparedCandidate) Build(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.obtain(ctx, false); err != nil {
		return "", err
	}
	return p.artifact.get(func() (string, error) {
		return p.build(ctx)
	})
}

// Revision returns the commit a VCS candidate resolves to, or "" for other
// sources.
func (p *PreparedCandidate) Revision(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.Candidate.Link.IsVCS() {
		return "", nil
	}
	rev, err := p.resolveRevision(ctx)
	return rev.ID, err
}

// ArtifactDir returns where the candidate's wheel is kept: its wheel cache
// directory when the source pins its content, a temporary directory
// otherwise.
func (p *PreparedCandidate) ArtifactDir(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.artifactDirectory(ctx)
}

// Close removes the temporary directories the candidate created.
func (p *PreparedCandidate) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for _, dir := range p.temps {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
		}
	}
	p.temps = nil
	return errors.Join(errs...)
}

func (p *PreparedCandidate) obtain(ctx context.Context, allowAll bool) error {
	log := logging.FromContext(ctx)
	c := p.Candidate

	if err := p.resolveLink(ctx, allowAll); err != nil {
		return err
	}
	if !p.obtainedFor.IsZero() && p.obtainedFor != c.Link {
		log.Debug("link changed, dropping obtained files", "candidate", c, "from", p.obtainedFor.Redacted(), "to", c.Link.Redacted())
		p.source.reset()
		p.artifact.reset()
		p.meta.reset()
		p.artifactDir = ""
	}
	if p.artifact.state == resolved {
		if allowAll || p.env.Matcher().CompatibleFilename(filepath.Base(p.artifact.value)) {
			return nil
		}
		log.Debug("dropping incompatible artifact", "candidate", c, "artifact", p.artifact.value)
		p.artifact.reset()
	}
	if p.source.state == resolved {
		return nil
	}

	if err := p.fetch(ctx); err != nil {
		return err
	}
	p.obtainedFor = c.Link
	return nil
}

// resolveLink looks up a link for named candidates and, in strict mode,
// swaps an incompatible wheel for a compatible artifact of the same
// version. The version of a named candidate is always chosen among
// artifacts the target can use; allowAll only lets an incompatible link
// that is already bound be kept.
func (p *PreparedCandidate) resolveLink(ctx context.Context, allowAll bool) error {
	c := p.Candidate
	if c.Link.IsZero() {
		found, err := FindCandidates(ctx, p.env, c.Req, false)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return werrors.New(werrors.IncompatibleArtifact, "no artifact of %s is usable on %s", c.Req, p.env.Spec)
		}
		best := found[0]
		c.Name, c.Version, c.Link, c.RequiresPython = best.Name, best.Version, best.Link, best.RequiresPython
		return nil
	}
	if allowAll || !c.Link.IsWheel() || p.env.Matcher().CompatibleFilename(c.Link.Filename()) {
		return nil
	}

	name, version, ok := tags.NameVersion(c.Link)
	if !ok {
		return werrors.New(werrors.IncompatibleArtifact, "%s is not a valid wheel name", c.Link.Filename())
	}
	if p.env.Index != nil {
		spec, err := requirement.ParseSpecifier("==" + version)
		if err != nil {
			return werrors.Wrap(werrors.IncompatibleArtifact, err, "%s has an invalid version", c.Link.Filename())
		}
		found, err := FindCandidates(ctx, p.env, &requirement.Requirement{Name: name, Specifier: spec}, false)
		if err != nil {
			return err
		}
		for _, alt := range found {
			if requirement.CompareVersions(alt.Version, version) != 0 {
				continue
			}
			logging.FromContext(ctx).Debug("replacing incompatible wheel", "from", c.Link.Filename(), "to", alt.Link.Filename())
			c.Link = alt.Link
			return nil
		}
	}
	return werrors.New(werrors.IncompatibleArtifact, "%s is not compatible with %s and no alternative was found", c.Link.Filename(), p.env.Spec)
}

// fetch obtains the candidate's link: a local directory in place, a
// cached wheel, a downloaded wheel, or an unpacked source tree.
func (p *PreparedCandidate) fetch(ctx context.Context) error {
	log := logging.FromContext(ctx)
	c := p.Candidate
	l := c.Link

	if l.IsFile() {
		path := l.FilePath()
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			return werrors.New(werrors.RequirementMissing, "The local path '%s' does not exist", path)
		}
		if err != nil {
			return err
		}
		if info.IsDir() {
			dir := path
			if sub := l.Subdirectory(); sub != "" {
				dir = filepath.Join(path, filepath.FromSlash(sub))
			}
			p.source.set(dir)
			return nil
		}
	}

	cacheable, err := p.cacheable(ctx)
	if err != nil {
		return err
	}
	cacheLink := p.cacheLink()
	if cacheable {
		if wheel, ok := p.env.Cache.Wheels.Get(cacheLink, p.env.Spec, p.env.Matcher()); ok {
			log.Debug("wheel cache hit", "candidate", c, "wheel", wheel)
			p.artifact.set(wheel)
			return nil
		}
	}

	if l.IsWheel() {
		dir, err := p.tempDir("download")
		if err != nil {
			return err
		}
		wheel, err := p.env.Unpacker.Unpack(ctx, l, dir)
		if err != nil {
			return err
		}
		if cacheable && !l.IsFile() && p.env.Matcher().CompatibleFilename(filepath.Base(wheel)) {
			if wheel, err = p.env.Cache.Wheels.Put(cacheLink, p.env.Spec, wheel); err != nil {
				return err
			}
		}
		p.artifact.set(wheel)
		return nil
	}

	dir, err := p.sourceTree(ctx, cacheable)
	if err != nil {
		return err
	}
	p.source.set(dir)
	return nil
}

// sourceTree unpacks or checks out the candidate's source, through the
// source cache when the source pins its content.
func (p *PreparedCandidate) sourceTree(ctx context.Context, cacheable bool) (string, error) {
	log := logging.FromContext(ctx)
	builds := p.env.Cache.Builds

	if cacheable {
		key, err := p.buildKey(ctx)
		if err != nil {
			return "", err
		}
		if dir, ok := builds.Get(key); ok {
			if root, err := readRoot(dir); err == nil {
				log.Debug("source cache hit", "candidate", p.Candidate, "dir", root)
				return root, nil
			}
			log.Debug("source cache entry unreadable, using a temporary tree", "dir", dir)
		} else {
			staged, err := builds.Stage()
			if err != nil {
				return "", err
			}
			rel, err := p.materialize(ctx, staged)
			if err == nil {
				err = os.WriteFile(filepath.Join(staged, rootFile), []byte(filepath.ToSlash(rel)), 0o644)
			}
			if err != nil {
				builds.Discard(staged)
				return "", err
			}
			dir, err := builds.Put(key, staged)
			if err != nil {
				builds.Discard(staged)
				return "", err
			}
			return filepath.Join(dir, rel), nil
		}
	}

	dir, err := p.tempDir("source")
	if err != nil {
		return "", err
	}
	rel, err := p.materialize(ctx, dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, rel), nil
}

// materialize places the source under dest and returns the path of the
// project root relative to dest.
func (p *PreparedCandidate) materialize(ctx context.Context, dest string) (string, error) {
	c := p.Candidate
	if c.Link.IsVCS() {
		rev, err := p.resolveRevision(ctx)
		if err != nil {
			return "", err
		}
		if err := p.env.Resolver.Checkout(ctx, c.Req.URL, rev, filepath.Join(dest, "checkout")); err != nil {
			return "", err
		}
		rel := filepath.Join("checkout", filepath.FromSlash(c.Req.Subdirectory))
		if _, err := os.Stat(filepath.Join(dest, rel)); err != nil {
			return "", fmt.Errorf("subdirectory %s of %s: %w", c.Req.Subdirectory, c.Req.URL, err)
		}
		return rel, nil
	}

	root, err := p.env.Unpacker.Unpack(ctx, c.Link, dest)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(dest, root)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("unpacking %s produced %s outside %s", c.Link.Redacted(), root, dest)
	}
	return rel, nil
}

func (p *PreparedCandidate) build(ctx context.Context) (string, error) {
	c := p.Candidate
	cacheable, err := p.cacheable(ctx)
	if err != nil {
		return "", err
	}
	var out string
	if cacheable {
		out, err = p.tempDir("build")
	} else {
		out, err = p.artifactDirectory(ctx)
	}
	if err != nil {
		return "", err
	}

	wheel, err := p.env.Builder.Build(ctx, p.source.value, out, c.Req.Editable)
	if err != nil {
		if werrors.GetCode(err) != "" {
			return "", err
		}
		return "", werrors.Wrap(werrors.BuildBackendFailure, err, "building %s", c)
	}
	if cacheable {
		if wheel, err = p.env.Cache.Wheels.Put(p.cacheLink(), p.env.Spec, wheel); err != nil {
			return "", err
		}
	}
	logging.FromContext(ctx).Debug("built wheel", "candidate", c, "wheel", wheel)
	return wheel, nil
}

func (p *PreparedCandidate) metadata(ctx context.Context) (*metadata.Metadata, error) {
	return p.meta.get(func() (*metadata.Metadata, error) {
		if err := p.obtain(ctx, true); err != nil {
			return nil, err
		}
		var src metadata.Source
		if p.artifact.state == resolved {
			src.Wheel = p.artifact.value
		}
		if p.source.state == resolved {
			src.Dir = p.source.value
		}
		ex := &metadata.Extractor{}
		if p.env.Builder != nil {
			ex.Builder = p.env.Builder
		}
		m, _, err := ex.Extract(ctx, src)
		if err != nil {
			return nil, err
		}
		p.identify(ctx, m)
		return m, nil
	})
}

// identify fills in the candidate's name and version from m. Editable VCS
// checkouts get a +editable local version.
func (p *PreparedCandidate) identify(ctx context.Context, m *metadata.Metadata) {
	c := p.Candidate
	if c.Name == "" {
		c.Name = m.Name
	} else if requirement.NormalizeName(c.Name) != requirement.NormalizeName(m.Name) {
		logging.FromContext(ctx).Warn("metadata name differs from the requested name", "requested", c.Name, "metadata", m.Name)
	}
	c.Version = m.Version
	if c.Req.Editable && c.Link.IsVCS() && !strings.Contains(c.Version, "+") {
		c.Version += "+editable"
	}
}

// cacheable reports whether the candidate's source pins its content:
// editable sources and local directories never do, VCS sources only when
// the user gave a full commit.
func (p *PreparedCandidate) cacheable(ctx context.Context) (bool, error) {
	c := p.Candidate
	if c.Req.Editable || c.Link.IsDir() {
		return false, nil
	}
	if c.Link.IsVCS() {
		rev, err := p.resolveRevision(ctx)
		if err != nil {
			return false, err
		}
		return rev.Immutable, nil
	}
	return true, nil
}

// cacheLink is the link wheels are cached under; VCS links are pinned to
// their revision.
func (p *PreparedCandidate) cacheLink() link.Link {
	c := p.Candidate
	if c.Link.IsVCS() && p.revision.state == resolved {
		return c.Link.WithRevision(p.revision.value.ID)
	}
	return c.Link
}

func (p *PreparedCandidate) buildKey(ctx context.Context) (cache.BuildKey, error) {
	c := p.Candidate
	if c.Link.IsVCS() {
		rev, err := p.resolveRevision(ctx)
		if err != nil {
			return cache.BuildKey{}, err
		}
		return cache.VCSKey(c.Req.URL, rev, c.Req.Subdirectory), nil
	}
	return cache.ArchiveKey(c.Link)
}

func (p *PreparedCandidate) resolveRevision(ctx context.Context) (vcs.Revision, error) {
	return p.revision.get(func() (vcs.Revision, error) {
		req := p.Candidate.Req
		rev, err := p.env.Resolver.Resolve(ctx, req.URL, req.Ref)
		if err != nil {
			return vcs.Revision{}, err
		}
		p.Candidate.Revision = rev.ID
		return rev, nil
	})
}

func (p *PreparedCandidate) artifactDirectory(ctx context.Context) (string, error) {
	if p.artifactDir != "" {
		return p.artifactDir, nil
	}
	cacheable, err := p.cacheable(ctx)
	if err != nil {
		return "", err
	}
	var dir string
	if cacheable {
		dir, err = p.env.Cache.Wheels.PathForLink(p.cacheLink(), p.env.Spec)
	} else {
		dir, err = p.tempDir("wheel")
	}
	if err != nil {
		return "", err
	}
	p.artifactDir = dir
	return dir, nil
}

func (p *PreparedCandidate) tempDir(prefix string) (string, error) {
	dir, err := p.env.TempDir(prefix)
	if err != nil {
		return "", err
	}
	p.temps = append(p.temps, dir)
	return dir, nil
}

func readRoot(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, rootFile))
	if err != nil {
		return "", err
	}
	root := filepath.Join(dir, filepath.FromSlash(strings.TrimSpace(string(data))))
	if _, err := os.Stat(root); err != nil {
		return "", err
	}
	return root, nil
}
