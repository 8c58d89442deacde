// Package candidate turns requirements into prepared candidates: a name,
// a version, declared dependencies and, on demand, a wheel for the target
// environment.
package candidate

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/wheelwright/wheelwright/pkg/config"
	werrors "github.com/wheelwright/wheelwright/pkg/errors"
	"github.com/wheelwright/wheelwright/pkg/link"
	"github.com/wheelwright/wheelwright/pkg/project"
	"github.com/wheelwright/wheelwright/pkg/requirement"
	"github.com/wheelwright/wheelwright/pkg/tags"
	"github.com/wheelwright/wheelwright/pkg/vcs"
)

// Candidate is one concrete resolution of a requirement. Name and Version
// may be empty for direct references until metadata has been read.
type Candidate struct {
	Req     *requirement.Requirement
	Name    string
	Version string
	// Link locates the artifact or source. It is empty for named
	// requirements not yet looked up in an index.
	Link link.Link
	// RequiresPython is what the index advertised for Link.
	RequiresPython string
	// Revision is the VCS commit the candidate was prepared at, once known.
	Revision string
}

// New returns the candidate a requirement describes on its own: direct
// references carry their link, pinned named requirements their version.
func New(req *requirement.Requirement) *Candidate {
	c := &Candidate{Req: req, Name: req.Name, Link: req.Link()}
	if req.Kind == requirement.Named {
		c.Version = req.Specifier.Pinned()
	}
	if req.IsVCS() && vcs.IsFullHash(req.Ref) {
		c.Revision = strings.ToLower(req.Ref)
	}
	return c
}

func (c *Candidate) String() string {
	switch {
	case c.Name != "" && c.Version != "":
		return c.Name + " " + c.Version
	case c.Name != "":
		return c.Name
	}
	return c.Link.Redacted()
}

// Prepare binds c to env. Relative paths and root placeholders in the
// requirement are expanded against the environment's root. Nothing is
// fetched until the returned PreparedCandidate is used.
func (c *Candidate) Prepare(env *project.Environment) *PreparedCandidate {
	if c.Req.Kind != requirement.Named && !c.Req.Relocated() {
		derived := c.Link == c.Req.Link()
		c.Req.Relocate(env.Root)
		if derived {
			c.Link = c.Req.Link()
		}
	}
	return &PreparedCandidate{Candidate: c, env: env}
}

// LockEntry serializes c for the lockfile. Paths and file URLs inside root
// are written relative to it. Editable sources carry no revision.
func (c *Candidate) LockEntry(root string) config.LockPackage {
	req := c.Req
	e := config.LockPackage{
		Name:         c.Name,
		Version:      c.Version,
		Subdirectory: req.Subdirectory,
		Editable:     req.Editable,
	}
	if len(req.Extras) > 0 {
		e.Extras = append([]string(nil), req.Extras...)
		sort.Strings(e.Extras)
	}
	switch req.Kind {
	case requirement.VCS:
		e.Git = req.LockURL(root)
		e.Ref = req.Ref
		if !req.Editable {
			e.Revision = c.Revision
		}
	case requirement.Local:
		if req.URL != "" {
			e.URL = req.LockURL(root)
		} else {
			e.Path = req.LockPath(root)
		}
	case requirement.URL:
		e.URL = req.LockURL(root)
	}
	return e
}

// FindCandidates asks the environment's index for candidates of req, best
// first: higher versions first, then wheels by tag preference, then source
// archives. Wheels the target cannot use are dropped unless allowAll is
// set, and so are entries whose Requires-Python excludes the target.
func FindCandidates(ctx context.Context, env *project.Environment, req *requirement.Requirement, allowAll bool) ([]*Candidate, error) {
	if env.Index == nil {
		return nil, werrors.New(werrors.UnsupportedSource, "no index configured to look up %s", req.Name)
	}
	entries, err := env.Index.Find(ctx, req)
	if err != nil {
		return nil, err
	}

	type ranked struct {
		c     *Candidate
		wheel bool
		rank  int
	}
	m := env.Matcher()
	var found []ranked
	for _, e := range entries {
		if !tags.RequiresPython(env.Spec, e.RequiresPython) {
			continue
		}
		r := ranked{c: &Candidate{
			Req:            req,
			Name:           e.Name,
			Version:        e.Version,
			Link:           e.Link,
			RequiresPython: e.RequiresPython,
		}}
		if e.Link.IsWheel() {
			w, err := tags.ParseWheelFilename(e.Link.Filename())
			if err != nil {
				continue
			}
			rank, ok := m.Rank(w.Tags)
			if !ok {
				if !allowAll {
					continue
				}
				rank = math.MaxInt
			}
			r.wheel, r.rank = true, rank
		}
		found = append(found, r)
	}

	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if cmp := requirement.CompareVersions(a.c.Version, b.c.Version); cmp != 0 {
			return cmp > 0
		}
		if a.wheel != b.wheel {
			return a.wheel
		}
		return a.rank < b.rank
	})
	out := make([]*Candidate, len(found))
	for i, r := range found {
		out[i] = r.c
	}
	return out, nil
}
