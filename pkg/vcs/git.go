package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	werrors "github.com/wheelwright/wheelwright/pkg/errors"
	"github.com/wheelwright/wheelwright/pkg/logging"
)

// Git resolves and checks out revisions with the git command line.
type Git struct {
	// Binary is the git executable; defaults to "git".
	Binary string
}

var _ Resolver = &Git{}

// NewGit returns a Git resolver using the git found on PATH.
func NewGit() *Git {
	return &Git{Binary: "git"}
}

// Resolve resolves ref in repo. Full hashes are returned without contacting
// the remote. Short hashes are prefix-matched against the advertised refs;
// branch and tag names go through ls-remote. Only full hashes are immutable.
func (g *Git) Resolve(ctx context.Context, repo, ref string) (Revision, error) {
	if IsFullHash(ref) {
		return Revision{Ref: ref, ID: strings.ToLower(ref), Immutable: true}, nil
	}

	var (
		id  string
		err error
	)
	switch {
	case isShortHash(ref):
		id, err = g.resolveShortHash(ctx, repo, ref)
	default:
		id, err = g.resolveName(ctx, repo, ref)
	}
	if err != nil {
		return Revision{}, werrors.Wrap(werrors.RevisionResolutionFailure, err, "resolving %s@%s", repo, displayRef(ref))
	}
	logging.FromContext(ctx).Debug("resolved git ref", "repo", repo, "ref", displayRef(ref), "revision", id)
	return Revision{Ref: ref, ID: id}, nil
}

// resolveName maps a branch or tag name to its commit. Only exact refs
// count: a branch wins over a tag of the same name, and annotated tags are
// peeled. A full refname such as refs/tags/v1 is looked up as given.
func (g *Git) resolveName(ctx context.Context, repo, ref string) (string, error) {
	refs, err := g.lsRemote(ctx, repo)
	if err != nil {
		return "", err
	}
	var names []string
	switch {
	case ref == "":
		names = []string{"HEAD"}
	case strings.HasPrefix(ref, "refs/"):
		names = []string{ref + "^{}", ref}
	default:
		names = []string{"refs/heads/" + ref, "refs/tags/" + ref + "^{}", "refs/tags/" + ref}
	}
	for _, name := range names {
		if id, ok := refs[name]; ok {
			return id, nil
		}
	}
	return "", fmt.Errorf("ref %q not found in %s", displayRef(ref), repo)
}

// resolveShortHash finds the one advertised commit starting with ref.
func (g *Git) resolveShortHash(ctx context.Context, repo, ref string) (string, error) {
	refs, err := g.lsRemote(ctx, repo)
	if err != nil {
		return "", err
	}
	prefix := strings.ToLower(ref)
	found := make(map[string]bool)
	for name, id := range refs {
		if _, peeled := refs[name+"^{}"]; peeled {
			// annotated tag object, not a commit
			continue
		}
		if strings.HasPrefix(id, prefix) {
			found[id] = true
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("short hash %q not found in %s", ref, repo)
	case 1:
		for id := range found {
			return id, nil
		}
	}
	return "", fmt.Errorf("short hash %q is ambiguous in %s", ref, repo)
}

// lsRemote returns every ref the remote advertises, keyed by refname.
func (g *Git) lsRemote(ctx context.Context, repo string) (map[string]string, error) {
	out, err := g.output(ctx, "ls-remote", repo)
	if err != nil {
		return nil, err
	}
	refs := make(map[string]string)
	for _, line := range strings.Split(string(out), "\n") {
		id, name, ok := strings.Cut(strings.TrimSpace(line), "\t")
		if !ok {
			continue
		}
		refs[strings.TrimSpace(name)] = strings.ToLower(id)
	}
	return refs, nil
}

// Checkout materializes rev into dest, which must not exist yet. A shallow
// fetch of the commit is tried first; servers that refuse fetching by id
// get a full fetch instead.
func (g *Git) Checkout(ctx context.Context, repo string, rev Revision, dest string) error {
	if rev.ID == "" {
		return werrors.New(werrors.RevisionResolutionFailure, "checking out %s: revision not resolved", repo)
	}
	log := logging.FromContext(ctx)

	if err := g.run(ctx, "init", "--quiet", dest); err != nil {
		return werrors.Wrap(werrors.RevisionResolutionFailure, err, "initializing checkout of %s", repo)
	}
	if err := g.run(ctx, "-C", dest, "remote", "add", "origin", repo); err != nil {
		os.RemoveAll(dest)
		return werrors.Wrap(werrors.RevisionResolutionFailure, err, "adding remote %s", repo)
	}
	if err := g.run(ctx, "-C", dest, "fetch", "--quiet", "--depth", "1", "origin", rev.ID); err != nil {
		log.Debug("shallow fetch by id refused, fetching everything", "repo", repo, "err", err)
		if err := g.run(ctx, "-C", dest, "fetch", "--quiet", "origin"); err != nil {
			os.RemoveAll(dest)
			return werrors.Wrap(werrors.RevisionResolutionFailure, err, "fetching %s", repo)
		}
	}
	if err := g.run(ctx, "-C", dest, "checkout", "--quiet", rev.ID); err != nil {
		os.RemoveAll(dest)
		return werrors.Wrap(werrors.RevisionResolutionFailure, err, "checking out %s at %s", repo, rev.ID)
	}
	log.Debug("checked out git revision", "repo", repo, "revision", rev.ID, "dest", dest)
	return nil
}

func (g *Git) binary() string {
	if g.Binary == "" {
		return "git"
	}
	return g.Binary
}

func (g *Git) output(ctx context.Context, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, g.binary(), args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, werrors.Wrap(werrors.RevisionResolutionFailure, err, "running git").WithOutput(stderr.String())
	}
	return out, nil
}

func (g *Git) run(ctx context.Context, args ...string) error {
	_, err := g.output(ctx, args...)
	return err
}

func displayRef(ref string) string {
	if ref == "" {
		return "HEAD"
	}
	return ref
}
