// Package vcs resolves version control refs to revisions and checks them
// out.
package vcs

import (
	"context"
	"strings"
)

// Revision is a ref resolved to a concrete commit.
type Revision struct {
	// Ref is the ref as the user wrote it; empty means the default branch.
	Ref string
	// ID is the full commit identifier.
	ID string
	// Immutable is true only when Ref already was the full identifier, so
	// the same ref can never resolve to different content.
	Immutable bool
}

// Resolver maps refs to revisions and materializes them on disk.
type Resolver interface {
	Resolve(ctx context.Context, repo, ref string) (Revision, error)
	Checkout(ctx context.Context, repo string, rev Revision, dest string) error
}

// IsFullHash reports whether s is a full SHA-1 (40) or SHA-256 (64) hex id.
func IsFullHash(s string) bool {
	return (len(s) == 40 || len(s) == 64) && hexOnly(s)
}

// isShortHash reports whether s looks like an abbreviated commit hash.
func isShortHash(s string) bool {
	return len(s) >= 7 && len(s) < 40 && hexOnly(s)
}

func hexOnly(s string) bool {
	return strings.Trim(s, "0123456789abcdefABCDEF") == ""
}
