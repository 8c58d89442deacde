package tags

import (
	"strconv"
	"strings"
)

// Matcher checks wheels against a fixed TargetSpec.
type Matcher struct {
	spec TargetSpec
	rank map[Tag]int
}

// NewMatcher builds a Matcher for spec.
func NewMatcher(spec TargetSpec) *Matcher {
	all := spec.Tags()
	rank := make(map[Tag]int, len(all))
	for i, t := range all {
		if _, seen := rank[t]; !seen {
			rank[t] = i
		}
	}
	return &Matcher{spec: spec, rank: rank}
}

// Spec returns the target the matcher was built for.
func (m *Matcher) Spec() TargetSpec { return m.spec }

// Compatible reports whether any of tags is accepted by the target.
func (m *Matcher) Compatible(tags []Tag) bool {
	_, ok := m.Rank(tags)
	return ok
}

// Rank returns the position of the most preferred supported tag in tags;
// lower is better. ok is false when no tag is supported.
func (m *Matcher) Rank(tags []Tag) (rank int, ok bool) {
	rank = -1
	for _, t := range tags {
		if r, found := m.rank[t]; found && (rank < 0 || r < rank) {
			rank = r
		}
	}
	return rank, rank >= 0
}

// CompatibleFilename reports whether filename is a wheel that runs on the
// target. Unparseable names are incompatible.
func (m *Matcher) CompatibleFilename(filename string) bool {
	w, err := ParseWheelFilename(filename)
	if err != nil {
		return false
	}
	return m.Compatible(w.Tags)
}

// Best returns the best-ranked compatible wheel among filenames, breaking
// ties by the higher build number. Unparseable filenames are skipped.
func (m *Matcher) Best(filenames []string) (Wheel, bool) {
	var (
		best     Wheel
		bestRank = -1
	)
	for _, name := range filenames {
		w, err := ParseWheelFilename(name)
		if err != nil {
			continue
		}
		r, ok := m.Rank(w.Tags)
		if !ok {
			continue
		}
		if bestRank < 0 || r < bestRank || r == bestRank && buildNumber(w.Build) > buildNumber(best.Build) {
			best, bestRank = w, r
		}
	}
	return best, bestRank >= 0
}

func buildNumber(build string) int {
	end := strings.IndexFunc(build, func(r rune) bool { return r < '0' || r > '9' })
	if end < 0 {
		end = len(build)
	}
	n, err := strconv.Atoi(build[:end])
	if err != nil {
		return -1
	}
	return n
}
