package cache

import (
	"strings"

	"github.com/bmatcuk/doublestar"
)

// globSet compiles a list of declared input-glob lines (§4.2) into a
// matcher against a working directory. Patterns are matched gitignore-style
// with two tweaks: a plain file name with no glob metacharacters is
// anchored to the search root (doublestar.Match never does basename
// fallback matching, so this falls out directly); and a negated pattern
// beginning with "**/" is a global exclusion, evaluated the same as any
// other negated pattern since the dispatcher only ever globs a single
// resolved source root (no per-recipe rebasing).
type globSet struct {
	patterns []globPattern
}

type globPattern struct {
	raw     string
	negated bool
}

// newGlobSet compiles lines into a globSet. Blank lines and lines starting
// with "#" are ignored, matching the teacher's general config-parsing
// convention of treating '#' as a comment marker.
func newGlobSet(lines []string) *globSet {
	gs := &globSet{}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		negated := false
		if strings.HasPrefix(line, "!") {
			negated = true
			line = line[1:]
		}
		gs.patterns = append(gs.patterns, globPattern{raw: line, negated: negated})
	}
	return gs
}

// Match reports whether relPath (forward-slash separated, relative to the
// working directory root) is selected by the glob set: the last pattern
// that matches decides whether the file is included or excluded, with an
// unmatched file defaulting to excluded.
func (gs *globSet) Match(relPath string) bool {
	included := false
	for _, p := range gs.patterns {
		ok, err := doublestar.Match(p.raw, relPath)
		if err != nil || !ok {
			continue
		}
		included = !p.negated
	}
	return included
}

// Empty reports whether the glob set has no effective patterns.
func (gs *globSet) Empty() bool {
	return len(gs.patterns) == 0
}
