// Package nakver handles NAK version parsing and range evaluation.
//
// Versions are strict SemVer 2.0. Ranges are the grammar app manifests
// use in nak_version_req: comparators `=`, `<`, `<=`, `>`, `>=`, a bare
// version meaning `=`, whitespace joining ANDed comparators, and `||`
// separating OR alternatives. A version matches when any OR branch is
// fully satisfied.
package nakver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Version is a parsed SemVer 2.0 version.
type Version = semver.Version

// Parse parses a strict SemVer 2.0 version string. Loose forms like
// "v1.2" or "1.2" are rejected.
func Parse(s string) (*Version, error) {
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return v, nil
}

// Compare returns -1, 0, or 1 ordering a against b per SemVer 2.0
// precedence. Build metadata is ignored.
func Compare(a, b *Version) int {
	return a.Compare(b)
}

// Sort orders versions ascending in place.
func Sort(versions []*Version) {
	sort.Sort(semver.Collection(versions))
}

// Range is a compiled version requirement.
type Range struct {
	raw      string
	branches []*semver.Constraints
}

// allowedOps are the comparator prefixes the range grammar accepts.
// Order matters: two-character operators are tried first.
var allowedOps = []string{"<=", ">=", "=", "<", ">"}

// ParseRange compiles a range expression. The empty string is rejected;
// use MatchAll for "any version".
func ParseRange(s string) (*Range, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("empty version range")
	}

	r := &Range{raw: trimmed}
	for _, branch := range strings.Split(trimmed, "||") {
		branch = strings.TrimSpace(branch)
		if branch == "" {
			return nil, fmt.Errorf("invalid version range %q: empty OR branch", s)
		}
		tokens := strings.Fields(branch)
		normalized := make([]string, 0, len(tokens))
		for _, tok := range tokens {
			norm, err := normalizeComparator(tok)
			if err != nil {
				return nil, fmt.Errorf("invalid version range %q: %w", s, err)
			}
			normalized = append(normalized, norm)
		}
		c, err := semver.NewConstraint(strings.Join(normalized, ", "))
		if err != nil {
			return nil, fmt.Errorf("invalid version range %q: %w", s, err)
		}
		r.branches = append(r.branches, c)
	}
	return r, nil
}

// normalizeComparator validates one comparator token and returns it in
// the explicit-operator form the constraint library accepts. A bare
// version becomes an exact match.
func normalizeComparator(tok string) (string, error) {
	op := ""
	rest := tok
	for _, candidate := range allowedOps {
		if strings.HasPrefix(tok, candidate) {
			op = candidate
			rest = tok[len(candidate):]
			break
		}
	}
	if rest == "" {
		return "", fmt.Errorf("comparator %q has no version", tok)
	}
	if _, err := semver.StrictNewVersion(rest); err != nil {
		return "", fmt.Errorf("comparator %q: %w", tok, err)
	}
	if op == "" {
		op = "="
	}
	return op + rest, nil
}

// Matches reports whether v satisfies any OR branch of the range.
func (r *Range) Matches(v *Version) bool {
	for _, branch := range r.branches {
		if branch.Check(v) {
			return true
		}
	}
	return false
}

// String returns the range as written.
func (r *Range) String() string {
	return r.raw
}

// MaxSatisfying returns the highest version in candidates that matches
// the range, or nil if none do.
func (r *Range) MaxSatisfying(candidates []*Version) *Version {
	var best *Version
	for _, v := range candidates {
		if !r.Matches(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
		}
	}
	return best
}
