// Package namespace implements the hierarchical namespace grammar used to
// address memory entries. A namespace is a /-delimited path of segments,
// analogous to a directory path. All functions are pure and independent of
// the storage backend.
package namespace

import (
	"regexp"
	"strings"
)

// Separator joins namespace segments.
const Separator = "/"

// Default is the namespace used when a caller does not name one.
const Default = "default"

// segmentPattern constrains a single namespace segment.
var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validate reports whether ns is a well-formed namespace: one or more
// segments matching [A-Za-z0-9_-]+ joined by single slashes. Whitespace
// anywhere makes the namespace invalid.
func Validate(ns string) bool {
	if ns == "" {
		return false
	}
	for _, seg := range strings.Split(ns, Separator) {
		if !segmentPattern.MatchString(seg) {
			return false
		}
	}
	return true
}

// Normalize collapses runs of slashes into one and strips leading and
// trailing slashes. Normalize is idempotent:
// "//multiple///slashes//" -> "multiple/slashes".
func Normalize(ns string) string {
	parts := strings.Split(ns, Separator)
	segs := parts[:0]
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return strings.Join(segs, Separator)
}

// Parent returns the namespace with its last segment dropped. The second
// return value is false for a root namespace, which has no parent.
func Parent(ns string) (string, bool) {
	ns = Normalize(ns)
	idx := strings.LastIndex(ns, Separator)
	if idx < 0 {
		return "", false
	}
	return ns[:idx], true
}

// Depth returns the segment count of ns. An empty namespace has depth 0.
func Depth(ns string) int {
	ns = Normalize(ns)
	if ns == "" {
		return 0
	}
	return strings.Count(ns, Separator) + 1
}

// MatchesPattern compares ns against pattern segment by segment. A literal
// pattern segment must match exactly, "*" matches exactly one segment, and
// a trailing "**" matches zero or more remaining segments. "**" anywhere
// but the final position never matches.
func MatchesPattern(ns, pattern string) bool {
	nsSegs := splitSegments(ns)
	patSegs := splitSegments(pattern)

	for i, pat := range patSegs {
		if pat == "**" {
			// Only valid as the final pattern segment.
			return i == len(patSegs)-1
		}
		if i >= len(nsSegs) {
			return false
		}
		if pat != "*" && pat != nsSegs[i] {
			return false
		}
	}
	return len(patSegs) == len(nsSegs)
}

// MatchKey compares a key against a key pattern where "*" matches any run
// of characters, including the empty run.
func MatchKey(key, pattern string) bool {
	if pattern == "*" {
		return true
	}
	var b strings.Builder
	b.WriteString("^")
	for i, part := range strings.Split(pattern, "*") {
		if i > 0 {
			b.WriteString(".*")
		}
		b.WriteString(regexp.QuoteMeta(part))
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(key)
}

func splitSegments(s string) []string {
	s = Normalize(s)
	if s == "" {
		return nil
	}
	return strings.Split(s, Separator)
}
