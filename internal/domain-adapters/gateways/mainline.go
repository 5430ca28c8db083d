package gateways

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

const (
	headsPrefix = "refs/heads/"
	tagsPrefix  = "refs/tags/"
	headName    = "HEAD"
)

// MainlineMatcher decides whether a ref is one of the configured mainlines.
// Patterns are literal branch names, globs such as "release/*", or "HEAD"
// for whichever branch HEAD points at.
type MainlineMatcher struct {
	globs       []glob.Glob
	includeHead bool
}

// NewMainlineMatcher compiles mainline patterns
func NewMainlineMatcher(patterns []string) (*MainlineMatcher, error) {
	m := &MainlineMatcher{}
	for _, p := range patterns {
		if p == headName {
			m.includeHead = true
			continue
		}
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid mainline pattern %q: %w", p, err)
		}
		m.globs = append(m.globs, g)
	}
	return m, nil
}

// IncludesHead reports whether HEAD's branch is a mainline
func (m *MainlineMatcher) IncludesHead() bool {
	return m.includeHead
}

// MatchBranch reports whether a branch matches one of the glob patterns.
// Both the full ref name and the name below refs/heads/ are tried.
func (m *MainlineMatcher) MatchBranch(refName string) bool {
	short := strings.TrimPrefix(refName, headsPrefix)
	for _, g := range m.globs {
		if g.Match(refName) || g.Match(short) {
			return true
		}
	}
	return false
}

// Match reports whether refName is a mainline. headRef is the full ref HEAD
// points at, or "" when HEAD is detached or unborn.
func (m *MainlineMatcher) Match(refName, headRef string) bool {
	if m.includeHead && headRef != "" && (refName == headRef || refName == headName) {
		return true
	}
	return m.MatchBranch(refName)
}

// CompileTagPattern compiles an override tag pattern; an empty pattern matches every tag
func CompileTagPattern(pattern string) (glob.Glob, error) {
	if pattern == "" {
		return nil, nil
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid tag pattern %q: %w", pattern, err)
	}
	return g, nil
}

// matchTag matches a tag name against a compiled pattern, trying the full
// ref name and the short name
func matchTag(g glob.Glob, refName string) bool {
	if g == nil {
		return true
	}
	return g.Match(refName) || g.Match(strings.TrimPrefix(refName, tagsPrefix))
}
