package domainbus

import (
	"github.com/tidwall/match"
)

// Wildcard is the selector that matches every target of a domain
const Wildcard = "*"

// Matcher decides whether a selector applies to a firing target.
// Each domain holds exactly one Matcher; it is the only place
// domain-specific selector semantics live.
type Matcher interface {
	Match(target Target, selector string) bool
}

// MatcherFunc adapts a function to Matcher
type MatcherFunc func(target Target, selector string) bool

// Match calls f
func (f MatcherFunc) Match(target Target, selector string) bool {
	return f(target, selector)
}

var (
	// MatchAll matches every selector against every target
	MatchAll Matcher = MatcherFunc(func(Target, string) bool { return true })
	// MatchNone never matches. Used by domains without an id property.
	MatchNone Matcher = MatcherFunc(func(Target, string) bool { return false })
)

// IDMatcher matches the wildcard, or a selector equal to the target's id property.
// Non-string property values never match.
type IDMatcher struct {
	Property string
}

// Match implements Matcher
func (m IDMatcher) Match(target Target, selector string) bool {
	if selector == Wildcard {
		return true
	}
	id, ok := PropertyString(target, m.Property)
	return ok && id == selector
}

// PatternMatcher treats selectors as glob patterns ('*' and '?') over the
// target's id property.
type PatternMatcher struct {
	Property string
}

// Match implements Matcher
func (m PatternMatcher) Match(target Target, selector string) bool {
	if selector == Wildcard {
		return true
	}
	id, ok := PropertyString(target, m.Property)
	if !ok {
		return false
	}
	return match.Match(id, selector)
}
