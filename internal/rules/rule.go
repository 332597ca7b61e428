// Package rules implements the pattern & override rule engine: rules
// matched by path pattern and condition and resolved in priority order
// by Engine.Resolve, independent of the copy-on-write override store.
// The overlay engine accepts a rules.Engine in its Config but does not
// consult it on lookup or read.
package rules

import (
	"regexp"

	"github.com/bmatcuk/doublestar/v4"
)

// MatchKind selects how a Rule's Pattern is interpreted.
type MatchKind int

const (
	MatchExact MatchKind = iota
	MatchPrefix
	MatchSuffix
	MatchRegex
	MatchGlob
)

// Priority constants establish the default descending consultation order;
// rules of equal priority are consulted in registration order.
const (
	PriorityLow      = 100
	PriorityNormal   = 500
	PriorityHigh     = 900
	PriorityOverride = 1000
)

// Rule is one pattern/condition/content binding in the rule set.
type Rule struct {
	Name      string
	Kind      MatchKind
	Pattern   string
	Priority  int
	Condition Condition
	Content   Content

	compiled *regexp.Regexp
}

// Compile precompiles a regex rule's pattern; a no-op for other kinds.
// Must be called once after construction, before Matches is used, if Kind
// is MatchRegex.
func (r *Rule) Compile() error {
	if r.Kind != MatchRegex {
		return nil
	}
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return err
	}
	r.compiled = re
	return nil
}

// Matches reports whether the rule's pattern matches path, ignoring the
// condition (callers check Condition separately once a pattern hit is
// found, so condition evaluation with its possibly-expensive inputs is
// only paid for candidate rules).
func (r *Rule) Matches(path string) bool {
	switch r.Kind {
	case MatchExact:
		return path == r.Pattern
	case MatchPrefix:
		return len(path) >= len(r.Pattern) && path[:len(r.Pattern)] == r.Pattern
	case MatchSuffix:
		return len(path) >= len(r.Pattern) && path[len(path)-len(r.Pattern):] == r.Pattern
	case MatchRegex:
		if r.compiled == nil {
			return false
		}
		return r.compiled.MatchString(path)
	case MatchGlob:
		ok, err := doublestar.Match(r.Pattern, trimLeadingSlash(path))
		return err == nil && ok
	default:
		return false
	}
}

func trimLeadingSlash(p string) string {
	if len(p) > 0 && p[0] == '/' {
		return p[1:]
	}
	return p
}
