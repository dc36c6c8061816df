// Package targets matches domain names against configured pattern lists:
// the high-priority targets that are re-checked on every encounter and the
// targets the whole assessment is disabled for.
package targets

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

type pattern struct {
	raw     string
	negated bool
	g       glob.Glob
}

// Matcher decides whether a domain is covered by a pattern list. Patterns
// support the `*` wildcard; a `!` prefix turns a pattern into a veto that
// wins over any positive match.
type Matcher struct {
	patterns []pattern
}

// NewMatcher compiles a pattern list. Invalid patterns are rejected at load
// time, the same place rule thresholds are validated.
func NewMatcher(raw []string) (*Matcher, error) {
	m := &Matcher{patterns: make([]pattern, 0, len(raw))}
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		p := pattern{raw: entry}
		if strings.HasPrefix(entry, "!") {
			p.negated = true
			entry = entry[1:]
		}

		g, err := glob.Compile(entry)
		if err != nil {
			return nil, fmt.Errorf("targets: invalid pattern %q: %w", p.raw, err)
		}
		p.g = g
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

// Match reports whether the domain is covered: any positive pattern matches
// and no negated pattern does.
func (m *Matcher) Match(domain string) bool {
	matched := false
	for _, p := range m.patterns {
		if !p.g.Match(domain) {
			continue
		}
		if p.negated {
			return false
		}
		matched = true
	}
	return matched
}
