package graph

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// IsWildcard reports whether a pattern value is a wildcard expression.
func IsWildcard(v any) bool {
	s, ok := v.(string)
	return ok && strings.Contains(s, "*")
}

// wildcardBody translates a '*' expression into an anchored regular
// expression body. \A and \z anchor at the very ends of the text in both Go
// and Java, where '$' would also match before a trailing line break.
func wildcardBody(expr string) string {
	parts := strings.Split(expr, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return `\A` + strings.Join(parts, ".*") + `\z`
}

// wildcardRegex is the Go form: case-insensitive, '.' crossing line breaks.
func wildcardRegex(expr string) string { return "(?is)" + wildcardBody(expr) }

// cypherRegex is the same match for Cypher's =~. Java folds case over ASCII
// only unless u is set, and its '.' skips \r and \n unless s is set.
func cypherRegex(expr string) string { return "(?isu)" + wildcardBody(expr) }

// matcher is a compiled property pattern.
type matcher struct {
	key   string
	exact any
	expr  string
	re    *regexp.Regexp
}

func (m matcher) match(n Node) bool {
	var actual any = n.ID
	if m.key != "id" {
		var ok bool
		if actual, ok = n.Properties[m.key]; !ok || actual == nil {
			return false
		}
	}
	if m.re != nil {
		s, ok := actual.(string)
		return ok && m.re.MatchString(s)
	}
	return valuesEqual(actual, m.exact)
}

// compilePattern compiles every pattern property, in key order.
func compilePattern(pattern map[string]any) ([]matcher, error) {
	keys := make([]string, 0, len(pattern))
	for k := range pattern {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]matcher, 0, len(keys))
	for _, k := range keys {
		if !validIdentifier(k) {
			return nil, fmt.Errorf("%w: property %q", ErrInvalidPattern, k)
		}
		v := pattern[k]
		if IsWildcard(v) {
			re, err := regexp.Compile(wildcardRegex(v.(string)))
			if err != nil {
				return nil, fmt.Errorf("pattern %s: %w", k, err)
			}
			out = append(out, matcher{key: k, expr: v.(string), re: re})
			continue
		}
		out = append(out, matcher{key: k, exact: v})
	}
	return out, nil
}

func matchAll(ms []matcher, n Node) bool {
	for _, m := range ms {
		if !m.match(n) {
			return false
		}
	}
	return true
}

// clampLimit bounds a caller-supplied search limit.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return limit
}

// validIdentifier reports whether key can be used as a Cypher property
// name or label without quoting.
func validIdentifier(key string) bool {
	if key == "" {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || (i > 0 && c >= '0' && c <= '9') {
			continue
		}
		return false
	}
	return true
}
