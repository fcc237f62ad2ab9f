package graph

import (
	"fmt"
	"strings"
)

// sanitizeRelType turns a caller-supplied relationship type into a Cypher
// identifier: characters outside [A-Za-z0-9_] are dropped and the result
// is upper-cased.
func sanitizeRelType(t string) string {
	safe := make([]byte, 0, len(t))
	for i := range t {
		c := t[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			safe = append(safe, c)
		}
	}
	for i := range safe {
		if safe[i] >= 'a' && safe[i] <= 'z' {
			safe[i] -= 32
		}
	}
	return string(safe)
}

// ParseRelType resolves a caller-supplied name such as "uses_schema" to a
// relationship type in the vocabulary.
func ParseRelType(s string) (RelType, error) {
	t := RelType(sanitizeRelType(s))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRelationshipType, s)
	}
	return t, nil
}

// ParseNodeType resolves a caller-supplied label to a node type,
// ignoring case.
func ParseNodeType(s string) (NodeType, error) {
	for _, nt := range NodeTypes {
		if strings.EqualFold(string(nt), s) {
			return nt, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidLabel, s)
}

func validateLabels(labels []string) error {
	if len(labels) == 0 {
		return fmt.Errorf("%w: no labels", ErrInvalidLabel)
	}
	for _, l := range labels {
		if !validIdentifier(l) {
			return fmt.Errorf("%w: %q", ErrInvalidLabel, l)
		}
	}
	return nil
}

func validateRelType(t RelType) error {
	if t == "" || sanitizeRelType(string(t)) != string(t) {
		return fmt.Errorf("%w: %q", ErrInvalidRelationshipType, t)
	}
	return nil
}
