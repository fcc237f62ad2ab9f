package graph

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound is returned when a relationship endpoint does not exist.
	ErrNotFound = errors.New("node not found")

	// ErrInvalidLabel is returned for labels outside the vocabulary or with
	// characters that cannot be used as a Cypher label.
	ErrInvalidLabel = errors.New("invalid node label")

	// ErrInvalidRelationshipType is returned for relationship types outside
	// the vocabulary.
	ErrInvalidRelationshipType = errors.New("invalid relationship type")

	// ErrMissingProperties is wrapped by PropertyError.
	ErrMissingProperties = errors.New("missing required properties")

	// ErrInvalidPattern is returned for pattern keys that are not plain
	// property names.
	ErrInvalidPattern = errors.New("invalid search pattern")

	// ErrEmptyID is returned when a node or relationship endpoint id is empty.
	ErrEmptyID = errors.New("empty node id")
)

// PropertyError reports the required properties a property bag lacks.
type PropertyError struct {
	Label   string
	Missing []string
}

func (e *PropertyError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrMissingProperties, e.Label, strings.Join(e.Missing, ", "))
}

func (e *PropertyError) Unwrap() error { return ErrMissingProperties }

// RequireProperties returns a *PropertyError if props lacks any of required.
func RequireProperties(label string, props map[string]any, required ...string) error {
	if missing := ValidateProperties(props, required); len(missing) > 0 {
		return &PropertyError{Label: label, Missing: missing}
	}
	return nil
}

// notFound wraps ErrNotFound with the missing id.
func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}
