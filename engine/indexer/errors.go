package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotIndexed is returned by queries issued before an indexing pass
	// has completed, or after ClearAll.
	ErrNotIndexed       = errors.New("indexer: graph has not been indexed")
	ErrInvalidOperation = errors.New("indexer: invalid operation")
	ErrInvalidParameter = errors.New("indexer: invalid parameter")
	ErrInvalidSchema    = errors.New("indexer: invalid schema")
	ErrInvalidDocument  = errors.New("indexer: invalid specification")
)

// IndexError records one item that failed during a phase. The pass
// continues after it.
type IndexError struct {
	Phase    Phase
	SpecFile string
	Item     string
	Err      error
}

func (e *IndexError) Error() string {
	if e.Item == "" {
		return fmt.Sprintf("%s phase: %s: %v", e.Phase, e.SpecFile, e.Err)
	}
	return fmt.Sprintf("%s phase: %s: %s: %v", e.Phase, e.SpecFile, e.Item, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

func (e *IndexError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Phase    Phase  `json:"phase"`
		SpecFile string `json:"specFile"`
		Item     string `json:"item,omitempty"`
		Error    string `json:"error"`
	}{e.Phase, e.SpecFile, e.Item, e.Err.Error()})
}
