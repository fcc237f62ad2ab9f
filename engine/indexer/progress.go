package indexer

import (
	"time"
)

// Phase names one step of an indexing pass.
type Phase string

const (
	PhaseLoad           Phase = "load"
	PhaseSpecifications Phase = "specifications"
	PhaseEndpoints      Phase = "endpoints"
	PhaseSchemas        Phase = "schemas"
	PhaseReferences     Phase = "references"
)

// Phases lists the indexing phases in execution order.
var Phases = []Phase{PhaseSpecifications, PhaseEndpoints, PhaseSchemas, PhaseReferences}

// Progress is reported once per item processed. Current is 1-based.
type Progress struct {
	RunID   string `json:"runId"`
	Phase   Phase  `json:"phase"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Item    string `json:"item,omitempty"`
}

// ProgressFunc receives progress updates. It is called synchronously from
// the indexing goroutine.
type ProgressFunc func(Progress)

// MultiProgress fans a progress update out to every non-nil fn.
func MultiProgress(fns ...ProgressFunc) ProgressFunc {
	return func(p Progress) {
		for _, fn := range fns {
			if fn != nil {
				fn(p)
			}
		}
	}
}

// Result summarizes an indexing pass. Success is false when any item
// failed; items that did not fail are still committed.
type Result struct {
	RunID          string        `json:"runId"`
	Success        bool          `json:"success"`
	Specifications int           `json:"specificationsIndexed"`
	Endpoints      int           `json:"endpointsIndexed"`
	Schemas        int           `json:"schemasIndexed"`
	Relationships  int           `json:"relationshipsCreated"`
	Errors         []*IndexError `json:"errors"`
	Duration       time.Duration `json:"duration"`
}
