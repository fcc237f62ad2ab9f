// Package spec defines the parsed API specification data the indexer
// consumes. Documents are produced by a loader; nothing here parses source
// files.
package spec

// Document is one ingested specification file.
type Document struct {
	FileName    string      `json:"fileName"`
	Title       string      `json:"title"`
	Version     string      `json:"version"`
	Description string      `json:"description,omitempty"`
	Operations  []Operation `json:"operations"`
	Schemas     []SchemaDef `json:"schemas"`
}

// Operation is one (path, method) pair.
type Operation struct {
	Path        string       `json:"path"`
	Method      string       `json:"method"`
	OperationID string       `json:"operationId,omitempty"`
	Summary     string       `json:"summary,omitempty"`
	Description string       `json:"description,omitempty"`
	Deprecated  bool         `json:"deprecated,omitempty"`
	Parameters  []Parameter  `json:"parameters,omitempty"`
	RequestBody *RequestBody `json:"requestBody,omitempty"`
	Responses   []Response   `json:"responses,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
}

// Parameter locations.
const (
	InQuery  = "query"
	InHeader = "header"
	InPath   = "path"
	InCookie = "cookie"
)

// Parameter is a declared operation parameter.
type Parameter struct {
	Name        string `json:"name"`
	In          string `json:"in"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Schema      Value  `json:"-"`
}

// RequestBody is a declared request body.
type RequestBody struct {
	Description string      `json:"description,omitempty"`
	Required    bool        `json:"required,omitempty"`
	Content     []MediaType `json:"content,omitempty"`
}

// Response is a declared response for one status code.
type Response struct {
	StatusCode  string      `json:"statusCode"`
	Description string      `json:"description,omitempty"`
	Content     []MediaType `json:"content,omitempty"`
}

// MediaType pairs a content type with its schema.
type MediaType struct {
	Type   string `json:"type"`
	Schema Value  `json:"-"`
}

// SchemaDef is a named schema definition.
type SchemaDef struct {
	Name       string `json:"name"`
	Definition Value  `json:"-"`
}

// AllTags returns the distinct tag names used by the document's
// operations, in first-seen order.
func (d Document) AllTags() []string {
	seen := make(map[string]bool)
	var out []string
	for _, op := range d.Operations {
		for _, t := range op.Tags {
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
