package indexer

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/WessleyAI/specgraph/engine/graph"
)

// RelatedSchema is a schema reachable over REFERENCES edges.
type RelatedSchema struct {
	SchemaName string   `json:"schemaName"`
	SpecFile   string   `json:"specFile"`
	Depth      int      `json:"depth"`
	Path       []string `json:"path"`
}

// ParameterDependency is a parameter an endpoint declares.
type ParameterDependency struct {
	Name     string `json:"name"`
	In       string `json:"in"`
	Required bool   `json:"required"`
}

// ResponseDependency is a response an endpoint declares.
type ResponseDependency struct {
	StatusCode string `json:"statusCode"`
	SchemaRef  string `json:"schemaRef,omitempty"`
}

// EndpointDependencies describes what an endpoint depends on.
type EndpointDependencies struct {
	EndpointID     string                `json:"endpointId"`
	SpecFile       string                `json:"specFile"`
	Path           string                `json:"path"`
	Method         string                `json:"method"`
	OperationID    string                `json:"operationId,omitempty"`
	Parameters     []ParameterDependency `json:"parameters"`
	Responses      []ResponseDependency  `json:"responses"`
	RelatedSchemas []string              `json:"relatedSchemas"`
}

// EndpointView is an endpoint with its tags, parameters and responses.
type EndpointView struct {
	Endpoint   graph.Node   `json:"endpoint"`
	Tags       []string     `json:"tags"`
	Parameters []graph.Node `json:"parameters"`
	Responses  []graph.Node `json:"responses"`
}

// SchemaView is a schema with its declared properties and the schemas it
// references.
type SchemaView struct {
	Schema     graph.Node `json:"schema"`
	Properties []string   `json:"properties"`
	Required   []string   `json:"required"`
	References []string   `json:"references"`
}

// SpecificationSummary counts the contents of one specification.
type SpecificationSummary struct {
	EndpointCount  int `json:"endpointCount"`
	SchemaCount    int `json:"schemaCount"`
	ParameterCount int `json:"parameterCount"`
	ResponseCount  int `json:"responseCount"`
	ReferenceCount int `json:"referenceCount"`
	TagCount       int `json:"tagCount"`
}

// SpecificationGraph is the full projection of one specification.
type SpecificationGraph struct {
	Specification graph.Node           `json:"specification"`
	Endpoints     []EndpointView       `json:"endpoints"`
	Schemas       []SchemaView         `json:"schemas"`
	Summary       SpecificationSummary `json:"summary"`
}

// TraverseRequest selects a start node by type and property filter and
// expands from it.
type TraverseRequest struct {
	StartType graph.NodeType  `json:"startNodeType" validate:"required,nodetype"`
	Filter    map[string]any  `json:"filter"`
	RelTypes  []graph.RelType `json:"relationshipTypes,omitempty" validate:"dive,reltype"`
	MaxDepth  int             `json:"maxDepth" validate:"gte=0"`
}

func (ix *Indexer) requireIndexed() error {
	if !ix.indexed.Load() {
		return ErrNotIndexed
	}
	return nil
}

// FindRelatedSchemas returns the schemas reachable from the named schema
// over REFERENCES edges, ordered by depth then name. With an empty
// specFile every schema of that name is a start point; a schema reached
// from several starts is reported at its smallest depth.
func (ix *Indexer) FindRelatedSchemas(ctx context.Context, name, specFile string, maxDepth int) ([]RelatedSchema, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if err := ix.requireIndexed(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%w: schema name is required", ErrInvalidParameter)
	}

	starts, err := ix.lookup(ctx, graph.NodeSchema, specFile, schemaID(specFile, name), map[string]any{"name": name})
	if err != nil {
		return nil, err
	}

	best := make(map[string]RelatedSchema)
	for _, start := range starts {
		tr, err := ix.store.Traverse(ctx, start.ID, maxDepth, graph.RelReferences)
		if err != nil {
			return nil, err
		}
		for _, n := range tr.Nodes {
			if n.ID == start.ID {
				continue
			}
			path := tr.Paths[n.ID]
			if prev, ok := best[n.ID]; ok && prev.Depth <= path.Depth() {
				continue
			}
			best[n.ID] = RelatedSchema{
				SchemaName: n.String("name"),
				SpecFile:   n.String("specFile"),
				Depth:      path.Depth(),
				Path:       path.NodeIDs,
			}
		}
	}

	out := make([]RelatedSchema, 0, len(best))
	for _, rs := range best {
		out = append(out, rs)
	}
	slices.SortFunc(out, func(a, b RelatedSchema) int {
		return cmp.Or(
			cmp.Compare(a.Depth, b.Depth),
			cmp.Compare(a.SchemaName, b.SchemaName),
			cmp.Compare(a.SpecFile, b.SpecFile),
		)
	})
	return out, nil
}

// lookup resolves nodes by derived id when specFile is given, or by exact
// property match across all specifications otherwise.
func (ix *Indexer) lookup(ctx context.Context, label graph.NodeType, specFile, id string, match map[string]any) ([]graph.Node, error) {
	if specFile != "" {
		n, ok, err := ix.store.FindByID(ctx, id)
		if err != nil || !ok {
			return nil, err
		}
		return []graph.Node{n}, nil
	}
	res, err := ix.store.SearchByPattern(ctx, string(label), match, graph.MaxSearchLimit)
	if err != nil {
		return nil, err
	}
	return res.Matches, nil
}

// EndpointDependencies returns the parameters, responses and schemas of
// the endpoint at (path, method), or nil if there is none. Without a
// specFile the first matching endpoint by id is used.
func (ix *Indexer) EndpointDependencies(ctx context.Context, path, method, specFile string) (*EndpointDependencies, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if err := ix.requireIndexed(); err != nil {
		return nil, err
	}
	if path == "" || method == "" {
		return nil, fmt.Errorf("%w: path and method are required", ErrInvalidParameter)
	}
	method = strings.ToUpper(method)

	matches, err := ix.lookup(ctx, graph.NodeEndpoint, specFile, endpointID(specFile, path, method),
		map[string]any{"path": path, "method": method})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	ep := matches[0]

	tr, err := ix.store.Traverse(ctx, ep.ID, 2, graph.RelHasParameter, graph.RelHasResponse, graph.RelUsesSchema)
	if err != nil {
		return nil, err
	}

	deps := &EndpointDependencies{
		EndpointID:     ep.ID,
		SpecFile:       ep.String("specFile"),
		Path:           ep.String("path"),
		Method:         ep.String("method"),
		OperationID:    ep.String("operationId"),
		Parameters:     []ParameterDependency{},
		Responses:      []ResponseDependency{},
		RelatedSchemas: []string{},
	}
	schemas := make(map[string]bool)
	addRef := func(ref string) {
		if name, ok := graph.ExtractReferencePath(ref); ok {
			schemas[name] = true
		}
	}
	addRef(ep.String("requestSchemaRef"))

	for _, n := range tr.Nodes {
		switch {
		case n.HasLabel(string(graph.NodeParameter)):
			deps.Parameters = append(deps.Parameters, ParameterDependency{
				Name:     n.String("name"),
				In:       n.String("in"),
				Required: graph.BoolProp(n.Properties, "required"),
			})
			addRef(n.String("schemaRef"))
		case n.HasLabel(string(graph.NodeResponse)):
			rd := ResponseDependency{StatusCode: n.String("statusCode")}
			if name, ok := graph.ExtractReferencePath(n.String("schemaRef")); ok {
				rd.SchemaRef = name
			}
			deps.Responses = append(deps.Responses, rd)
			addRef(n.String("schemaRef"))
		case n.HasLabel(string(graph.NodeSchema)):
			schemas[n.String("name")] = true
		}
	}

	slices.SortFunc(deps.Parameters, func(a, b ParameterDependency) int {
		return cmp.Or(cmp.Compare(a.In, b.In), cmp.Compare(a.Name, b.Name))
	})
	slices.SortFunc(deps.Responses, func(a, b ResponseDependency) int {
		return cmp.Compare(a.StatusCode, b.StatusCode)
	})
	for name := range schemas {
		deps.RelatedSchemas = append(deps.RelatedSchemas, name)
	}
	slices.Sort(deps.RelatedSchemas)
	return deps, nil
}

// SpecificationGraph returns the projection of fileName, or nil if no such
// specification was indexed.
func (ix *Indexer) SpecificationGraph(ctx context.Context, fileName string) (*SpecificationGraph, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if err := ix.requireIndexed(); err != nil {
		return nil, err
	}
	if fileName == "" {
		return nil, fmt.Errorf("%w: file name is required", ErrInvalidParameter)
	}
	specNode, ok, err := ix.store.FindByID(ctx, specID(fileName))
	if err != nil || !ok {
		return nil, err
	}

	top, err := ix.store.Traverse(ctx, specNode.ID, 1, graph.RelDefinesEndpoint, graph.RelDefinesSchema)
	if err != nil {
		return nil, err
	}

	out := &SpecificationGraph{
		Specification: specNode,
		Endpoints:     []EndpointView{},
		Schemas:       []SchemaView{},
	}
	tags := make(map[string]bool)
	for _, n := range top.Nodes {
		switch {
		case n.HasLabel(string(graph.NodeEndpoint)):
			view, err := ix.endpointView(ctx, n)
			if err != nil {
				return nil, err
			}
			for _, t := range view.Tags {
				tags[t] = true
			}
			out.Summary.ParameterCount += len(view.Parameters)
			out.Summary.ResponseCount += len(view.Responses)
			out.Endpoints = append(out.Endpoints, view)
		case n.HasLabel(string(graph.NodeSchema)):
			view, err := ix.schemaView(ctx, n)
			if err != nil {
				return nil, err
			}
			out.Summary.ReferenceCount += len(view.References)
			out.Schemas = append(out.Schemas, view)
		}
	}
	slices.SortFunc(out.Endpoints, func(a, b EndpointView) int {
		return cmp.Or(
			cmp.Compare(a.Endpoint.String("path"), b.Endpoint.String("path")),
			cmp.Compare(a.Endpoint.String("method"), b.Endpoint.String("method")),
		)
	})
	slices.SortFunc(out.Schemas, func(a, b SchemaView) int {
		return cmp.Compare(a.Schema.String("name"), b.Schema.String("name"))
	})
	out.Summary.EndpointCount = len(out.Endpoints)
	out.Summary.SchemaCount = len(out.Schemas)
	out.Summary.TagCount = len(tags)
	return out, nil
}

func (ix *Indexer) endpointView(ctx context.Context, ep graph.Node) (EndpointView, error) {
	tr, err := ix.store.Traverse(ctx, ep.ID, 1, graph.RelTaggedWith, graph.RelHasParameter, graph.RelHasResponse)
	if err != nil {
		return EndpointView{}, err
	}
	view := EndpointView{
		Endpoint:   ep,
		Tags:       []string{},
		Parameters: []graph.Node{},
		Responses:  []graph.Node{},
	}
	for _, n := range tr.Nodes {
		switch {
		case n.ID == ep.ID:
		case n.HasLabel(string(graph.NodeTag)):
			view.Tags = append(view.Tags, n.String("name"))
		case n.HasLabel(string(graph.NodeParameter)):
			view.Parameters = append(view.Parameters, n)
		case n.HasLabel(string(graph.NodeResponse)):
			view.Responses = append(view.Responses, n)
		}
	}
	slices.Sort(view.Tags)
	return view, nil
}

func (ix *Indexer) schemaView(ctx context.Context, s graph.Node) (SchemaView, error) {
	tr, err := ix.store.Traverse(ctx, s.ID, 1, graph.RelReferences)
	if err != nil {
		return SchemaView{}, err
	}
	view := SchemaView{
		Schema:     s,
		Properties: nonNil(graph.StringsProp(s.Properties, "properties")),
		Required:   nonNil(graph.StringsProp(s.Properties, "required")),
		References: []string{},
	}
	for _, r := range tr.Relationships {
		if r.StartID != s.ID {
			continue
		}
		for _, n := range tr.Nodes {
			if n.ID == r.EndID {
				view.References = append(view.References, n.String("name"))
				break
			}
		}
	}
	slices.Sort(view.References)
	return view, nil
}

// TraverseGraph finds the first node of req.StartType matching
// req.Filter, ordered by id, and traverses from it. No match yields an
// empty result.
func (ix *Indexer) TraverseGraph(ctx context.Context, req TraverseRequest) (graph.TraversalResult, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if err := ix.requireIndexed(); err != nil {
		return graph.TraversalResult{}, err
	}
	if !req.StartType.Valid() {
		return graph.TraversalResult{}, fmt.Errorf("%w: node type %q", graph.ErrInvalidLabel, req.StartType)
	}
	res, err := ix.store.SearchByPattern(ctx, string(req.StartType), req.Filter, 1)
	if err != nil {
		return graph.TraversalResult{}, err
	}
	if len(res.Matches) == 0 {
		return graph.TraversalResult{
			Nodes:         []graph.Node{},
			Relationships: []graph.Relationship{},
			Paths:         map[string]graph.Path{},
		}, nil
	}
	return ix.store.Traverse(ctx, res.Matches[0].ID, req.MaxDepth, req.RelTypes...)
}

// SearchByPattern matches nodes of nodeType against pattern. String
// values containing '*' are case-insensitive wildcards.
func (ix *Indexer) SearchByPattern(ctx context.Context, nodeType graph.NodeType, pattern map[string]any, limit int) (graph.SearchResult, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if err := ix.requireIndexed(); err != nil {
		return graph.SearchResult{}, err
	}
	if !nodeType.Valid() {
		return graph.SearchResult{}, fmt.Errorf("%w: node type %q", graph.ErrInvalidLabel, nodeType)
	}
	return ix.store.SearchByPattern(ctx, string(nodeType), pattern, limit)
}

// Statistics reports graph counts. It does not require an indexing pass.
func (ix *Indexer) Statistics(ctx context.Context) (graph.Statistics, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.store.Statistics(ctx)
}

// IsUsingPersistentBackend reports whether the store is Neo4j.
func (ix *Indexer) IsUsingPersistentBackend() bool { return ix.store.Persistent() }

// ClearAll removes every node and relationship. Queries fail with
// ErrNotIndexed until the next pass.
func (ix *Indexer) ClearAll(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.indexed.Store(false)
	if err := ix.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("clear graph: %w", err)
	}
	ix.logger.Info("graph cleared")
	return nil
}
