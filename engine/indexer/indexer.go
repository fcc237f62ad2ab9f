// Package indexer turns parsed API specifications into graph nodes and
// relationships, and answers dependency queries over the result.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/WessleyAI/specgraph/engine/graph"
	"github.com/WessleyAI/specgraph/engine/loader"
	"github.com/WessleyAI/specgraph/engine/spec"
)

// Identity prefixes passed to graph.DeriveID.
const (
	prefixSpec     = "spec"
	prefixEndpoint = "endpoint"
	prefixSchema   = "schema"
	prefixParam    = "param"
	prefixResponse = "response"
	prefixTag      = "tag"
)

var httpMethods = map[string]bool{
	"GET": true, "PUT": true, "POST": true, "DELETE": true,
	"OPTIONS": true, "HEAD": true, "PATCH": true, "TRACE": true,
}

var paramLocations = map[string]bool{
	spec.InQuery: true, spec.InHeader: true, spec.InPath: true, spec.InCookie: true,
}

// Loader reads specification documents from a source location.
type Loader interface {
	Load(ctx context.Context, source string) ([]spec.Document, error)
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(ix *Indexer) { ix.logger = l }
}

// WithLoader sets the loader used by LoadAndIndex.
func WithLoader(l Loader) Option {
	return func(ix *Indexer) { ix.loader = l }
}

// Indexer writes specifications into a graph.Store and is the store's
// only writer. Index and ClearAll hold mu exclusively; queries hold it
// shared, so readers never observe a store mid-write.
type Indexer struct {
	store   graph.Store
	loader  Loader
	logger  *slog.Logger
	mu      sync.RWMutex
	indexed atomic.Bool
}

// New creates an Indexer over store.
func New(store graph.Store, opts ...Option) *Indexer {
	ix := &Indexer{store: store, logger: slog.Default()}
	for _, o := range opts {
		o(ix)
	}
	return ix
}

// Store returns the underlying graph store.
func (ix *Indexer) Store() graph.Store { return ix.store }

// Indexed reports whether a pass has completed since the last clear.
func (ix *Indexer) Indexed() bool { return ix.indexed.Load() }

// LoadAndIndex loads documents from source and indexes them. Files the
// loader rejects are reported as load-phase errors in the result.
func (ix *Indexer) LoadAndIndex(ctx context.Context, source string, progress ProgressFunc) (Result, error) {
	if ix.loader == nil {
		return Result{}, errors.New("indexer: no loader configured")
	}
	docs, loadErr := ix.loader.Load(ctx, source)
	if loadErr != nil && len(docs) == 0 {
		return Result{}, fmt.Errorf("load %s: %w", source, loadErr)
	}
	res, err := ix.Index(ctx, docs, progress)
	if loadErr != nil {
		res.Errors = append(loadErrors(loadErr), res.Errors...)
		res.Success = false
	}
	return res, err
}

func loadErrors(err error) []*IndexError {
	out := make([]*IndexError, 0)
	for _, fe := range loader.FileErrors(err) {
		out = append(out, &IndexError{Phase: PhaseLoad, SpecFile: fe.Path, Err: fe.Err})
	}
	if len(out) == 0 {
		out = append(out, &IndexError{Phase: PhaseLoad, Err: err})
	}
	return out
}

// pass carries the state of one indexing run.
type pass struct {
	ix       *Indexer
	ctx      context.Context
	progress ProgressFunc
	res      *Result
	deferred []pendingEdge
}

// pendingEdge is a USES_SCHEMA edge whose target schema did not exist yet
// when its endpoint was indexed.
type pendingEdge struct {
	specFile string
	item     string
	start    string
	end      string
	props    map[string]any
}

// Index runs the four phases over docs. Item failures are collected in
// the result; the returned error is non-nil only when ctx ends the pass
// early, in which case the graph is not marked indexed. progress must not
// call back into the Indexer.
func (ix *Indexer) Index(ctx context.Context, docs []spec.Document, progress ProgressFunc) (Result, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	start := time.Now()
	res := Result{RunID: uuid.NewString(), Errors: []*IndexError{}}
	p := &pass{ix: ix, ctx: ctx, progress: progress, res: &res}

	log := ix.logger.With("run_id", res.RunID)
	log.Info("indexing started", "documents", len(docs), "persistent", ix.store.Persistent())

	steps := []struct {
		phase Phase
		run   func([]spec.Document)
	}{
		{PhaseSpecifications, p.specifications},
		{PhaseEndpoints, p.endpoints},
		{PhaseSchemas, p.schemas},
		{PhaseReferences, p.references},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			res.Duration = time.Since(start)
			return res, err
		}
		before := len(res.Errors)
		s.run(docs)
		log.Info("phase complete", "phase", s.phase, "errors", len(res.Errors)-before)
	}
	if err := ctx.Err(); err != nil {
		res.Duration = time.Since(start)
		return res, err
	}

	res.Success = len(res.Errors) == 0
	res.Duration = time.Since(start)
	ix.indexed.Store(true)
	log.Info("indexing finished",
		"success", res.Success,
		"specifications", res.Specifications,
		"endpoints", res.Endpoints,
		"schemas", res.Schemas,
		"relationships", res.Relationships,
		"errors", len(res.Errors),
		"duration", res.Duration)
	return res, nil
}

func (p *pass) report(phase Phase, current, total int, item string) {
	if p.progress != nil {
		p.progress(Progress{RunID: p.res.RunID, Phase: phase, Current: current, Total: total, Item: item})
	}
}

func (p *pass) fail(phase Phase, specFile, item string, err error) {
	p.ix.logger.Warn("index item failed", "phase", phase, "spec", specFile, "item", item, "err", err)
	p.res.Errors = append(p.res.Errors, &IndexError{Phase: phase, SpecFile: specFile, Item: item, Err: err})
}

// relate merges an edge, counting it on success. A missing endpoint node
// is reported as skipped rather than failed.
func (p *pass) relate(startID, endID string, typ graph.RelType, props map[string]any) (created bool, err error) {
	_, err = p.ix.store.MergeRelationship(p.ctx, startID, endID, typ, props)
	if errors.Is(err, graph.ErrNotFound) {
		p.ix.logger.Debug("relationship skipped", "type", typ, "start", startID, "end", endID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	p.res.Relationships++
	return true, nil
}

func specID(fileName string) string { return graph.DeriveID(prefixSpec, fileName) }

func endpointID(specFile, path, method string) string {
	return graph.DeriveID(prefixEndpoint, specFile, path, strings.ToUpper(method))
}

func schemaID(specFile, name string) string { return graph.DeriveID(prefixSchema, specFile, name) }

func tagID(name string) string { return graph.DeriveID(prefixTag, name) }

// Phase 1: Specification and Tag nodes.
func (p *pass) specifications(docs []spec.Document) {
	for i, doc := range docs {
		p.report(PhaseSpecifications, i+1, len(docs), doc.FileName)
		if strings.TrimSpace(doc.FileName) == "" {
			p.fail(PhaseSpecifications, "", fmt.Sprintf("document %d", i), fmt.Errorf("%w: empty file name", ErrInvalidDocument))
			continue
		}
		props := map[string]any{
			"fileName":    doc.FileName,
			"title":       doc.Title,
			"version":     doc.Version,
			"description": doc.Description,
		}
		if _, err := p.ix.store.MergeNode(p.ctx, specID(doc.FileName), []string{string(graph.NodeSpecification)}, props); err != nil {
			p.fail(PhaseSpecifications, doc.FileName, "", err)
			continue
		}
		p.res.Specifications++

		for _, tag := range doc.AllTags() {
			if _, err := p.ix.store.MergeNode(p.ctx, tagID(tag), []string{string(graph.NodeTag)}, map[string]any{"name": tag}); err != nil {
				p.fail(PhaseSpecifications, doc.FileName, "tag "+tag, err)
			}
		}
	}
}

// Phase 2: Endpoints with their parameters, responses, tags and schema usage.
func (p *pass) endpoints(docs []spec.Document) {
	total := 0
	for _, doc := range docs {
		total += len(doc.Operations)
	}
	n := 0
	for _, doc := range docs {
		for _, op := range doc.Operations {
			n++
			item := strings.ToUpper(op.Method) + " " + op.Path
			p.report(PhaseEndpoints, n, total, item)
			if err := p.endpoint(doc.FileName, op); err != nil {
				p.fail(PhaseEndpoints, doc.FileName, item, err)
			}
		}
	}
}

func (p *pass) endpoint(specFile string, op spec.Operation) error {
	method := strings.ToUpper(op.Method)
	if !httpMethods[method] {
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidOperation, op.Method)
	}
	if strings.TrimSpace(op.Path) == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidOperation)
	}
	if strings.TrimSpace(specFile) == "" {
		return fmt.Errorf("%w: empty file name", ErrInvalidDocument)
	}

	epID := endpointID(specFile, op.Path, method)
	props := map[string]any{
		"specFile":    specFile,
		"path":        op.Path,
		"method":      method,
		"operationId": op.OperationID,
		"summary":     op.Summary,
		"description": op.Description,
		"deprecated":  op.Deprecated,
		"tags":        nonNil(op.Tags),
	}

	var bodyRefs []mediaRef
	if op.RequestBody != nil {
		bodyRefs = mediaRefs(op.RequestBody.Content)
		if len(bodyRefs) > 0 {
			props["requestSchemaRef"] = bodyRefs[0].ref
		}
	}

	if _, err := p.ix.store.MergeNode(p.ctx, epID, []string{string(graph.NodeEndpoint)}, props); err != nil {
		return err
	}
	p.res.Endpoints++

	item := method + " " + op.Path
	if _, err := p.relate(specID(specFile), epID, graph.RelDefinesEndpoint, nil); err != nil {
		return err
	}

	for _, param := range op.Parameters {
		if err := p.parameter(specFile, epID, param); err != nil {
			p.fail(PhaseEndpoints, specFile, item+" parameter "+param.Name, err)
		}
	}

	for _, resp := range op.Responses {
		if err := p.response(specFile, epID, resp); err != nil {
			p.fail(PhaseEndpoints, specFile, item+" response "+resp.StatusCode, err)
		}
	}

	for _, mr := range bodyRefs {
		err := p.usesSchema(specFile, item, epID, mr.ref, map[string]any{
			"context":   graph.ContextRequest,
			"mediaType": mr.mediaType,
		})
		if err != nil {
			p.fail(PhaseEndpoints, specFile, item+" request body", err)
		}
	}

	for _, tag := range op.Tags {
		if tag == "" {
			continue
		}
		if _, err := p.relate(epID, tagID(tag), graph.RelTaggedWith, nil); err != nil {
			p.fail(PhaseEndpoints, specFile, item+" tag "+tag, err)
		}
	}
	return nil
}

func (p *pass) parameter(specFile, epID string, param spec.Parameter) error {
	if param.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidParameter)
	}
	if !paramLocations[param.In] {
		return fmt.Errorf("%w: unsupported location %q", ErrInvalidParameter, param.In)
	}
	id := graph.DeriveID(prefixParam, epID, param.Name, param.In)
	props := map[string]any{
		"endpointId":  epID,
		"name":        param.Name,
		"in":          param.In,
		"required":    param.Required,
		"description": param.Description,
	}
	ref, hasRef := schemaRefOf(param.Schema)
	if hasRef {
		props["schemaRef"] = ref
	}
	if _, err := p.ix.store.MergeNode(p.ctx, id, []string{string(graph.NodeParameter)}, props); err != nil {
		return err
	}
	if _, err := p.relate(epID, id, graph.RelHasParameter, nil); err != nil {
		return err
	}
	if !hasRef {
		return nil
	}
	return p.usesSchema(specFile, "parameter "+param.Name, id, ref, map[string]any{"context": graph.ContextRequest})
}

func (p *pass) response(specFile, epID string, resp spec.Response) error {
	if resp.StatusCode == "" {
		return fmt.Errorf("%w: empty status code", ErrInvalidOperation)
	}
	id := graph.DeriveID(prefixResponse, epID, resp.StatusCode)
	refs := mediaRefs(resp.Content)
	props := map[string]any{
		"endpointId":  epID,
		"statusCode":  resp.StatusCode,
		"description": resp.Description,
	}
	if len(refs) > 0 {
		props["schemaRef"] = refs[0].ref
	}
	if _, err := p.ix.store.MergeNode(p.ctx, id, []string{string(graph.NodeResponse)}, props); err != nil {
		return err
	}
	if _, err := p.relate(epID, id, graph.RelHasResponse, nil); err != nil {
		return err
	}
	for _, mr := range refs {
		err := p.usesSchema(specFile, "response "+resp.StatusCode, id, mr.ref, map[string]any{
			"context":   graph.ContextResponse,
			"mediaType": mr.mediaType,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// usesSchema links start to the local schema ref points at. Targets that
// do not exist yet are retried after the schemas phase.
func (p *pass) usesSchema(specFile, item, startID, ref string, props map[string]any) error {
	name, ok := graph.ExtractReferencePath(ref)
	if !ok {
		p.ix.logger.Debug("external schema reference skipped", "spec", specFile, "ref", ref)
		return nil
	}
	target := schemaID(specFile, name)
	created, err := p.relate(startID, target, graph.RelUsesSchema, props)
	if err != nil || created {
		return err
	}
	p.deferred = append(p.deferred, pendingEdge{specFile: specFile, item: item, start: startID, end: target, props: props})
	return nil
}

// Phase 3: Schema nodes and their DEFINES_SCHEMA edges.
func (p *pass) schemas(docs []spec.Document) {
	total := 0
	for _, doc := range docs {
		total += len(doc.Schemas)
	}
	n := 0
	for _, doc := range docs {
		for _, def := range doc.Schemas {
			n++
			p.report(PhaseSchemas, n, total, def.Name)
			if err := p.schema(doc.FileName, def); err != nil {
				p.fail(PhaseSchemas, doc.FileName, def.Name, err)
			}
		}
	}
}

func (p *pass) schema(specFile string, def spec.SchemaDef) error {
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidSchema)
	}
	if strings.TrimSpace(specFile) == "" {
		return fmt.Errorf("%w: empty file name", ErrInvalidDocument)
	}
	d := def.Definition
	props := map[string]any{
		"name":        def.Name,
		"specFile":    specFile,
		"type":        schemaType(d),
		"description": d.Get("description").String(),
		"required":    nonNil(d.Get("required").Strings()),
		"properties":  nonNil(d.Get("properties").Keys()),
	}
	id := schemaID(specFile, def.Name)
	if _, err := p.ix.store.MergeNode(p.ctx, id, []string{string(graph.NodeSchema)}, props); err != nil {
		return err
	}
	p.res.Schemas++
	_, err := p.relate(specID(specFile), id, graph.RelDefinesSchema, nil)
	return err
}

// Phase 4: deferred USES_SCHEMA edges, then REFERENCES between schemas.
func (p *pass) references(docs []spec.Document) {
	for _, e := range p.deferred {
		created, err := p.relate(e.start, e.end, graph.RelUsesSchema, e.props)
		if err != nil {
			p.fail(PhaseReferences, e.specFile, e.item, err)
			continue
		}
		if !created {
			p.ix.logger.Debug("schema usage unresolved", "spec", e.specFile, "item", e.item, "schema", e.end)
		}
	}
	p.deferred = nil

	total := 0
	for _, doc := range docs {
		total += len(doc.Schemas)
	}
	n := 0
	for _, doc := range docs {
		for _, def := range doc.Schemas {
			n++
			p.report(PhaseReferences, n, total, def.Name)
			if strings.TrimSpace(def.Name) == "" || strings.TrimSpace(doc.FileName) == "" {
				continue
			}
			from := schemaID(doc.FileName, def.Name)
			seen := make(map[string]bool)
			for _, ref := range def.Definition.Refs() {
				name, ok := graph.ExtractReferencePath(ref)
				if !ok {
					p.ix.logger.Debug("reference skipped", "spec", doc.FileName, "schema", def.Name, "ref", ref)
					continue
				}
				to := schemaID(doc.FileName, name)
				if seen[to] {
					continue
				}
				seen[to] = true
				if _, err := p.relate(from, to, graph.RelReferences, map[string]any{"referencePath": ref}); err != nil {
					p.fail(PhaseReferences, doc.FileName, def.Name+" -> "+name, err)
				}
			}
		}
	}
}

type mediaRef struct {
	mediaType string
	ref       string
}

func mediaRefs(content []spec.MediaType) []mediaRef {
	var out []mediaRef
	for _, mt := range content {
		if ref, ok := schemaRefOf(mt.Schema); ok {
			out = append(out, mediaRef{mediaType: mt.Type, ref: ref})
		}
	}
	return out
}

// schemaRefOf returns the schema a value names directly, or through the
// items of an array.
func schemaRefOf(v spec.Value) (string, bool) {
	if ref, ok := v.Ref(); ok {
		return ref, true
	}
	if v.Get("type").String() == "array" {
		return v.Get("items").Ref()
	}
	return "", false
}

// schemaType returns the declared type; a type list uses its first
// non-null entry.
func schemaType(v spec.Value) string {
	t := v.Get("type")
	if s, ok := t.Str(); ok {
		return s
	}
	for _, s := range t.Strings() {
		if s != "null" {
			return s
		}
	}
	return ""
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
