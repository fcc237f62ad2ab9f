package loader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/WessleyAI/specgraph/engine/spec"
)

var (
	ErrUnsupportedFormat = errors.New("loader: not an OpenAPI 3 or Swagger 2 document")
	ErrUnresolvedRef     = errors.New("loader: unresolved local reference")
)

// httpMethods lists the path item keys that declare operations.
var httpMethods = []string{"get", "put", "post", "delete", "options", "head", "patch", "trace"}

const defaultMediaType = "application/json"

// maxRefHops bounds chains of component references.
const maxRefHops = 16

type dialect int

const (
	openAPI3 dialect = iota
	swagger2
)

// document converts a decoded root into a spec.Document.
type document struct {
	root    spec.Value
	dialect dialect
}

// Parse builds a Document from YAML or JSON bytes.
func Parse(fileName string, data []byte) (spec.Document, error) {
	root, err := decodeValue(data)
	if err != nil {
		return spec.Document{}, fmt.Errorf("parse %s: %w", fileName, err)
	}
	return FromValue(fileName, root)
}

// FromValue builds a Document from an already decoded tree.
func FromValue(fileName string, root spec.Value) (spec.Document, error) {
	d := document{root: root}
	switch {
	case strings.HasPrefix(root.Get("openapi").String(), "3"):
		d.dialect = openAPI3
	case root.Get("swagger").String() == "2.0":
		d.dialect = swagger2
	default:
		return spec.Document{}, fmt.Errorf("%s: %w", fileName, ErrUnsupportedFormat)
	}

	info := root.Get("info")
	out := spec.Document{
		FileName:    fileName,
		Title:       info.Get("title").String(),
		Version:     info.Get("version").String(),
		Description: info.Get("description").String(),
		Schemas:     d.schemas(),
	}

	ops, err := d.operations()
	if err != nil {
		return spec.Document{}, fmt.Errorf("%s: %w", fileName, err)
	}
	out.Operations = ops
	return out, nil
}

func (d document) schemas() []spec.SchemaDef {
	var defs spec.Value
	if d.dialect == swagger2 {
		defs = d.root.Get("definitions")
	} else {
		defs = d.root.Get("components").Get("schemas")
	}
	var out []spec.SchemaDef
	for _, name := range defs.Keys() {
		out = append(out, spec.SchemaDef{Name: name, Definition: defs.Get(name)})
	}
	return out
}

func (d document) operations() ([]spec.Operation, error) {
	paths := d.root.Get("paths")
	var out []spec.Operation
	for _, path := range paths.Keys() {
		item, err := d.resolve(paths.Get(path))
		if err != nil {
			return nil, fmt.Errorf("path %s: %w", path, err)
		}
		shared := item.Get("parameters")
		for _, m := range httpMethods {
			if !item.Has(m) {
				continue
			}
			op, err := d.operation(path, m, item.Get(m), shared)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", strings.ToUpper(m), path, err)
			}
			out = append(out, op)
		}
	}
	return out, nil
}

func (d document) operation(path, method string, raw, shared spec.Value) (spec.Operation, error) {
	op := spec.Operation{
		Path:        path,
		Method:      strings.ToUpper(method),
		OperationID: raw.Get("operationId").String(),
		Summary:     raw.Get("summary").String(),
		Description: raw.Get("description").String(),
		Deprecated:  raw.Get("deprecated").Bool(),
		Tags:        raw.Get("tags").Strings(),
	}

	params, err := d.mergeParameters(shared, raw.Get("parameters"))
	if err != nil {
		return op, err
	}

	var form []spec.Field
	for _, p := range params {
		switch p.Get("in").String() {
		case "body":
			op.RequestBody = &spec.RequestBody{
				Description: p.Get("description").String(),
				Required:    p.Get("required").Bool(),
				Content:     d.mediaTypes(raw.Get("consumes"), "consumes", p.Get("schema")),
			}
		case "formData":
			form = append(form, spec.F(p.Get("name").String(), swaggerParamSchema(p)))
		default:
			op.Parameters = append(op.Parameters, d.parameter(p))
		}
	}
	if len(form) > 0 && op.RequestBody == nil {
		op.RequestBody = &spec.RequestBody{Content: []spec.MediaType{{
			Type: "application/x-www-form-urlencoded",
			Schema: spec.Object(
				spec.F("type", spec.Scalar("object")),
				spec.F("properties", spec.Object(form...)),
			),
		}}}
	}

	if rb := raw.Get("requestBody"); !rb.IsNull() {
		body, err := d.resolve(rb)
		if err != nil {
			return op, fmt.Errorf("requestBody: %w", err)
		}
		op.RequestBody = &spec.RequestBody{
			Description: body.Get("description").String(),
			Required:    body.Get("required").Bool(),
			Content:     contentTypes(body.Get("content")),
		}
	}

	responses := raw.Get("responses")
	for _, code := range responses.Keys() {
		resp, err := d.resolve(responses.Get(code))
		if err != nil {
			return op, fmt.Errorf("response %s: %w", code, err)
		}
		r := spec.Response{StatusCode: code, Description: resp.Get("description").String()}
		if d.dialect == swagger2 {
			if schema := resp.Get("schema"); !schema.IsNull() {
				r.Content = d.mediaTypes(raw.Get("produces"), "produces", schema)
			}
		} else {
			r.Content = contentTypes(resp.Get("content"))
		}
		op.Responses = append(op.Responses, r)
	}
	return op, nil
}

// mergeParameters resolves path-level and operation-level parameters;
// operation-level entries replace path-level ones with the same (name, in).
func (d document) mergeParameters(shared, own spec.Value) ([]spec.Value, error) {
	type key struct{ name, in string }
	var out []spec.Value
	index := make(map[key]int)
	for _, list := range []spec.Value{shared, own} {
		for _, raw := range list.Items() {
			p, err := d.resolve(raw)
			if err != nil {
				return nil, fmt.Errorf("parameter: %w", err)
			}
			k := key{p.Get("name").String(), p.Get("in").String()}
			if i, ok := index[k]; ok {
				out[i] = p
				continue
			}
			index[k] = len(out)
			out = append(out, p)
		}
	}
	return out, nil
}

func (d document) parameter(p spec.Value) spec.Parameter {
	out := spec.Parameter{
		Name:        p.Get("name").String(),
		In:          p.Get("in").String(),
		Description: p.Get("description").String(),
		Required:    p.Get("required").Bool(),
	}
	if d.dialect == swagger2 {
		out.Schema = swaggerParamSchema(p)
	} else {
		out.Schema = p.Get("schema")
		if out.Schema.IsNull() {
			if media := contentTypes(p.Get("content")); len(media) > 0 {
				out.Schema = media[0].Schema
			}
		}
	}
	return out
}

// swaggerParamSchema lifts the inline type keywords of a Swagger 2
// non-body parameter into a schema object.
func swaggerParamSchema(p spec.Value) spec.Value {
	if schema := p.Get("schema"); !schema.IsNull() {
		return schema
	}
	var fields []spec.Field
	for _, k := range []string{"type", "format", "items", "enum", "default"} {
		if p.Has(k) {
			fields = append(fields, spec.F(k, p.Get(k)))
		}
	}
	if len(fields) == 0 {
		return spec.Null()
	}
	return spec.Object(fields...)
}

// mediaTypes expands a Swagger 2 body schema over the operation's (or the
// document's) consumes/produces list.
func (d document) mediaTypes(local spec.Value, globalKey string, schema spec.Value) []spec.MediaType {
	types := local.Strings()
	if len(types) == 0 {
		types = d.root.Get(globalKey).Strings()
	}
	if len(types) == 0 {
		types = []string{defaultMediaType}
	}
	out := make([]spec.MediaType, len(types))
	for i, t := range types {
		out[i] = spec.MediaType{Type: t, Schema: schema}
	}
	return out
}

func contentTypes(content spec.Value) []spec.MediaType {
	var out []spec.MediaType
	for _, t := range content.Keys() {
		out = append(out, spec.MediaType{Type: t, Schema: content.Get(t).Get("schema")})
	}
	return out
}

// resolve follows local non-schema references (parameters, responses,
// request bodies, path items). Schema references are left in place.
func (d document) resolve(v spec.Value) (spec.Value, error) {
	for range maxRefHops {
		ref, ok := v.Ref()
		if !ok {
			return v, nil
		}
		if !strings.HasPrefix(ref, "#/") {
			return v, nil
		}
		target, ok := lookupPointer(d.root, ref)
		if !ok {
			return v, fmt.Errorf("%w: %s", ErrUnresolvedRef, ref)
		}
		v = target
	}
	return v, fmt.Errorf("%w: reference chain too long", ErrUnresolvedRef)
}

// lookupPointer evaluates a local JSON pointer ("#/a/b") against root.
func lookupPointer(root spec.Value, ref string) (spec.Value, bool) {
	cur := root
	for _, seg := range strings.Split(strings.TrimPrefix(ref, "#/"), "/") {
		seg = strings.ReplaceAll(strings.ReplaceAll(seg, "~1", "/"), "~0", "~")
		if !cur.Has(seg) {
			return spec.Null(), false
		}
		cur = cur.Get(seg)
	}
	return cur, true
}
