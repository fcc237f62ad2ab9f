package loader

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/WessleyAI/specgraph/engine/spec"
)

// maxAliasDepth bounds YAML alias expansion.
const maxAliasDepth = 64

// minExpansion is the node budget below which alias expansion is never
// refused. Larger documents may expand to expansionRatio times their size.
const (
	minExpansion   = 100_000
	expansionRatio = 10
)

// ErrAliasExpansion reports a document whose aliases expand far beyond its
// own size.
var ErrAliasExpansion = errors.New("yaml aliases expand beyond limit")

// decodeValue parses YAML or JSON bytes into an ordered spec.Value.
func decodeValue(data []byte) (spec.Value, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return spec.Null(), err
	}
	if doc.Kind == 0 {
		return spec.Null(), nil
	}
	d := &valueDecoder{budget: max(minExpansion, expansionRatio*countNodes(&doc))}
	return d.value(&doc, 0)
}

// countNodes counts the nodes of the document as written, without
// following aliases.
func countNodes(n *yaml.Node) int {
	c := 1
	for _, child := range n.Content {
		c += countNodes(child)
	}
	return c
}

// valueDecoder converts a yaml.Node tree, spending one unit of budget per
// node produced.
type valueDecoder struct {
	budget int
}

func (d *valueDecoder) value(n *yaml.Node, depth int) (spec.Value, error) {
	if depth > maxAliasDepth {
		return spec.Null(), fmt.Errorf("line %d: nesting too deep", n.Line)
	}
	if d.budget--; d.budget < 0 {
		return spec.Null(), fmt.Errorf("line %d: %w", n.Line, ErrAliasExpansion)
	}
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return spec.Null(), nil
		}
		return d.value(n.Content[0], depth)
	case yaml.AliasNode:
		return d.value(n.Alias, depth+1)
	case yaml.MappingNode:
		fields := make([]spec.Field, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.ShortTag() == "!!merge" {
				merged, err := d.value(v, depth+1)
				if err != nil {
					return spec.Null(), err
				}
				for _, key := range merged.Keys() {
					fields = append(fields, spec.F(key, merged.Get(key)))
				}
				continue
			}
			val, err := d.value(v, depth+1)
			if err != nil {
				return spec.Null(), err
			}
			fields = append(fields, spec.F(k.Value, val))
		}
		return spec.Object(fields...), nil
	case yaml.SequenceNode:
		items := make([]spec.Value, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := d.value(c, depth+1)
			if err != nil {
				return spec.Null(), err
			}
			items = append(items, v)
		}
		return spec.Array(items...), nil
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			return spec.Null(), nil
		}
		var x any
		if err := n.Decode(&x); err != nil {
			return spec.Null(), fmt.Errorf("line %d: %w", n.Line, err)
		}
		return spec.Scalar(x), nil
	default:
		return spec.Null(), nil
	}
}
