package graph

import (
	"maps"
	"reflect"
	"slices"
)

// normalizeValue converts v into the value the Neo4j driver hands back for
// the same input, so both stores expose identical Go types. ok is false for
// values neither store can hold.
func normalizeValue(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case string, bool, int64, float64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int16:
		return int64(t), true
	case int8:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint8:
		return int64(t), true
	case float32:
		return float64(t), true
	case []string:
		return slices.Clone(t), true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// normalizeProps returns a normalized copy of props. Unsupported values are
// dropped; nil values are kept so that merges can remove keys.
func normalizeProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if k == "id" {
			continue
		}
		if nv, ok := normalizeValue(v); ok {
			out[k] = nv
		}
	}
	return out
}

// mergeProps applies src onto dst with Cypher `SET n += $props` semantics:
// nil values delete the key.
func mergeProps(dst, src map[string]any) {
	for k, v := range src {
		if v == nil {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
}

// valuesEqual compares two normalized property values.
func valuesEqual(a, b any) bool {
	na, okA := normalizeValue(a)
	nb, okB := normalizeValue(b)
	if !okA || !okB {
		return false
	}
	// Integral floats compare equal to ints, as they do in Cypher.
	if fa, ok := na.(float64); ok {
		if ib, ok := nb.(int64); ok {
			return fa == float64(ib)
		}
	}
	if ia, ok := na.(int64); ok {
		if fb, ok := nb.(float64); ok {
			return float64(ia) == fb
		}
	}
	return reflect.DeepEqual(na, nb)
}

func cloneProps(props map[string]any) map[string]any {
	out := maps.Clone(props)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range out {
		if s, ok := v.([]string); ok {
			out[k] = slices.Clone(s)
		}
	}
	return out
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// BoolProp returns a bool property, or false if absent.
func BoolProp(props map[string]any, key string) bool {
	b, _ := props[key].(bool)
	return b
}

// StringsProp returns a string-list property, or nil if absent.
func StringsProp(props map[string]any, key string) []string {
	switch t := props[key].(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, v := range t {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
