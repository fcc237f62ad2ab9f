package spec

import (
	"fmt"
	"sort"
)

// Kind tags the shape of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindScalar
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "null"
	}
}

// RefKey is the key that marks a reference pointer.
const RefKey = "$ref"

// Value is a dynamically shaped schema tree: null, a scalar, an object with
// ordered keys, or an array. The zero Value is null.
type Value struct {
	kind   Kind
	scalar any
	keys   []string
	fields map[string]Value
	items  []Value
}

// Field is one key/value pair of an object.
type Field struct {
	Key   string
	Value Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Scalar wraps a string, bool or number.
func Scalar(v any) Value {
	if v == nil {
		return Value{}
	}
	return Value{kind: KindScalar, scalar: v}
}

// Object builds an object value; later duplicate keys replace earlier ones
// but keep the first position.
func Object(fields ...Field) Value {
	v := Value{kind: KindObject, fields: make(map[string]Value, len(fields))}
	for _, f := range fields {
		if _, dup := v.fields[f.Key]; !dup {
			v.keys = append(v.keys, f.Key)
		}
		v.fields[f.Key] = f.Value
	}
	return v
}

// Array builds an array value.
func Array(items ...Value) Value {
	return Value{kind: KindArray, items: append([]Value(nil), items...)}
}

// Ref builds {"$ref": pointer}.
func Ref(pointer string) Value {
	return Object(Field{Key: RefKey, Value: Scalar(pointer)})
}

// F is shorthand for building a Field.
func F(key string, v Value) Field { return Field{Key: key, Value: v} }

// FromAny converts decoded JSON-like data (maps, slices, scalars) into a
// Value. Map keys are ordered lexically.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]Field, len(keys))
		for i, k := range keys {
			fields[i] = Field{Key: k, Value: FromAny(t[k])}
		}
		return Object(fields...)
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, v := range t {
			m[fmt.Sprint(k)] = v
		}
		return FromAny(m)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromAny(item)
		}
		return Array(items...)
	case []string:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = Scalar(item)
		}
		return Array(items...)
	default:
		return Scalar(t)
	}
}

// Kind returns the value's shape.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Get returns the field key of an object, or null.
func (v Value) Get(key string) Value {
	if v.kind != KindObject {
		return Value{}
	}
	return v.fields[key]
}

// Has reports whether an object has key.
func (v Value) Has(key string) bool {
	if v.kind != KindObject {
		return false
	}
	_, ok := v.fields[key]
	return ok
}

// Keys returns an object's keys in declaration order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	return append([]string(nil), v.keys...)
}

// Items returns an array's elements.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.items
}

// Raw returns the scalar payload, or nil.
func (v Value) Raw() any {
	if v.kind != KindScalar {
		return nil
	}
	return v.scalar
}

// Str returns the scalar as a string; ok is false for non-strings.
func (v Value) Str() (string, bool) {
	s, ok := v.Raw().(string)
	return s, ok
}

// String returns the scalar string or "".
func (v Value) String() string {
	s, _ := v.Str()
	return s
}

// Bool returns the scalar bool or false.
func (v Value) Bool() bool {
	b, _ := v.Raw().(bool)
	return b
}

// Strings returns the string elements of an array.
func (v Value) Strings() []string {
	var out []string
	for _, item := range v.Items() {
		if s, ok := item.Str(); ok {
			out = append(out, s)
		}
	}
	return out
}

// Ref returns the pointer if v is itself a reference object.
func (v Value) Ref() (string, bool) {
	s, ok := v.Get(RefKey).Str()
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Refs collects every reference pointer anywhere in the tree, depth first
// in declaration order. Duplicates are kept.
func (v Value) Refs() []string {
	var out []string
	v.Walk(func(path []string, node Value) bool {
		if ref, ok := node.Ref(); ok {
			out = append(out, ref)
		}
		return true
	})
	return out
}

// Walk visits v and every nested value depth first. path holds the object
// keys and array indexes leading to the visited value. Returning false
// skips the value's children.
func (v Value) Walk(fn func(path []string, node Value) bool) {
	v.walk(nil, fn)
}

func (v Value) walk(path []string, fn func([]string, Value) bool) {
	if !fn(path, v) {
		return
	}
	switch v.kind {
	case KindObject:
		for _, k := range v.keys {
			v.fields[k].walk(append(path, k), fn)
		}
	case KindArray:
		for i, item := range v.items {
			item.walk(append(path, fmt.Sprint(i)), fn)
		}
	}
}

// ToAny converts v back into plain maps, slices and scalars.
func (v Value) ToAny() any {
	switch v.kind {
	case KindScalar:
		return v.scalar
	case KindObject:
		m := make(map[string]any, len(v.keys))
		for _, k := range v.keys {
			m[k] = v.fields[k].ToAny()
		}
		return m
	case KindArray:
		out := make([]any, len(v.items))
		for i, item := range v.items {
			out[i] = item.ToAny()
		}
		return out
	default:
		return nil
	}
}
