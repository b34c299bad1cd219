// Package types classifies runtime values against primitive kinds and
// custom Go types, and knows the empty value of each primitive kind.
package types

import (
	"fmt"
	"math"
	"reflect"
	"strings"
)

// Kind is a primitive value kind.
type Kind int

const (
	// String matches Go strings.
	String Kind = iota + 1
	// Number matches finite Go integers and floats.
	Number
	// Boolean matches Go bools.
	Boolean
	// Array matches any slice or array.
	Array
	// Object matches a plain mapping (map[string]any).
	Object
	// Function matches any non-nil func value.
	Function
)

// String returns the display name of the kind.
func (k Kind) String() string {
	switch k {
	case String:
		return "String"
	case Number:
		return "Number"
	case Boolean:
		return "Boolean"
	case Array:
		return "Array"
	case Object:
		return "Object"
	case Function:
		return "Function"
	default:
		return "Unknown"
	}
}

// IsValid returns true for the six known kinds.
func (k Kind) IsValid() bool {
	return k >= String && k <= Function
}

// ParseKind parses a kind name case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string":
		return String, nil
	case "number", "float", "int":
		return Number, nil
	case "boolean", "bool":
		return Boolean, nil
	case "array", "list":
		return Array, nil
	case "object", "map":
		return Object, nil
	case "function", "func":
		return Function, nil
	default:
		return 0, fmt.Errorf("unknown kind %q", s)
	}
}

// Type is anything a value can be checked against.
type Type interface {
	// Name is used in error messages.
	Name() string
	// Match reports whether v is of this type. nil never matches.
	Match(v any) bool
}

// primitive is the Type of a primitive Kind.
type primitive struct {
	kind Kind
}

// Primitive returns the Type for a primitive kind.
func Primitive(k Kind) Type {
	return primitive{kind: k}
}

func (p primitive) Name() string { return p.kind.String() }

func (p primitive) Match(v any) bool {
	if v == nil {
		return false
	}
	switch p.kind {
	case String:
		_, ok := v.(string)
		return ok
	case Number:
		return isNumber(v)
	case Boolean:
		_, ok := v.(bool)
		return ok
	case Array:
		k := reflect.TypeOf(v).Kind()
		return k == reflect.Slice || k == reflect.Array
	case Object:
		_, ok := v.(map[string]any)
		return ok
	case Function:
		rv := reflect.ValueOf(v)
		return rv.Kind() == reflect.Func && !rv.IsNil()
	default:
		return false
	}
}

func isNumber(v any) bool {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float32:
		f := float64(n)
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	case float64:
		return !math.IsNaN(n) && !math.IsInf(n, 0)
	default:
		return false
	}
}

// custom matches values of one Go type.
type custom struct {
	typ reflect.Type
}

// Of returns a Type matching values whose dynamic type is T. When T is an
// interface type, any value implementing it matches.
func Of[T any]() Type {
	return custom{typ: reflect.TypeOf((*T)(nil)).Elem()}
}

// ReflectType wraps an existing reflect.Type.
func ReflectType(t reflect.Type) Type {
	return custom{typ: t}
}

func (c custom) Name() string { return c.typ.String() }

func (c custom) Match(v any) bool {
	if v == nil {
		return false
	}
	vt := reflect.TypeOf(v)
	if c.typ.Kind() == reflect.Interface {
		return vt.Implements(c.typ)
	}
	return vt == c.typ
}

// IsPrimitive reports whether t was built by Primitive.
func IsPrimitive(t Type) bool {
	_, ok := t.(primitive)
	return ok
}

// KindOf returns the kind of a primitive Type, or false for custom types.
func KindOf(t Type) (Kind, bool) {
	p, ok := t.(primitive)
	if !ok {
		return 0, false
	}
	return p.kind, true
}

// IsOfType reports whether v matches t. A nil Type matches anything.
func IsOfType(v any, t Type) bool {
	if t == nil {
		return true
	}
	return t.Match(v)
}

// EmptyValue returns the canonical empty value of a primitive kind.
func EmptyValue(k Kind) any {
	switch k {
	case String:
		return ""
	case Number:
		return float64(0)
	case Boolean:
		return false
	case Array:
		return []any{}
	case Object:
		return map[string]any{}
	case Function:
		return func() {}
	default:
		return nil
	}
}
