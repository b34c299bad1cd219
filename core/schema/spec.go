// Package schema compiles payload and field format specifications into
// validators, and sanitizes payloads by injecting declared defaults.
//
// A Spec is built explicitly by the caller:
//
//	schema.FieldMap{
//	    {Name: "name", Spec: schema.Primitive{Kind: types.String}},
//	    {Name: "age", Spec: schema.Descriptor{
//	        Type: schema.Primitive{Kind: types.Number}, Default: 18, HasDefault: true,
//	    }},
//	}
package schema

import (
	"github.com/artpar/conveyr/core/types"
)

// Spec is a format specification. Implementations: Primitive, Custom,
// Descriptor and FieldMap.
type Spec interface {
	spec()
}

// Primitive specifies one of the primitive kinds.
type Primitive struct {
	Kind types.Kind
}

// Custom specifies a custom Go type.
type Custom struct {
	Type types.Type
}

// Descriptor wraps a Primitive or Custom spec with an optional default.
// Only valid as a FieldMap entry.
type Descriptor struct {
	Type       Spec
	Default    any
	HasDefault bool
}

// Field is one named entry of a FieldMap.
type Field struct {
	Name string
	Spec Spec
}

// FieldMap specifies a mapping payload. Field order is validation order.
type FieldMap []Field

func (Primitive) spec()  {}
func (Custom) spec()     {}
func (Descriptor) spec() {}
func (FieldMap) spec()   {}

// Of is shorthand for Custom{Type: types.Of[T]()}.
func Of[T any]() Custom {
	return Custom{Type: types.Of[T]()}
}

// Optional is shorthand for a Descriptor with a default.
func Optional(typ Spec, def any) Descriptor {
	return Descriptor{Type: typ, Default: def, HasDefault: true}
}
