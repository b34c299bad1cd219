package schema

import (
	"fmt"
	"maps"
	"strings"

	"github.com/artpar/conveyr/core/types"
)

// Result is the outcome of analyzing a payload against one validator.
type Result int

const (
	Invalid Result = iota
	Valid
	ValidNeedsDefault
)

func (r Result) String() string {
	switch r {
	case Valid:
		return "valid"
	case ValidNeedsDefault:
		return "valid_needs_default"
	default:
		return "invalid"
	}
}

// Validator checks one value: the whole payload when Name is empty,
// otherwise the payload's Name key.
type Validator struct {
	Type     types.Type
	Default  any
	Name     string
	Optional bool
}

// IsRoot reports whether the validator applies to the whole payload.
func (v Validator) IsRoot() bool {
	return v.Name == ""
}

// Analyze classifies payload against the validator.
func (v Validator) Analyze(payload any) Result {
	if v.IsRoot() {
		if v.Type.Match(payload) {
			return Valid
		}
		return Invalid
	}

	m, ok := payload.(map[string]any)
	if !ok {
		return Invalid
	}

	value, present := m[v.Name]
	if !present {
		if v.Optional {
			return ValidNeedsDefault
		}
		return Invalid
	}

	// An injected nil default must re-validate.
	if value == nil && v.Optional && v.Default == nil {
		return Valid
	}
	if v.Type.Match(value) {
		return Valid
	}
	return Invalid
}

// Format is an ordered list of validators. An empty Format accepts
// anything unchanged.
type Format []Validator

// IsEmpty reports whether validation is skipped.
func (f Format) IsEmpty() bool {
	return len(f) == 0
}

// Sanitize validates payload and returns it with missing optional fields
// filled from their defaults. The input is never mutated: when a default
// has to be injected, a shallow copy is returned instead.
func (f Format) Sanitize(payload any) (any, error) {
	var clone map[string]any

	for _, v := range f {
		target := payload
		if clone != nil {
			target = clone
		}

		switch v.Analyze(target) {
		case Valid:
		case ValidNeedsDefault:
			if clone == nil {
				src := payload.(map[string]any)
				clone = make(map[string]any, len(src)+1)
				maps.Copy(clone, src)
			}
			clone[v.Name] = v.Default
		default:
			return nil, &ValidationError{Field: v.Name, Type: v.Type.Name()}
		}
	}

	if clone != nil {
		return clone, nil
	}
	return payload, nil
}

// Compile turns a Spec into a Format.
func Compile(s Spec) (Format, error) {
	switch spec := s.(type) {
	case nil:
		return Format{}, nil
	case Primitive, Custom:
		t, def, err := leafType(spec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		return Format{{Type: t, Default: def}}, nil
	case FieldMap:
		return compileFieldMap(spec)
	default:
		return nil, fmt.Errorf("%w: unsupported spec %T", ErrInvalidFormat, s)
	}
}

// CompileField compiles a single named field. The spec may be a
// Primitive, a Custom type or a Descriptor.
func CompileField(name string, s Spec) (Validator, error) {
	switch spec := s.(type) {
	case Primitive, Custom:
		t, def, err := leafType(spec)
		if err != nil {
			return Validator{}, &FieldError{Field: name, Err: err}
		}
		return Validator{Type: t, Default: def, Name: name}, nil
	case Descriptor:
		return compileDescriptor(name, spec)
	default:
		return Validator{}, &FieldError{Field: name, Err: fmt.Errorf("%w: %T", ErrInvalidFieldType, s)}
	}
}

func compileFieldMap(fm FieldMap) (Format, error) {
	if len(fm) == 0 {
		return nil, ErrNotEnoughFields
	}

	format := make(Format, 0, len(fm))
	for i, field := range fm {
		if strings.TrimSpace(field.Name) == "" {
			return nil, fmt.Errorf("%w: field %d has no name", ErrInvalidFieldType, i)
		}
		v, err := CompileField(field.Name, field.Spec)
		if err != nil {
			return nil, err
		}
		format = append(format, v)
	}
	return format, nil
}

func compileDescriptor(name string, d Descriptor) (Validator, error) {
	t, def, err := leafType(d.Type)
	if err != nil {
		return Validator{}, &FieldError{Field: name, Err: err}
	}

	if !d.HasDefault {
		return Validator{Type: t, Default: def, Name: name}, nil
	}

	if d.Default != nil && !t.Match(d.Default) {
		return Validator{}, &FieldError{
			Field: name,
			Err:   fmt.Errorf("%w: %v is not of type %s", ErrInvalidFieldDefault, d.Default, t.Name()),
		}
	}

	return Validator{Type: t, Default: d.Default, Name: name, Optional: true}, nil
}

// leafType resolves a Primitive or Custom spec to its Type and implicit
// default.
func leafType(s Spec) (types.Type, any, error) {
	switch spec := s.(type) {
	case Primitive:
		if !spec.Kind.IsValid() {
			return nil, nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidFieldType, spec.Kind)
		}
		return types.Primitive(spec.Kind), types.EmptyValue(spec.Kind), nil
	case Custom:
		if spec.Type == nil {
			return nil, nil, fmt.Errorf("%w: custom spec without type", ErrInvalidFieldType)
		}
		return spec.Type, nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: %T", ErrInvalidFieldType, s)
	}
}
