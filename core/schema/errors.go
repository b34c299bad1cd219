package schema

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrInvalidFormat           = errors.New("invalid format")
	ErrInvalidFieldType        = errors.New("invalid field type")
	ErrInvalidFieldDefault     = errors.New("invalid field default")
	ErrNotEnoughFields         = errors.New("not enough fields")
	ErrPayloadValidationFailed = errors.New("payload validation failed")
)

// FieldError reports a compile-time problem with one field entry.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// ValidationError reports the first validator a payload failed.
// Field is empty for a root validator.
type ValidationError struct {
	Field string
	Type  string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: payload must be of type %s", ErrPayloadValidationFailed, e.Type)
	}
	return fmt.Sprintf("%v: field %q must be of type %s", ErrPayloadValidationFailed, e.Field, e.Type)
}

func (e *ValidationError) Unwrap() error { return ErrPayloadValidationFailed }
