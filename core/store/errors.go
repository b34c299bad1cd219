package store

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrWriteAccessDenied    = errors.New("write access denied")
	ErrInvalidMutator       = errors.New("invalid mutator")
	ErrInvalidMutatorResult = errors.New("invalid mutator result")
	ErrNoSuchField          = errors.New("no such field")
	ErrFieldCollision       = errors.New("field already defined")
	ErrUpdateConflict       = errors.New("field changed while mutator ran")
)

// AccessError reports an update attempted with a token the store does not
// accept. Holder is empty when the token was never issued.
type AccessError struct {
	Store  string
	Field  string
	Holder string
}

func (e *AccessError) Error() string {
	if e.Holder == "" {
		return fmt.Sprintf("store %q field %q: %v", e.Store, e.Field, ErrWriteAccessDenied)
	}
	return fmt.Sprintf("store %q field %q: %v for %q", e.Store, e.Field, ErrWriteAccessDenied, e.Holder)
}

func (e *AccessError) Unwrap() error { return ErrWriteAccessDenied }
