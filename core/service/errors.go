package service

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrNoSuchEndpoint     = errors.New("no such endpoint")
	ErrHandlerTimeout     = errors.New("handler timed out")
	ErrEndpointCollision  = errors.New("endpoint already exposed")
	ErrNotEnoughEndpoints = errors.New("service exposes no endpoints")
	ErrNilHandler         = errors.New("nil handler")
	ErrUnknownStore       = errors.New("store not declared by service")
)

// PanicError is the failure of a handler that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// Unwrap exposes a panicked error value.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
