// Package registry holds id-keyed runtime objects (actions, services,
// stores) and rejects ids that collide or cannot be used in event topics.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Separator is reserved for event topics and may not appear in ids.
const Separator = ":"

// Registry errors.
var (
	ErrInvalidID   = errors.New("invalid id")
	ErrEmptyID     = errors.New("empty id")
	ErrIllegalID   = errors.New("illegal id")
	ErrDuplicateID = errors.New("duplicate id")
	ErrNotFound    = errors.New("not found")
)

// Registry maps ids to registered values of one kind.
// Thread-safe for concurrent access.
type Registry[T any] struct {
	mu sync.RWMutex

	// kind names the registry in errors, e.g. "action"
	kind string

	items map[string]T
	order []string
}

// New creates a registry. kind is used in error messages.
func New[T any](kind string) *Registry[T] {
	return &Registry[T]{
		kind:  kind,
		items: make(map[string]T),
	}
}

// CheckID validates an id without registering it.
func CheckID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyID
	}
	if strings.TrimSpace(id) != id {
		return fmt.Errorf("%w: %q has surrounding whitespace", ErrInvalidID, id)
	}
	if strings.Contains(id, Separator) {
		return fmt.Errorf("%w: %q contains reserved %q", ErrIllegalID, id, Separator)
	}
	return nil
}

// Reserve checks that id is valid and not yet registered.
func (r *Registry[T]) Reserve(id string) error {
	if err := CheckID(id); err != nil {
		return fmt.Errorf("%s: %w", r.kind, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.items[id]; exists {
		return fmt.Errorf("%s %q: %w", r.kind, id, ErrDuplicateID)
	}
	return nil
}

// Register adds a value under id.
// Returns an error if the id is invalid or already registered.
func (r *Registry[T]) Register(id string, v T) error {
	if err := CheckID(id); err != nil {
		return fmt.Errorf("%s: %w", r.kind, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[id]; exists {
		return fmt.Errorf("%s %q: %w", r.kind, id, ErrDuplicateID)
	}

	r.items[id] = v
	r.order = append(r.order, id)
	return nil
}

// Get returns the value registered under id.
func (r *Registry[T]) Get(id string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.items[id]
	if !ok {
		return v, fmt.Errorf("%s %q: %w", r.kind, id, ErrNotFound)
	}
	return v, nil
}

// Has reports whether id is registered.
func (r *Registry[T]) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.items[id]
	return ok
}

// List returns registered values in registration order.
func (r *Registry[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.items[id])
	}
	return out
}

// IDs returns the registered ids sorted alphabetically.
func (r *Registry[T]) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered values.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
