package runtime

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/artpar/conveyr/core/service"
)

// ErrUnknownHandler is returned when a config endpoint names a handler
// that was never registered.
var ErrUnknownHandler = errors.New("handler not registered")

// HandlerRegistry manages named endpoint handlers.
// Handlers are registered by name and bound to endpoints via "handler:"
// keys in YAML service definitions.
type HandlerRegistry struct {
	mu    sync.RWMutex
	funcs map[string]service.Handler
}

// NewHandlerRegistry creates a new handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		funcs: make(map[string]service.Handler),
	}
}

// Register adds a handler to the registry, replacing any previous
// handler of the same name.
func (r *HandlerRegistry) Register(name string, h service.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = h
}

// Get returns a registered handler by name.
func (r *HandlerRegistry) Get(name string) (service.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("handler %q: %w", name, ErrUnknownHandler)
	}
	return h, nil
}

// Has checks if a handler is registered.
func (r *HandlerRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[name]
	return ok
}

// List returns all registered handler names, sorted.
func (r *HandlerRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
