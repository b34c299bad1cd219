// Package formatter renders record sets for terminal output. Formatters
// convert rows of named columns to table, json or yaml.
package formatter

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// Formatter converts records to a specific output format.
type Formatter interface {
	// Name returns the formatter name (e.g., "table", "json", "yaml").
	Name() string

	// Description returns a human-readable description.
	Description() string

	// FormatList formats a list of records of the named kind.
	FormatList(w io.Writer, kind string, columns []string, records []map[string]any, opts FormatOptions) error

	// FormatRecord formats a single record of the named kind.
	FormatRecord(w io.Writer, kind string, columns []string, record map[string]any, opts FormatOptions) error

	// FormatError formats an error.
	FormatError(w io.Writer, err error) error
}

// FormatOptions configures formatting behavior.
type FormatOptions struct {
	// Columns restricts output to these fields (nil = the caller's columns).
	Columns []string

	// NoHeader disables header row for tabular formats.
	NoHeader bool

	// Compact minimizes whitespace (json only).
	Compact bool

	// MaxWidth truncates long values (0 = no limit).
	MaxWidth int
}

// Registry manages registered formatters.
type Registry struct {
	mu         sync.RWMutex
	formatters map[string]Formatter
	defaultFmt string
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		formatters: make(map[string]Formatter),
		defaultFmt: "table",
	}
}

// Register adds a formatter to the registry.
func (r *Registry) Register(f Formatter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.formatters[f.Name()]; exists {
		return fmt.Errorf("formatter %q already registered", f.Name())
	}

	r.formatters[f.Name()] = f
	return nil
}

// Get returns a formatter by name.
func (r *Registry) Get(name string) (Formatter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.formatters[name]
	return f, ok
}

// Default returns the default formatter, or nil if none is registered.
func (r *Registry) Default() Formatter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if f, ok := r.formatters[r.defaultFmt]; ok {
		return f
	}
	for _, name := range r.namesLocked() {
		return r.formatters[name]
	}
	return nil
}

// SetDefault sets the default formatter.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.formatters[name]; !exists {
		return fmt.Errorf("formatter %q not registered", name)
	}

	r.defaultFmt = name
	return nil
}

// List returns all registered formatter names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.formatters))
	for name := range r.formatters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// selectColumns returns the requested columns, or columns when none are
// requested.
func selectColumns(columns, requested []string) []string {
	if len(requested) > 0 {
		return requested
	}
	return columns
}

// project copies the given columns of record. Missing columns are omitted.
func project(record map[string]any, columns []string) map[string]any {
	if record == nil {
		return nil
	}
	if len(columns) == 0 {
		return record
	}
	out := make(map[string]any, len(columns))
	for _, col := range columns {
		if v, ok := record[col]; ok {
			out[col] = v
		}
	}
	return out
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter to the default registry.
func Register(f Formatter) error {
	return DefaultRegistry.Register(f)
}

// Get returns a formatter from the default registry.
func Get(name string) (Formatter, bool) {
	return DefaultRegistry.Get(name)
}

// Default returns the default formatter from the default registry.
func Default() Formatter {
	return DefaultRegistry.Default()
}

// List returns all formatter names from the default registry.
func List() []string {
	return DefaultRegistry.List()
}

func init() {
	for _, f := range []Formatter{NewTableFormatter(), NewJSONFormatter(), NewYAMLFormatter()} {
		if err := Register(f); err != nil {
			panic(err)
		}
	}
}
