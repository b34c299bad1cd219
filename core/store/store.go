// Package store holds named fields of application state. Fields change only
// through Update, which requires a token the store has authorized, and
// every committed change is pushed to the field's subscribers.
package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/artpar/conveyr/adapters/metrics"
	"github.com/artpar/conveyr/core/authority"
	"github.com/artpar/conveyr/core/schema"
	"github.com/artpar/conveyr/core/telemetry"
)

// Mutator computes a field's next value from its current one.
type Mutator func(current any) any

// Store owns a set of uniquely named fields.
type Store struct {
	id        string
	authority *authority.Authority
	kit       telemetry.Kit

	mu     sync.RWMutex
	fields map[string]*Field
	order  []string
}

// New creates an empty store.
func New(id string, auth *authority.Authority, kit telemetry.Kit) *Store {
	kit = kit.WithDefaults()
	kit.Logger = kit.Logger.With().Str("store", id).Logger()

	return &Store{
		id:        id,
		authority: auth,
		kit:       kit,
		fields:    make(map[string]*Field),
	}
}

// ID returns the store id.
func (s *Store) ID() string { return s.id }

// Define declares a field. A nil spec declares an untyped field starting at
// nil; otherwise the field starts at the spec's default and every update
// must produce a value of the declared type.
func (s *Store) Define(name string, spec schema.Spec) (*Field, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("store %q: empty field name", s.id)
	}

	f := &Field{store: s, name: name}
	if spec != nil {
		v, err := schema.CompileField(name, spec)
		if err != nil {
			return nil, fmt.Errorf("store %q: %w", s.id, err)
		}
		f.validator = &v
		f.value = v.Default
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.fields[name]; exists {
		return nil, fmt.Errorf("store %q field %q: %w", s.id, name, ErrFieldCollision)
	}
	s.fields[name] = f
	s.order = append(s.order, name)
	return f, nil
}

// Field returns a declared field.
func (s *Store) Field(name string) (*Field, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.fields[name]
	if !ok {
		return nil, fmt.Errorf("store %q field %q: %w", s.id, name, ErrNoSuchField)
	}
	return f, nil
}

// Fields returns all fields in declaration order.
func (s *Store) Fields() []*Field {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Field, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.fields[name])
	}
	return out
}

// Snapshot returns the current value of every field.
func (s *Store) Snapshot() map[string]any {
	out := make(map[string]any)
	for _, f := range s.Fields() {
		out[f.name] = f.Value()
	}
	return out
}

// Authorize lets the holder of tok update this store's fields.
func (s *Store) Authorize(tok authority.Token) error {
	return s.authority.Authorize(s.id, tok)
}

// Revoke withdraws tok's write access.
func (s *Store) Revoke(tok authority.Token) {
	s.authority.Revoke(s.id, tok)
}

// Field is one piece of store state with a revision counter.
type Field struct {
	store     *Store
	name      string
	validator *schema.Validator

	mu       sync.Mutex
	value    any
	revision uint64
	subs     []subscription
	nextSub  uint64
}

// Name returns the field name.
func (f *Field) Name() string { return f.name }

// Store returns the owning store.
func (f *Field) Store() *Store { return f.store }

// Validator returns the declared type, or nil for an untyped field.
func (f *Field) Validator() *schema.Validator {
	if f.validator == nil {
		return nil
	}
	v := *f.validator
	return &v
}

// Value returns the current value.
func (f *Field) Value() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Revision returns the number of committed updates.
func (f *Field) Revision() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revision
}

// Get returns the value and revision together.
func (f *Field) Get() (any, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.revision
}

// Update applies mutator to the current value if tok may write to the
// store and the result has the declared type. Subscribers are notified
// after the commit, in registration order.
func (f *Field) Update(tok authority.Token, mutator Mutator) error {
	value, subs, err := f.commit(tok, mutator)

	result := metrics.ResultOK
	switch {
	case err == nil:
	case errors.Is(err, ErrWriteAccessDenied):
		result = metrics.ResultDenied
	default:
		result = metrics.ResultRejected
	}
	f.store.kit.Metrics.ObserveStoreUpdate(f.store.id, f.name, result)

	if err != nil {
		f.store.kit.Logger.Debug().
			Err(err).
			Str("field", f.name).
			Msg("store update rejected")
		return err
	}

	for _, s := range subs {
		s.notify(value)
	}
	return nil
}

// maxUpdateAttempts bounds how often a mutator is rerun when the field
// changes underneath it.
const maxUpdateAttempts = 16

// commit runs the mutator without holding the field lock, so it may read
// the field. The result is only committed if no other update landed in
// the meantime; otherwise the mutator runs again on the newer value.
func (f *Field) commit(tok authority.Token, mutator Mutator) (any, []subscription, error) {
	if err := f.checkAccess(tok); err != nil {
		return nil, nil, err
	}
	if mutator == nil {
		return nil, nil, fmt.Errorf("store %q field %q: %w", f.store.id, f.name, ErrInvalidMutator)
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		current, rev := f.Get()
		next := mutator(current)

		if f.validator != nil && f.validator.Analyze(map[string]any{f.name: next}) != schema.Valid {
			return nil, nil, fmt.Errorf("store %q field %q: %w: %v is not of type %s",
				f.store.id, f.name, ErrInvalidMutatorResult, next, f.validator.Type.Name())
		}

		f.mu.Lock()
		if f.revision != rev {
			f.mu.Unlock()
			continue
		}
		if err := f.checkAccess(tok); err != nil {
			f.mu.Unlock()
			return nil, nil, err
		}

		f.value = next
		f.revision++
		committed := f.revision
		subs := make([]subscription, len(f.subs))
		copy(subs, f.subs)
		f.mu.Unlock()

		f.store.kit.Logger.Debug().
			Str("field", f.name).
			Uint64("revision", committed).
			Msg("store field updated")
		return next, subs, nil
	}

	return nil, nil, fmt.Errorf("store %q field %q: %w after %d attempts",
		f.store.id, f.name, ErrUpdateConflict, maxUpdateAttempts)
}

func (f *Field) checkAccess(tok authority.Token) error {
	if f.store.authority.Allowed(f.store.id, tok) {
		return nil
	}
	holder, _ := f.store.authority.Holder(tok)
	return &AccessError{Store: f.store.id, Field: f.name, Holder: holder}
}

// Subscribe registers r to be refreshed after every commit. Registering
// the same target again keeps its position. The returned func removes the
// subscription.
func (f *Field) Subscribe(r Refresher) func() {
	return f.add(subscription{target: r, style: Refresh})
}

// Bind registers b to receive the committed value under slot. Binding the
// same target again replaces its slot in place.
func (f *Field) Bind(b Binder, slot string) func() {
	return f.add(subscription{target: b, style: Bind, slot: slot})
}

func (f *Field) add(sub subscription) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextSub++
	sub.id = f.nextSub

	replaced := false
	for i, existing := range f.subs {
		if existing.style == sub.style && sameTarget(existing.target, sub.target) {
			f.subs[i] = sub
			replaced = true
			break
		}
	}
	if !replaced {
		f.subs = append(f.subs, sub)
	}

	id := sub.id
	return func() { f.remove(id) }
}

func (f *Field) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, s := range f.subs {
		if s.id == id {
			f.subs = append(f.subs[:i:i], f.subs[i+1:]...)
			return
		}
	}
}

// Subscribers returns the number of registered subscriptions.
func (f *Field) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
