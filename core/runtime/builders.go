package runtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/artpar/conveyr/core/action"
	"github.com/artpar/conveyr/core/resolver"
	"github.com/artpar/conveyr/core/schema"
	"github.com/artpar/conveyr/core/service"
	"github.com/artpar/conveyr/core/store"
)

// StoreBuilder declares a store's fields.
type StoreBuilder struct {
	rt     *Runtime
	id     string
	fields []schema.Field
}

// CreateStore starts declaring a store. The id must be free.
func (r *Runtime) CreateStore(id string) (*StoreBuilder, error) {
	if err := r.stores.Reserve(id); err != nil {
		return nil, err
	}
	return &StoreBuilder{rt: r, id: id}, nil
}

// DefinesField declares a field; a nil spec leaves it untyped.
func (b *StoreBuilder) DefinesField(name string, spec schema.Spec) *StoreBuilder {
	b.fields = append(b.fields, schema.Field{Name: name, Spec: spec})
	return b
}

// Build creates and registers the store.
func (b *StoreBuilder) Build() (*store.Store, error) {
	st := store.New(b.id, b.rt.authority, b.rt.kit)
	for _, f := range b.fields {
		if _, err := st.Define(f.Name, f.Spec); err != nil {
			return nil, err
		}
	}

	if err := b.rt.stores.Register(b.id, st); err != nil {
		return nil, err
	}
	b.rt.recordCounts()

	b.rt.logger.Info().
		Str("store", b.id).
		Int("fields", len(b.fields)).
		Msg("store registered")
	return st, nil
}

type endpointDecl struct {
	id      string
	handler service.Handler
	params  []string
	spec    *resolver.Spec
}

// ServiceBuilder declares a service's endpoints and the stores it updates.
type ServiceBuilder struct {
	rt        *Runtime
	id        string
	stores    []*store.Store
	endpoints []endpointDecl
	timeout   time.Duration
}

// CreateService starts declaring a service. The id must be free.
func (r *Runtime) CreateService(id string) (*ServiceBuilder, error) {
	if err := r.services.Reserve(id); err != nil {
		return nil, err
	}
	return &ServiceBuilder{rt: r, id: id}, nil
}

// UpdatesStores grants the service write access to stores.
func (b *ServiceBuilder) UpdatesStores(stores ...*store.Store) *ServiceBuilder {
	b.stores = append(b.stores, stores...)
	return b
}

// ExposesEndpoint adds an endpoint whose handler takes the named
// parameters, e.g. "context", "payload", "done".
func (b *ServiceBuilder) ExposesEndpoint(id string, h service.Handler, params ...string) *ServiceBuilder {
	b.endpoints = append(b.endpoints, endpointDecl{id: id, handler: h, params: params})
	return b
}

// ExposesEndpointSpec adds an endpoint from declared roles.
func (b *ServiceBuilder) ExposesEndpointSpec(id string, spec resolver.Spec, h service.Handler) *ServiceBuilder {
	b.endpoints = append(b.endpoints, endpointDecl{id: id, handler: h, spec: &spec})
	return b
}

// WithTimeout overrides the runtime handler timeout for this service.
// A negative value disables the countdown.
func (b *ServiceBuilder) WithTimeout(d time.Duration) *ServiceBuilder {
	b.timeout = d
	return b
}

// Build issues the service's token, authorizes it on every declared store,
// and registers the service.
func (b *ServiceBuilder) Build() (*service.Service, error) {
	if len(b.endpoints) == 0 {
		return nil, fmt.Errorf("service %q: %w", b.id, service.ErrNotEnoughEndpoints)
	}
	for _, st := range b.stores {
		if st == nil {
			return nil, fmt.Errorf("service %q: nil store", b.id)
		}
	}

	tok := b.rt.authority.Issue(b.id)
	svc := service.New(b.id, service.Options{
		Token:          tok,
		Stores:         b.stores,
		Timeout:        b.timeout,
		DefaultTimeout: b.rt.HandlerTimeout,
		Kit:            b.rt.kit,
	})

	for _, decl := range b.endpoints {
		var err error
		if decl.spec != nil {
			_, err = svc.ExposeSpec(decl.id, *decl.spec, decl.handler)
		} else {
			_, err = svc.Expose(decl.id, decl.handler, decl.params...)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := b.rt.services.Register(b.id, svc); err != nil {
		return nil, err
	}
	for _, st := range b.stores {
		if err := st.Authorize(tok); err != nil {
			return nil, fmt.Errorf("service %q: %w", b.id, err)
		}
	}
	b.rt.recordCounts()

	b.rt.logger.Info().
		Str("service", b.id).
		Int("endpoints", len(b.endpoints)).
		Int("stores", len(b.stores)).
		Msg("service registered")
	return svc, nil
}

// ActionBuilder declares an action's payload format and call targets.
type ActionBuilder struct {
	rt      *Runtime
	id      string
	spec    schema.Spec
	targets []action.CallTarget
	errs    []error
}

// CreateAction starts declaring an action. The id must be free.
func (r *Runtime) CreateAction(id string) (*ActionBuilder, error) {
	if err := r.actions.Reserve(id); err != nil {
		return nil, err
	}
	return &ActionBuilder{rt: r, id: id}, nil
}

// AcceptsPayload sets the payload format. Only the last call counts.
func (b *ActionBuilder) AcceptsPayload(spec schema.Spec) *ActionBuilder {
	b.spec = spec
	return b
}

// CallsEndpoint adds a call target. mapFn may be nil.
func (b *ActionBuilder) CallsEndpoint(ep *service.Endpoint, mapFn action.MapFunc) *ActionBuilder {
	b.targets = append(b.targets, action.CallTarget{Endpoint: ep, Map: mapFn})
	return b
}

// CallsRef adds a call target by "service.endpoint" reference.
func (b *ActionBuilder) CallsRef(ref string, mapFn action.MapFunc) *ActionBuilder {
	ep, err := b.rt.Endpoint(ref)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("%w: %w", action.ErrInvalidEndpoint, err))
		return b
	}
	return b.CallsEndpoint(ep, mapFn)
}

// Build compiles the format and registers the action.
func (b *ActionBuilder) Build() (*action.Action, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("action %q: %w", b.id, errors.Join(b.errs...))
	}

	format, err := schema.Compile(b.spec)
	if err != nil {
		return nil, fmt.Errorf("action %q: %w", b.id, err)
	}

	a, err := action.New(b.id, format, b.targets, b.rt.events, b.rt.kit)
	if err != nil {
		return nil, err
	}

	if err := b.rt.actions.Register(b.id, a); err != nil {
		return nil, err
	}
	b.rt.recordCounts()

	b.rt.logger.Info().
		Str("action", b.id).
		Int("targets", len(b.targets)).
		Bool("validated", !format.IsEmpty()).
		Msg("action registered")
	return a, nil
}
