// Package service runs endpoint handlers. A service owns the write token
// for the stores it declared, and each of its endpoints bridges a
// handler's synchronous return or done callback into a future.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/artpar/conveyr/core/authority"
	"github.com/artpar/conveyr/core/future"
	"github.com/artpar/conveyr/core/registry"
	"github.com/artpar/conveyr/core/resolver"
	"github.com/artpar/conveyr/core/store"
	"github.com/artpar/conveyr/core/telemetry"
)

// DefaultTimeout bounds asynchronous handlers unless configured otherwise.
const DefaultTimeout = 5000 * time.Millisecond

// Handler is an endpoint implementation. Returning a non-nil error fails
// the invocation; asynchronous handlers may also fail through Frame.Done.
type Handler func(f *Frame) error

// Options configures a Service.
type Options struct {
	// Token is the service's write capability.
	Token authority.Token

	// Stores the token has been authorized for.
	Stores []*store.Store

	// Timeout overrides the runtime timeout for this service. Zero defers
	// to DefaultTimeout; a negative value disables the countdown.
	Timeout time.Duration

	// DefaultTimeout is consulted on every invocation when Timeout is zero,
	// so reloaded configuration takes effect. Nil means DefaultTimeout.
	DefaultTimeout func() time.Duration

	Kit telemetry.Kit
}

// Service is a named set of endpoints sharing one write token.
type Service struct {
	id             string
	token          authority.Token
	stores         []*store.Store
	timeout        time.Duration
	defaultTimeout func() time.Duration
	kit            telemetry.Kit

	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	order     []string
}

// New creates a service with no endpoints.
func New(id string, opts Options) *Service {
	kit := opts.Kit.WithDefaults()
	kit.Logger = kit.Logger.With().Str("service", id).Logger()

	return &Service{
		id:             id,
		token:          opts.Token,
		stores:         opts.Stores,
		timeout:        opts.Timeout,
		defaultTimeout: opts.DefaultTimeout,
		kit:            kit,
		endpoints:      make(map[string]*Endpoint),
	}
}

// ID returns the service id.
func (s *Service) ID() string { return s.id }

// Stores returns the stores the service may update.
func (s *Service) Stores() []*store.Store {
	out := make([]*store.Store, len(s.stores))
	copy(out, s.stores)
	return out
}

func (s *Service) store(id string) (*store.Store, bool) {
	for _, st := range s.stores {
		if st.ID() == id {
			return st, true
		}
	}
	return nil, false
}

// Timeout returns the countdown applied to asynchronous handlers.
// A value of zero or less means no countdown.
func (s *Service) Timeout() time.Duration {
	if s.timeout != 0 {
		return s.timeout
	}
	if s.defaultTimeout != nil {
		return s.defaultTimeout()
	}
	return DefaultTimeout
}

// Expose registers an endpoint whose handler takes the named parameters,
// e.g. Expose("increment", h, "context", "payload", "done").
func (s *Service) Expose(id string, h Handler, params ...string) (*Endpoint, error) {
	roles, err := resolver.Resolve(params)
	if err != nil {
		return nil, fmt.Errorf("service %q endpoint %q: %w", s.id, id, err)
	}
	return s.expose(id, h, roles, params)
}

// ExposeSpec registers an endpoint from declared roles instead of names.
func (s *Service) ExposeSpec(id string, spec resolver.Spec, h Handler) (*Endpoint, error) {
	return s.expose(id, h, resolver.FromSpec(spec), nil)
}

func (s *Service) expose(id string, h Handler, roles resolver.ArgumentMap, params []string) (*Endpoint, error) {
	if err := registry.CheckID(id); err != nil {
		return nil, fmt.Errorf("service %q endpoint: %w", s.id, err)
	}
	if h == nil {
		return nil, fmt.Errorf("service %q endpoint %q: %w", s.id, id, ErrNilHandler)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.endpoints[id]; exists {
		return nil, fmt.Errorf("service %q endpoint %q: %w", s.id, id, ErrEndpointCollision)
	}

	e := &Endpoint{
		service: s,
		id:      id,
		handler: h,
		roles:   roles,
		params:  params,
	}
	s.endpoints[id] = e
	s.order = append(s.order, id)

	s.kit.Logger.Debug().
		Str("endpoint", id).
		Int("params", roles.Total).
		Bool("async", roles.IsAsync()).
		Msg("endpoint exposed")

	return e, nil
}

// Endpoint returns an exposed endpoint.
func (s *Service) Endpoint(id string) (*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.endpoints[id]
	if !ok {
		return nil, fmt.Errorf("service %q endpoint %q: %w", s.id, id, ErrNoSuchEndpoint)
	}
	return e, nil
}

// Endpoints returns exposed endpoints in registration order.
func (s *Service) Endpoints() []*Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Endpoint, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.endpoints[id])
	}
	return out
}

// Invoke runs the named endpoint. An unknown endpoint yields a failed
// future rather than an error.
func (s *Service) Invoke(ctx context.Context, endpointID, actionID string, action ActionRef, payload any) *future.Future {
	e, err := s.Endpoint(endpointID)
	if err != nil {
		return future.Resolved(err)
	}
	return e.Invoke(ctx, actionID, action, payload)
}
