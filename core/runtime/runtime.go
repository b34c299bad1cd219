// Package runtime is the composition root for actions, services and
// stores. It owns their registries, the write authority and the event bus,
// and offers builders to declare new objects.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/artpar/conveyr/adapters/idgen"
	"github.com/artpar/conveyr/adapters/metrics"
	"github.com/artpar/conveyr/core/action"
	"github.com/artpar/conveyr/core/authority"
	"github.com/artpar/conveyr/core/events"
	"github.com/artpar/conveyr/core/registry"
	"github.com/artpar/conveyr/core/service"
	"github.com/artpar/conveyr/core/store"
	"github.com/artpar/conveyr/core/telemetry"
	"github.com/artpar/conveyr/ports"
)

// ErrInvalidRef is returned for endpoint references not of the form
// "service.endpoint".
var ErrInvalidRef = errors.New("invalid endpoint reference")

// Runtime is the execution environment for actions, services and stores.
type Runtime struct {
	kit       telemetry.Kit
	authority *authority.Authority
	events    *events.Bus
	handlers  *HandlerRegistry

	// registries keyed by id; nothing is ever removed
	actions  *registry.Registry[*action.Action]
	services *registry.Registry[*service.Service]
	stores   *registry.Registry[*store.Store]

	// timeout in nanoseconds for services without their own
	timeout atomic.Int64

	logger zerolog.Logger
}

// Config configures the runtime.
type Config struct {
	// Logger for the runtime and everything it builds.
	Logger zerolog.Logger

	// Metrics collector (optional).
	Metrics *metrics.Collector

	// Tracer for action and endpoint spans (optional).
	Tracer trace.Tracer

	// Clock drives handler timeouts (optional).
	Clock ports.Clock

	// TokenIDs generates write token ids (optional, UUIDs by default).
	TokenIDs ports.IDGenerator

	// HandlerTimeout bounds asynchronous handlers. Zero means
	// service.DefaultTimeout.
	HandlerTimeout time.Duration
}

// New creates a new runtime.
func New(config Config) *Runtime {
	kit := telemetry.Kit{
		Logger:  config.Logger,
		Metrics: config.Metrics,
		Tracer:  config.Tracer,
		Clock:   config.Clock,
	}.WithDefaults()

	ids := config.TokenIDs
	if ids == nil {
		ids = idgen.UUID{Prefix: "tok_"}
	}

	r := &Runtime{
		kit:       kit,
		authority: authority.New(ids, config.Logger),
		events:    events.NewBus(config.Logger),
		handlers:  NewHandlerRegistry(),
		actions:   registry.New[*action.Action]("action"),
		services:  registry.New[*service.Service]("service"),
		stores:    registry.New[*store.Store]("store"),
		logger:    config.Logger,
	}
	r.SetHandlerTimeout(config.HandlerTimeout)
	return r
}

// SetHandlerTimeout changes the timeout of services built without their
// own. It applies to invocations started afterwards.
func (r *Runtime) SetHandlerTimeout(d time.Duration) {
	if d == 0 {
		d = service.DefaultTimeout
	}
	r.timeout.Store(int64(d))
}

// HandlerTimeout returns the current default handler timeout.
func (r *Runtime) HandlerTimeout() time.Duration {
	return time.Duration(r.timeout.Load())
}

// Events returns the bus actions emit invocations on.
func (r *Runtime) Events() *events.Bus { return r.events }

// Authority returns the write authority.
func (r *Runtime) Authority() *authority.Authority { return r.authority }

// Handlers returns the named handler registry used by config services.
func (r *Runtime) Handlers() *HandlerRegistry { return r.handlers }

// Logger returns the runtime logger.
func (r *Runtime) Logger() zerolog.Logger { return r.logger }

// RegisterHandler makes h available to config-declared endpoints.
func (r *Runtime) RegisterHandler(name string, h service.Handler) {
	r.handlers.Register(name, h)
}

// Action returns a registered action.
func (r *Runtime) Action(id string) (*action.Action, error) { return r.actions.Get(id) }

// Service returns a registered service.
func (r *Runtime) Service(id string) (*service.Service, error) { return r.services.Get(id) }

// Store returns a registered store.
func (r *Runtime) Store(id string) (*store.Store, error) { return r.stores.Get(id) }

// Actions returns all actions in registration order.
func (r *Runtime) Actions() []*action.Action { return r.actions.List() }

// Services returns all services in registration order.
func (r *Runtime) Services() []*service.Service { return r.services.List() }

// Stores returns all stores in registration order.
func (r *Runtime) Stores() []*store.Store { return r.stores.List() }

// Endpoint resolves a "service.endpoint" reference.
func (r *Runtime) Endpoint(ref string) (*service.Endpoint, error) {
	svcID, epID, ok := strings.Cut(ref, service.RefSeparator)
	if !ok || svcID == "" || epID == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}

	svc, err := r.services.Get(svcID)
	if err != nil {
		return nil, err
	}
	return svc.Endpoint(epID)
}

// Invoke looks up an action and invokes it.
func (r *Runtime) Invoke(ctx context.Context, actionID string, payload any) (*action.Invocation, error) {
	a, err := r.actions.Get(actionID)
	if err != nil {
		return nil, err
	}
	return a.Invoke(ctx, payload)
}

func (r *Runtime) recordCounts() {
	r.kit.Metrics.SetRegistered("action", r.actions.Len())
	r.kit.Metrics.SetRegistered("service", r.services.Len())
	r.kit.Metrics.SetRegistered("store", r.stores.Len())
}
