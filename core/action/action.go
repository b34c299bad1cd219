// Package action implements named entry points. Invoking an action
// sanitizes its payload against the action's format, calls every endpoint
// it targets, and joins their completions.
package action

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/artpar/conveyr/adapters/metrics"
	"github.com/artpar/conveyr/core/events"
	"github.com/artpar/conveyr/core/future"
	"github.com/artpar/conveyr/core/schema"
	"github.com/artpar/conveyr/core/service"
	"github.com/artpar/conveyr/core/telemetry"
)

// Sentinel errors.
var (
	ErrNotEnoughCallTargets = errors.New("action calls no endpoints")
	ErrCallTargetCollision  = errors.New("endpoint already targeted")
	ErrInvalidEndpoint      = errors.New("invalid endpoint")
	ErrMapFailed            = errors.New("payload map failed")
)

// CompletedTopic is the sub-topic an action's results are emitted on.
const CompletedTopic = "completed"

// instances numbers invocations across all actions in the process.
var instances atomic.Uint64

// MapFunc derives an endpoint's payload from the sanitized action payload.
// An error fails that target's call without invoking its endpoint.
type MapFunc func(payload any) (any, error)

// CallTarget is one endpoint an action invokes.
type CallTarget struct {
	Endpoint *service.Endpoint
	Map      MapFunc
}

// Invocation is a running action call.
type Invocation struct {
	// ID increases strictly across every invocation in the process.
	ID uint64

	// Action is the invoked action's id.
	Action string

	// Payload is the sanitized payload.
	Payload any

	*future.Future
}

// Result is emitted on the completed topic when an invocation settles.
type Result struct {
	InstanceID uint64
	Err        error
}

// Action is a named entry point with an optional payload format.
type Action struct {
	id      string
	format  schema.Format
	targets []CallTarget
	bus     *events.Bus
	kit     telemetry.Kit
}

// New creates an action. At least one target is required and no endpoint
// may be targeted twice.
func New(id string, format schema.Format, targets []CallTarget, bus *events.Bus, kit telemetry.Kit) (*Action, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("action %q: %w", id, ErrNotEnoughCallTargets)
	}

	seen := make(map[*service.Endpoint]bool, len(targets))
	for _, t := range targets {
		if t.Endpoint == nil {
			return nil, fmt.Errorf("action %q: %w: nil endpoint", id, ErrInvalidEndpoint)
		}
		if seen[t.Endpoint] {
			return nil, fmt.Errorf("action %q endpoint %q: %w", id, t.Endpoint.Ref(), ErrCallTargetCollision)
		}
		seen[t.Endpoint] = true
	}

	kit = kit.WithDefaults()
	kit.Logger = kit.Logger.With().Str("action", id).Logger()

	return &Action{
		id:      id,
		format:  format,
		targets: append([]CallTarget(nil), targets...),
		bus:     bus,
		kit:     kit,
	}, nil
}

// ID returns the action id.
func (a *Action) ID() string { return a.id }

// Format returns the compiled payload format; empty when unvalidated.
func (a *Action) Format() schema.Format { return a.format }

// Targets returns the call targets in invocation order.
func (a *Action) Targets() []CallTarget {
	return append([]CallTarget(nil), a.targets...)
}

// Invoke validates payload and calls every target. A payload the format
// rejects is returned as an error before any endpoint runs; handler
// failures surface through the invocation's future.
func (a *Action) Invoke(ctx context.Context, payload any) (*Invocation, error) {
	sanitized, err := a.format.Sanitize(payload)
	if err != nil {
		a.kit.Metrics.RejectPayload(a.id)
		a.kit.Logger.Debug().Err(err).Msg("payload rejected")
		return nil, fmt.Errorf("action %q: %w", a.id, err)
	}

	start := a.kit.Clock.Now()
	inv := &Invocation{
		ID:      instances.Add(1),
		Action:  a.id,
		Payload: sanitized,
	}

	ctx, span := a.kit.Tracer.Start(ctx, "action.invoke",
		trace.WithAttributes(
			attribute.String("conveyr.action", a.id),
			attribute.Int64("conveyr.instance", int64(inv.ID)),
			attribute.Int("conveyr.targets", len(a.targets)),
		),
	)

	futures := make([]*future.Future, 0, len(a.targets))
	for _, t := range a.targets {
		p := sanitized
		if t.Map != nil {
			mapped, err := t.Map(sanitized)
			if err != nil {
				futures = append(futures, future.Resolved(fmt.Errorf("%w for %s: %w", ErrMapFailed, t.Endpoint.Ref(), err)))
				continue
			}
			p = mapped
		}
		futures = append(futures, t.Endpoint.Invoke(ctx, a.id, a, p))
	}
	inv.Future = future.All(futures...)

	a.emit(ctx, events.Topic(a.id), inv)

	inv.Future.OnSettle(func(err error) {
		result := metrics.ResultOK
		if err != nil {
			result = metrics.ResultError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		a.kit.Metrics.ObserveAction(a.id, result, a.kit.Clock.Now().Sub(start))

		a.kit.Logger.Debug().
			Err(err).
			Uint64("instance", inv.ID).
			Msg("action settled")

		a.emit(context.WithoutCancel(ctx), events.Topic(a.id, CompletedTopic), Result{InstanceID: inv.ID, Err: err})
	})

	return inv, nil
}

// InvokeSync invokes the action and waits for it to settle.
func (a *Action) InvokeSync(ctx context.Context, payload any) (*Invocation, error) {
	inv, err := a.Invoke(ctx, payload)
	if err != nil {
		return nil, err
	}
	if err := inv.Wait(ctx); err != nil {
		return inv, err
	}
	return inv, nil
}

func (a *Action) emit(ctx context.Context, topic string, payload any) {
	if a.bus == nil {
		return
	}
	a.bus.Emit(ctx, topic, payload)
}
