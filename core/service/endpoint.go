package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/artpar/conveyr/adapters/metrics"
	"github.com/artpar/conveyr/core/future"
	"github.com/artpar/conveyr/core/resolver"
	"github.com/artpar/conveyr/ports"
)

// RefSeparator joins service and endpoint ids in references such as
// "counter.increment".
const RefSeparator = "."

// Endpoint is one handler exposed by a service.
type Endpoint struct {
	service *Service
	id      string
	handler Handler
	roles   resolver.ArgumentMap
	params  []string
}

// ID returns the endpoint id, unique within its service.
func (e *Endpoint) ID() string { return e.id }

// Ref returns "service.endpoint".
func (e *Endpoint) Ref() string { return e.service.id + RefSeparator + e.id }

// Service returns the owning service.
func (e *Endpoint) Service() *Service { return e.service }

// Arguments returns the role positions computed when the endpoint was
// exposed.
func (e *Endpoint) Arguments() resolver.ArgumentMap { return e.roles }

// Params returns the declared parameter names, nil when exposed by spec.
func (e *Endpoint) Params() []string { return e.params }

// IsAsync reports whether the handler completes through done.
func (e *Endpoint) IsAsync() bool { return e.roles.IsAsync() }

// Invoke runs the handler and returns a future for its completion.
//
// A synchronous handler settles the future when it returns. An
// asynchronous one settles it through done, or fails with
// ErrHandlerTimeout when the countdown expires first. A returned error, a
// panic or ctx cancellation also settle it; whichever happens first wins.
func (e *Endpoint) Invoke(ctx context.Context, actionID string, action ActionRef, payload any) *future.Future {
	kit := e.service.kit

	ctx, span := kit.Tracer.Start(ctx, "endpoint.invoke",
		trace.WithAttributes(
			attribute.String("conveyr.service", e.service.id),
			attribute.String("conveyr.endpoint", e.id),
			attribute.String("conveyr.action", actionID),
			attribute.Bool("conveyr.async", e.roles.IsAsync()),
		),
	)

	fut, resolve := future.New()
	c := &call{
		endpoint: e,
		span:     span,
		start:    kit.Clock.Now(),
		resolve:  resolve,
	}
	kit.Metrics.EndpointStarted()

	if err := ctx.Err(); err != nil {
		c.settle(err)
		return fut
	}

	var done func(error)
	if e.roles.IsAsync() {
		done = c.settle
		if d := e.service.Timeout(); d > 0 {
			c.arm(kit.Clock, d)
		}
	}

	stop := context.AfterFunc(ctx, func() { c.settle(ctx.Err()) })
	c.mu.Lock()
	c.stopCtx = stop
	c.mu.Unlock()

	c.run(newFrame(ctx, e, e.roles, actionID, action, payload, done))
	return fut
}

// call tracks one invocation until it settles.
type call struct {
	endpoint *Endpoint
	span     trace.Span
	start    time.Time
	resolve  future.Resolver

	mu      sync.Mutex
	timer   ports.Timer
	stopCtx func() bool
}

func (c *call) arm(clock ports.Clock, d time.Duration) {
	e := c.endpoint
	timer := clock.AfterFunc(d, func() {
		c.settle(fmt.Errorf("%w: %s.%s after %s", ErrHandlerTimeout, e.service.id, e.id, d))
	})

	c.mu.Lock()
	c.timer = timer
	c.mu.Unlock()
}

func (c *call) run(f *Frame) {
	defer func() {
		if r := recover(); r != nil {
			c.settle(&PanicError{Value: r, Stack: debug.Stack()})
		}
	}()

	if err := c.endpoint.handler(f); err != nil {
		c.settle(err)
		return
	}
	if !c.endpoint.roles.IsAsync() {
		c.settle(nil)
	}
}

// settle resolves the future; only the first call has any effect.
func (c *call) settle(err error) {
	if !c.resolve(err) {
		return
	}

	c.mu.Lock()
	timer, stop := c.timer, c.stopCtx
	c.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
	if stop != nil {
		stop()
	}

	e := c.endpoint
	kit := e.service.kit
	elapsed := kit.Clock.Now().Sub(c.start)

	result := metrics.ResultOK
	var panicErr *PanicError
	switch {
	case err == nil:
	case errors.Is(err, ErrHandlerTimeout):
		result = metrics.ResultTimeout
	default:
		result = metrics.ResultError
	}
	kit.Metrics.ObserveEndpoint(e.service.id, e.id, result, elapsed)

	if err != nil {
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, err.Error())
	}
	c.span.End()

	switch {
	case err == nil:
		kit.Logger.Debug().
			Str("endpoint", e.id).
			Dur("elapsed", elapsed).
			Msg("endpoint completed")
	case errors.As(err, &panicErr):
		kit.Logger.Error().
			Err(err).
			Str("endpoint", e.id).
			Bytes("stack", panicErr.Stack).
			Msg("endpoint handler panicked")
	case result == metrics.ResultTimeout:
		kit.Logger.Warn().
			Str("endpoint", e.id).
			Dur("timeout", elapsed).
			Msg("endpoint handler timed out")
	default:
		kit.Logger.Debug().
			Err(err).
			Str("endpoint", e.id).
			Msg("endpoint failed")
	}
}
