package service

import (
	"context"
	"fmt"

	"github.com/artpar/conveyr/core/authority"
	"github.com/artpar/conveyr/core/resolver"
	"github.com/artpar/conveyr/core/store"
)

// ActionRef is the action an endpoint is invoked on behalf of.
type ActionRef interface {
	ID() string
}

// Frame is the argument list handed to a handler. Positions follow the
// parameter names the endpoint was exposed with; only the roles the
// handler declared are filled, other positions are nil.
type Frame struct {
	ctx      context.Context
	args     []any
	roles    resolver.ArgumentMap
	endpoint *Endpoint
}

func newFrame(ctx context.Context, e *Endpoint, roles resolver.ArgumentMap, actionID string, action ActionRef, payload any, done func(error)) *Frame {
	f := &Frame{
		ctx:      ctx,
		args:     make([]any, roles.Total),
		roles:    roles,
		endpoint: e,
	}

	put := func(i int, v any) {
		if i >= 0 {
			f.args[i] = v
		}
	}
	put(roles.Token, e.service.token)
	put(roles.ActionRef, action)
	put(roles.ActionID, actionID)
	put(roles.Payload, payload)
	if done != nil {
		put(roles.Done, done)
	}
	return f
}

// Context carries the invocation's cancellation and trace span.
func (f *Frame) Context() context.Context { return f.ctx }

// Len returns the number of declared parameters.
func (f *Frame) Len() int { return len(f.args) }

// Arg returns the argument at position i, or nil when out of range.
func (f *Frame) Arg(i int) any {
	if i < 0 || i >= len(f.args) {
		return nil
	}
	return f.args[i]
}

// Token returns the service's write token if the handler declared it.
func (f *Frame) Token() authority.Token {
	tok, _ := f.Arg(f.roles.Token).(authority.Token)
	return tok
}

// Action returns the invoking action if the handler declared it.
func (f *Frame) Action() ActionRef {
	a, _ := f.Arg(f.roles.ActionRef).(ActionRef)
	return a
}

// ActionID returns the invoking action's id if the handler declared it.
func (f *Frame) ActionID() string {
	id, _ := f.Arg(f.roles.ActionID).(string)
	return id
}

// Payload returns the payload if the handler declared it.
func (f *Frame) Payload() any {
	return f.Arg(f.roles.Payload)
}

// Done completes an asynchronous invocation; a non-nil err fails it.
// Only the first completion counts. Done is a no-op for handlers that did
// not declare a done parameter.
func (f *Frame) Done(err error) {
	if done, ok := f.Arg(f.roles.Done).(func(error)); ok {
		done(err)
	}
}

// Update mutates a field of one of the service's stores with the frame's
// token. Handlers that did not declare a token are denied by the store.
func (f *Frame) Update(storeID, field string, mutator store.Mutator) error {
	st, ok := f.endpoint.service.store(storeID)
	if !ok {
		return fmt.Errorf("service %q store %q: %w", f.endpoint.service.id, storeID, ErrUnknownStore)
	}
	fld, err := st.Field(field)
	if err != nil {
		return err
	}
	return fld.Update(f.Token(), mutator)
}
