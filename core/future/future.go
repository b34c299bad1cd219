// Package future provides a single-settle completion handle.
package future

import (
	"context"
	"sync"
)

// Future settles exactly once, with a nil error on success.
type Future struct {
	once sync.Once
	done chan struct{}
	err  error
}

// Resolver settles a future. It returns false if the future had already
// settled, in which case err is discarded.
type Resolver func(err error) bool

// New returns an unsettled future and the function that settles it.
func New() (*Future, Resolver) {
	f := &Future{done: make(chan struct{})}
	return f, f.settle
}

// Resolved returns a future already settled with err.
func Resolved(err error) *Future {
	f, resolve := New()
	resolve(err)
	return f
}

func (f *Future) settle(err error) bool {
	won := false
	f.once.Do(func() {
		f.err = err
		close(f.done)
		won = true
	})
	return won
}

// Done is closed when the future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the future has settled.
func (f *Future) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Err returns the settlement error. It is nil until the future settles.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the future settles or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnSettle runs fn with the settlement error once the future settles.
// fn runs on its own goroutine unless the future has already settled.
func (f *Future) OnSettle(fn func(err error)) {
	if f.Settled() {
		fn(f.err)
		return
	}
	go func() {
		<-f.done
		fn(f.err)
	}()
}

// All settles successfully when every future succeeds and fails with the
// first failure observed. A single future is returned as is.
func All(futures ...*Future) *Future {
	switch len(futures) {
	case 0:
		return Resolved(nil)
	case 1:
		return futures[0]
	}

	joined, resolve := New()
	var (
		mu        sync.Mutex
		remaining = len(futures)
	)

	for _, f := range futures {
		f.OnSettle(func(err error) {
			if err != nil {
				resolve(err)
				return
			}
			mu.Lock()
			remaining--
			last := remaining == 0
			mu.Unlock()
			if last {
				resolve(nil)
			}
		})
	}

	return joined
}
