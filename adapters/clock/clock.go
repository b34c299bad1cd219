// Package clock provides Clock implementations.
package clock

import (
	"sort"
	"sync"
	"time"

	"github.com/artpar/conveyr/ports"
)

// Real uses the system clock and runtime timers.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time {
	return time.Now()
}

// AfterFunc wraps time.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) ports.Timer {
	return time.AfterFunc(d, f)
}

// Fake provides a controllable clock for testing. Timers fire
// synchronously from Advance and Set, in deadline order.
type Fake struct {
	mu      sync.Mutex
	current time.Time
	timers  []*fakeTimer
}

// NewFake creates a fake clock set to the given time.
func NewFake(t time.Time) *Fake {
	return &Fake{current: t}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// AfterFunc schedules fn to run when the fake time reaches now+d.
func (f *Fake) AfterFunc(d time.Duration, fn func()) ports.Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTimer{clock: f, deadline: f.current.Add(d), fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// Pending returns the number of timers that have not fired or been stopped.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// Set sets the fake current time and fires due timers.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.current = t
	due := f.takeDue()
	f.mu.Unlock()

	for _, timer := range due {
		timer.fn()
	}
}

// Advance moves the fake time forward by duration d and fires due timers.
func (f *Fake) Advance(d time.Duration) {
	f.Set(f.Now().Add(d))
}

// takeDue removes and returns due timers. Caller holds the lock.
func (f *Fake) takeDue() []*fakeTimer {
	var due, pending []*fakeTimer
	for _, t := range f.timers {
		if !t.deadline.After(f.current) {
			due = append(due, t)
		} else {
			pending = append(pending, t)
		}
	}
	f.timers = pending

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	return due
}

type fakeTimer struct {
	clock    *Fake
	deadline time.Time
	fn       func()
}

func (t *fakeTimer) Stop() bool {
	f := t.clock
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, other := range f.timers {
		if other == t {
			f.timers = append(f.timers[:i], f.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Ensure interface compliance.
var (
	_ ports.Clock = Real{}
	_ ports.Clock = (*Fake)(nil)
)
