package store

import (
	"reflect"
)

// Refresher is told to re-read state after every commit.
type Refresher interface {
	ForceUpdate()
}

// Binder receives the committed value under its slot name.
type Binder interface {
	SetState(state map[string]any)
}

// Mountable targets are skipped while IsMounted reports false.
type Mountable interface {
	IsMounted() bool
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func()

func (f RefresherFunc) ForceUpdate() { f() }

// BinderFunc adapts a function to Binder.
type BinderFunc func(state map[string]any)

func (f BinderFunc) SetState(state map[string]any) { f(state) }

// Style is how a subscriber wants to be notified.
type Style int

const (
	Refresh Style = iota + 1
	Bind
)

func (s Style) String() string {
	switch s {
	case Refresh:
		return "refresh"
	case Bind:
		return "bind"
	default:
		return "unknown"
	}
}

type subscription struct {
	id     uint64
	target any
	style  Style
	slot   string
}

// sameTarget reports whether a and b are the same subscriber identity.
// Targets of non-comparable types never match.
func sameTarget(a, b any) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

func (s subscription) notify(value any) {
	if m, ok := s.target.(Mountable); ok && !m.IsMounted() {
		return
	}

	switch s.style {
	case Refresh:
		s.target.(Refresher).ForceUpdate()
	case Bind:
		s.target.(Binder).SetState(map[string]any{s.slot: value})
	}
}
