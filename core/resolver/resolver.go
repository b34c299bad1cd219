// Package resolver maps a handler's declared parameter names to the
// argument roles the runtime supplies when invoking it.
package resolver

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicateRole is returned when two parameters resolve to the same role.
var ErrDuplicateRole = errors.New("duplicate argument role")

// Role is a kind of argument the runtime can supply.
type Role int

const (
	None Role = iota
	Token
	ActionRef
	ActionID
	Payload
	Done
)

func (r Role) String() string {
	switch r {
	case Token:
		return "token"
	case ActionRef:
		return "action"
	case ActionID:
		return "actionId"
	case Payload:
		return "payload"
	case Done:
		return "done"
	default:
		return "none"
	}
}

var synonyms = map[string]Role{
	"context":        Token,
	"mutator":        Token,
	"mutatorcontext": Token,
	"storemutator":   Token,
	"token":          Token,
	"action":         ActionRef,
	"actionid":       ActionID,
	"payload":        Payload,
	"data":           Payload,
	"done":           Done,
	"callback":       Done,
	"finish":         Done,
}

// RoleOf returns the role a parameter name maps to. Matching is
// case-insensitive; unknown names map to None.
func RoleOf(name string) Role {
	return synonyms[strings.ToLower(strings.TrimSpace(name))]
}

// ArgumentMap gives the position of each role in a handler's argument
// list, or -1 when the handler does not take it.
type ArgumentMap struct {
	Token     int
	ActionRef int
	ActionID  int
	Payload   int
	Done      int
	Total     int
}

// Empty returns a map with every role absent.
func Empty() ArgumentMap {
	return ArgumentMap{Token: -1, ActionRef: -1, ActionID: -1, Payload: -1, Done: -1}
}

// IsAsync reports whether the handler completes through a done callback.
func (m ArgumentMap) IsAsync() bool {
	return m.Done >= 0
}

// Index returns the position of role, or -1.
func (m ArgumentMap) Index(r Role) int {
	switch r {
	case Token:
		return m.Token
	case ActionRef:
		return m.ActionRef
	case ActionID:
		return m.ActionID
	case Payload:
		return m.Payload
	case Done:
		return m.Done
	default:
		return -1
	}
}

func (m *ArgumentMap) set(r Role, i int) {
	switch r {
	case Token:
		m.Token = i
	case ActionRef:
		m.ActionRef = i
	case ActionID:
		m.ActionID = i
	case Payload:
		m.Payload = i
	case Done:
		m.Done = i
	}
}

// Resolve builds the argument map for an ordered list of parameter names.
// Unknown names keep their position but receive no role.
func Resolve(params []string) (ArgumentMap, error) {
	m := Empty()
	m.Total = len(params)

	for i, name := range params {
		r := RoleOf(name)
		if r == None {
			continue
		}
		if prev := m.Index(r); prev >= 0 {
			return ArgumentMap{}, fmt.Errorf("%w: %q at %d and %q at %d both resolve to %s",
				ErrDuplicateRole, params[prev], prev, name, i, r)
		}
		m.set(r, i)
	}

	return m, nil
}

// Completion is how a handler signals it has finished.
type Completion int

const (
	// Sync handlers are complete when they return.
	Sync Completion = iota
	// Callback handlers are complete when they call done.
	Callback
)

// Spec declares the roles a handler needs without naming parameters.
type Spec struct {
	NeedsToken     bool
	NeedsActionRef bool
	NeedsActionID  bool
	NeedsPayload   bool
	Completion     Completion
}

// FromSpec builds an argument map in canonical order: token, action,
// actionId, payload, done.
func FromSpec(s Spec) ArgumentMap {
	m := Empty()
	next := 0
	take := func(r Role) {
		m.set(r, next)
		next++
	}

	if s.NeedsToken {
		take(Token)
	}
	if s.NeedsActionRef {
		take(ActionRef)
	}
	if s.NeedsActionID {
		take(ActionID)
	}
	if s.NeedsPayload {
		take(Payload)
	}
	if s.Completion == Callback {
		take(Done)
	}

	m.Total = next
	return m
}
