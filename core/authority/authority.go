// Package authority issues the capability tokens services use to mutate
// stores, and records which stores accept which tokens.
package authority

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/artpar/conveyr/ports"
)

// ErrUnknownToken is returned when a token was not issued by the authority.
var ErrUnknownToken = errors.New("unknown token")

// Token is an opaque write capability. The zero Token is never valid.
// Tokens are comparable and safe to copy; only an Authority can mint one.
type Token struct {
	id string
}

// IsZero reports whether t is the zero Token.
func (t Token) IsZero() bool {
	return t.id == ""
}

// String returns a redacted form safe for logs.
func (t Token) String() string {
	if t.IsZero() {
		return "token(none)"
	}
	if len(t.id) > 8 {
		return "token(" + t.id[:8] + "…)"
	}
	return "token(" + t.id + ")"
}

// Authority mints tokens and tracks store grants.
// Thread-safe for concurrent access.
type Authority struct {
	mu sync.RWMutex

	ids    ports.IDGenerator
	logger zerolog.Logger

	// holders maps token id -> holder (service id)
	holders map[string]string

	// grants maps store id -> set of token ids
	grants map[string]map[string]struct{}
}

// New creates an authority.
func New(ids ports.IDGenerator, logger zerolog.Logger) *Authority {
	return &Authority{
		ids:     ids,
		logger:  logger,
		holders: make(map[string]string),
		grants:  make(map[string]map[string]struct{}),
	}
}

// Issue mints a new token for holder.
func (a *Authority) Issue(holder string) Token {
	tok := Token{id: a.ids.New()}

	a.mu.Lock()
	a.holders[tok.id] = holder
	a.mu.Unlock()

	a.logger.Debug().
		Str("holder", holder).
		Stringer("token", tok).
		Msg("token issued")

	return tok
}

// Holder returns the holder a token was issued to.
func (a *Authority) Holder(tok Token) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	holder, ok := a.holders[tok.id]
	return holder, ok
}

// Authorize lets tok write to storeID. Authorizing twice is a no-op.
func (a *Authority) Authorize(storeID string, tok Token) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	holder, ok := a.holders[tok.id]
	if !ok {
		return fmt.Errorf("authorize %s for store %q: %w", tok, storeID, ErrUnknownToken)
	}

	set, ok := a.grants[storeID]
	if !ok {
		set = make(map[string]struct{})
		a.grants[storeID] = set
	}
	if _, granted := set[tok.id]; granted {
		return nil
	}
	set[tok.id] = struct{}{}

	a.logger.Debug().
		Str("store", storeID).
		Str("holder", holder).
		Msg("store write authorized")
	return nil
}

// Revoke withdraws tok's write access to storeID. Revoking an absent
// grant is a no-op.
func (a *Authority) Revoke(storeID string, tok Token) {
	a.mu.Lock()
	defer a.mu.Unlock()

	set, ok := a.grants[storeID]
	if !ok {
		return
	}
	if _, granted := set[tok.id]; !granted {
		return
	}
	delete(set, tok.id)
	if len(set) == 0 {
		delete(a.grants, storeID)
	}

	a.logger.Debug().
		Str("store", storeID).
		Str("holder", a.holders[tok.id]).
		Msg("store write revoked")
}

// Allowed reports whether tok may write to storeID.
func (a *Authority) Allowed(storeID string, tok Token) bool {
	if tok.IsZero() {
		return false
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	_, ok := a.grants[storeID][tok.id]
	return ok
}

// Grantees returns the holders authorized for storeID.
func (a *Authority) Grantees(storeID string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	holders := make([]string, 0, len(a.grants[storeID]))
	for id := range a.grants[storeID] {
		holders = append(holders, a.holders[id])
	}
	return holders
}
