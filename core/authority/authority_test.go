package authority

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/conveyr/adapters/idgen"
)

func newAuthority() *Authority {
	return New(idgen.NewSequential("tok_"), zerolog.Nop())
}

func TestIssue(t *testing.T) {
	a := newAuthority()

	t1 := a.Issue("counter")
	t2 := a.Issue("billing")

	assert.False(t, t1.IsZero())
	assert.NotEqual(t, t1, t2)

	holder, ok := a.Holder(t1)
	require.True(t, ok)
	assert.Equal(t, "counter", holder)

	_, ok = a.Holder(Token{})
	assert.False(t, ok)
}

func TestAuthorizeRevoke(t *testing.T) {
	a := newAuthority()
	tok := a.Issue("counter")

	assert.False(t, a.Allowed("counts", tok))

	require.NoError(t, a.Authorize("counts", tok))
	assert.True(t, a.Allowed("counts", tok))
	assert.False(t, a.Allowed("other", tok))

	// idempotent
	require.NoError(t, a.Authorize("counts", tok))
	assert.Equal(t, []string{"counter"}, a.Grantees("counts"))

	a.Revoke("counts", tok)
	assert.False(t, a.Allowed("counts", tok))

	a.Revoke("counts", tok)
	assert.False(t, a.Allowed("counts", tok))
	assert.Empty(t, a.Grantees("counts"))
}

func TestStoreAcceptsManyTokens(t *testing.T) {
	a := newAuthority()
	t1 := a.Issue("counter")
	t2 := a.Issue("reset")

	require.NoError(t, a.Authorize("counts", t1))
	require.NoError(t, a.Authorize("counts", t2))
	assert.ElementsMatch(t, []string{"counter", "reset"}, a.Grantees("counts"))

	a.Revoke("counts", t1)
	assert.False(t, a.Allowed("counts", t1))
	assert.True(t, a.Allowed("counts", t2))
}

func TestUnknownToken(t *testing.T) {
	a := newAuthority()
	other := newAuthority()

	assert.ErrorIs(t, a.Authorize("counts", Token{}), ErrUnknownToken)
	assert.False(t, a.Allowed("counts", Token{}))

	foreign := other.Issue("counter")
	assert.ErrorIs(t, a.Authorize("counts", foreign), ErrUnknownToken)
}

func TestTokenString(t *testing.T) {
	assert.Equal(t, "token(none)", Token{}.String())
	assert.Equal(t, "token(tok_1)", Token{id: "tok_1"}.String())
	assert.Equal(t, "token(tok_1234…)", Token{id: "tok_123456789"}.String())
}
