package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		params []string
		want   ArgumentMap
	}{
		{
			name:   "empty",
			params: nil,
			want:   ArgumentMap{Token: -1, ActionRef: -1, ActionID: -1, Payload: -1, Done: -1, Total: 0},
		},
		{
			name:   "payload and done",
			params: []string{"payload", "done"},
			want:   ArgumentMap{Token: -1, ActionRef: -1, ActionID: -1, Payload: 0, Done: 1, Total: 2},
		},
		{
			name:   "synonyms any case",
			params: []string{"StoreMutator", "DATA", "Finish"},
			want:   ArgumentMap{Token: 0, ActionRef: -1, ActionID: -1, Payload: 1, Done: 2, Total: 3},
		},
		{
			name:   "all roles",
			params: []string{"context", "action", "actionId", "payload", "callback"},
			want:   ArgumentMap{Token: 0, ActionRef: 1, ActionID: 2, Payload: 3, Done: 4, Total: 5},
		},
		{
			name:   "unknown names keep position",
			params: []string{"foo", "payload", "bar"},
			want:   ArgumentMap{Token: -1, ActionRef: -1, ActionID: -1, Payload: 1, Done: -1, Total: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveDuplicateRole(t *testing.T) {
	_, err := Resolve([]string{"payload", "data"})
	assert.ErrorIs(t, err, ErrDuplicateRole)

	_, err = Resolve([]string{"mutator", "token"})
	assert.ErrorIs(t, err, ErrDuplicateRole)
}

func TestIsAsync(t *testing.T) {
	m, err := Resolve([]string{"payload"})
	require.NoError(t, err)
	assert.False(t, m.IsAsync())

	m, err = Resolve([]string{"done"})
	require.NoError(t, err)
	assert.True(t, m.IsAsync())
}

func TestFromSpec(t *testing.T) {
	m := FromSpec(Spec{NeedsToken: true, NeedsPayload: true, Completion: Callback})
	assert.Equal(t, ArgumentMap{Token: 0, ActionRef: -1, ActionID: -1, Payload: 1, Done: 2, Total: 3}, m)

	m = FromSpec(Spec{NeedsActionRef: true, NeedsActionID: true})
	assert.Equal(t, ArgumentMap{Token: -1, ActionRef: 0, ActionID: 1, Payload: -1, Done: -1, Total: 2}, m)
	assert.False(t, m.IsAsync())

	assert.Equal(t, Empty(), FromSpec(Spec{}))
}

func TestRoleOf(t *testing.T) {
	assert.Equal(t, Token, RoleOf(" MutatorContext "))
	assert.Equal(t, ActionID, RoleOf("ActionID"))
	assert.Equal(t, None, RoleOf("ctx"))
	assert.Equal(t, "actionId", ActionID.String())
}
