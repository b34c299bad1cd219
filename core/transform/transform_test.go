package transform

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap(t *testing.T) {
	payload := map[string]any{"by": float64(3), "text": " Hello ", "tag": ""}

	tests := []struct {
		name   string
		source string
		want   any
	}{
		{"field", "payload.by", float64(3)},
		{"arithmetic", "payload.by * 2", float64(6)},
		{"integer literal", "1", float64(1)},
		{"string functions", "upper(trim(payload.text))", "HELLO"},
		{"default on missing", "default(payload.missing, 5)", float64(5)},
		{"coalesce", `coalesce(payload.tag, "none")`, "none"},
		{"toFloat", `toFloat("2.5")`, 2.5},
		{"object", `{"count": payload.by + 1, "note": lower(payload.text)}`, map[string]any{"count": float64(4), "note": " hello "}},
		{"array", "[1, payload.by]", []any{float64(1), float64(3)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.source)
			require.NoError(t, err)

			got, err := p.Map(payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMapDoesNotMutatePayload(t *testing.T) {
	payload := map[string]any{"by": float64(1)}
	p, err := Compile(`{"by": payload.by * 10}`)
	require.NoError(t, err)

	_, err = p.Map(payload)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"by": float64(1)}, payload)
}

func TestCompileErrors(t *testing.T) {
	_, err := Compile("   ")
	assert.True(t, errors.Is(err, ErrEmptyExpression))

	_, err = Compile("payload.by *")
	assert.Error(t, err)

	_, err = Compile("unknown + 1")
	assert.Error(t, err, "variables other than payload are rejected")
}

func TestRunError(t *testing.T) {
	p, err := Compile(`lower(payload, 1)`)
	require.NoError(t, err)

	_, err = p.Map("x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lower requires 1 argument")
}

func TestCompilerCache(t *testing.T) {
	c := NewCompiler()

	a, err := c.Compile("payload")
	require.NoError(t, err)
	b, err := c.Compile(" payload ")
	require.NoError(t, err)

	assert.Same(t, a.program, b.program)
	assert.Equal(t, "payload", b.Source())

	c.ClearCache()
	d, err := c.Compile("payload")
	require.NoError(t, err)
	assert.NotSame(t, a.program, d.program)
}
