package schema

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/conveyr/core/types"
)

func person() FieldMap {
	return FieldMap{
		{Name: "name", Spec: Primitive{Kind: types.String}},
		{Name: "age", Spec: Optional(Primitive{Kind: types.Number}, 18)},
	}
}

func TestCompileNil(t *testing.T) {
	f, err := Compile(nil)
	require.NoError(t, err)
	assert.True(t, f.IsEmpty())

	payload := map[string]any{"anything": true}
	out, err := f.Sanitize(payload)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestCompilePrimitiveRoot(t *testing.T) {
	f, err := Compile(Primitive{Kind: types.Number})
	require.NoError(t, err)
	require.Len(t, f, 1)

	v := f[0]
	assert.True(t, v.IsRoot())
	assert.False(t, v.Optional)
	assert.Equal(t, float64(0), v.Default)

	assert.Equal(t, Valid, v.Analyze(42))
	assert.Equal(t, Invalid, v.Analyze("42"))
	assert.Equal(t, Invalid, v.Analyze(nil))
}

func TestCompileCustomRoot(t *testing.T) {
	f, err := Compile(Of[time.Duration]())
	require.NoError(t, err)
	require.Len(t, f, 1)
	assert.Nil(t, f[0].Default)

	_, err = f.Sanitize(time.Second)
	assert.NoError(t, err)

	_, err = f.Sanitize(1000)
	assert.ErrorIs(t, err, ErrPayloadValidationFailed)
}

func TestCompileFieldMap(t *testing.T) {
	f, err := Compile(person())
	require.NoError(t, err)
	require.Len(t, f, 2)

	assert.Equal(t, "name", f[0].Name)
	assert.False(t, f[0].Optional)
	assert.Equal(t, "", f[0].Default)

	assert.Equal(t, "age", f[1].Name)
	assert.True(t, f[1].Optional)
	assert.Equal(t, 18, f[1].Default)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want error
	}{
		{"empty field map", FieldMap{}, ErrNotEnoughFields},
		{"unnamed field", FieldMap{{Name: "", Spec: Primitive{Kind: types.String}}}, ErrInvalidFieldType},
		{"blank field name", FieldMap{{Name: "  ", Spec: Primitive{Kind: types.String}}}, ErrInvalidFieldType},
		{"bare descriptor", Optional(Primitive{Kind: types.String}, "x"), ErrInvalidFormat},
		{"unknown kind", Primitive{Kind: types.Kind(42)}, ErrInvalidFormat},
		{
			"nested field map",
			FieldMap{{Name: "inner", Spec: FieldMap{{Name: "x", Spec: Primitive{Kind: types.String}}}}},
			ErrInvalidFieldType,
		},
		{
			"descriptor wrapping descriptor",
			FieldMap{{Name: "x", Spec: Descriptor{Type: Optional(Primitive{Kind: types.String}, "")}}},
			ErrInvalidFieldType,
		},
		{
			"descriptor without type",
			FieldMap{{Name: "x", Spec: Descriptor{Default: 1, HasDefault: true}}},
			ErrInvalidFieldType,
		},
		{
			"default of wrong type",
			FieldMap{{Name: "age", Spec: Optional(Primitive{Kind: types.Number}, "eighteen")}},
			ErrInvalidFieldDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.spec)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCompileFieldErrorNamesField(t *testing.T) {
	_, err := Compile(FieldMap{{Name: "age", Spec: Optional(Primitive{Kind: types.Number}, "x")}})

	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "age", fe.Field)
}

func TestNilDefaultAllowed(t *testing.T) {
	f, err := Compile(FieldMap{{Name: "note", Spec: Optional(Primitive{Kind: types.String}, nil)}})
	require.NoError(t, err)

	out, err := f.Sanitize(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"note": nil}, out)

	again, err := f.Sanitize(out)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestAnalyzeNamed(t *testing.T) {
	f, err := Compile(person())
	require.NoError(t, err)
	name, age := f[0], f[1]

	assert.Equal(t, Invalid, name.Analyze("not a map"))
	assert.Equal(t, Invalid, name.Analyze(map[string]any{}))
	assert.Equal(t, Invalid, name.Analyze(map[string]any{"name": 5}))
	assert.Equal(t, Valid, name.Analyze(map[string]any{"name": "Ann"}))

	assert.Equal(t, ValidNeedsDefault, age.Analyze(map[string]any{}))
	assert.Equal(t, Valid, age.Analyze(map[string]any{"age": 30}))
	assert.Equal(t, Invalid, age.Analyze(map[string]any{"age": "30"}))
	assert.Equal(t, Invalid, age.Analyze(map[string]any{"age": nil}))
}

func TestSanitizeInjectsDefaultWithoutMutatingInput(t *testing.T) {
	f, err := Compile(person())
	require.NoError(t, err)

	in := map[string]any{"name": "Ann"}
	out, err := f.Sanitize(in)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"name": "Ann", "age": 18}, out)
	assert.Equal(t, map[string]any{"name": "Ann"}, in)
}

func TestSanitizeNilMapInjectsDefaults(t *testing.T) {
	f, err := Compile(FieldMap{{Name: "age", Spec: Optional(Primitive{Kind: types.Number}, 0.0)}})
	require.NoError(t, err)

	var in map[string]any
	out, err := f.Sanitize(in)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"age": 0.0}, out)
	assert.Nil(t, in)
}

func TestSanitizeReturnsOriginalWhenComplete(t *testing.T) {
	f, err := Compile(person())
	require.NoError(t, err)

	in := map[string]any{"name": "Ann", "age": 40}
	out, err := f.Sanitize(in)
	require.NoError(t, err)

	out.(map[string]any)["touched"] = true
	assert.Equal(t, true, in["touched"], "no clone expected when nothing is injected")
}

func TestSanitizeIdempotent(t *testing.T) {
	f, err := Compile(person())
	require.NoError(t, err)

	payloads := []map[string]any{
		{"name": "Ann"},
		{"name": "Bob", "age": 3},
		{"name": "Cy", "extra": []any{1}},
	}

	for _, p := range payloads {
		once, err := f.Sanitize(p)
		require.NoError(t, err)
		twice, err := f.Sanitize(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	}
}

func TestSanitizeMissingRequiredFieldNamesField(t *testing.T) {
	f, err := Compile(person())
	require.NoError(t, err)

	_, err = f.Sanitize(map[string]any{"age": 3})
	require.ErrorIs(t, err, ErrPayloadValidationFailed)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "name", ve.Field)
	assert.Equal(t, "String", ve.Type)
	assert.Contains(t, err.Error(), `"name"`)
}

func TestSanitizeFirstFailureWins(t *testing.T) {
	f, err := Compile(FieldMap{
		{Name: "a", Spec: Primitive{Kind: types.String}},
		{Name: "b", Spec: Primitive{Kind: types.String}},
	})
	require.NoError(t, err)

	_, err = f.Sanitize(map[string]any{})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "a", ve.Field)
}

func TestCompileField(t *testing.T) {
	v, err := CompileField("count", Primitive{Kind: types.Number})
	require.NoError(t, err)
	assert.Equal(t, "count", v.Name)
	assert.Equal(t, float64(0), v.Default)

	v, err = CompileField("count", Optional(Primitive{Kind: types.Number}, 10))
	require.NoError(t, err)
	assert.True(t, v.Optional)
	assert.Equal(t, 10, v.Default)

	_, err = CompileField("count", FieldMap{})
	assert.ErrorIs(t, err, ErrInvalidFieldType)
}
