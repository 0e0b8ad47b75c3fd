package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

func TestToBool(t *testing.T) {
	falsy := []any{nil, false, 0, int64(0), 0.0, "", " false ", "No", "0", "nil", "NULL", []any{}, []string{}, map[string]any{}}
	for _, v := range falsy {
		assert.False(t, ToBool(v), "%#v", v)
	}
	truthy := []any{true, 1, int64(-1), 0.5, "yes", "anything", []any{1}, map[string]any{"a": 1}, struct{}{}}
	for _, v := range truthy {
		assert.True(t, ToBool(v), "%#v", v)
	}
}

func TestLLMBool(t *testing.T) {
	assert.True(t, LLMBool("Yes, the tests pass."))
	assert.True(t, LLMBool("TRUE"))
	assert.False(t, LLMBool("No."))
	assert.False(t, LLMBool("yes and no"))
	assert.False(t, LLMBool("I am not sure"))
}

func TestToList(t *testing.T) {
	assert.Equal(t, []any{}, ToList(nil))
	assert.Equal(t, []any{"a", "b"}, ToList([]string{"a", "b"}))
	assert.Equal(t, []any{float64(1), "two"}, ToList(`[1, "two"]`))
	assert.Equal(t, []any{"a.go", "b.go"}, ToList("a.go\n\n  b.go\n"))
	assert.Equal(t, []any{"[not json"}, ToList("[not json"))
	assert.Equal(t, []any{
		map[string]any{"key": "a", "value": 1},
		map[string]any{"key": "b", "value": 2},
	}, ToList(map[string]any{"b": 2, "a": 1}))
	assert.Equal(t, []any{42}, ToList(42))
}

func TestCoerce(t *testing.T) {
	v, err := Coerce("no", schema.CoerceBoolean)
	require.NoError(t, err)
	assert.Equal(t, false, v)

	v, err = Coerce("Sure, yes", schema.CoerceLLMBoolean)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = Coerce("x\ny", schema.CoerceIterable)
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y"}, v)

	v, err = Coerce(12, schema.CoerceString)
	require.NoError(t, err)
	assert.Equal(t, "12", v)

	_, err = Coerce(1, "decimal")
	assert.True(t, schema.HasCode(err, schema.ErrCodeConfiguration))
}

func TestCoerceBool_RejectsNonBoolean(t *testing.T) {
	_, err := coerceBool("x", schema.CoerceIterable)
	assert.Error(t, err)
}
