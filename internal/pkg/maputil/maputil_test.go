package maputil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInt(t *testing.T) {
	params := map[string]any{"a": 7, "b": 3.0, "c": "12", "d": "x", "e": nil}
	assert.Equal(t, 7, Int(params, "a", 1))
	assert.Equal(t, 3, Int(params, "b", 1))
	assert.Equal(t, 12, Int(params, "c", 1))
	assert.Equal(t, 1, Int(params, "d", 1))
	assert.Equal(t, 1, Int(params, "e", 1))
	assert.Equal(t, 1, Int(nil, "a", 1))
}

func TestFloat(t *testing.T) {
	params := map[string]any{"a": 2, "b": "0.5", "c": "bad"}
	assert.Equal(t, 2.0, Float(params, "a", 1))
	assert.Equal(t, 0.5, Float(params, "b", 1))
	assert.Equal(t, 1.0, Float(params, "c", 1))
	assert.Equal(t, 1.0, Float(params, "missing", 1))
}

func TestPositiveInts(t *testing.T) {
	def := []int{10, 20}
	got, err := PositiveInts(map[string]any{"p": []any{5, 10.0, "20"}}, "p", def)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 10, 20}, got)

	got, err = PositiveInts(map[string]any{"p": "1, 5,10"}, "p", def)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 5, 10}, got)

	got, err = PositiveInts(map[string]any{"p": []any{}}, "p", def)
	require.NoError(t, err)
	assert.Equal(t, def, got)

	_, err = PositiveInts(map[string]any{"p": []any{0}}, "p", def)
	assert.Error(t, err)
	_, err = PositiveInts(map[string]any{"p": "1.5"}, "p", def)
	assert.Error(t, err)
}
