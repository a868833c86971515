package receipt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePrimitivesPassThrough(t *testing.T) {
	assert.Equal(t, "hello", Normalize("hello"))
	assert.Equal(t, 42, Normalize(42))
	assert.Equal(t, 3.14, Normalize(3.14))
	assert.Equal(t, true, Normalize(true))
	assert.Nil(t, Normalize(nil))
}

func TestNormalizeBytesRendered(t *testing.T) {
	assert.Equal(t, "<bytes len=5>", Normalize([]byte("hello")))
	assert.Equal(t, "<bytes len=0>", Normalize([]byte{}))
}

func TestNormalizeNestedStructures(t *testing.T) {
	in := map[string]any{
		"query": "test",
		"opts": map[string]any{
			"num":  10,
			"blob": []byte{1, 2, 3},
		},
		"tags": []any{"a", "b", []byte("c")},
	}

	out, ok := Normalize(in).(map[string]any)
	require.True(t, ok)

	opts, ok := out["opts"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 10, opts["num"])
	assert.Equal(t, "<bytes len=3>", opts["blob"])

	tags, ok := out["tags"].([]any)
	require.True(t, ok)
	assert.Equal(t, "<bytes len=1>", tags[2])
}

func TestNormalizeNonStringKeys(t *testing.T) {
	in := map[int]any{1: "one", 2: "two"}

	out, ok := Normalize(in).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "one", out["1"])
	assert.Equal(t, "two", out["2"])
}

func TestNormalizeTypedSlices(t *testing.T) {
	out, ok := Normalize([]string{"a", "b"}).([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestNormalizeUnknownTypesStringified(t *testing.T) {
	type opaque struct{ X int }
	out := Normalize(opaque{X: 7})
	assert.IsType(t, "", out)
}

func TestNormalizeCyclicValueDoesNotCrash(t *testing.T) {
	cyclic := map[string]any{}
	cyclic["self"] = cyclic

	assert.NotPanics(t, func() {
		_ = Normalize(cyclic)
	})
}
