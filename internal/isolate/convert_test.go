package isolate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func TestToStarlarkFromStarlark_Roundtrip(t *testing.T) {
	in := map[string]any{
		"name":    "alice",
		"age":     int64(30),
		"score":   1.5,
		"active":  true,
		"tags":    []any{"a", "b"},
		"missing": nil,
	}
	sv, err := toStarlark(in)
	require.NoError(t, err)

	out, err := fromStarlark(sv)
	require.NoError(t, err)

	outMap, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", outMap["name"])
	assert.Equal(t, int64(30), outMap["age"])
	assert.Equal(t, 1.5, outMap["score"])
	assert.Equal(t, true, outMap["active"])
	assert.Equal(t, []any{"a", "b"}, outMap["tags"])
	assert.Nil(t, outMap["missing"])
}

func TestToStarlark_RejectsUnsupportedType(t *testing.T) {
	_, err := toStarlark(make(chan int))
	assert.Error(t, err)
}

func TestFromStarlark_RejectsNonStringDictKey(t *testing.T) {
	d := starlark.NewDict(1)
	require.NoError(t, d.SetKey(starlark.MakeInt(1), starlark.String("v")))
	_, err := fromStarlark(d)
	assert.Error(t, err)
}

func TestArgsToParams_PositionalOnly(t *testing.T) {
	args := starlark.Tuple{starlark.String("x"), starlark.MakeInt(2)}
	params, positional, err := argsToParams(args, nil)
	require.NoError(t, err)
	assert.Nil(t, params)
	assert.Equal(t, []any{"x", int64(2)}, positional)
}

func TestArgsToParams_Keywords(t *testing.T) {
	kwargs := []starlark.Tuple{
		{starlark.String("owner"), starlark.String("octocat")},
		{starlark.String("repo"), starlark.String("hello-world")},
	}
	params, positional, err := argsToParams(nil, kwargs)
	require.NoError(t, err)
	assert.Empty(t, positional)
	assert.Equal(t, "octocat", params["owner"])
	assert.Equal(t, "hello-world", params["repo"])
}
