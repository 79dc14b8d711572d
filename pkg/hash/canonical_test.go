package hash

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSum_KeyOrderIndependent(t *testing.T) {
	a := json.RawMessage(`{"b":1,"a":{"y":true,"x":null},"c":[1,2,3]}`)
	b := json.RawMessage(`{"c":[1,2,3],"a":{"x":null,"y":true},"b":1}`)

	ha, err := Sum(a)
	require.NoError(t, err)
	hb, err := Sum(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
}

func TestSum_ArrayOrderMatters(t *testing.T) {
	ha, err := Sum([]int{1, 2, 3})
	require.NoError(t, err)
	hb, err := Sum([]int{3, 2, 1})
	require.NoError(t, err)

	assert.NotEqual(t, ha, hb)
}

func TestSum_StructAndMapAgree(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	hs, err := Sum(payload{Name: "route-a", Count: 2})
	require.NoError(t, err)
	hm, err := Sum(map[string]any{"count": 2, "name": "route-a"})
	require.NoError(t, err)

	assert.Equal(t, hs, hm)
}

func TestSum_StructurallyDifferentValuesDiffer(t *testing.T) {
	h1, err := Sum(map[string]any{"a": 1})
	require.NoError(t, err)
	h2, err := Sum(map[string]any{"a": 2})
	require.NoError(t, err)
	h3, err := Sum(map[string]any{"a": "1"})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestSum_NilIsNull(t *testing.T) {
	hNil, err := Sum(nil)
	require.NoError(t, err)
	hNull, err := Sum(json.RawMessage(`null`))
	require.NoError(t, err)

	assert.Equal(t, hNull, hNil)
}

func TestSum_FixedLengthHex(t *testing.T) {
	h, err := Sum(map[string]any{"deep": []any{map[string]any{"k": "v"}}})
	require.NoError(t, err)
	assert.Len(t, h, 64)
	assert.Regexp(t, "^[0-9a-f]{64}$", h)
}

func TestCanonical_SortsNestedKeys(t *testing.T) {
	got, err := Canonical(json.RawMessage(`{"z":{"b":1,"a":2},"a":true}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":true,"z":{"a":2,"b":1}}`, string(got))
}
