package structuredclone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClonePrimitives(t *testing.T) {
	v, err := Clone(42)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestCloneArrayIsDeepCopy(t *testing.T) {
	original := []any{1, 2, 3}
	cloned, err := Clone(original)
	require.NoError(t, err)
	clonedSlice := cloned.([]any)
	clonedSlice[0] = 99
	assert.Equal(t, 1, original[0])
}

func TestCloneObjectIsDeepCopy(t *testing.T) {
	original := map[string]any{"a": 1}
	cloned, err := Clone(original)
	require.NoError(t, err)
	cloned.(map[string]any)["a"] = 2
	assert.Equal(t, 1, original["a"])
}

func TestCloneRejectsFunctions(t *testing.T) {
	_, err := Clone(func() {})
	assert.Error(t, err)
}

func TestCloneHandlesCycle(t *testing.T) {
	self := map[string]any{}
	self["self"] = self
	cloned, err := Clone(self)
	require.NoError(t, err)
	clonedMap := cloned.(map[string]any)
	assert.Same(t, clonedMap, clonedMap["self"])
}

func TestCloneSetAndOrderedMap(t *testing.T) {
	s := &Set{Values: []any{1, 2, 3}}
	clonedSet, err := Clone(s)
	require.NoError(t, err)
	assert.Equal(t, s.Values, clonedSet.(*Set).Values)

	m := &OrderedMap{Keys: []any{"a"}, Values: []any{1}}
	clonedMap, err := Clone(m)
	require.NoError(t, err)
	assert.Equal(t, m.Keys, clonedMap.(*OrderedMap).Keys)
}

func TestTransferDetachesSource(t *testing.T) {
	buf := &ArrayBuffer{Bytes: []byte{1, 2, 3}}
	moved, err := Transfer(buf)
	require.NoError(t, err)
	assert.True(t, buf.Detached)
	assert.Nil(t, buf.Bytes)
	assert.Equal(t, []byte{1, 2, 3}, moved.Bytes)
}

func TestCloneDetachedBufferFails(t *testing.T) {
	buf := &ArrayBuffer{Bytes: []byte{1}}
	Transfer(buf)
	_, err := Clone(buf)
	assert.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := map[string]any{"greeting": "hi"}
	data, err := Encode(original)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "hi", decoded.(map[string]any)["greeting"])
}
