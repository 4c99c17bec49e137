package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEphemeralInsertionOrderPreservedAcrossOverwrite(t *testing.T) {
	ctx := context.Background()
	s := NewEphemeral()
	require.NoError(t, s.SetItem(ctx, "b", "1"))
	require.NoError(t, s.SetItem(ctx, "a", "2"))
	require.NoError(t, s.SetItem(ctx, "b", "3")) // overwrite, order unchanged

	keys, err := s.IterateKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, keys)

	v, ok, err := s.GetItem(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "3", v)
}

func TestEphemeralRemoveItemUpdatesOrderAndLength(t *testing.T) {
	ctx := context.Background()
	s := NewEphemeral()
	s.SetItem(ctx, "a", "1")
	s.SetItem(ctx, "b", "2")
	require.NoError(t, s.RemoveItem(ctx, "a"))

	n, _ := s.Length(ctx)
	assert.Equal(t, 1, n)

	k, ok, _ := s.Key(ctx, 0)
	assert.True(t, ok)
	assert.Equal(t, "b", k)
}

func TestEphemeralClear(t *testing.T) {
	ctx := context.Background()
	s := NewEphemeral()
	s.SetItem(ctx, "a", "1")
	require.NoError(t, s.Clear(ctx))
	n, _ := s.Length(ctx)
	assert.Equal(t, 0, n)
}

func TestPersistentStoreDurableOrderingAndOverwrite(t *testing.T) {
	ctx := context.Background()
	store, err := OpenPersistent(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SetItem(ctx, "first", "1"))
	require.NoError(t, store.SetItem(ctx, "second", "2"))
	require.NoError(t, store.SetItem(ctx, "first", "overwritten"))

	keys, err := store.IterateKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, keys)

	v, ok, err := store.GetItem(ctx, "first")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "overwritten", v)
}

func TestRegistrySelectsCorrectStore(t *testing.T) {
	reg, err := New(":memory:")
	require.NoError(t, err)
	defer reg.Persistent.(*PersistentStore).Close()

	assert.Same(t, reg.Persistent, reg.For(true))
	assert.Same(t, reg.Ephemeral, reg.For(false))
}
