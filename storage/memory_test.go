package storage

import (
	"context"
	"errors"
	"testing"

	"juxction/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SaveSnapshots(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "user", []byte("v1")))
	_, ok := store.Persisted("user")
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx))
	got, ok := store.Persisted("user")
	assert.True(t, ok)
	assert.Equal(t, "v1", string(got))

	require.NoError(t, store.Delete(ctx, "user"))
	_, err := store.Get(ctx, "user")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, ok = store.Persisted("user")
	assert.True(t, ok, "delete is not durable until Save")
}

func TestMemoryStore_InjectedFailures(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	boom := errors.New("disk full")

	store.FailSave = boom
	require.NoError(t, store.Set(ctx, "user", []byte("v1")))
	assert.ErrorIs(t, store.Save(ctx), boom)

	store.FailGet = boom
	_, err := store.Get(ctx, "user")
	assert.ErrorIs(t, err, boom)

	_, _, _, saves := store.Counts()
	assert.Equal(t, 1, saves)
}
