package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "garcon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestServerOrderRoundTrip(t *testing.T) {
	store := newTestStore(t)

	order, err := store.GetServerOrder()
	require.NoError(t, err)
	assert.Nil(t, order, "fresh database has no saved order")

	want := []string{"beta-0f9e8d7c6b", "alpha-1a2b3c4d5e"}
	require.NoError(t, store.SetServerOrder(want))

	order, err = store.GetServerOrder()
	require.NoError(t, err)
	assert.Equal(t, want, order)
}

func TestServerOrderOverwrite(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SetServerOrder([]string{"a-0000000000", "b-1111111111"}))
	require.NoError(t, store.SetServerOrder([]string{"b-1111111111"}))

	order, err := store.GetServerOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"b-1111111111"}, order)
}

func TestReopenKeepsState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "garcon.db")

	store, err := NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, store.SetServerOrder([]string{"alpha-1a2b3c4d5e"}))
	require.NoError(t, store.Close())

	store, err = NewBoltStore(path)
	require.NoError(t, err)
	defer store.Close()

	order, err := store.GetServerOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha-1a2b3c4d5e"}, order)
}
