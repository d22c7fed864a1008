package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenNamespace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("registers-id", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		backing := NewMemoryStorage()
		ns, err := OpenNamespace(ctx, backing, "s1")
		require.NoError(err)
		assert.Equal("s1", ns.ID())

		ids, err := ListNamespaces(ctx, backing)
		require.NoError(err)
		assert.Equal([]string{"s1"}, ids)
	})
	t.Run("generates-fresh-id", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		backing := NewMemoryStorage()
		ns, err := OpenNamespace(ctx, backing, "")
		require.NoError(err)
		assert.NotEmpty(ns.ID())
	})
	t.Run("in-use", func(t *testing.T) {
		require := require.New(t)
		backing := NewMemoryStorage()
		_, err := OpenNamespace(ctx, backing, "s1")
		require.NoError(err)
		_, err = OpenNamespace(ctx, backing, "s1")
		require.ErrorIs(err, ErrNamespaceInUse)
	})
	t.Run("nil-backing", func(t *testing.T) {
		require := require.New(t)
		_, err := OpenNamespace(ctx, nil, "s1")
		require.ErrorIs(err, ErrNilParameter)
	})
}

func TestNamespacedStorage_Isolation(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	backing := NewMemoryStorage()

	a, err := OpenNamespace(ctx, backing, "a")
	require.NoError(err)
	b, err := OpenNamespace(ctx, backing, "b")
	require.NoError(err)

	require.NoError(a.SetItem(ctx, "blob", "a-state"))
	require.NoError(b.SetItem(ctx, "blob", "b-state"))

	got, ok, err := a.GetItem(ctx, "blob")
	require.NoError(err)
	require.True(ok)
	assert.Equal("a-state", got)

	got, ok, err = b.GetItem(ctx, "blob")
	require.NoError(err)
	require.True(ok)
	assert.Equal("b-state", got)
}

func TestNamespacedStorage_Resume(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	backing := NewMemoryStorage()

	ns, err := OpenNamespace(ctx, backing, "s1")
	require.NoError(err)
	require.NoError(ns.SetItem(ctx, "blob", "state"))

	resumed, err := ResumeNamespace(ctx, backing, "s1")
	require.NoError(err)
	got, ok, err := resumed.GetItem(ctx, "blob")
	require.NoError(err)
	require.True(ok)
	assert.Equal("state", got)

	_, err = ResumeNamespace(ctx, backing, "unregistered")
	require.ErrorIs(err, ErrInvalidParameter)
}

func TestNamespacedStorage_Destroy(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	backing := NewMemoryStorage()

	ns, err := OpenNamespace(ctx, backing, "s1")
	require.NoError(err)
	require.NoError(ns.SetItem(ctx, "blob", "state"))

	require.NoError(ns.Destroy(ctx, "blob"))

	ids, err := ListNamespaces(ctx, backing)
	require.NoError(err)
	assert.Empty(ids)

	_, ok, err := backing.GetItem(ctx, "s1:blob")
	require.NoError(err)
	assert.False(ok)

	require.ErrorIs(ns.SetItem(ctx, "blob", "again"), ErrNamespaceClosed)
}
