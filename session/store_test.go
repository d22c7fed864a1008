package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solid-go/solidauth/storage"
)

func testStore(t *testing.T) (*Store, *storage.MemoryStorage) {
	t.Helper()
	backing := storage.NewMemoryStorage()
	store, err := NewStore(backing)
	require.NoError(t, err)
	return store, backing
}

func TestNewStore(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	_, err := NewStore(nil)
	require.ErrorIs(err, ErrNilParameter)
}

func TestStore_Read(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("absent-is-empty", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store, _ := testStore(t)
		b, err := store.Read(ctx)
		require.NoError(err)
		assert.Equal(Blob{}, b)
	})
	t.Run("corrupt-is-empty", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store, backing := testStore(t)
		require.NoError(backing.SetItem(ctx, BlobKey, "{not json"))
		b, err := store.Read(ctx)
		require.NoError(err)
		assert.Equal(Blob{}, b)
	})
}

func TestStore_Update(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("nil-fn", func(t *testing.T) {
		require := require.New(t)
		store, _ := testStore(t)
		_, err := store.Update(ctx, nil)
		require.ErrorIs(err, ErrNilParameter)
	})
	t.Run("merge-preserves-other-fields", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		store, _ := testStore(t)

		_, err := store.Update(ctx, func(b Blob) Blob {
			b.Session = &Session{IdentityProvider: "https://idp.example", WebID: "https://alice.example/#me"}
			return b
		})
		require.NoError(err)
		_, err = store.Update(ctx, func(b Blob) Blob {
			if b.Hosts == nil {
				b.Hosts = map[string]HostEntry{}
			}
			b.Hosts["files.example"] = HostEntry{RequiresAuth: true}
			return b
		})
		require.NoError(err)

		b, err := store.Read(ctx)
		require.NoError(err)
		require.NotNil(b.Session)
		assert.Equal("https://idp.example", b.Session.IdentityProvider)
		assert.True(b.Hosts["files.example"].RequiresAuth)
	})
	t.Run("concurrent-updates-lose-nothing", func(t *testing.T) {
		// A host cache write racing a session save must not clobber the
		// other's field; updates are serialized through the store.
		assert, require := assert.New(t), require.New(t)
		ctx := context.Background()
		store, _ := testStore(t)

		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				if i == 0 {
					_, err := store.Update(ctx, func(b Blob) Blob {
						b.Session = &Session{IdentityProvider: "https://idp.example"}
						return b
					})
					assert.NoError(err)
					return
				}
				_, err := store.Update(ctx, func(b Blob) Blob {
					if b.Hosts == nil {
						b.Hosts = map[string]HostEntry{}
					}
					b.Hosts["files.example"] = HostEntry{RequiresAuth: true}
					return b
				})
				assert.NoError(err)
			}()
		}
		wg.Wait()

		b, err := store.Read(ctx)
		require.NoError(err)
		assert.NotNil(b.Session)
		assert.True(b.Hosts["files.example"].RequiresAuth)
	})
}
