// Package storagetest holds the conformance tests every storage.Datasource
// backend runs from its own test file.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-codegrant/storage"
)

// RunDatasourceTests exercises the Datasource contract against a fresh
// datasource returned by newDS for every subtest.
func RunDatasourceTests(t *testing.T, newDS func(t *testing.T) storage.Datasource) {
	t.Helper()

	t.Run("LookupMissing", func(t *testing.T) {
		ds := newDS(t)
		_, err := ds.Lookup(context.Background(), "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("InsertLookupOverwrite", func(t *testing.T) {
		ds := newDS(t)
		ctx := context.Background()

		require.NoError(t, ds.Insert(ctx, "k", []byte("v1"), 0))
		got, err := ds.Lookup(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)

		require.NoError(t, ds.Insert(ctx, "k", []byte("v2"), time.Minute))
		got, err = ds.Lookup(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
	})

	t.Run("Remove", func(t *testing.T) {
		ds := newDS(t)
		ctx := context.Background()

		require.NoError(t, ds.Insert(ctx, "k", []byte("v"), 0))
		require.NoError(t, ds.Remove(ctx, "k"))
		_, err := ds.Lookup(ctx, "k")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		assert.NoError(t, ds.Remove(ctx, "never-existed"))
	})

	t.Run("TestAndSet", func(t *testing.T) {
		ds := newDS(t)
		ctx := context.Background()

		ok, err := ds.TestAndSet(ctx, "absent", []byte("a"), []byte("b"))
		require.NoError(t, err)
		assert.False(t, ok, "swap on an absent key must fail")

		require.NoError(t, ds.Insert(ctx, "k", []byte("a"), time.Minute))

		ok, err = ds.TestAndSet(ctx, "k", []byte("wrong"), []byte("b"))
		require.NoError(t, err)
		assert.False(t, ok, "swap with a stale expectation must fail")

		ok, err = ds.TestAndSet(ctx, "k", []byte("a"), []byte("b"))
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := ds.Lookup(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("b"), got)
	})

	t.Run("Expiry", func(t *testing.T) {
		ds := newDS(t)
		ctx := context.Background()

		require.NoError(t, ds.Insert(ctx, "short", []byte("v"), 1100*time.Millisecond))
		require.NoError(t, ds.Insert(ctx, "long", []byte("v"), time.Hour))

		time.Sleep(2100 * time.Millisecond)

		_, err := ds.Lookup(ctx, "short")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = ds.Lookup(ctx, "long")
		assert.NoError(t, err)

		ok, err := ds.TestAndSet(ctx, "short", []byte("v"), []byte("w"))
		require.NoError(t, err)
		assert.False(t, ok, "an expired key must not be swapped")
	})

	t.Run("TestAndSetKeepsExpiry", func(t *testing.T) {
		ds := newDS(t)
		ctx := context.Background()

		require.NoError(t, ds.Insert(ctx, "k", []byte("a"), 1100*time.Millisecond))
		ok, err := ds.TestAndSet(ctx, "k", []byte("a"), []byte("b"))
		require.NoError(t, err)
		require.True(t, ok)

		time.Sleep(2100 * time.Millisecond)
		_, err = ds.Lookup(ctx, "k")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ConcurrentTestAndSetSingleWinner", func(t *testing.T) {
		ds := newDS(t)
		ctx := context.Background()
		require.NoError(t, ds.Insert(ctx, "k", []byte("unused"), time.Minute))

		const racers = 32
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := ds.TestAndSet(ctx, "k", []byte("unused"), []byte(fmt.Sprintf("used-by-%d", i)))
				if err == nil && ok {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("ValuesAreCopied", func(t *testing.T) {
		ds := newDS(t)
		ctx := context.Background()

		value := []byte("abc")
		require.NoError(t, ds.Insert(ctx, "k", value, 0))
		value[0] = 'x'

		got, err := ds.Lookup(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), got)
	})
}
