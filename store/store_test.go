// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/creachadair/chaincall/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openStores returns the implementations under test. The Badger store is
// opened in memory so the tests need no scratch directory.
func openStores(t *testing.T) map[string]store.Store {
	t.Helper()
	bs, err := store.OpenBadger("")
	require.NoError(t, err, "open badger")
	t.Cleanup(func() { bs.Close() })
	return map[string]store.Store{
		"Mem":    store.NewMem(),
		"Badger": bs,
	}
}

func TestStoreBasic(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, store.ErrNotFound)

			require.NoError(t, s.Put(ctx, "a", []byte("1")))
			require.NoError(t, s.Put(ctx, "a", []byte("2"))) // replace

			got, err := s.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, []byte("2"), got)

			require.NoError(t, s.Delete(ctx, "a"))
			require.NoError(t, s.Delete(ctx, "a"), "deleting a missing key is not an error")
			_, err = s.Get(ctx, "a")
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestStoreList(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"pending/c", "pending/a", "other/x", "pending/b"} {
				require.NoError(t, s.Put(ctx, key, []byte("v")))
			}
			keys, err := s.List(ctx, "pending/")
			require.NoError(t, err)
			assert.Equal(t, []string{"pending/a", "pending/b", "pending/c"}, keys)

			keys, err = s.List(ctx, "nomatch/")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestStoreTake(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "t", []byte("once")))

			got, err := s.Take(ctx, "t")
			require.NoError(t, err)
			assert.Equal(t, []byte("once"), got)

			_, err = s.Take(ctx, "t")
			assert.ErrorIs(t, err, store.ErrNotFound, "second take must miss")
			_, err = s.Get(ctx, "t")
			assert.ErrorIs(t, err, store.ErrNotFound, "take must remove the key")
		})
	}
}

// TestTakeRace verifies the arbitration property the call coordinator
// depends on: when many goroutines race to take one key, exactly one
// observes the value.
func TestTakeRace(t *testing.T) {
	const numRacers = 16

	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "contest", []byte("prize")))

			var mu sync.Mutex
			var winners, losers int
			var wg sync.WaitGroup
			for range numRacers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					val, err := s.Take(ctx, "contest")
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						assert.Equal(t, []byte("prize"), val)
						winners++
					default:
						assert.ErrorIs(t, err, store.ErrNotFound)
						losers++
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, winners, "exactly one racer must win")
			assert.Equal(t, numRacers-1, losers)
		})
	}
}
