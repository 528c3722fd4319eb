package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pg-sharding/shardkv/pkg/keyrange"
	"github.com/pg-sharding/shardkv/store"
)

// must run with -race
func TestStoreRacing(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := newTestStore(t, true)

	require.NoError(s.AddShard(ctx, kr("a", "n"), "shard-a"))
	require.NoError(s.PersistShard(kr("a", "n")))
	require.NoError(s.Commit(ctx))

	var wg sync.WaitGroup
	methods := []func(i int){
		func(i int) { _ = s.Set(keyrange.Key(fmt.Sprintf("a%03d", i)), []byte("v")) },
		func(i int) { _ = s.Clear(kr("b", "c")) },
		func(i int) { _ = s.Commit(ctx) },
		func(i int) { _, _ = s.Get(ctx, keyrange.Key(fmt.Sprintf("a%03d", i)), store.ReadNormal, "") },
		func(i int) { _, _ = s.GetRange(ctx, kr("a", "n"), 10, 1<<16, store.ReadNormal) },
		func(i int) { _, _ = s.GetStorageBytes(ctx) },
		func(i int) { _ = s.GetAllInstances() },
		func(i int) { _ = s.PersistShard(kr("a", "n")) },
	}

	for i := 0; i < 20; i++ {
		for _, m := range methods {
			wg.Add(1)
			m := m
			i := i
			go func() {
				defer wg.Done()
				m(i)
			}()
		}
	}
	wg.Wait()

	// A read after the dust settles still observes committed state
	// whole, never torn.
	require.NoError(s.Set(keyrange.Key("a999"), []byte("final")))
	require.NoError(s.Commit(ctx))
	v, err := s.Get(ctx, keyrange.Key("a999"), store.ReadNormal, "")
	assert.NoError(err)
	assert.Equal([]byte("final"), v)
}
