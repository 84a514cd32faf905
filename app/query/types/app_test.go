package types

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/canopy-network/balanceblocks/pkg/db/chain"
	indexermodels "github.com/canopy-network/balanceblocks/pkg/db/models/indexer"
	"github.com/canopy-network/balanceblocks/pkg/redis"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingStore struct {
	chain.Store
	mu    sync.Mutex
	calls map[string]int
	rows  map[string][]indexermodels.Account
}

func (s *countingStore) AccountHistory(_ context.Context, address string, before uint64) ([]indexermodels.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[address]++
	var out []indexermodels.Account
	for _, r := range s.rows[address] {
		if r.Height < before {
			out = append(out, r)
		}
	}
	return out, nil
}

func newCountingStore() *countingStore {
	return &countingStore{
		calls: map[string]int{},
		rows: map[string][]indexermodels.Account{
			"aa": {{Address: "aa", Amount: 10, Height: 1}},
			"bb": {{Address: "bb", Amount: 20, Height: 2}},
		},
	}
}

func TestLoadSeries_NoCache(t *testing.T) {
	store := newCountingStore()
	app := &App{ChainDB: store, Logger: zaptest.NewLogger(t)}

	for i := 0; i < 2; i++ {
		s, err := app.LoadSeries(context.Background(), "aa", 100)
		require.NoError(t, err)
		assert.Equal(t, "990", s.In(0, 100).String())
	}
	assert.Equal(t, 2, store.calls["aa"])
}

func newCachedApp(t *testing.T, store chain.Store) *App {
	t.Helper()
	return &App{
		ChainDB:     store,
		SeriesCache: xsync.NewMap[string, *CachedSeries](),
		Logger:      zaptest.NewLogger(t),
	}
}

func TestLoadSeries_CacheAndInvalidate(t *testing.T) {
	store := newCountingStore()
	app := newCachedApp(t, store)
	ctx := context.Background()

	for _, addr := range []string{"aa", "aa", "bb", "bb"} {
		_, err := app.LoadSeries(ctx, addr, 100)
		require.NoError(t, err)
	}
	s, err := app.LoadSeries(ctx, "aa", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len(), "cached history is cut at the upper bound")
	assert.Equal(t, 1, store.calls["aa"], "one load per address")
	assert.Equal(t, 1, store.calls["bb"])

	app.Invalidate(ctx, redis.BalancesSynced{Addresses: []string{"aa"}})
	assert.Equal(t, 1, app.SeriesCache.Size())

	_, err = app.LoadSeries(ctx, "aa", 100)
	require.NoError(t, err)
	_, err = app.LoadSeries(ctx, "bb", 100)
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls["aa"])
	assert.Equal(t, 1, store.calls["bb"])

	// An empty event is a no-op.
	app.Invalidate(ctx, redis.BalancesSynced{})
	assert.Equal(t, 2, app.SeriesCache.Size())
}

func TestLoadSeries_CacheIsBounded(t *testing.T) {
	store := newCountingStore()
	for i := 0; i < 10; i++ {
		addr := fmt.Sprintf("c%d", i)
		store.rows[addr] = []indexermodels.Account{{Address: addr, Amount: 1, Height: 1}}
	}
	app := newCachedApp(t, store)
	app.SeriesCacheSize = 4
	ctx := context.Background()

	// Varying the upper bound never adds entries.
	for end := uint64(1); end <= 1000; end++ {
		_, err := app.LoadSeries(ctx, "aa", end)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, app.SeriesCache.Size())
	assert.Equal(t, 1, store.calls["aa"])

	// Unknown addresses are not cached.
	_, err := app.LoadSeries(ctx, "zz", 100)
	require.NoError(t, err)
	assert.Equal(t, 1, app.SeriesCache.Size())

	for i := 0; i < 10; i++ {
		s, err := app.LoadSeries(ctx, fmt.Sprintf("c%d", i), 100)
		require.NoError(t, err)
		assert.Equal(t, "99", s.In(0, 100).String())
	}
	assert.Equal(t, 4, app.SeriesCache.Size())
}

func TestLoadSeries_Expires(t *testing.T) {
	store := newCountingStore()
	app := newCachedApp(t, store)
	app.CacheTTL = time.Millisecond
	ctx := context.Background()

	_, err := app.LoadSeries(ctx, "aa", 100)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = app.LoadSeries(ctx, "aa", 100)
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls["aa"])
}

// invalidatingStore fires a sync event while a history query is in flight.
type invalidatingStore struct {
	*countingStore
	app  *App
	once sync.Once
}

func (s *invalidatingStore) AccountHistory(ctx context.Context, address string, before uint64) ([]indexermodels.Account, error) {
	rows, err := s.countingStore.AccountHistory(ctx, address, before)
	s.once.Do(func() {
		s.app.Invalidate(ctx, redis.BalancesSynced{Addresses: []string{address}})
	})
	return rows, err
}

func TestLoadSeries_DropsResultRacingInvalidate(t *testing.T) {
	counting := newCountingStore()
	store := &invalidatingStore{countingStore: counting}
	app := newCachedApp(t, store)
	store.app = app
	ctx := context.Background()

	s, err := app.LoadSeries(ctx, "aa", 100)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 0, app.SeriesCache.Size())

	_, err = app.LoadSeries(ctx, "aa", 100)
	require.NoError(t, err)
	assert.Equal(t, 2, counting.calls["aa"])
	assert.Equal(t, 1, app.SeriesCache.Size())
}
