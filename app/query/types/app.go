package types

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/balanceblocks/pkg/balanceblocks"
	"github.com/canopy-network/balanceblocks/pkg/db/chain"
	"github.com/canopy-network/balanceblocks/pkg/redis"
	"github.com/canopy-network/balanceblocks/pkg/reporter"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// DefaultSeriesCacheSize bounds the number of addresses whose history is kept in memory.
const DefaultSeriesCacheSize = 10000

// CachedSeries is the full balance history of an address as loaded at LoadedAt.
type CachedSeries struct {
	Series   *balanceblocks.Series
	LoadedAt time.Time
}

type App struct {
	ChainID uint64
	ChainDB chain.Store
	// RedisClient is nil when Redis is disabled; caching and live events are then off.
	RedisClient *redis.Client
	Reporter    *reporter.Reporter
	Pool        pond.Pool
	// SeriesCache holds full histories keyed by address. It is only set together with RedisClient because
	// sync events are what invalidate it. Entries expire after CacheTTL.
	SeriesCache     *xsync.Map[string, *CachedSeries]
	SeriesCacheSize int
	CacheTTL        time.Duration

	// invalidations counts Invalidate calls so a load racing with one does not keep its result.
	invalidations atomic.Uint64

	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
}

// LoadSeries returns the balance history of address below height before, from the cache when possible.
func (a *App) LoadSeries(ctx context.Context, address string, before uint64) (*balanceblocks.Series, error) {
	if a.SeriesCache == nil {
		return reporter.LoadSeries(ctx, a.ChainDB, address, before)
	}

	if cached, ok := a.SeriesCache.Load(address); ok {
		if a.CacheTTL <= 0 || time.Since(cached.LoadedAt) < a.CacheTTL {
			return cached.Series.Before(before), nil
		}
		a.SeriesCache.Delete(address)
	}

	generation := a.invalidations.Load()
	full, err := reporter.LoadSeries(ctx, a.ChainDB, address, math.MaxUint64)
	if err != nil {
		return nil, err
	}
	if full.Len() > 0 && a.SeriesCache.Size() < a.seriesCacheSize() {
		a.SeriesCache.Store(address, &CachedSeries{Series: full, LoadedAt: time.Now()})
		// A sync landed while loading: the stored history may predate it.
		if a.invalidations.Load() != generation {
			a.SeriesCache.Delete(address)
		}
	}
	return full.Before(before), nil
}

func (a *App) seriesCacheSize() int {
	if a.SeriesCacheSize > 0 {
		return a.SeriesCacheSize
	}
	return DefaultSeriesCacheSize
}

// Invalidate drops every cached entry of the addresses touched by a sync. Addresses that did not
// change keep their entries: no new observation exists for them.
func (a *App) Invalidate(ctx context.Context, event redis.BalancesSynced) {
	if len(event.Addresses) == 0 {
		return
	}
	touched := make(map[string]struct{}, len(event.Addresses))
	for _, addr := range event.Addresses {
		touched[addr] = struct{}{}
	}

	a.invalidations.Add(1)
	if a.SeriesCache != nil {
		for addr := range touched {
			a.SeriesCache.Delete(addr)
		}
	}

	if a.RedisClient == nil {
		return
	}
	for addr := range touched {
		if _, err := a.RedisClient.DeletePattern(ctx, redis.AddressCachePattern(a.ChainID, addr)); err != nil {
			a.Logger.Warn("Failed to invalidate cached balance blocks", zap.String("address", addr), zap.Error(err))
		}
	}
}

// WatchSyncs invalidates caches as balances.synced events arrive, until ctx ends.
func (a *App) WatchSyncs(ctx context.Context) {
	if a.RedisClient == nil {
		return
	}

	pubsub := a.RedisClient.PSubscribe(ctx, redis.Channel(a.ChainID, redis.EventBalancesSynced))
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				a.Logger.Warn("Redis sync subscription closed; caches will no longer be invalidated")
				return
			}
			var event redis.BalancesSynced
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				a.Logger.Error("Failed to parse sync event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			a.Invalidate(ctx, event)
			a.Logger.Debug("Invalidated caches",
				zap.Uint64("toHeight", event.ToHeight),
				zap.Int("addresses", len(event.Addresses)))
		}
	}
}

// Start starts the application.
func (a *App) Start(ctx context.Context) {
	go func() { _ = a.Server.ListenAndServe() }()
	go a.WatchSyncs(ctx)
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = a.Server.Shutdown(shutdownCtx)

	if a.Pool != nil {
		a.Pool.StopAndWait()
	}

	if err := a.ChainDB.Close(); err != nil {
		a.Logger.Error("Failed to close database connection", zap.Error(err))
	}

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close Redis connection", zap.Error(err))
		}
	}

	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
