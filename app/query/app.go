package query

import (
	"context"
	"time"

	"github.com/canopy-network/balanceblocks/app/query/types"
	"github.com/canopy-network/balanceblocks/pkg/db/chain"
	"github.com/canopy-network/balanceblocks/pkg/db/clickhouse"
	"github.com/canopy-network/balanceblocks/pkg/logging"
	"github.com/canopy-network/balanceblocks/pkg/redis"
	"github.com/canopy-network/balanceblocks/pkg/reporter"
	"github.com/canopy-network/balanceblocks/pkg/utils"
	"github.com/canopy-network/balanceblocks/pkg/workers"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}
	logger = logging.Component(logger, "query")

	chainID := utils.EnvUint64("CHAIN_ID", 1)
	chainDB, err := chain.New(ctx, logger, chainID, clickhouse.PoolConfigFromEnv("query"))
	if err != nil {
		logger.Fatal("Unable to initialize chain database", zap.Error(err))
	}

	// Redis backs the result cache and the live event stream (optional)
	var redisClient *redis.Client
	var seriesCache *xsync.Map[string, *types.CachedSeries]
	if utils.EnvBool("REDIS_ENABLED", false) {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - caching and WebSocket events will be disabled",
				zap.Error(err))
			redisClient = nil
		} else {
			seriesCache = xsync.NewMap[string, *types.CachedSeries]()
			logger.Info("Redis client initialized for caching and WebSocket events")
		}
	} else {
		logger.Info("Redis disabled - caching and WebSocket events will not be available")
	}

	pool := workers.NewPoolFromEnv(utils.EnvInt("REPORT_BATCH", 100))

	app := &types.App{
		ChainID:         chainID,
		ChainDB:         chainDB,
		RedisClient:     redisClient,
		Reporter:        reporter.New(logging.Component(logger, "reporter"), chainDB, pool),
		Pool:            pool,
		SeriesCache:     seriesCache,
		SeriesCacheSize: utils.EnvInt("SERIES_CACHE_SIZE", types.DefaultSeriesCacheSize),
		CacheTTL:        utils.EnvDuration("CACHE_TTL", 5*time.Minute),
		Logger:          logger,
	}

	return app
}
