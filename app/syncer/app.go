package syncworker

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/balanceblocks/pkg/db/chain"
	"github.com/canopy-network/balanceblocks/pkg/db/clickhouse"
	"github.com/canopy-network/balanceblocks/pkg/logging"
	"github.com/canopy-network/balanceblocks/pkg/redis"
	"github.com/canopy-network/balanceblocks/pkg/rpc"
	"github.com/canopy-network/balanceblocks/pkg/syncer"
	"github.com/canopy-network/balanceblocks/pkg/utils"
	"github.com/canopy-network/balanceblocks/pkg/workers"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Status keys.
const (
	statusLastAttempt = "lastAttempt"
	statusLastSuccess = "lastSuccess"
	statusLastFailure = "lastFailure"
)

// Scheduled job names.
const (
	jobSync    = "sync"
	jobCompact = "compact"
)

// Runner syncs one batch. *syncer.Syncer implements it.
type Runner interface {
	Run(ctx context.Context) (syncer.Result, error)
}

// Compactor merges duplicate rows away. *chain.DB implements it.
type Compactor interface {
	Compact(ctx context.Context) ([]chain.CompactionResult, error)
}

// ProgressReader reports the last height a sync committed. chain.Store implements it.
type ProgressReader interface {
	LastSynced(ctx context.Context) (uint64, error)
}

// App pulls balance changes from the node on every Cron tick.
type App struct {
	ChainDB     chain.Store
	RedisClient *redis.Client
	Pool        pond.Pool
	Runner      Runner
	// Compactor is optional; when set it runs on CompactSpec.
	Compactor Compactor

	// Cron is the scheduler that triggers sync runs at specified intervals, according to CronSpec.
	Cron        *cron.Cron
	CronSpec    string
	CompactSpec string
	RunTimeout  time.Duration
	// jobs names the scheduled entries for the status document.
	jobs map[cron.EntryID]jobStatus

	// Status records when runs were attempted, succeeded and failed.
	Status *xsync.Map[string, time.Time]
	// SyncedHeight is the last height recorded by a successful run.
	SyncedHeight atomic.Uint64
	// ReadyWindow is how long after the last success the app still reports ready.
	ReadyWindow time.Duration
	started     time.Time

	// Logger is used to log messages, errors, and events during the application's lifecycle and operations.
	Logger *zap.Logger

	// Server is the HTTP server that serves the probes.
	Server *http.Server
}

// Initialize wires the database, the RPC client, Redis and the scheduler.
func Initialize(ctx context.Context) (*App, error) {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}
	logger = logging.Component(logger, "syncer")

	chainID := utils.EnvUint64("CHAIN_ID", 1)
	chainDB, err := chain.New(ctx, logger, chainID, clickhouse.PoolConfigFromEnv("syncer"))
	if err != nil {
		logger.Fatal("Unable to initialize chain database", zap.Error(err))
	}

	var redisClient *redis.Client
	if utils.EnvBool("REDIS_ENABLED", false) {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - sync events will not be published", zap.Error(err))
			redisClient = nil
		}
	}

	batch := utils.EnvUint64("SYNC_BATCH", 100)
	pool := workers.NewPoolFromEnv(int(batch))
	rpcOpts := rpc.OptsFromEnv()
	rpcClient := rpc.NewHTTPFactory(rpcOpts).NewClient(rpcOpts.Endpoints)

	cfg := syncer.Config{
		ChainID:     chainID,
		StartHeight: utils.EnvUint64("SYNC_START_HEIGHT", 1),
		BatchSize:   batch,
		Parallelism: utils.EnvInt("SYNC_PARALLELISM", 4),
	}

	// A nil *redis.Client must not end up as a non-nil interface.
	var publisher syncer.Publisher
	if redisClient != nil {
		publisher = redisClient
	}

	app := New(logger, syncer.New(logger, chainDB, rpcClient, publisher, pool, cfg))
	app.ChainDB = chainDB
	app.RedisClient = redisClient
	app.Pool = pool
	app.Compactor = chainDB
	app.CronSpec = utils.Env("SYNC_CRON", "*/15 * * * * *")
	app.CompactSpec = utils.Env("COMPACT_CRON", "0 0 3 * * *")
	app.RunTimeout = utils.EnvDuration("SYNC_TIMEOUT", 5*time.Minute)

	if err := app.LoadProgress(ctx, chainDB); err != nil {
		logger.Warn("Failed to read sync progress", zap.Error(err))
	}

	if err := app.SetupScheduler(ctx, app.CronSpec); err != nil {
		return nil, err
	}
	return app, nil
}

// New returns an App around runner with defaults and no scheduler.
func New(logger *zap.Logger, runner Runner) *App {
	return &App{
		Runner:      runner,
		CronSpec:    "*/15 * * * * *",
		CompactSpec: "0 0 3 * * *",
		RunTimeout:  5 * time.Minute,
		Status:      xsync.NewMap[string, time.Time](),
		ReadyWindow: 5 * time.Minute,
		started:     time.Now(),
		Logger:      logger,
	}
}

// SetupScheduler sets up the cron scheduler. Ticks that arrive while a run is in progress are skipped.
func (a *App) SetupScheduler(ctx context.Context, cronSpec string) error {
	logger := NewCronLogger(a.Logger)
	// Seconds field, optional
	a.Cron = cron.New(
		cron.WithSeconds(),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	a.jobs = map[cron.EntryID]jobStatus{}

	id, err := a.Cron.AddFunc(cronSpec, func() {
		// keep each run bounded
		rctx, cancel := context.WithTimeout(ctx, a.RunTimeout)
		defer cancel()
		a.RunOnce(rctx)
	})
	if err != nil {
		return err
	}
	a.jobs[id] = jobStatus{Name: jobSync, Spec: cronSpec}
	if a.Compactor == nil {
		return nil
	}

	id, err = a.Cron.AddFunc(a.CompactSpec, func() {
		a.CompactOnce(ctx)
	})
	if err != nil {
		return err
	}
	a.jobs[id] = jobStatus{Name: jobCompact, Spec: a.CompactSpec}
	return nil
}

// LoadProgress seeds SyncedHeight from the store so a restart at the head reports the stored height.
func (a *App) LoadProgress(ctx context.Context, store ProgressReader) error {
	last, err := store.LastSynced(ctx)
	if err != nil {
		return err
	}
	a.SyncedHeight.Store(last)
	return nil
}

// CompactOnce compacts the chain tables. Compaction can take long, so only ctx bounds it.
func (a *App) CompactOnce(ctx context.Context) {
	start := time.Now()
	results, err := a.Compactor.Compact(ctx)
	if err != nil {
		a.Logger.Warn("Compaction finished with errors", zap.Error(err), zap.Int("tables", len(results)))
		return
	}
	a.Logger.Info("Compaction finished", zap.Int("tables", len(results)), zap.Duration("duration", time.Since(start)))
}

// RunOnce runs one sync batch and records its outcome.
func (a *App) RunOnce(ctx context.Context) {
	now := time.Now()
	a.Status.Store(statusLastAttempt, now)

	res, err := a.Runner.Run(ctx)
	if err != nil {
		a.Status.Store(statusLastFailure, time.Now())
		a.Logger.Error("Sync run failed", zap.Error(err), zap.Duration("duration", time.Since(now)))
		return
	}

	a.Status.Store(statusLastSuccess, time.Now())
	if !res.Empty() {
		a.SyncedHeight.Store(res.ToHeight)
	}
}

// StartCron starts the cron scheduler.
func (a *App) StartCron() {
	a.Cron.Start()
	a.Logger.Info("Cron started", zap.String("cronSpec", a.CronSpec))
}

// StopCron stops the cron scheduler and waits for a running sync.
func (a *App) StopCron() {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
}

// Alive indicates whether the application is alive.
func (a *App) Alive() bool { return true }

// Ready reports whether a run succeeded within ReadyWindow. A freshly started app is ready until the
// window has elapsed once.
func (a *App) Ready() bool {
	last, ok := a.Status.Load(statusLastSuccess)
	if !ok {
		return time.Since(a.started) < a.ReadyWindow
	}
	return time.Since(last) < a.ReadyWindow
}

// Start starts the application.
func (a *App) Start(ctx context.Context) {
	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()

	a.Logger.Info("Shutting down")
	_ = a.Server.Close()
	a.StopCron()

	if closer, ok := a.Runner.(interface{ Close() }); ok {
		closer.Close()
	}
	if a.Pool != nil {
		a.Pool.StopAndWait()
	}
	if a.ChainDB != nil {
		if err := a.ChainDB.Close(); err != nil {
			a.Logger.Error("Failed to close database connection", zap.Error(err))
		}
	}
	if a.RedisClient != nil {
		_ = a.RedisClient.Close()
	}

	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
