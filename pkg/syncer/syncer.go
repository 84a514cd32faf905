// Package syncer imports balance changes from a Canopy node into the observation store.
//
// Balances are recorded snapshot-on-change: for each height H the accounts at H are compared with the
// accounts at H-1 and only differing balances are stored. Because each height depends only on RPC
// state, heights can be synced concurrently and in any order.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/alitto/pond/v2"
	indexermodels "github.com/canopy-network/balanceblocks/pkg/db/models/indexer"
	"github.com/canopy-network/balanceblocks/pkg/redis"
	"github.com/canopy-network/balanceblocks/pkg/rpc"
	"go.uber.org/zap"
)

// Store is the subset of the chain store the syncer writes to.
type Store interface {
	InsertAccounts(ctx context.Context, accounts []*indexermodels.Account) error
	LastSynced(ctx context.Context) (uint64, error)
	RecordSynced(ctx context.Context, height uint64) error
}

// Publisher receives sync notifications. *redis.Client implements it.
type Publisher interface {
	PublishJSON(ctx context.Context, channel string, message any)
}

// Config tunes a Syncer.
type Config struct {
	ChainID uint64
	// StartHeight is the first height synced on an empty store.
	StartHeight uint64
	// BatchSize caps the heights synced per Run.
	BatchSize uint64
	// Parallelism caps the heights synced concurrently.
	Parallelism int
}

// Syncer copies balance changes from RPC into a Store.
type Syncer struct {
	logger    *zap.Logger
	store     Store
	rpc       rpc.Client
	publisher Publisher
	// pool runs RPC fetches. heights runs per-height tasks, which themselves wait on pool, so the two
	// must not be the same pool.
	pool    pond.Pool
	heights pond.Pool
	cfg     Config
}

// Result summarizes one Run.
type Result struct {
	FromHeight uint64
	ToHeight   uint64
	Changes    int
	Addresses  []string
}

// Empty reports whether the run had nothing to sync.
func (r Result) Empty() bool {
	return r.ToHeight < r.FromHeight
}

// New returns a Syncer. publisher may be nil.
func New(logger *zap.Logger, store Store, client rpc.Client, publisher Publisher, pool pond.Pool, cfg Config) *Syncer {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.StartHeight == 0 {
		cfg.StartHeight = 1
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	return &Syncer{
		logger:    logger,
		store:     store,
		rpc:       client,
		publisher: publisher,
		pool:      pool,
		heights:   pond.NewPool(cfg.Parallelism),
		cfg:       cfg,
	}
}

// Close stops the per-height pool. The fetch pool belongs to the caller.
func (s *Syncer) Close() {
	s.heights.StopAndWait()
}

// Run syncs the next batch of heights after the last recorded one, up to the chain head. Progress is
// recorded only after every height of the batch is stored, so a failed run is retried whole.
func (s *Syncer) Run(ctx context.Context) (Result, error) {
	start := time.Now()

	last, err := s.store.LastSynced(ctx)
	if err != nil {
		return Result{}, err
	}
	from := last + 1
	if from < s.cfg.StartHeight {
		from = s.cfg.StartHeight
	}

	head, err := s.rpc.ChainHead(ctx)
	if err != nil {
		return Result{}, err
	}
	to := head
	if to >= from && to-from >= s.cfg.BatchSize {
		to = from + s.cfg.BatchSize - 1
	}

	res := Result{FromHeight: from, ToHeight: to}
	if to < from {
		s.logger.Debug("Nothing to sync", zap.Uint64("last", last), zap.Uint64("head", head))
		return res, nil
	}

	// An empty store starts from a full snapshot of from, whatever changed there.
	baseline := last == 0

	changes := make([][]*indexermodels.Account, to-from+1)
	errs := make([]error, to-from+1)

	group := s.heights.NewGroupContext(ctx)
	groupCtx := group.Context()
	for h := from; h <= to; h++ {
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				errs[h-from] = err
				return
			}
			changes[h-from], errs[h-from] = s.syncHeight(groupCtx, h, baseline && h == from)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		s.logger.Warn("parallel sync encountered error", zap.Error(err))
	}

	var batch []*indexermodels.Account
	touched := map[string]struct{}{}
	for i, err := range errs {
		if err != nil {
			return res, fmt.Errorf("sync height %d: %w", from+uint64(i), err)
		}
		for _, acc := range changes[i] {
			batch = append(batch, acc)
			touched[acc.Address] = struct{}{}
		}
	}

	if err := s.store.InsertAccounts(ctx, batch); err != nil {
		return res, fmt.Errorf("insert accounts: %w", err)
	}
	if err := s.store.RecordSynced(ctx, to); err != nil {
		return res, err
	}

	res.Changes = len(batch)
	res.Addresses = make([]string, 0, len(touched))
	for a := range touched {
		res.Addresses = append(res.Addresses, a)
	}
	sort.Strings(res.Addresses)

	if s.publisher != nil {
		s.publisher.PublishJSON(ctx, redis.Channel(s.cfg.ChainID, redis.EventBalancesSynced), redis.BalancesSynced{
			ChainID:    s.cfg.ChainID,
			FromHeight: from,
			ToHeight:   to,
			Addresses:  res.Addresses,
		})
	}

	s.logger.Info("Synced balances",
		zap.Uint64("chainId", s.cfg.ChainID),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Uint64("head", head),
		zap.Int("changes", res.Changes),
		zap.Int("addresses", len(res.Addresses)),
		zap.Duration("duration", time.Since(start)))

	return res, nil
}

// SyncHeight returns the balance changes introduced at height. Accounts that disappear from the node's
// listing are recorded with a zero balance so their step function drops to zero.
func (s *Syncer) SyncHeight(ctx context.Context, height uint64) ([]*indexermodels.Account, error) {
	return s.syncHeight(ctx, height, false)
}

// syncHeight diffs height against its parent. With baseline set, or at height 1, the parent is taken
// as empty and every non-zero account at height is recorded.
func (s *Syncer) syncHeight(ctx context.Context, height uint64, baseline bool) ([]*indexermodels.Account, error) {
	var (
		current, previous       []*rpc.Account
		blockTime               time.Time
		currentErr, previousErr error
		blockTimeErr            error
	)

	group := s.pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	group.Submit(func() {
		current, currentErr = s.rpc.AccountsByHeight(groupCtx, height)
	})
	group.Submit(func() {
		if height > 1 && !baseline {
			previous, previousErr = s.rpc.AccountsByHeight(groupCtx, height-1)
		}
	})
	group.Submit(func() {
		blockTime, blockTimeErr = s.rpc.BlockTime(groupCtx, height)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return nil, err
	}
	if currentErr != nil {
		return nil, fmt.Errorf("fetch current accounts at height %d: %w", height, currentErr)
	}
	if previousErr != nil {
		return nil, fmt.Errorf("fetch previous accounts at height %d: %w", height-1, previousErr)
	}
	if blockTimeErr != nil {
		return nil, blockTimeErr
	}

	return Diff(previous, current, height, blockTime), nil
}

// Diff returns snapshots for every account whose balance differs between previous and current, sorted
// by address.
func Diff(previous, current []*rpc.Account, height uint64, blockTime time.Time) []*indexermodels.Account {
	prev := make(map[string]uint64, len(previous))
	for _, acc := range previous {
		prev[acc.Address] = acc.Amount
	}

	changed := make([]*indexermodels.Account, 0)
	seen := make(map[string]struct{}, len(current))
	for _, acc := range current {
		seen[acc.Address] = struct{}{}
		if before, ok := prev[acc.Address]; ok && before == acc.Amount {
			continue
		}
		// A new account with a zero balance carries no information.
		if _, ok := prev[acc.Address]; !ok && acc.Amount == 0 {
			continue
		}
		changed = append(changed, &indexermodels.Account{
			Address:    acc.Address,
			Amount:     acc.Amount,
			Height:     height,
			HeightTime: blockTime,
		})
	}

	for addr, before := range prev {
		if _, ok := seen[addr]; ok || before == 0 {
			continue
		}
		changed = append(changed, &indexermodels.Account{
			Address:    addr,
			Amount:     0,
			Height:     height,
			HeightTime: blockTime,
		})
	}

	sort.Slice(changed, func(i, j int) bool { return changed[i].Address < changed[j].Address })
	return changed
}
