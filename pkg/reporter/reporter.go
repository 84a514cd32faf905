// Package reporter computes balance-block totals for sets of addresses from the stored observation log.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/balanceblocks/pkg/balanceblocks"
	indexermodels "github.com/canopy-network/balanceblocks/pkg/db/models/indexer"
	"github.com/canopy-network/balanceblocks/pkg/utils"
	"go.uber.org/zap"
)

// AverageDecimals is the precision of rendered averages.
const AverageDecimals = 6

// ErrNoAddresses is returned when Compute is called without addresses.
var ErrNoAddresses = errors.New("no addresses")

// HistoryStore loads observation logs.
type HistoryStore interface {
	AccountHistory(ctx context.Context, address string, before uint64) ([]indexermodels.Account, error)
}

// Store is what the reporter reads from and writes to.
type Store interface {
	HistoryStore
	ListAddresses(ctx context.Context, limit int) ([]string, error)
	InsertBalanceBlocks(ctx context.Context, rows []*indexermodels.BalanceBlock) error
}

// Result is the balance-block total of one address over [Start, End).
type Result struct {
	Address       string
	Start         uint64
	End           uint64
	BalanceBlocks *big.Int
	// Average is nil for an empty range.
	Average      *big.Rat
	Observations int
}

// AverageString renders Average with AverageDecimals digits, or "0" for an empty range.
func (r Result) AverageString() string {
	if r.Average == nil {
		return "0"
	}
	return r.Average.FloatString(AverageDecimals)
}

// Row converts the result into a balance_blocks row.
func (r Result) Row(computedAt time.Time) *indexermodels.BalanceBlock {
	return &indexermodels.BalanceBlock{
		Address:      r.Address,
		StartHeight:  r.Start,
		EndHeight:    r.End,
		Amount:       r.BalanceBlocks.String(),
		Observations: uint32(r.Observations),
		ComputedAt:   computedAt,
	}
}

// LoadSeries builds the balance series of address from every observation strictly below before. Later
// observations cannot affect any range ending at or before it.
func LoadSeries(ctx context.Context, store HistoryStore, address string, before uint64) (*balanceblocks.Series, error) {
	rows, err := store.AccountHistory(ctx, address, before)
	if err != nil {
		return nil, err
	}
	series, err := balanceblocks.FromObservations(indexermodels.Observations(rows))
	if err != nil {
		return nil, fmt.Errorf("history of %s: %w", address, err)
	}
	return series, nil
}

// Evaluate computes the Result of series over [start, end).
func Evaluate(address string, series *balanceblocks.Series, start, end uint64) Result {
	return Result{
		Address:       address,
		Start:         start,
		End:           end,
		BalanceBlocks: series.In(start, end),
		Average:       series.Average(start, end),
		Observations:  series.Len(),
	}
}

// Reporter fans balance-block computations out over a worker pool.
type Reporter struct {
	logger *zap.Logger
	store  Store
	pool   pond.Pool
	now    func() time.Time
}

// New returns a Reporter.
func New(logger *zap.Logger, store Store, pool pond.Pool) *Reporter {
	return &Reporter{logger: logger, store: store, pool: pool, now: time.Now}
}

// Compute evaluates [start, end) for every address, persists the totals and returns them in the order of
// the (normalized, deduplicated) input. Addresses that fail are left out of the result and their errors
// are joined into the returned error.
func (r *Reporter) Compute(ctx context.Context, addresses []string, start, end uint64) ([]Result, error) {
	normalized := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if a = utils.NormalizeAddress(a); a != "" {
			normalized = append(normalized, a)
		}
	}
	normalized = utils.Dedup(normalized)
	if len(normalized) == 0 {
		return nil, ErrNoAddresses
	}

	started := time.Now()
	results := make([]*Result, len(normalized))
	errs := make([]error, len(normalized))

	group := r.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i, address := range normalized {
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				errs[i] = err
				return
			}
			series, err := LoadSeries(groupCtx, r.store, address, end)
			if err != nil {
				errs[i] = err
				return
			}
			res := Evaluate(address, series, start, end)
			results[i] = &res
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		r.logger.Warn("parallel compute encountered error", zap.Error(err))
	}

	computedAt := r.now().UTC()
	out := make([]Result, 0, len(normalized))
	rows := make([]*indexermodels.BalanceBlock, 0, len(normalized))
	for _, res := range results {
		if res == nil {
			continue
		}
		out = append(out, *res)
		rows = append(rows, res.Row(computedAt))
	}

	if err := r.store.InsertBalanceBlocks(ctx, rows); err != nil {
		errs = append(errs, fmt.Errorf("persist balance blocks: %w", err))
	}

	err := errors.Join(errs...)
	r.logger.Info("Computed balance blocks",
		zap.Uint64("start", start),
		zap.Uint64("end", end),
		zap.Int("addresses", len(normalized)),
		zap.Int("computed", len(out)),
		zap.Duration("duration", time.Since(started)),
		zap.Error(err))

	return out, err
}

// ComputeAll runs Compute over up to limit known addresses. No known address yields no results and no
// error.
func (r *Reporter) ComputeAll(ctx context.Context, start, end uint64, limit int) ([]Result, error) {
	addresses, err := r.store.ListAddresses(ctx, limit)
	if err != nil {
		return nil, err
	}
	if len(addresses) == 0 {
		return []Result{}, nil
	}
	return r.Compute(ctx, addresses, start, end)
}
