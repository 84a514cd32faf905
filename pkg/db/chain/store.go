package chain

import (
	"context"
	"errors"

	indexermodels "github.com/canopy-network/balanceblocks/pkg/db/models/indexer"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store describes the per-chain database operations used by the syncer, the reporter and the query API.
type Store interface {
	DatabaseName() string
	InitializeDB(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// --- Observation log

	InsertAccounts(ctx context.Context, accounts []*indexermodels.Account) error
	// AccountHistory returns the balance changes of address strictly below height before, ascending.
	AccountHistory(ctx context.Context, address string, before uint64) ([]indexermodels.Account, error)
	ListAddresses(ctx context.Context, limit int) ([]string, error)

	// --- Computed totals

	InsertBalanceBlocks(ctx context.Context, rows []*indexermodels.BalanceBlock) error
	GetBalanceBlocks(ctx context.Context, address string, start, end uint64) (*indexermodels.BalanceBlock, error)

	// --- Sync progress

	LastSynced(ctx context.Context) (uint64, error)
	RecordSynced(ctx context.Context, height uint64) error

	// --- Maintenance

	Compact(ctx context.Context) ([]CompactionResult, error)
}
